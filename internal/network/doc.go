// Package network reads link and neighbor state from the kernel via netlink.
//
// The gateway uses it to map a client's IP address to its MAC address, to
// notice which clients are still exchanging traffic, and to discover the
// portal address on the LAN interface.
//
// # Dependencies
//
// Uses github.com/vishvananda/netlink for all netlink operations. Callers
// depend on the [Netlinker] interface so tests can substitute
// [MockNetlinker].
//
// # Example
//
//	nb := network.NewNeighbors(network.DefaultNetlinker, "br-lan")
//	mac, err := nb.Lookup("192.168.1.23")
package network
