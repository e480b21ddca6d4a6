package network

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"

	"github.com/vishvananda/netlink"
)

// Kernel neighbor and address family values. They are fixed by the Linux
// ABI and repeated here so this file builds on every platform.
const (
	familyV4 = 2 // AF_INET

	nudIncomplete = 0x01
	nudReachable  = 0x02
	nudStale      = 0x04
	nudDelay      = 0x08
	nudProbe      = 0x10
	nudFailed     = 0x20
)

var (
	// ErrNoNeighbor means the kernel has no usable entry for the address.
	ErrNoNeighbor = errors.New("no neighbor entry")
	// ErrNoAddress means the interface has no IPv4 address.
	ErrNoAddress = errors.New("interface has no ipv4 address")
)

// Netlinker is an interface that abstracts netlink interactions.
// This allows for mocking netlink calls during unit testing.
type Netlinker interface {
	LinkByName(name string) (netlink.Link, error)
	AddrList(link netlink.Link, family int) ([]netlink.Addr, error)
	NeighList(linkIndex, family int) ([]netlink.Neigh, error)
}

// Neighbor is one IPv4 entry of the kernel neighbor table.
type Neighbor struct {
	IP  string
	MAC string
	// Active is true while the kernel has recently confirmed the
	// neighbor, meaning the client is still exchanging traffic.
	Active bool
}

// Neighbors answers neighbor-table questions for one interface.
type Neighbors struct {
	nl    Netlinker
	iface string
}

// NewNeighbors creates a neighbor view for iface.
func NewNeighbors(nl Netlinker, iface string) *Neighbors {
	return &Neighbors{nl: nl, iface: iface}
}

// List returns the IPv4 neighbors of the interface that have a hardware
// address, sorted by IP.
func (n *Neighbors) List() ([]Neighbor, error) {
	link, err := n.nl.LinkByName(n.iface)
	if err != nil {
		return nil, fmt.Errorf("link %s: %w", n.iface, err)
	}
	entries, err := n.nl.NeighList(link.Attrs().Index, familyV4)
	if err != nil {
		return nil, fmt.Errorf("list neighbors on %s: %w", n.iface, err)
	}

	out := make([]Neighbor, 0, len(entries))
	for _, e := range entries {
		if e.IP.To4() == nil || len(e.HardwareAddr) == 0 {
			continue
		}
		if e.State&(nudIncomplete|nudFailed) != 0 {
			continue
		}
		out = append(out, Neighbor{
			IP:     e.IP.To4().String(),
			MAC:    strings.ToLower(e.HardwareAddr.String()),
			Active: e.State&(nudReachable|nudDelay|nudProbe) != 0,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IP < out[j].IP })
	return out, nil
}

// Lookup returns the MAC address bound to ip.
func (n *Neighbors) Lookup(ip string) (string, error) {
	addr := net.ParseIP(ip)
	if addr == nil || addr.To4() == nil {
		return "", fmt.Errorf("lookup %q: %w", ip, ErrNoNeighbor)
	}
	list, err := n.List()
	if err != nil {
		return "", err
	}
	want := addr.To4().String()
	for _, nb := range list {
		if nb.IP == want {
			return nb.MAC, nil
		}
	}
	return "", fmt.Errorf("lookup %s: %w", want, ErrNoNeighbor)
}

// InterfaceAddr returns the first IPv4 address of the interface.
func (n *Neighbors) InterfaceAddr() (net.IP, error) {
	link, err := n.nl.LinkByName(n.iface)
	if err != nil {
		return nil, fmt.Errorf("link %s: %w", n.iface, err)
	}
	addrs, err := n.nl.AddrList(link, familyV4)
	if err != nil {
		return nil, fmt.Errorf("list addresses on %s: %w", n.iface, err)
	}
	for _, a := range addrs {
		if a.IPNet != nil && a.IP.To4() != nil {
			return a.IP.To4(), nil
		}
	}
	return nil, fmt.Errorf("%s: %w", n.iface, ErrNoAddress)
}
