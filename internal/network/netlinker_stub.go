//go:build !linux

package network

import (
	"errors"

	"github.com/vishvananda/netlink"
)

var errNoNetlink = errors.New("netlink is only available on linux")

// DefaultNetlinker fails every call, so the portal treats every client as
// unknown.
var DefaultNetlinker Netlinker = &RealNetlinker{}

// RealNetlinker has no kernel to talk to on this platform.
type RealNetlinker struct{}

func (*RealNetlinker) LinkByName(string) (netlink.Link, error) { return nil, errNoNetlink }

func (*RealNetlinker) AddrList(netlink.Link, int) ([]netlink.Addr, error) { return nil, errNoNetlink }

func (*RealNetlinker) NeighList(int, int) ([]netlink.Neigh, error) { return nil, errNoNetlink }
