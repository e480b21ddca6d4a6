package firewall

import (
	"errors"
	"fmt"
	"net"
)

// Set names inside the portal table.
const (
	SetAuthorized = "authorized"
	SetWhitelist  = "whitelist"
)

// ErrNotIPv4 is returned for addresses the portal sets cannot hold.
var ErrNotIPv4 = errors.New("not an IPv4 address")

// Backend applies portal rules to the packet filter.
// Allow and Disallow act on client source addresses; the Passthrough
// variants act on whitelisted destinations.
type Backend interface {
	Init() error
	Teardown() error
	Allow(ip net.IP) error
	Disallow(ip net.IP) error
	AllowPassthrough(ip net.IP) error
	DisallowPassthrough(ip net.IP) error
}

// Options describes the guarded network.
type Options struct {
	Table      string // nftables table name, family inet
	Interface  string // LAN interface clients arrive on
	GatewayIP  net.IP // portal address unauthenticated HTTP is redirected to
	PortalPort uint16
}

func (o Options) validate() error {
	if o.Table == "" {
		return errors.New("firewall table name is required")
	}
	if o.Interface == "" {
		return errors.New("firewall interface is required")
	}
	if o.GatewayIP.To4() == nil {
		return fmt.Errorf("gateway address %v: %w", o.GatewayIP, ErrNotIPv4)
	}
	if o.PortalPort == 0 {
		return errors.New("portal port is required")
	}
	return nil
}

// ParseIPv4 parses s and returns its 4-byte form.
func ParseIPv4(s string) (net.IP, error) {
	ip := net.ParseIP(s).To4()
	if ip == nil {
		return nil, fmt.Errorf("%q: %w", s, ErrNotIPv4)
	}
	return ip, nil
}
