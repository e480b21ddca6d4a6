//go:build !linux

package firewall

import "errors"

// ErrNftUnsupported is returned where netlink nftables is unavailable.
var ErrNftUnsupported = errors.New("nftables backend requires linux; use the script backend")

// OpenNftBackend is unavailable on this platform.
func OpenNftBackend(opts Options) (Backend, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	return nil, ErrNftUnsupported
}
