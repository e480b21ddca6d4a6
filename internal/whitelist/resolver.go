package whitelist

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/spf13/afero"
)

// DefaultResolvConf is read when no resolver is configured.
const DefaultResolvConf = "/etc/resolv.conf"

// Resolver turns a hostname into IPv4 addresses.
type Resolver interface {
	LookupA(ctx context.Context, host string) ([]net.IP, error)
}

// DNSResolver queries A records directly, trying each server in order.
type DNSResolver struct {
	servers []string
	client  *dns.Client
}

// NewDNSResolver resolves against server ("host" or "host:port"). When
// server is empty the nameservers of resolvConf on fs are used.
func NewDNSResolver(fs afero.Fs, server, resolvConf string) (*DNSResolver, error) {
	r := &DNSResolver{
		client: &dns.Client{Net: "udp", Timeout: 2 * time.Second},
	}
	if server != "" {
		r.servers = []string{withPort(server, "53")}
		return r, nil
	}

	if resolvConf == "" {
		resolvConf = DefaultResolvConf
	}
	f, err := fs.Open(resolvConf)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", resolvConf, err)
	}
	defer f.Close()

	cfg, err := dns.ClientConfigFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", resolvConf, err)
	}
	for _, s := range cfg.Servers {
		r.servers = append(r.servers, net.JoinHostPort(s, cfg.Port))
	}
	if len(r.servers) == 0 {
		return nil, fmt.Errorf("%s lists no nameservers", resolvConf)
	}
	return r, nil
}

// Servers returns the nameservers in query order.
func (r *DNSResolver) Servers() []string {
	return append([]string(nil), r.servers...)
}

// LookupA returns the A records for host. Literal IPv4 addresses are
// returned as is.
func (r *DNSResolver) LookupA(ctx context.Context, host string) ([]net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		if ip.To4() == nil {
			return nil, fmt.Errorf("%s is not an IPv4 address", host)
		}
		return []net.IP{ip.To4()}, nil
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(host), dns.TypeA)
	msg.RecursionDesired = true

	var lastErr error
	for _, server := range r.servers {
		resp, _, err := r.client.ExchangeContext(ctx, msg, server)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.Rcode != dns.RcodeSuccess {
			lastErr = fmt.Errorf("%s: %s", server, dns.RcodeToString[resp.Rcode])
			continue
		}
		var ips []net.IP
		for _, rr := range resp.Answer {
			if a, ok := rr.(*dns.A); ok {
				ips = append(ips, a.A.To4())
			}
		}
		if len(ips) == 0 {
			return nil, fmt.Errorf("no A records for %s", host)
		}
		return ips, nil
	}
	return nil, fmt.Errorf("resolve %s: %w", host, lastErr)
}

func withPort(addr, port string) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(strings.Trim(addr, "[]"), port)
}
