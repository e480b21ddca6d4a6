package poller

import (
	"context"
	"fmt"
	"time"

	probing "github.com/prometheus-community/pro-bing"
)

// Prober checks whether the uplink is plausibly back.
type Prober interface {
	Probe(ctx context.Context) error
}

// PingProber sends one ICMP echo to a host.
type PingProber struct {
	Host       string
	Timeout    time.Duration
	Privileged bool
}

// Probe implements Prober.
func (p PingProber) Probe(ctx context.Context) error {
	pinger, err := probing.NewPinger(p.Host)
	if err != nil {
		return fmt.Errorf("failed to create pinger: %w", err)
	}

	pinger.Count = 1
	pinger.Timeout = p.Timeout
	if pinger.Timeout <= 0 {
		pinger.Timeout = 2 * time.Second
	}
	pinger.SetPrivileged(p.Privileged)

	if err := pinger.RunWithContext(ctx); err != nil {
		return err
	}
	if pinger.Statistics().PacketsRecv == 0 {
		return fmt.Errorf("no reply from %s", p.Host)
	}
	return nil
}
