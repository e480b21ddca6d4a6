package metrics

import (
	"context"
	"time"

	"github.com/giok57/lazoooSplash/internal/clock"
)

// SessionCounter reports how many sessions are in each state.
type SessionCounter interface {
	CountByState() map[string]int
}

// Collector refreshes gauges that are sampled rather than counted.
type Collector struct {
	registry *Registry
	sessions SessionCounter
	started  time.Time
	clock    clock.Clock
}

// NewCollector creates a collector sampling sessions into r.
func NewCollector(r *Registry, sessions SessionCounter, clk clock.Clock) *Collector {
	clk = clock.Or(clk)
	return &Collector{
		registry: r,
		sessions: sessions,
		started:  clk.Now(),
		clock:    clk,
	}
}

// Collect samples once. It matches the scheduler task signature.
func (c *Collector) Collect(_ context.Context) error {
	for state, n := range c.sessions.CountByState() {
		c.registry.Sessions.WithLabelValues(state).Set(float64(n))
	}
	c.registry.Uptime.Set(c.clock.Since(c.started).Seconds())
	return nil
}
