package gateway

import (
	"context"

	"github.com/giok57/lazoooSplash/internal/network"
)

// NeighborLister lists the kernel neighbor table.
type NeighborLister interface {
	List() ([]network.Neighbor, error)
}

// ActivityTracker refreshes LastActivity for clients the kernel has
// recently confirmed as reachable.
type ActivityTracker struct {
	gateway   *Gateway
	neighbors NeighborLister
}

// NewActivityTracker creates a tracker feeding g from neighbors.
func NewActivityTracker(g *Gateway, neighbors NeighborLister) *ActivityTracker {
	return &ActivityTracker{gateway: g, neighbors: neighbors}
}

// Collect samples the neighbor table once. It matches the scheduler task
// signature.
func (a *ActivityTracker) Collect(_ context.Context) error {
	list, err := a.neighbors.List()
	if err != nil {
		return err
	}
	now := a.gateway.clock.Now()
	for _, nb := range list {
		if nb.Active {
			a.gateway.ObserveActivity(nb.IP, now)
		}
	}
	return nil
}
