package poller

import (
	"sync"
	"time"
)

// Phase is the poller's position in its registration state machine.
type Phase int

const (
	Unregistered Phase = iota
	Registered
	Offline
	ServiceDown
)

func (p Phase) String() string {
	switch p {
	case Unregistered:
		return "unregistered"
	case Registered:
		return "registered"
	case Offline:
		return "offline"
	case ServiceDown:
		return "service_down"
	default:
		return "unknown"
	}
}

// Status is the operational status reported for diagnostics.
type Status int

const (
	StatusOK Status = iota
	StatusNoConnection
	StatusServiceUnavailable
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNoConnection:
		return "no_connection"
	case StatusServiceUnavailable:
		return "service_unavailable"
	default:
		return "unknown"
	}
}

// AllStatuses lists every Status name, for one-hot gauges.
var AllStatuses = []string{
	StatusOK.String(),
	StatusNoConnection.String(),
	StatusServiceUnavailable.String(),
}

// RemoteState is a point-in-time copy of the poller's control-plane state.
type RemoteState struct {
	APToken        string
	LastStatusCode int
	Status         Status
	Phase          Phase
	UpdatedAt      time.Time
}

// remoteState is written only by the poller goroutine and read by anyone.
type remoteState struct {
	mu sync.RWMutex
	s  RemoteState
}

func (r *remoteState) get() RemoteState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.s
}

func (r *remoteState) update(fn func(*RemoteState)) RemoteState {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.s)
	return r.s
}
