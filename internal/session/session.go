// Package session holds the client registry: one record per device seen on
// the guarded network, keyed by MAC address.
package session

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// State is a client's position in the authentication lifecycle.
// Transitions only move forward: Unauthenticated -> Authenticated -> Deauthenticated.
type State int

const (
	Unauthenticated State = iota
	Authenticated
	Deauthenticated
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case Authenticated:
		return "authenticated"
	case Deauthenticated:
		return "deauthenticated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ParseState is the inverse of State.String.
func ParseState(s string) (State, error) {
	switch strings.ToLower(s) {
	case "unauthenticated":
		return Unauthenticated, nil
	case "authenticated":
		return Authenticated, nil
	case "deauthenticated":
		return Deauthenticated, nil
	}
	return 0, fmt.Errorf("unknown session state %q", s)
}

// Quota carries the limits the authority attaches to an authentication.
// Zero values mean "use the local default".
type Quota struct {
	Seconds       int64
	BandwidthKbps uint64
}

// Session is one tracked client.
type Session struct {
	MAC   string
	IP    string
	Token string
	State State
	Quota Quota

	CreatedAt         time.Time
	AuthenticatedAt   time.Time
	DeauthenticatedAt time.Time
	LastActivity      time.Time
}

// Active reports whether the session is not yet terminal.
func (s Session) Active() bool {
	return s.State != Deauthenticated
}

// ExpiryReason explains why an authenticated session should end.
type ExpiryReason string

const (
	NotExpired     ExpiryReason = ""
	ExpiredIdle    ExpiryReason = "idle"
	ExpiredSession ExpiryReason = "session_limit"
)

// Expired decides whether an authenticated session has run out of time at now.
// idle bounds the gap since LastActivity; the session's own quota (or
// defaultSession when unset) bounds the time since authentication.
func (s Session) Expired(now time.Time, idle, defaultSession time.Duration) ExpiryReason {
	if s.State != Authenticated {
		return NotExpired
	}
	limit := defaultSession
	if s.Quota.Seconds > 0 {
		limit = time.Duration(s.Quota.Seconds) * time.Second
	}
	if limit > 0 && !s.AuthenticatedAt.IsZero() && now.Sub(s.AuthenticatedAt) > limit {
		return ExpiredSession
	}
	if idle > 0 && now.Sub(s.LastActivity) > idle {
		return ExpiredIdle
	}
	return NotExpired
}

// NormalizeMAC lowercases a MAC address into colon form. Unparseable input
// is lowercased and returned as is.
func NormalizeMAC(mac string) string {
	hw, err := net.ParseMAC(strings.TrimSpace(mac))
	if err != nil {
		return strings.ToLower(strings.TrimSpace(mac))
	}
	return hw.String()
}
