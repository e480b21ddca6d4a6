// Package gateway ties the client registry to the packet filter.
//
// Every decide-then-synchronize sequence runs inside Registry.WithLock: the
// state change and the matching Grant or Revoke happen under one lock, so
// two paths can never apply conflicting rules for the same client. Calls to
// the remote authority are always made after the lock is released.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/giok57/lazoooSplash/internal/clock"
	"github.com/giok57/lazoooSplash/internal/firewall"
	"github.com/giok57/lazoooSplash/internal/logging"
	"github.com/giok57/lazoooSplash/internal/session"
)

var (
	// ErrUnknownToken means no session holds the token.
	ErrUnknownToken = errors.New("unknown session token")
	// ErrTokenMismatch means a client presented a token it was not issued.
	ErrTokenMismatch = errors.New("token does not match client session")
)

// Reasons a session ends, used for logs and metrics.
const (
	ReasonDenied     = "denied"
	ReasonRemote     = "remote_disconnect"
	ReasonIdle       = string(session.ExpiredIdle)
	ReasonSessionCap = string(session.ExpiredSession)
	ReasonReassigned = "address_reassigned"
)

// Firewall is the part of firewall.Synchronizer the gateway drives.
type Firewall interface {
	Grant(ip string) error
	Revoke(ip string) error
	Reconcile(want []string) (granted, revoked int, err error)
}

var _ Firewall = (*firewall.Synchronizer)(nil)

// Notifier tells the remote authority that a user went inactive.
type Notifier interface {
	UserInactive(ctx context.Context, userToken string) error
}

// Recorder receives session lifecycle metrics.
type Recorder interface {
	RecordSessionEnd(reason string)
}

// Timeouts bounds session lifetimes.
type Timeouts struct {
	Idle           time.Duration
	DefaultSession time.Duration
	ReapAfter      time.Duration
}

// Gateway owns the session lifecycle.
type Gateway struct {
	registry *session.Registry
	firewall Firewall
	timeouts Timeouts

	notifier Notifier
	recorder Recorder
	clock    clock.Clock
	logger   *logging.Logger
	newToken func() string
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithNotifier reports sweeper expirations to the remote authority.
func WithNotifier(n Notifier) Option {
	return func(g *Gateway) { g.notifier = n }
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(g *Gateway) { g.recorder = r }
}

// WithClock sets the time source used by the sweeper.
func WithClock(c clock.Clock) Option {
	return func(g *Gateway) { g.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// WithTokenGenerator replaces the uuid-based local token generator.
func WithTokenGenerator(fn func() string) Option {
	return func(g *Gateway) { g.newToken = fn }
}

// New creates a gateway over registry and fw.
func New(registry *session.Registry, fw Firewall, timeouts Timeouts, opts ...Option) *Gateway {
	g := &Gateway{
		registry: registry,
		firewall: fw,
		timeouts: timeouts,
		newToken: uuid.NewString,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.clock = clock.Or(g.clock)
	if g.logger == nil {
		g.logger = logging.WithComponent("gateway")
	}
	return g
}

// Registry returns the underlying session registry.
func (g *Gateway) Registry() *session.Registry {
	return g.registry
}

// OnClientSeen returns the active session for mac, creating an
// Unauthenticated one with a fresh local token when none exists. A changed
// address is rebound, moving the allow rule along with it.
func (g *Gateway) OnClientSeen(mac, ip string) (session.Session, error) {
	var out session.Session
	err := g.registry.WithLock(func(tx *session.Txn) error {
		if s, ok := tx.Find(mac); ok && s.Active() {
			if err := g.rebind(tx, s, ip); err != nil {
				return err
			}
			_ = tx.Touch(s.MAC, tx.Now())
			out, _ = tx.Find(mac)
			return nil
		}
		if err := tx.Insert(session.Session{MAC: mac, IP: ip, Token: g.newToken()}); err != nil {
			return err
		}
		out, _ = tx.Find(mac)
		g.logger.Debug("client seen", "mac", out.MAC, "ip", ip)
		return nil
	})
	return out, err
}

// OnClientAuthenticated completes the local splash flow for mac. The
// client must hold an active session issued by OnClientSeen and present
// exactly its token: ErrUnknownToken when there is no such session,
// ErrTokenMismatch when the token differs.
func (g *Gateway) OnClientAuthenticated(mac, ip, token string, q session.Quota) error {
	return g.registry.WithLock(func(tx *session.Txn) error {
		s, ok := tx.Find(mac)
		if !ok || !s.Active() {
			return ErrUnknownToken
		}
		if token == "" || token != s.Token {
			return ErrTokenMismatch
		}
		if err := g.rebind(tx, s, ip); err != nil {
			return err
		}
		s, _ = tx.Find(mac)
		return g.authenticate(tx, s, q)
	})
}

// OnClientDenied ends the session for mac after a failed splash flow.
func (g *Gateway) OnClientDenied(mac string) error {
	return g.registry.WithLock(func(tx *session.Txn) error {
		s, ok := tx.Find(mac)
		if !ok {
			return session.ErrNotFound
		}
		if !s.Active() {
			return nil
		}
		return g.deauthenticate(tx, s, ReasonDenied)
	})
}

// Connect authenticates the session holding token with the given quota.
// A token whose session already ended is reconnected with a fresh record.
// It returns ErrUnknownToken when no session holds the token.
func (g *Gateway) Connect(token string, seconds int64, bandwidthKbps uint64) error {
	return g.registry.WithLock(func(tx *session.Txn) error {
		s, ok := tx.FindByToken(token)
		if !ok {
			return ErrUnknownToken
		}
		if !s.Active() {
			if err := tx.Insert(session.Session{MAC: s.MAC, IP: s.IP, Token: s.Token}); err != nil {
				return err
			}
			s, _ = tx.Find(s.MAC)
		}
		return g.authenticate(tx, s, session.Quota{Seconds: seconds, BandwidthKbps: bandwidthKbps})
	})
}

// Disconnect deauthenticates the session holding token. Disconnecting an
// already ended session is a no-op.
func (g *Gateway) Disconnect(token string) error {
	return g.registry.WithLock(func(tx *session.Txn) error {
		s, ok := tx.FindByToken(token)
		if !ok {
			return ErrUnknownToken
		}
		if !s.Active() {
			return nil
		}
		return g.deauthenticate(tx, s, ReasonRemote)
	})
}

// ObserveActivity records traffic from ip at t.
func (g *Gateway) ObserveActivity(ip string, t time.Time) {
	_ = g.registry.WithLock(func(tx *session.Txn) error {
		if s, ok := tx.FindByIP(ip); ok && s.Active() {
			return tx.Touch(s.MAC, t)
		}
		return nil
	})
}

// authenticate must be called under the registry lock. The state change
// stands even when the rule cannot be applied; Reconcile retries it.
func (g *Gateway) authenticate(tx *session.Txn, s session.Session, q session.Quota) error {
	if err := tx.UpdateState(s.MAC, session.Authenticated); err != nil {
		return err
	}
	if err := tx.SetQuota(s.MAC, q); err != nil {
		return err
	}
	g.logger.Info("client authenticated", "mac", s.MAC, "ip", s.IP,
		"quota_seconds", q.Seconds, "bandwidth_kbps", q.BandwidthKbps)
	if s.IP == "" {
		return nil
	}
	if err := g.firewall.Grant(s.IP); err != nil {
		g.logger.Warn("grant failed", "mac", s.MAC, "ip", s.IP, "error", err)
		return fmt.Errorf("grant %s: %w", s.IP, err)
	}
	return nil
}

// deauthenticate must be called under the registry lock.
func (g *Gateway) deauthenticate(tx *session.Txn, s session.Session, reason string) error {
	if err := tx.UpdateState(s.MAC, session.Deauthenticated); err != nil {
		return err
	}
	g.logger.Info("client deauthenticated", "mac", s.MAC, "ip", s.IP, "reason", reason)
	if g.recorder != nil {
		g.recorder.RecordSessionEnd(reason)
	}
	if s.State != session.Authenticated || s.IP == "" {
		return nil
	}
	if err := g.firewall.Revoke(s.IP); err != nil {
		g.logger.Warn("revoke failed", "mac", s.MAC, "ip", s.IP, "error", err)
		return fmt.Errorf("revoke %s: %w", s.IP, err)
	}
	return nil
}

// rebind must be called under the registry lock.
func (g *Gateway) rebind(tx *session.Txn, s session.Session, ip string) error {
	if ip == "" || ip == s.IP {
		return nil
	}
	if other, ok := tx.FindByIP(ip); ok && other.MAC != s.MAC && other.State == session.Authenticated {
		// The address was reassigned by DHCP; the previous holder's rule
		// now admits the wrong device.
		if err := g.deauthenticate(tx, other, ReasonReassigned); err != nil {
			g.logger.Warn("could not release reassigned address", "ip", ip, "error", err)
		}
	}
	if err := tx.UpdateIP(s.MAC, ip); err != nil {
		return err
	}
	g.logger.Debug("client address changed", "mac", s.MAC, "old", s.IP, "new", ip)
	if s.State != session.Authenticated {
		return nil
	}
	var errs []error
	if s.IP != "" {
		errs = append(errs, g.firewall.Revoke(s.IP))
	}
	errs = append(errs, g.firewall.Grant(ip))
	if err := errors.Join(errs...); err != nil {
		g.logger.Warn("moving allow rule failed", "mac", s.MAC, "error", err)
	}
	return nil
}
