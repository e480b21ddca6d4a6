package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/giok57/lazoooSplash/internal/session"
)

type expiry struct {
	mac    string
	reason string
}

// ExpireIdle ends every session that ran out of time at now and returns
// how many were ended. Authenticated sessions are revoked and reported to
// the notifier. Unauthenticated sessions idle past the idle timeout are
// retired without touching the packet filter.
//
// Candidates come from a snapshot; each is re-checked under the lock so a
// session that was touched or ended in the meantime is left alone, and a
// session is never revoked twice.
func (g *Gateway) ExpireIdle(ctx context.Context, now time.Time) int {
	var candidates []expiry
	g.registry.ForEachActive(func(s session.Session) {
		if reason := g.expired(s, now); reason != "" {
			candidates = append(candidates, expiry{mac: s.MAC, reason: reason})
		}
	})
	if len(candidates) == 0 {
		return 0
	}

	var inactive []string
	expired := 0
	for _, c := range candidates {
		_ = g.registry.WithLock(func(tx *session.Txn) error {
			s, ok := tx.Find(c.mac)
			if !ok || !s.Active() {
				return nil
			}
			reason := g.expired(s, now)
			if reason == "" {
				return nil
			}
			wasAuthenticated := s.State == session.Authenticated
			err := g.deauthenticate(tx, s, reason)
			if err != nil && errors.Is(err, session.ErrNotFound) {
				return nil
			}
			expired++
			if wasAuthenticated && s.Token != "" {
				inactive = append(inactive, s.Token)
			}
			return nil
		})
	}

	if g.notifier != nil {
		for _, token := range inactive {
			if ctx.Err() != nil {
				break
			}
			if err := g.notifier.UserInactive(ctx, token); err != nil {
				g.logger.Warn("could not report inactive user", "error", err)
			}
		}
	}
	return expired
}

func (g *Gateway) expired(s session.Session, now time.Time) string {
	switch s.State {
	case session.Authenticated:
		return string(s.Expired(now, g.timeouts.Idle, g.timeouts.DefaultSession))
	case session.Unauthenticated:
		if g.timeouts.Idle > 0 && now.Sub(s.LastActivity) > g.timeouts.Idle {
			return ReasonIdle
		}
	}
	return ""
}

// Sweep runs ExpireIdle at the current time. It matches the scheduler task
// signature.
func (g *Gateway) Sweep(ctx context.Context) error {
	if n := g.ExpireIdle(ctx, g.clock.Now()); n > 0 {
		g.logger.Info("sweep expired sessions", "count", n)
	}
	return nil
}

// Reap forgets deauthenticated sessions older than the reap timeout.
func (g *Gateway) Reap(_ context.Context) error {
	if removed := g.registry.Reap(g.timeouts.ReapAfter); len(removed) > 0 {
		g.logger.Debug("reaped sessions", "count", len(removed))
	}
	return nil
}

// Reconcile makes the packet filter admit exactly the authenticated
// sessions. It runs under the registry lock so no transition interleaves.
func (g *Gateway) Reconcile(_ context.Context) error {
	return g.registry.WithLock(func(tx *session.Txn) error {
		var want []string
		for _, s := range tx.Sessions() {
			if s.State == session.Authenticated && s.IP != "" {
				want = append(want, s.IP)
			}
		}
		granted, revoked, err := g.firewall.Reconcile(want)
		if granted > 0 || revoked > 0 {
			g.logger.Info("firewall reconciled", "granted", granted, "revoked", revoked)
		}
		return err
	})
}

// Restore loads persisted sessions into the registry and rebuilds the
// packet filter from them. Records that conflict with existing state are
// skipped.
func (g *Gateway) Restore(ctx context.Context, sessions []session.Session) (int, error) {
	restored := 0
	_ = g.registry.WithLock(func(tx *session.Txn) error {
		for _, s := range sessions {
			if err := tx.Insert(s); err != nil {
				g.logger.Warn("skipping persisted session", "mac", s.MAC, "error", err)
				continue
			}
			restored++
		}
		return nil
	})
	g.logger.Info("sessions restored", "count", restored)
	return restored, g.Reconcile(ctx)
}

// CountByState reports how many sessions are in each state.
func (g *Gateway) CountByState() map[string]int {
	counts := g.registry.Counts()
	out := make(map[string]int, len(counts))
	for st, n := range counts {
		out[st.String()] = n
	}
	return out
}
