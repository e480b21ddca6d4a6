package firewall

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/giok57/lazoooSplash/internal/logging"
)

// Firewall operation names reported to an Observer.
const (
	OpInit        = "init"
	OpTeardown    = "teardown"
	OpGrant       = "grant"
	OpRevoke      = "revoke"
	OpPassthrough = "passthrough"
)

// Observer is told about every backend call the Synchronizer makes.
type Observer interface {
	FirewallOp(op string, err error)
}

// Synchronizer turns session decisions into backend calls. Grant, Revoke
// and GrantPassthrough are no-ops when the address is already in the
// requested state; a failed call leaves the bookkeeping untouched so the
// next call retries.
type Synchronizer struct {
	backend  Backend
	logger   *logging.Logger
	observer Observer

	initAttempts uint
	initDelay    time.Duration

	mu          sync.Mutex
	granted     map[string]struct{}
	passthrough map[string]struct{}

	ready        atomic.Bool
	teardownOnce sync.Once
	teardownErr  error
}

// SyncOption configures a Synchronizer.
type SyncOption func(*Synchronizer)

// WithObserver reports backend calls to o.
func WithObserver(o Observer) SyncOption {
	return func(s *Synchronizer) { s.observer = o }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) SyncOption {
	return func(s *Synchronizer) { s.logger = l }
}

// WithInitRetry sets how often Initialize retries a failing backend.
func WithInitRetry(attempts uint, delay time.Duration) SyncOption {
	return func(s *Synchronizer) {
		s.initAttempts = attempts
		s.initDelay = delay
	}
}

// NewSynchronizer wraps backend.
func NewSynchronizer(backend Backend, opts ...SyncOption) *Synchronizer {
	s := &Synchronizer{
		backend:      backend,
		initAttempts: 3,
		initDelay:    time.Second,
		granted:      make(map[string]struct{}),
		passthrough:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.initAttempts == 0 {
		s.initAttempts = 1
	}
	if s.logger == nil {
		s.logger = logging.WithComponent("firewall")
	}
	return s
}

func (s *Synchronizer) observe(op string, err error) {
	if s.observer != nil {
		s.observer.FirewallOp(op, err)
	}
}

// Initialize flushes any previous portal rules and installs the base
// structure. Addresses already tracked are re-applied, so calling it again
// converges on the same ruleset.
func (s *Synchronizer) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := retry.Do(
		s.backend.Init,
		retry.Attempts(s.initAttempts),
		retry.Delay(s.initDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Warn("firewall init failed, retrying", "attempt", n+1, "error", err)
		}),
	)
	s.observe(OpInit, err)
	if err != nil {
		return fmt.Errorf("initialize firewall: %w", err)
	}
	s.ready.Store(true)

	var errs []error
	for ip := range s.granted {
		if err := s.backend.Allow(net.ParseIP(ip)); err != nil {
			delete(s.granted, ip)
			errs = append(errs, err)
		}
	}
	for ip := range s.passthrough {
		if err := s.backend.AllowPassthrough(net.ParseIP(ip)); err != nil {
			delete(s.passthrough, ip)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Teardown removes the portal rules. Only the first call reaches the
// backend; later calls return the first call's result.
func (s *Synchronizer) Teardown() error {
	s.teardownOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		s.ready.Store(false)
		s.teardownErr = s.backend.Teardown()
		s.observe(OpTeardown, s.teardownErr)
		s.granted = make(map[string]struct{})
		s.passthrough = make(map[string]struct{})
		if s.teardownErr != nil {
			s.logger.Error("firewall teardown failed", "error", s.teardownErr)
		} else {
			s.logger.Info("firewall rules removed")
		}
	})
	return s.teardownErr
}

// Ready reports whether the base ruleset is installed.
func (s *Synchronizer) Ready() bool {
	return s.ready.Load()
}

// Grant allows traffic from ip.
func (s *Synchronizer) Grant(ip string) error {
	addr, err := ParseIPv4(ip)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := addr.String()
	if _, ok := s.granted[key]; ok {
		return nil
	}
	err = s.backend.Allow(addr)
	s.observe(OpGrant, err)
	if err != nil {
		return fmt.Errorf("grant %s: %w", key, err)
	}
	s.granted[key] = struct{}{}
	s.logger.Debug("granted", "ip", key)
	return nil
}

// Revoke removes the allow rule for ip.
func (s *Synchronizer) Revoke(ip string) error {
	addr, err := ParseIPv4(ip)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := addr.String()
	if _, ok := s.granted[key]; !ok {
		return nil
	}
	err = s.backend.Disallow(addr)
	s.observe(OpRevoke, err)
	if err != nil {
		return fmt.Errorf("revoke %s: %w", key, err)
	}
	delete(s.granted, key)
	s.logger.Debug("revoked", "ip", key)
	return nil
}

// GrantPassthrough lets every client reach ip before authenticating.
func (s *Synchronizer) GrantPassthrough(ip string) error {
	addr, err := ParseIPv4(ip)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := addr.String()
	if _, ok := s.passthrough[key]; ok {
		return nil
	}
	err = s.backend.AllowPassthrough(addr)
	s.observe(OpPassthrough, err)
	if err != nil {
		return fmt.Errorf("passthrough %s: %w", key, err)
	}
	s.passthrough[key] = struct{}{}
	return nil
}

// RevokePassthrough removes a whitelisted destination.
func (s *Synchronizer) RevokePassthrough(ip string) error {
	addr, err := ParseIPv4(ip)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := addr.String()
	if _, ok := s.passthrough[key]; !ok {
		return nil
	}
	if err := s.backend.DisallowPassthrough(addr); err != nil {
		return fmt.Errorf("remove passthrough %s: %w", key, err)
	}
	delete(s.passthrough, key)
	return nil
}

// Reconcile makes the granted set equal to want: missing addresses are
// granted and extra ones revoked. It reports how many of each happened.
func (s *Synchronizer) Reconcile(want []string) (granted, revoked int, err error) {
	desired := make(map[string]struct{}, len(want))
	var errs []error
	for _, ip := range want {
		addr, perr := ParseIPv4(ip)
		if perr != nil {
			errs = append(errs, perr)
			continue
		}
		desired[addr.String()] = struct{}{}
	}

	for _, ip := range s.Installed() {
		if _, ok := desired[ip]; ok {
			delete(desired, ip)
			continue
		}
		if rerr := s.Revoke(ip); rerr != nil {
			errs = append(errs, rerr)
			continue
		}
		revoked++
	}
	for ip := range desired {
		if gerr := s.Grant(ip); gerr != nil {
			errs = append(errs, gerr)
			continue
		}
		granted++
	}
	return granted, revoked, errors.Join(errs...)
}

// IsGranted reports whether ip currently has an allow rule.
func (s *Synchronizer) IsGranted(ip string) bool {
	addr, err := ParseIPv4(ip)
	if err != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.granted[addr.String()]
	return ok
}

// Installed returns the granted client addresses, sorted.
func (s *Synchronizer) Installed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.granted)
}

// Passthrough returns the whitelisted destinations, sorted.
func (s *Synchronizer) Passthrough() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.passthrough)
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
