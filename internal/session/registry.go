package session

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/giok57/lazoooSplash/internal/clock"
)

var (
	// ErrNotFound means the session vanished, usually by racing a sweep.
	// Callers treat it as benign.
	ErrNotFound = errors.New("session not found")
	// ErrInvalidTransition rejects a move back to an earlier state.
	ErrInvalidTransition = errors.New("invalid session state transition")
	// ErrActiveExists rejects a second non-terminal session for one MAC.
	ErrActiveExists = errors.New("active session already exists for mac")
	// ErrTokenInUse rejects a token already held by another active session.
	ErrTokenInUse = errors.New("token already in use")
	// ErrRegistryFull is returned when max clients is reached.
	ErrRegistryFull = errors.New("client registry full")
)

// Journal receives every committed change. Calls happen under the registry
// lock and must not block.
type Journal interface {
	Save(s Session)
	Delete(mac string)
}

// Registry is the single owner of client sessions. Every read-decide-write
// sequence runs under one mutex via WithLock, so transitions for one MAC are
// linearized.
type Registry struct {
	mu      sync.Mutex
	byMAC   map[string]*Session
	byToken map[string]string // token -> mac
	byIP    map[string]string // ip -> mac

	maxClients int
	clock      clock.Clock
	journal    Journal
}

// Option configures a Registry.
type Option func(*Registry)

// WithMaxClients caps the number of active sessions. Zero means unlimited.
func WithMaxClients(n int) Option {
	return func(r *Registry) { r.maxClients = n }
}

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(r *Registry) { r.clock = c }
}

// WithJournal attaches a change journal.
func WithJournal(j Journal) Option {
	return func(r *Registry) { r.journal = j }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		byMAC:   make(map[string]*Session),
		byToken: make(map[string]string),
		byIP:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.clock = clock.Or(r.clock)
	return r
}

// WithLock runs fn with exclusive access to the registry.
// fn must not perform network or filesystem I/O.
func (r *Registry) WithLock(fn func(tx *Txn) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(&Txn{r: r})
}

// Txn is the view of the registry inside WithLock. It is only valid for the
// duration of the callback.
type Txn struct {
	r *Registry
}

// Now returns the registry clock's current time.
func (tx *Txn) Now() time.Time {
	return tx.r.clock.Now()
}

// Find returns a copy of the session for mac.
func (tx *Txn) Find(mac string) (Session, bool) {
	s, ok := tx.r.byMAC[NormalizeMAC(mac)]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// FindByToken returns the session currently holding token. Terminal
// sessions keep their token until replaced or reaped.
func (tx *Txn) FindByToken(token string) (Session, bool) {
	if token == "" {
		return Session{}, false
	}
	mac, ok := tx.r.byToken[token]
	if !ok {
		return Session{}, false
	}
	return tx.Find(mac)
}

// FindByIP returns the session currently bound to ip.
func (tx *Txn) FindByIP(ip string) (Session, bool) {
	mac, ok := tx.r.byIP[ip]
	if !ok {
		return Session{}, false
	}
	return tx.Find(mac)
}

// Insert adds a session. A terminal record for the same MAC is replaced.
// CreatedAt and LastActivity default to now.
func (tx *Txn) Insert(s Session) error {
	r := tx.r
	s.MAC = NormalizeMAC(s.MAC)
	if s.MAC == "" {
		return errors.New("session mac is required")
	}

	existing, exists := r.byMAC[s.MAC]
	if exists && existing.Active() {
		return ErrActiveExists
	}
	if s.Token != "" {
		if holder, ok := r.byToken[s.Token]; ok && holder != s.MAC {
			if other := r.byMAC[holder]; other != nil && other.Active() {
				return ErrTokenInUse
			}
		}
	}
	if !exists && r.maxClients > 0 && r.activeCount() >= r.maxClients {
		return ErrRegistryFull
	}

	if exists {
		r.unindex(existing)
	}

	now := r.clock.Now()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	if s.LastActivity.IsZero() {
		s.LastActivity = now
	}
	if s.State == Authenticated && s.AuthenticatedAt.IsZero() {
		s.AuthenticatedAt = now
	}

	rec := s
	r.byMAC[s.MAC] = &rec
	r.index(&rec)
	r.save(&rec)
	return nil
}

// UpdateState moves the session for mac to state. Setting the current state
// again is a no-op.
func (tx *Txn) UpdateState(mac string, state State) error {
	r := tx.r
	s, ok := r.byMAC[NormalizeMAC(mac)]
	if !ok {
		return ErrNotFound
	}
	if s.State == state {
		return nil
	}
	if state < s.State {
		return ErrInvalidTransition
	}

	now := r.clock.Now()
	s.State = state
	switch state {
	case Authenticated:
		s.AuthenticatedAt = now
		s.LastActivity = now
	case Deauthenticated:
		s.DeauthenticatedAt = now
	}
	r.save(s)
	return nil
}

// SetQuota stores the authority-supplied limits for mac.
func (tx *Txn) SetQuota(mac string, q Quota) error {
	s, ok := tx.r.byMAC[NormalizeMAC(mac)]
	if !ok {
		return ErrNotFound
	}
	s.Quota = q
	tx.r.save(s)
	return nil
}

// UpdateIP rebinds mac to a new address.
func (tx *Txn) UpdateIP(mac, ip string) error {
	r := tx.r
	s, ok := r.byMAC[NormalizeMAC(mac)]
	if !ok {
		return ErrNotFound
	}
	if s.IP == ip {
		return nil
	}
	if r.byIP[s.IP] == s.MAC {
		delete(r.byIP, s.IP)
	}
	s.IP = ip
	if ip != "" {
		r.byIP[ip] = s.MAC
	}
	r.save(s)
	return nil
}

// Touch records activity for mac at t. Older timestamps are ignored.
func (tx *Txn) Touch(mac string, t time.Time) error {
	s, ok := tx.r.byMAC[NormalizeMAC(mac)]
	if !ok {
		return ErrNotFound
	}
	if t.After(s.LastActivity) {
		s.LastActivity = t
	}
	return nil
}

// Remove deletes the session for mac and reports whether it existed.
func (tx *Txn) Remove(mac string) bool {
	r := tx.r
	mac = NormalizeMAC(mac)
	s, ok := r.byMAC[mac]
	if !ok {
		return false
	}
	r.unindex(s)
	delete(r.byMAC, mac)
	if r.journal != nil {
		r.journal.Delete(mac)
	}
	return true
}

// Sessions returns copies of every session, sorted by MAC.
func (tx *Txn) Sessions() []Session {
	return tx.r.snapshot(false)
}

func (r *Registry) index(s *Session) {
	if s.Token != "" {
		r.byToken[s.Token] = s.MAC
	}
	if s.IP != "" {
		r.byIP[s.IP] = s.MAC
	}
}

func (r *Registry) unindex(s *Session) {
	if s.Token != "" && r.byToken[s.Token] == s.MAC {
		delete(r.byToken, s.Token)
	}
	if s.IP != "" && r.byIP[s.IP] == s.MAC {
		delete(r.byIP, s.IP)
	}
}

func (r *Registry) save(s *Session) {
	if r.journal != nil {
		r.journal.Save(*s)
	}
}

func (r *Registry) activeCount() int {
	n := 0
	for _, s := range r.byMAC {
		if s.Active() {
			n++
		}
	}
	return n
}

func (r *Registry) snapshot(activeOnly bool) []Session {
	out := make([]Session, 0, len(r.byMAC))
	for _, s := range r.byMAC {
		if activeOnly && !s.Active() {
			continue
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MAC < out[j].MAC })
	return out
}

// Find returns a copy of the session for mac.
func (r *Registry) Find(mac string) (s Session, ok bool) {
	_ = r.WithLock(func(tx *Txn) error {
		s, ok = tx.Find(mac)
		return nil
	})
	return s, ok
}

// FindByToken returns a copy of the session holding token.
func (r *Registry) FindByToken(token string) (s Session, ok bool) {
	_ = r.WithLock(func(tx *Txn) error {
		s, ok = tx.FindByToken(token)
		return nil
	})
	return s, ok
}

// FindByIP returns a copy of the session bound to ip.
func (r *Registry) FindByIP(ip string) (s Session, ok bool) {
	_ = r.WithLock(func(tx *Txn) error {
		s, ok = tx.FindByIP(ip)
		return nil
	})
	return s, ok
}

// Insert adds a session.
func (r *Registry) Insert(s Session) error {
	return r.WithLock(func(tx *Txn) error { return tx.Insert(s) })
}

// UpdateState moves the session for mac to state.
func (r *Registry) UpdateState(mac string, state State) error {
	return r.WithLock(func(tx *Txn) error { return tx.UpdateState(mac, state) })
}

// Touch records activity for mac.
func (r *Registry) Touch(mac string, t time.Time) error {
	return r.WithLock(func(tx *Txn) error { return tx.Touch(mac, t) })
}

// Remove deletes the session for mac.
func (r *Registry) Remove(mac string) (removed bool) {
	_ = r.WithLock(func(tx *Txn) error {
		removed = tx.Remove(mac)
		return nil
	})
	return removed
}

// ForEachActive calls fn for a snapshot of every non-terminal session.
// fn runs without the lock held and may call back into the registry.
func (r *Registry) ForEachActive(fn func(Session)) {
	r.mu.Lock()
	active := r.snapshot(true)
	r.mu.Unlock()

	for _, s := range active {
		fn(s)
	}
}

// Snapshot returns copies of every session, terminal ones included.
func (r *Registry) Snapshot() []Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot(false)
}

// Len returns the number of active sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeCount()
}

// Counts returns the number of sessions in each state.
func (r *Registry) Counts() map[State]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := map[State]int{Unauthenticated: 0, Authenticated: 0, Deauthenticated: 0}
	for _, s := range r.byMAC {
		counts[s.State]++
	}
	return counts
}

// Reap drops terminal sessions deauthenticated at least olderThan ago and
// returns their MACs.
func (r *Registry) Reap(olderThan time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	var removed []string
	for mac, s := range r.byMAC {
		if s.Active() || now.Sub(s.DeauthenticatedAt) < olderThan {
			continue
		}
		r.unindex(s)
		delete(r.byMAC, mac)
		if r.journal != nil {
			r.journal.Delete(mac)
		}
		removed = append(removed, mac)
	}
	sort.Strings(removed)
	return removed
}
