package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/giok57/lazoooSplash/internal/logging"
	"github.com/giok57/lazoooSplash/internal/state"
)

// pendingWrite is the latest change for one MAC; a nil rec means delete.
type pendingWrite struct {
	mac string
	rec *state.SessionRecord
}

// StoreJournal persists registry changes into a state.Store. Save and Delete
// never block: they record the latest change per MAC and Run writes it. A
// newer change for a MAC replaces an unwritten older one, so the store
// always converges on the registry's last word for every client.
type StoreJournal struct {
	bucket *state.SessionBucket
	logger *logging.Logger

	mu      sync.Mutex
	pending map[string]int // mac -> index in order
	order   []pendingWrite

	wake    chan struct{}
	flushes chan chan struct{}
}

// NewStoreJournal prepares the sessions bucket in store.
func NewStoreJournal(store state.Store, logger *logging.Logger) (*StoreJournal, error) {
	bucket, err := state.NewSessionBucket(store)
	if err != nil {
		return nil, fmt.Errorf("open sessions bucket: %w", err)
	}
	if logger == nil {
		logger = logging.WithComponent("journal")
	}
	return &StoreJournal{
		bucket:  bucket,
		logger:  logger,
		pending: make(map[string]int),
		wake:    make(chan struct{}, 1),
		flushes: make(chan chan struct{}),
	}, nil
}

// Save records s for persistence.
func (j *StoreJournal) Save(s Session) {
	j.enqueue(pendingWrite{mac: s.MAC, rec: toRecord(s)})
}

// Delete records removal of mac.
func (j *StoreJournal) Delete(mac string) {
	j.enqueue(pendingWrite{mac: mac})
}

func (j *StoreJournal) enqueue(w pendingWrite) {
	j.mu.Lock()
	if i, ok := j.pending[w.mac]; ok {
		j.order[i] = w
	} else {
		j.pending[w.mac] = len(j.order)
		j.order = append(j.order, w)
	}
	j.mu.Unlock()

	select {
	case j.wake <- struct{}{}:
	default:
	}
}

// Pending reports how many MACs have unwritten changes.
func (j *StoreJournal) Pending() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.order)
}

// Flush blocks until every change recorded before the call has been
// written, or ctx is done. Run must be active.
func (j *StoreJournal) Flush(ctx context.Context) error {
	done := make(chan struct{})
	select {
	case j.flushes <- done:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run writes recorded changes until ctx is done, then writes what is left.
func (j *StoreJournal) Run(ctx context.Context) {
	for {
		select {
		case <-j.wake:
			j.drain()
		case done := <-j.flushes:
			j.drain()
			close(done)
		case <-ctx.Done():
			j.drain()
			return
		}
	}
}

// Drain writes every recorded change now.
func (j *StoreJournal) Drain() {
	j.drain()
}

func (j *StoreJournal) drain() {
	j.mu.Lock()
	batch := j.order
	j.order = nil
	j.pending = make(map[string]int)
	j.mu.Unlock()

	for _, w := range batch {
		var err error
		if w.rec != nil {
			err = j.bucket.Put(w.rec)
		} else {
			err = j.bucket.Delete(w.mac)
		}
		if err != nil {
			j.logger.Warn("journal write failed", "mac", w.mac, "error", err)
		}
	}
}

// Load returns every persisted session.
func (j *StoreJournal) Load() ([]Session, error) {
	recs, err := j.bucket.List()
	if err != nil {
		return nil, err
	}
	out := make([]Session, 0, len(recs))
	for _, rec := range recs {
		s, err := fromRecord(rec)
		if err != nil {
			j.logger.Warn("skipping unreadable journal entry", "mac", rec.MAC, "error", err)
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func toRecord(s Session) *state.SessionRecord {
	return &state.SessionRecord{
		MAC:           s.MAC,
		IP:            s.IP,
		Token:         s.Token,
		State:         s.State.String(),
		CreatedAt:     s.CreatedAt,
		AuthedAt:      s.AuthenticatedAt,
		LastActivity:  s.LastActivity,
		DeauthedAt:    s.DeauthenticatedAt,
		QuotaSeconds:  s.Quota.Seconds,
		BandwidthKbps: s.Quota.BandwidthKbps,
	}
}

func fromRecord(rec *state.SessionRecord) (Session, error) {
	st, err := ParseState(rec.State)
	if err != nil {
		return Session{}, err
	}
	return Session{
		MAC:               NormalizeMAC(rec.MAC),
		IP:                rec.IP,
		Token:             rec.Token,
		State:             st,
		Quota:             Quota{Seconds: rec.QuotaSeconds, BandwidthKbps: rec.BandwidthKbps},
		CreatedAt:         rec.CreatedAt,
		AuthenticatedAt:   rec.AuthedAt,
		DeauthenticatedAt: rec.DeauthedAt,
		LastActivity:      rec.LastActivity,
	}, nil
}
