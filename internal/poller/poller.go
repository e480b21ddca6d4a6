// Package poller keeps the access point registered with the remote
// authority and long-polls it for client authorization events.
//
// The loop never gives up. A transport failure keeps the AP token and
// retries after a fixed wait; any non-2xx answer drops the token so the
// next cycle registers again. Every wait is a cancellable sleep, so
// shutdown is always prompt.
package poller

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/giok57/lazoooSplash/internal/authority"
	"github.com/giok57/lazoooSplash/internal/clock"
	"github.com/giok57/lazoooSplash/internal/dispatch"
	"github.com/giok57/lazoooSplash/internal/logging"
	"github.com/giok57/lazoooSplash/internal/state"
)

// Poll outcomes recorded in metrics.
const (
	OutcomeOK          = "ok"
	OutcomeRegistered  = "registered"
	OutcomeTransport   = "transport_error"
	OutcomeRejected    = "rejected"
	OutcomeBadResponse = "bad_response"
	OutcomeProbeFailed = "probe_failed"
)

// Authority is the part of the authority client the poller uses.
type Authority interface {
	Register(ctx context.Context, apID string) (string, error)
	Events(ctx context.Context, apToken string) ([]json.RawMessage, error)
}

// Dispatcher applies one event batch.
type Dispatcher interface {
	Dispatch(ctx context.Context, batch []json.RawMessage) dispatch.Result
}

// TokenStore persists the registration across restarts.
type TokenStore interface {
	Load() (*state.RemoteRecord, error)
	Save(rec *state.RemoteRecord) error
}

// Recorder receives poll metrics.
type Recorder interface {
	RecordPoll(outcome string)
	SetPollerStatus(status string, all []string)
}

// Options configures a Poller.
type Options struct {
	APID string
	// Wait is the fixed backoff after any failure.
	Wait time.Duration
	// Interval is the minimum gap between successful polls.
	Interval time.Duration
	// UplinkChecks is how many failed uplink checks are tolerated before
	// the next HTTP attempt goes ahead anyway.
	UplinkChecks int
}

// Poller runs the registration and event loop.
type Poller struct {
	opts       Options
	authority  Authority
	dispatcher Dispatcher

	store    TokenStore
	prober   Prober
	recorder Recorder
	clock    clock.Clock
	logger   *logging.Logger

	state remoteState
}

// Option configures optional collaborators.
type Option func(*Poller)

// WithTokenStore persists the AP token.
func WithTokenStore(s TokenStore) Option {
	return func(p *Poller) { p.store = s }
}

// WithProber gates retries after a transport failure on a reachability probe.
func WithProber(pr Prober) Option {
	return func(p *Poller) { p.prober = pr }
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(p *Poller) { p.recorder = r }
}

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(p *Poller) { p.clock = c }
}

// New creates a poller.
func New(auth Authority, dispatcher Dispatcher, opts Options, options ...Option) *Poller {
	p := &Poller{
		opts:       opts,
		authority:  auth,
		dispatcher: dispatcher,
		logger:     logging.WithComponent("poller"),
	}
	for _, o := range options {
		o(p)
	}
	p.clock = clock.Or(p.clock)
	if p.opts.Wait <= 0 {
		p.opts.Wait = 10 * time.Second
	}
	if p.opts.UplinkChecks <= 0 {
		p.opts.UplinkChecks = 3
	}
	return p
}

// Snapshot returns the current control-plane state.
func (p *Poller) Snapshot() RemoteState {
	return p.state.get()
}

// Run loops until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	p.restore()
	p.logger.Info("poller started", "ap_id", p.opts.APID)

	for {
		wait := p.Step(ctx)
		if !clock.Sleep(ctx, wait) {
			break
		}
		if !p.awaitUplink(ctx) {
			break
		}
	}

	p.logger.Info("poller stopped")
	return nil
}

// Step runs one cycle and returns how long to wait before the next.
func (p *Poller) Step(ctx context.Context) time.Duration {
	token := p.state.get().APToken
	if token == "" {
		return p.register(ctx)
	}
	return p.poll(ctx, token)
}

func (p *Poller) register(ctx context.Context) time.Duration {
	token, err := p.authority.Register(ctx, p.opts.APID)
	if err != nil {
		return p.fail(ctx, err, "registration", ServiceDown)
	}

	p.set(func(s *RemoteState) {
		s.APToken = token
		s.LastStatusCode = http.StatusOK
		s.Status = StatusOK
		s.Phase = Registered
	}, true)
	p.record(OutcomeRegistered)
	p.logger.Info("registered with authority")
	return 0
}

func (p *Poller) poll(ctx context.Context, token string) time.Duration {
	started := p.clock.Now()
	batch, err := p.authority.Events(ctx, token)
	if err != nil {
		return p.fail(ctx, err, "event poll", Unregistered)
	}

	p.set(func(s *RemoteState) {
		s.LastStatusCode = http.StatusOK
		s.Status = StatusOK
		s.Phase = Registered
	}, false)
	p.record(OutcomeOK)

	if len(batch) > 0 {
		res := p.dispatcher.Dispatch(ctx, batch)
		p.logger.Info("event batch processed", "events", len(batch),
			"applied", res.Applied, "skipped", res.Skipped, "ignored", res.Ignored, "failed", res.Failed)
	}

	// An authority that answers instantly must not be hammered.
	if elapsed := p.clock.Since(started); elapsed < p.opts.Interval {
		return p.opts.Interval - elapsed
	}
	return 0
}

// fail classifies err and returns the backoff. A rejection always drops the
// token and moves to rejected.
func (p *Poller) fail(ctx context.Context, err error, what string, rejected Phase) time.Duration {
	if ctx.Err() != nil {
		return 0
	}

	var se *authority.StatusError
	switch {
	case errors.As(err, &se):
		p.set(func(s *RemoteState) {
			s.APToken = ""
			s.LastStatusCode = se.Code
			s.Status = StatusServiceUnavailable
			s.Phase = rejected
		}, true)
		p.record(OutcomeRejected)
		p.logger.Warn(what+" rejected, registering again", "status", se.Code, "wait", p.opts.Wait)

	case authority.IsTransport(err):
		p.set(func(s *RemoteState) {
			s.LastStatusCode = 0
			s.Status = StatusNoConnection
			s.Phase = Offline
		}, false)
		p.record(OutcomeTransport)
		p.logger.Info("authority unreachable, offline", "error", err, "wait", p.opts.Wait)

	default:
		p.set(func(s *RemoteState) {
			s.Status = StatusServiceUnavailable
			s.Phase = ServiceDown
		}, false)
		p.record(OutcomeBadResponse)
		p.logger.Warn(what+" returned an unusable response", "error", err, "wait", p.opts.Wait)
	}
	return p.opts.Wait
}

// awaitUplink delays the next attempt while the uplink looks down after a
// transport error. Filtered or unprivileged ICMP must not stall the poller,
// so after UplinkChecks failures the HTTP attempt goes ahead.
func (p *Poller) awaitUplink(ctx context.Context) bool {
	if p.prober == nil || p.state.get().Phase != Offline {
		return true
	}
	for i := 1; ; i++ {
		err := p.prober.Probe(ctx)
		if err == nil {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		p.record(OutcomeProbeFailed)
		if i >= p.opts.UplinkChecks {
			p.logger.Debug("uplink still unreachable, retrying authority", "checks", i, "error", err)
			return true
		}
		p.logger.Debug("uplink probe failed", "error", err)
		if !clock.Sleep(ctx, p.opts.Wait) {
			return false
		}
	}
}

func (p *Poller) set(fn func(*RemoteState), persist bool) {
	snap := p.state.update(func(s *RemoteState) {
		fn(s)
		s.UpdatedAt = p.clock.Now()
	})
	if p.recorder != nil {
		p.recorder.SetPollerStatus(snap.Status.String(), AllStatuses)
	}
	if persist && p.store != nil {
		rec := &state.RemoteRecord{Token: snap.APToken, LastStatus: snap.LastStatusCode, UpdatedAt: snap.UpdatedAt}
		if err := p.store.Save(rec); err != nil {
			p.logger.Warn("could not persist registration", "error", err)
		}
	}
}

func (p *Poller) restore() {
	if p.store == nil {
		return
	}
	rec, err := p.store.Load()
	if err != nil {
		if !errors.Is(err, state.ErrNotFound) {
			p.logger.Warn("could not load registration", "error", err)
		}
		return
	}
	if rec.Token == "" {
		return
	}
	p.state.update(func(s *RemoteState) {
		s.APToken = rec.Token
		s.LastStatusCode = rec.LastStatus
		s.Phase = Registered
		s.UpdatedAt = rec.UpdatedAt
	})
	p.logger.Info("reusing saved registration")
}

func (p *Poller) record(outcome string) {
	if p.recorder != nil {
		p.recorder.RecordPoll(outcome)
	}
}
