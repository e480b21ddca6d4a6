package dispatch

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/giok57/lazoooSplash/internal/gateway"
	"github.com/giok57/lazoooSplash/internal/logging"
)

// Outcomes recorded per event.
const (
	OutcomeApplied = "applied"
	OutcomeSkipped = "skipped"
	OutcomeIgnored = "ignored"
	OutcomeFailed  = "failed"
)

// Sessions applies connect and disconnect decisions.
type Sessions interface {
	Connect(token string, seconds int64, bandwidthKbps uint64) error
	Disconnect(token string) error
}

// Upgrader installs a firmware image.
type Upgrader interface {
	Upgrade(ctx context.Context, url string) error
}

// Executor runs a command the authority is trusted to send.
type Executor interface {
	ExecuteTrustedCommand(ctx context.Context, cmd string) (int, error)
}

// Recorder receives per-event metrics.
type Recorder interface {
	RecordEvent(kind, outcome string)
}

// Result counts what happened to a batch.
type Result struct {
	Applied int
	Skipped int // malformed
	Ignored int // unknown token
	Failed  int
}

// Dispatcher routes decoded events in batch order.
type Dispatcher struct {
	sessions Sessions
	upgrader Upgrader
	executor Executor
	recorder Recorder
	logger   *logging.Logger
}

// NewDispatcher creates a dispatcher. recorder may be nil.
func NewDispatcher(sessions Sessions, upgrader Upgrader, executor Executor, recorder Recorder) *Dispatcher {
	return &Dispatcher{
		sessions: sessions,
		upgrader: upgrader,
		executor: executor,
		recorder: recorder,
		logger:   logging.WithComponent("dispatch"),
	}
}

// Dispatch applies batch sequentially. Malformed events are logged and
// skipped and the rest of the batch still runs. Processing stops early
// only when ctx is cancelled.
func (d *Dispatcher) Dispatch(ctx context.Context, batch []json.RawMessage) Result {
	var res Result
	for i, raw := range batch {
		if ctx.Err() != nil {
			d.logger.Warn("batch interrupted", "remaining", len(batch)-i)
			break
		}

		ev, err := Decode(raw)
		if err != nil {
			var de *DecodeError
			if errors.As(err, &de) {
				de.Index = i
			}
			d.logger.Warn("skipping malformed event", "error", err)
			res.Skipped++
			d.record(kindName(de), OutcomeSkipped)
			continue
		}

		outcome := d.apply(ctx, ev)
		switch outcome {
		case OutcomeApplied:
			res.Applied++
		case OutcomeIgnored:
			res.Ignored++
		case OutcomeFailed:
			res.Failed++
		}
		d.record(ev.Kind().String(), outcome)
	}
	return res
}

func (d *Dispatcher) apply(ctx context.Context, ev Event) string {
	switch e := ev.(type) {
	case Connect:
		return d.sessionOutcome("connect", e.Token, d.sessions.Connect(e.Token, e.Seconds, e.BandwidthKbps))

	case Disconnect:
		return d.sessionOutcome("disconnect", e.Token, d.sessions.Disconnect(e.Token))

	case Upgrade:
		d.logger.Audit("firmware_upgrade_requested", e.URL, map[string]any{"token": e.Token})
		if d.upgrader == nil {
			d.logger.Warn("firmware upgrade requested but not configured", "url", e.URL)
			return OutcomeFailed
		}
		if err := d.upgrader.Upgrade(ctx, e.URL); err != nil {
			d.logger.Error("firmware upgrade failed", "url", e.URL, "error", err)
			return OutcomeFailed
		}
		return OutcomeApplied

	case Command:
		if d.executor == nil {
			d.logger.Warn("remote command requested but no executor configured")
			return OutcomeFailed
		}
		code, err := d.executor.ExecuteTrustedCommand(ctx, e.Command)
		if err != nil {
			d.logger.Error("remote command failed", "exit_code", code, "error", err)
			return OutcomeFailed
		}
		d.logger.Info("remote command finished", "exit_code", code)
		if code != 0 {
			return OutcomeFailed
		}
		return OutcomeApplied
	}
	return OutcomeSkipped
}

func (d *Dispatcher) sessionOutcome(action, token string, err error) string {
	switch {
	case err == nil:
		return OutcomeApplied
	case errors.Is(err, gateway.ErrUnknownToken):
		d.logger.Info(action+" for unknown token ignored", "token", token)
		return OutcomeIgnored
	default:
		d.logger.Warn(action+" failed", "token", token, "error", err)
		return OutcomeFailed
	}
}

func (d *Dispatcher) record(kind, outcome string) {
	if d.recorder != nil {
		d.recorder.RecordEvent(kind, outcome)
	}
}

func kindName(de *DecodeError) string {
	if de == nil || de.Kind == "" {
		return "unknown"
	}
	return de.Kind
}
