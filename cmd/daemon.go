package cmd

import (
	"context"
	"fmt"
	"sync"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/giok57/lazoooSplash/internal/logging"
)

type runner struct {
	name string
	run  func(ctx context.Context) error
}

// daemon runs the long-lived components of the gateway as one unit.
type daemon struct {
	runners []runner
}

func (d *daemon) add(name string, fn func(ctx context.Context) error) {
	d.runners = append(d.runners, runner{name: name, run: fn})
}

// run starts every runner and returns once all of them have returned. The
// first runner to fail or panic cancels the others and its error is
// returned.
func (d *daemon) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		once  sync.Once
		first error
	)
	fail := func(err error) {
		once.Do(func() {
			first = err
			cancel()
		})
	}

	var wg conc.WaitGroup
	for _, r := range d.runners {
		wg.Go(func() {
			var err error
			var pc panics.Catcher
			pc.Try(func() { err = r.run(ctx) })
			if rec := pc.Recovered(); rec != nil {
				logging.Error("background task panicked", "task", r.name, "panic", rec.Value, "stack", string(rec.Stack))
				fail(fmt.Errorf("%s: %w", r.name, rec.AsError()))
				return
			}
			if err != nil {
				fail(fmt.Errorf("%s: %w", r.name, err))
			}
		})
	}
	wg.Wait()
	return first
}
