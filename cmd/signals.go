package cmd

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/giok57/lazoooSplash/internal/logging"
)

// signalWatcher owns the process signal subscription for the whole run.
// The first termination signal cancels the run; later ones are absorbed so
// that shutdown is never cut short before the packet filter is removed.
type signalWatcher struct {
	ch     chan os.Signal
	done   chan struct{}
	wg     sync.WaitGroup
	cancel context.CancelFunc
	reload func()

	mu       sync.Mutex
	onRepeat func()
	stopOnce sync.Once
}

// watchSignals subscribes to termination signals and SIGHUP. reload, if
// set, runs on SIGHUP.
func watchSignals(cancel context.CancelFunc, reload func()) *signalWatcher {
	w := &signalWatcher{
		ch:     make(chan os.Signal, 4),
		done:   make(chan struct{}),
		cancel: cancel,
		reload: reload,
	}
	signal.Notify(w.ch, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP)

	w.wg.Add(1)
	go w.loop()
	return w
}

// OnRepeat sets what a termination signal received during shutdown
// triggers.
func (w *signalWatcher) OnRepeat(fn func()) {
	w.mu.Lock()
	w.onRepeat = fn
	w.mu.Unlock()
}

func (w *signalWatcher) loop() {
	defer w.wg.Done()

	stopping := false
	for {
		select {
		case <-w.done:
			return
		case sig := <-w.ch:
			if sig == syscall.SIGHUP {
				if w.reload != nil {
					w.reload()
				}
				continue
			}
			if !stopping {
				stopping = true
				logging.Info("received signal, shutting down", "signal", sig)
				w.cancel()
				continue
			}

			logging.Warn("received signal during shutdown, removing packet filter now", "signal", sig)
			w.mu.Lock()
			fn := w.onRepeat
			w.mu.Unlock()
			if fn != nil {
				fn()
			}
		}
	}
}

// Stop releases the subscription and waits for the watcher to exit. It
// must run after the last cleanup step.
func (w *signalWatcher) Stop() {
	w.stopOnce.Do(func() {
		signal.Stop(w.ch)
		close(w.done)
		w.wg.Wait()
	})
}
