package scheduler

import (
	"context"
	"fmt"
	"time"
)

// TaskRegistry holds the gateway hooks run by the built-in tasks.
type TaskRegistry struct {
	Sweep            func(ctx context.Context) error
	RefreshWhitelist func(ctx context.Context) error
	Reap             func(ctx context.Context) error
	Reconcile        func(ctx context.Context) error
	CollectMetrics   func(ctx context.Context) error
	TrackActivity    func(ctx context.Context) error
}

// NewSweepTask expires idle and over-quota sessions.
func NewSweepTask(registry *TaskRegistry, interval time.Duration) *Task {
	return &Task{
		ID:          "session-sweep",
		Name:        "Session Sweep",
		Description: "Deauthenticate idle and over-quota clients",
		Schedule:    Every(interval),
		Enabled:     true,
		Func:        hook("sweep", registry.Sweep),
	}
}

// NewWhitelistTask re-resolves whitelisted hosts and grants passthrough.
func NewWhitelistTask(registry *TaskRegistry, interval time.Duration) *Task {
	return &Task{
		ID:          "whitelist-refresh",
		Name:        "Whitelist Refresh",
		Description: "Resolve whitelisted hosts and allow traffic to them",
		Schedule:    Every(interval),
		Enabled:     true,
		RunOnStart:  true,
		Timeout:     interval,
		Func:        hook("whitelist refresh", registry.RefreshWhitelist),
	}
}

// NewReapTask drops deauthenticated records once re-delivery is unlikely.
// Disabled when interval is zero.
func NewReapTask(registry *TaskRegistry, interval time.Duration) *Task {
	return &Task{
		ID:          "session-reap",
		Name:        "Session Reap",
		Description: "Forget deauthenticated clients",
		Schedule:    Every(interval),
		Enabled:     interval > 0,
		Func:        hook("reap", registry.Reap),
	}
}

// NewReconcileTask re-applies registry state to the packet filter.
func NewReconcileTask(registry *TaskRegistry, interval time.Duration) *Task {
	return &Task{
		ID:          "firewall-reconcile",
		Name:        "Firewall Reconcile",
		Description: "Re-grant authenticated clients and revoke stale addresses",
		Schedule:    Every(interval),
		Enabled:     interval > 0,
		Func:        hook("reconcile", registry.Reconcile),
	}
}

// NewMetricsTask samples gauges.
func NewMetricsTask(registry *TaskRegistry, interval time.Duration) *Task {
	return &Task{
		ID:         "metrics-collect",
		Name:       "Metrics Collection",
		Schedule:   Every(interval),
		Enabled:    true,
		RunOnStart: true,
		Func:       hook("metrics collection", registry.CollectMetrics),
	}
}

// NewActivityTask samples the neighbor table for client activity.
func NewActivityTask(registry *TaskRegistry, interval time.Duration) *Task {
	return &Task{
		ID:          "activity-track",
		Name:        "Activity Tracking",
		Description: "Refresh last activity from the kernel neighbor table",
		Schedule:    Every(interval),
		Enabled:     registry.TrackActivity != nil,
		Func:        hook("activity tracking", registry.TrackActivity),
	}
}

func hook(name string, fn func(context.Context) error) TaskFunc {
	return func(ctx context.Context) error {
		if fn == nil {
			return fmt.Errorf("%s function not configured", name)
		}
		return fn(ctx)
	}
}
