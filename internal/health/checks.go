package health

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/giok57/lazoooSplash/internal/poller"
)

// Readier is satisfied by the firewall synchronizer.
type Readier interface {
	Ready() bool
}

// BucketLister is satisfied by every state.Store.
type BucketLister interface {
	ListBuckets() ([]string, error)
}

// FirewallCheck is unhealthy while the base ruleset is not installed.
func FirewallCheck(r Readier) CheckFunc {
	return func(ctx context.Context) Check {
		if !r.Ready() {
			return Check{Status: StatusUnhealthy, Message: "packet filter not installed"}
		}
		return Check{Status: StatusHealthy, Message: "packet filter installed"}
	}
}

// AuthorityCheck reports the control-plane poller's status. Losing the
// authority degrades the gateway; local sessions keep working.
func AuthorityCheck(snapshot func() poller.RemoteState) CheckFunc {
	return func(ctx context.Context) Check {
		s := snapshot()
		msg := fmt.Sprintf("%s (%s)", s.Status, s.Phase)
		if s.Status != poller.StatusOK {
			return Check{Status: StatusDegraded, Message: msg}
		}
		return Check{Status: StatusHealthy, Message: msg}
	}
}

// StoreCheck verifies the session journal's backing store answers.
func StoreCheck(store BucketLister) CheckFunc {
	return func(ctx context.Context) Check {
		if _, err := store.ListBuckets(); err != nil {
			return Check{Status: StatusDegraded, Message: fmt.Sprintf("journal unavailable: %v", err)}
		}
		return Check{Status: StatusHealthy, Message: "journal reachable"}
	}
}

// WritableDirCheck verifies dir accepts writes.
func WritableDirCheck(fs afero.Fs, dir string) CheckFunc {
	return func(ctx context.Context) Check {
		f, err := afero.TempFile(fs, dir, ".health_check")
		if err != nil {
			return Check{Status: StatusDegraded, Message: fmt.Sprintf("disk write failed: %v", err)}
		}
		name := f.Name()
		_ = f.Close()
		_ = fs.Remove(name)
		return Check{Status: StatusHealthy, Message: filepath.Clean(dir) + " writable"}
	}
}
