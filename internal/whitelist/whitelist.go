// Package whitelist keeps a static set of hosts reachable by clients that
// have not authenticated yet.
//
// Every refresh re-reads the hosts file, resolves each name and grants
// passthrough to every address. Hosts that fail to resolve are skipped for
// that cycle only. Addresses that drop out of DNS keep their passthrough
// until the daemon restarts.
package whitelist

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"

	"github.com/spf13/afero"

	"github.com/giok57/lazoooSplash/internal/logging"
)

// Granter opens passthrough to a destination address.
type Granter interface {
	GrantPassthrough(ip string) error
}

// Recorder receives refresh metrics.
type Recorder interface {
	RecordWhitelist(resolved, failed int)
}

// Refresher periodically applies the whitelist.
type Refresher struct {
	fs       afero.Fs
	path     string
	resolver Resolver
	granter  Granter
	recorder Recorder
	logger   *logging.Logger
}

// NewRefresher creates a refresher reading path from fs.
func NewRefresher(fs afero.Fs, path string, resolver Resolver, granter Granter, recorder Recorder) *Refresher {
	return &Refresher{
		fs:       fs,
		path:     path,
		resolver: resolver,
		granter:  granter,
		recorder: recorder,
		logger:   logging.WithComponent("whitelist"),
	}
}

// Result summarizes one refresh.
type Result struct {
	Hosts    int
	Resolved int
	Failed   int
}

// Refresh runs one cycle. A missing file means an empty whitelist.
// It matches the scheduler task signature through RefreshTask.
func (r *Refresher) Refresh(ctx context.Context) (Result, error) {
	var res Result

	hosts, err := r.load()
	if err != nil {
		return res, err
	}
	res.Hosts = len(hosts)

	for _, host := range hosts {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		ips, err := r.resolver.LookupA(ctx, host)
		if err != nil {
			res.Failed++
			r.logger.Warn("whitelist host did not resolve", "host", host, "error", err)
			continue
		}
		for _, ip := range ips {
			if err := r.granter.GrantPassthrough(ip.String()); err != nil {
				r.logger.Warn("whitelist grant failed", "host", host, "ip", ip, "error", err)
				continue
			}
			res.Resolved++
		}
	}

	if r.recorder != nil {
		r.recorder.RecordWhitelist(res.Resolved, res.Failed)
	}
	r.logger.Debug("whitelist refreshed", "hosts", res.Hosts, "addresses", res.Resolved, "failed", res.Failed)
	return res, nil
}

// RefreshTask adapts Refresh to the scheduler.
func (r *Refresher) RefreshTask(ctx context.Context) error {
	_, err := r.Refresh(ctx)
	return err
}

func (r *Refresher) load() ([]string, error) {
	f, err := r.fs.Open(r.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open whitelist: %w", err)
	}
	defer f.Close()
	return ParseHosts(f)
}

// ParseHosts reads one hostname per line. Blank lines and text after '#'
// are ignored; duplicates are dropped.
func ParseHosts(rd io.Reader) ([]string, error) {
	var hosts []string
	seen := make(map[string]bool)

	sc := bufio.NewScanner(rd)
	for sc.Scan() {
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		host := strings.ToLower(strings.TrimSuffix(strings.TrimSpace(line), "."))
		if host == "" || seen[host] {
			continue
		}
		seen[host] = true
		hosts = append(hosts, host)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read whitelist: %w", err)
	}
	return hosts, nil
}
