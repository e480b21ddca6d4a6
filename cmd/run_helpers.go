package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/afero"

	"github.com/giok57/lazoooSplash/internal/authority"
	"github.com/giok57/lazoooSplash/internal/brand"
	"github.com/giok57/lazoooSplash/internal/config"
	"github.com/giok57/lazoooSplash/internal/dispatch"
	"github.com/giok57/lazoooSplash/internal/firewall"
	"github.com/giok57/lazoooSplash/internal/gateway"
	"github.com/giok57/lazoooSplash/internal/health"
	"github.com/giok57/lazoooSplash/internal/logging"
	"github.com/giok57/lazoooSplash/internal/metrics"
	"github.com/giok57/lazoooSplash/internal/poller"
	"github.com/giok57/lazoooSplash/internal/state"
	"github.com/giok57/lazoooSplash/internal/system"
	"github.com/giok57/lazoooSplash/internal/whitelist"
)

const (
	resolvConfPath  = "/etc/resolv.conf"
	upgradeTimeout  = 10 * time.Minute
	probeTimeout    = 3 * time.Second
	redisKeyPrefix  = "lazoosplash:"
	metricsShutdown = 5 * time.Second
)

// initializeLogging builds the process logger from the log block.
func initializeLogging(lc *config.LogConfig) (*logging.Logger, func(), error) {
	level, err := logging.ParseLevel(lc.Level)
	if err != nil {
		return nil, nil, err
	}

	cfg := logging.DefaultConfig()
	cfg.Level = level
	cfg.JSON = lc.JSON
	cfg.File = lc.File
	cfg.MaxSizeMB = lc.MaxSizeMB
	cfg.MaxBackups = lc.MaxBackups

	closer := func() {}
	if lc.Syslog != "" {
		w, err := logging.NewSyslogWriter(logging.SyslogConfig{Addr: lc.Syslog})
		if err != nil {
			return nil, nil, err
		}
		cfg.Output = io.MultiWriter(os.Stderr, w)
		closer = func() { w.Close() }
	}
	return logging.New(cfg), closer, nil
}

// openStore opens the session journal backend. It returns nil when the
// journal is disabled.
func openStore(jc *config.JournalConfig) (state.Store, error) {
	switch jc.Driver {
	case "none":
		return nil, nil
	case "redis":
		s, err := state.NewRedisStore(state.RedisOptions{
			Addr:   jc.RedisAddr,
			DB:     jc.RedisDB,
			Prefix: redisKeyPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open journal: %w", err)
		}
		return s, nil
	default:
		if jc.Path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(jc.Path), 0o755); err != nil {
				return nil, fmt.Errorf("failed to create state directory: %w", err)
			}
		}
		s, err := state.NewSQLiteStore(state.DefaultOptions(jc.Path))
		if err != nil {
			return nil, fmt.Errorf("failed to open journal: %w", err)
		}
		return s, nil
	}
}

// addrSource discovers the portal address from the LAN interface.
type addrSource interface {
	InterfaceAddr() (net.IP, error)
}

func gatewayAddress(gc *config.GatewayConfig, src addrSource) (net.IP, error) {
	if gc.Address != "" {
		return firewall.ParseIPv4(gc.Address)
	}
	ip, err := src.InterfaceAddr()
	if err != nil {
		return nil, fmt.Errorf("failed to discover gateway address on %s: %w", gc.Interface, err)
	}
	return ip, nil
}

func buildBackend(fc *config.FirewallConfig, gc *config.GatewayConfig, gwIP net.IP) (firewall.Backend, error) {
	opts := firewall.Options{
		Table:      fc.Table,
		Interface:  gc.Interface,
		GatewayIP:  gwIP,
		PortalPort: uint16(gc.Port),
	}
	if fc.Backend == "script" {
		return firewall.NewScriptBackend(firewall.RealCommandRunner{}, fc.NftPath, opts)
	}
	return firewall.OpenNftBackend(opts)
}

// newAuthorityClient returns nil when the control plane is disabled.
func newAuthorityClient(cfg *config.Config, d config.Durations) *authority.Client {
	if !cfg.AuthorityEnabled() {
		return nil
	}
	opts := []authority.ClientOption{
		authority.WithTimeout(d.PollTimeout),
		authority.WithUserAgent(brand.UserAgent()),
	}
	if cfg.Authority.InsecureTLS {
		opts = append(opts, authority.WithInsecureTLS())
	}
	return authority.NewClient(cfg.Authority.URL, opts...)
}

func newResolver(fs afero.Fs, wc *config.WhitelistConfig) whitelist.Resolver {
	r, err := whitelist.NewDNSResolver(fs, wc.Resolver, resolvConfPath)
	if err != nil {
		logging.Warn("no usable DNS resolver, whitelist limited to literal addresses", "error", err)
		return literalResolver{}
	}
	return r
}

// literalResolver resolves nothing but IP literals.
type literalResolver struct{}

func (literalResolver) LookupA(_ context.Context, host string) ([]net.IP, error) {
	if ip := net.ParseIP(host); ip != nil && ip.To4() != nil {
		return []net.IP{ip.To4()}, nil
	}
	return nil, fmt.Errorf("cannot resolve %s without a DNS server", host)
}

func newPoller(cfg *config.Config, d config.Durations, apID string, client *authority.Client,
	gw *gateway.Gateway, fs afero.Fs, store state.Store, m *metrics.Registry) *poller.Poller {

	upgrader := system.NewUpgrader(fs, system.ExecRunner{}, system.UpgradeOptions{
		DownloadPath: cfg.Firmware.DownloadPath,
		FlashCommand: cfg.Firmware.FlashCommand,
		MaxSize:      int64(cfg.Firmware.MaxSizeMB) << 20,
		Timeout:      upgradeTimeout,
	})

	var executor dispatch.Executor = system.DisabledExecutor{}
	if cfg.RemoteCommandsEnabled() {
		executor = system.NewShellExecutor(cfg.RemoteCommands.Shell, d.CommandTimeout, system.ExecRunner{})
	}

	opts := []poller.Option{poller.WithRecorder(m)}
	if store != nil {
		if bucket, err := state.NewRemoteBucket(store); err != nil {
			logging.Warn("registration will not persist", "error", err)
		} else {
			opts = append(opts, poller.WithTokenStore(bucket))
		}
	}
	if cfg.Authority.ProbeHost != "" {
		opts = append(opts, poller.WithProber(poller.PingProber{
			Host:       cfg.Authority.ProbeHost,
			Timeout:    probeTimeout,
			Privileged: true,
		}))
	}

	return poller.New(client,
		dispatch.NewDispatcher(gw, upgrader, executor, m),
		poller.Options{APID: apID, Wait: d.Wait, Interval: d.PollInterval},
		opts...)
}

// serveMetrics exposes Prometheus metrics and a liveness probe on addr.
// buildChecker registers the component checks exposed on /healthz.
// store and p may be nil when the journal or the authority is disabled.
func buildChecker(fs afero.Fs, jc *config.JournalConfig, fw health.Readier, store state.Store, p *poller.Poller) *health.Checker {
	checker := health.NewChecker(nil)
	checker.Register("firewall", health.FirewallCheck(fw))
	if store != nil {
		checker.Register("journal", health.StoreCheck(store))
	}
	if jc.Driver == "sqlite" && jc.Path != ":memory:" {
		checker.Register("disk", health.WritableDirCheck(fs, filepath.Dir(jc.Path)))
	}
	if p != nil {
		checker.Register("authority", health.AuthorityCheck(p.Snapshot))
	}
	return checker
}

func serveMetrics(ctx context.Context, addr string, m *metrics.Registry, checker *health.Checker) error {
	r := mux.NewRouter()
	r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/livez", health.LivenessHandler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", checker.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/readyz", checker.ReadinessHandler()).Methods(http.MethodGet)

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logging.Info("metrics listening", "addr", addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdown)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
