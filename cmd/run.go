package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/spf13/afero"

	"github.com/giok57/lazoooSplash/internal/config"
	"github.com/giok57/lazoooSplash/internal/firewall"
	"github.com/giok57/lazoooSplash/internal/gateway"
	"github.com/giok57/lazoooSplash/internal/identity"
	"github.com/giok57/lazoooSplash/internal/logging"
	"github.com/giok57/lazoooSplash/internal/metrics"
	"github.com/giok57/lazoooSplash/internal/network"
	"github.com/giok57/lazoooSplash/internal/poller"
	"github.com/giok57/lazoooSplash/internal/portal"
	"github.com/giok57/lazoooSplash/internal/ratelimit"
	"github.com/giok57/lazoooSplash/internal/scheduler"
	"github.com/giok57/lazoooSplash/internal/session"
	"github.com/giok57/lazoooSplash/internal/whitelist"
)

// RunGateway runs the captive portal in the foreground until a
// termination signal arrives. The packet filter is torn down on every exit
// path once it has been installed.
func RunGateway(configFile string) (err error) {
	cfg, err := config.LoadFile(configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	d, err := cfg.Durations()
	if err != nil {
		return err
	}

	logger, closeLog, err := initializeLogging(cfg.Log)
	if err != nil {
		return err
	}
	defer closeLog()
	logging.SetDefault(logger)

	fs := afero.NewOsFs()
	var apID string
	if cfg.AuthorityEnabled() {
		id, err := identity.Load(fs, cfg.Authority.IdentityFile)
		if err != nil {
			return err
		}
		apID = id.String()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Stopped last, after the packet filter is gone.
	signals := watchSignals(cancel, func() { reloadLogLevel(configFile, logger) })
	defer signals.Stop()

	m := metrics.Get()

	// Journal
	store, err := openStore(cfg.Journal)
	if err != nil {
		return err
	}
	var journal *session.StoreJournal
	regOpts := []session.Option{session.WithMaxClients(cfg.Gateway.MaxClients)}
	if store != nil {
		defer store.Close()
		journal, err = session.NewStoreJournal(store, logging.WithComponent("journal"))
		if err != nil {
			return err
		}
		regOpts = append(regOpts, session.WithJournal(journal))
	}

	// Packet filter
	neighbors := network.NewNeighbors(network.DefaultNetlinker, cfg.Gateway.Interface)
	gwIP, err := gatewayAddress(cfg.Gateway, neighbors)
	if err != nil {
		return err
	}
	backend, err := buildBackend(cfg.Firewall, cfg.Gateway, gwIP)
	if err != nil {
		return err
	}
	fw := firewall.NewSynchronizer(backend,
		firewall.WithObserver(m),
		firewall.WithLogger(logging.WithComponent("firewall")),
		firewall.WithInitRetry(3, 2*time.Second))
	if err := fw.Initialize(); err != nil {
		_ = fw.Teardown()
		return fmt.Errorf("failed to install packet filter: %w", err)
	}
	defer func() {
		if terr := fw.Teardown(); terr != nil {
			logging.Error("packet filter teardown failed", "error", terr)
		}
	}()

	// Sessions
	registry := session.NewRegistry(regOpts...)
	remote := newAuthorityClient(cfg, d)
	gwOpts := []gateway.Option{gateway.WithRecorder(m)}
	if remote != nil {
		gwOpts = append(gwOpts, gateway.WithNotifier(remote))
	}
	gw := gateway.New(registry, fw, gateway.Timeouts{
		Idle:           d.Idle,
		DefaultSession: d.DefaultSession,
		ReapAfter:      d.ReapAfter,
	}, gwOpts...)

	if journal != nil {
		restoreSessions(ctx, gw, journal)
	}

	// Background work
	refresher := whitelist.NewRefresher(fs, cfg.Whitelist.File, newResolver(fs, cfg.Whitelist), fw, m)
	tracker := gateway.NewActivityTracker(gw, neighbors)
	collector := metrics.NewCollector(m, gw, nil)

	sched := scheduler.New(logging.WithComponent("scheduler"))
	hooks := &scheduler.TaskRegistry{
		Sweep:            gw.Sweep,
		RefreshWhitelist: refresher.RefreshTask,
		Reap:             gw.Reap,
		Reconcile:        gw.Reconcile,
		CollectMetrics:   collector.Collect,
		TrackActivity:    tracker.Collect,
	}
	for _, task := range []*scheduler.Task{
		scheduler.NewSweepTask(hooks, d.SweepInterval),
		scheduler.NewActivityTask(hooks, d.SweepInterval),
		scheduler.NewWhitelistTask(hooks, d.Whitelist),
		scheduler.NewReapTask(hooks, d.ReapAfter),
		scheduler.NewReconcileTask(hooks, d.Reconcile),
		scheduler.NewMetricsTask(hooks, 15*time.Second),
	} {
		if err := sched.AddTask(task); err != nil {
			return err
		}
	}

	var p *poller.Poller
	if remote != nil {
		p = newPoller(cfg, d, apID, remote, gw, fs, store, m)
	}

	portalOpts := []portal.Option{portal.WithRecorder(m)}
	if remote != nil && cfg.Authority.CheckNavigate {
		portalOpts = append(portalOpts, portal.WithNavigator(remote))
	}
	if cfg.Gateway.AuthAttempts > 0 {
		portalOpts = append(portalOpts, portal.WithAuthLimit(ratelimit.NewLimiter(cfg.Gateway.AuthAttempts, time.Minute, nil)))
	}
	splash, err := portal.NewServer(portal.Config{
		Address:   gwIP.String(),
		Port:      cfg.Gateway.Port,
		SplashURL: cfg.Gateway.SplashURL,
		LoginURL:  cfg.Authority.LoginURL,
	}, gw, neighbors, portalOpts...)
	if err != nil {
		return err
	}
	portalAddr := net.JoinHostPort(gwIP.String(), strconv.Itoa(cfg.Gateway.Port))

	// Nothing below may fail before the runners start.
	var group daemon
	if journal != nil {
		group.add("journal", func(ctx context.Context) error {
			journal.Run(ctx)
			return nil
		})
	}
	group.add("scheduler", func(ctx context.Context) error {
		sched.Start(ctx)
		<-ctx.Done()
		sched.Stop()
		return nil
	})
	if p != nil {
		group.add("poller", p.Run)
	}
	group.add("portal server", func(ctx context.Context) error {
		return splash.ListenAndServe(ctx, portalAddr)
	})
	if cfg.Metrics.Listen != "" {
		checker := buildChecker(fs, cfg.Journal, fw, store, p)
		group.add("metrics server", func(ctx context.Context) error {
			return serveMetrics(ctx, cfg.Metrics.Listen, m, checker)
		})
	}

	signals.OnRepeat(func() {
		if terr := fw.Teardown(); terr != nil {
			logging.Error("packet filter teardown failed", "error", terr)
		}
	})

	logging.Info("gateway running",
		"interface", cfg.Gateway.Interface,
		"portal", portalAddr,
		"authority", cfg.AuthorityEnabled())

	err = group.run(ctx)
	if journal != nil {
		// Changes made by runners that outlived the journal loop.
		journal.Drain()
	}
	logging.Info("gateway stopped", "sessions", registry.Len())
	return err
}

func reloadLogLevel(configFile string, logger *logging.Logger) {
	cfg, err := config.LoadFile(configFile)
	if err != nil {
		logging.Error("failed to reload configuration", "error", err)
		return
	}
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		logging.Warn("invalid log level", "error", err)
	}
	logger.SetLevel(level)
	logging.Info("log level reloaded", "level", level)
}

func restoreSessions(ctx context.Context, gw *gateway.Gateway, journal *session.StoreJournal) {
	sessions, err := journal.Load()
	if err != nil {
		logging.Warn("could not load saved sessions", "error", err)
		return
	}
	n, err := gw.Restore(ctx, sessions)
	if err != nil && !errors.Is(err, context.Canceled) {
		logging.Warn("some sessions could not be restored", "error", err)
	}
	if n > 0 {
		logging.Info("restored sessions", "count", n)
	}
}
