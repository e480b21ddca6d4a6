// Package metrics exposes gateway counters and gauges to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lazoosplash"

var (
	once     sync.Once
	registry *Registry
)

// Registry holds all gateway metrics.
type Registry struct {
	reg *prometheus.Registry

	// Sessions
	Sessions     *prometheus.GaugeVec
	SessionsEnds *prometheus.CounterVec

	// Firewall
	FirewallOps *prometheus.CounterVec

	// Control plane
	Polls        *prometheus.CounterVec
	PollerStatus *prometheus.GaugeVec
	Events       *prometheus.CounterVec

	// Whitelist
	WhitelistResolved prometheus.Gauge
	WhitelistErrors   prometheus.Counter

	// Portal
	PortalRequests *prometheus.CounterVec

	// System
	Uptime prometheus.Gauge
}

// Get returns the process-wide registry, creating it if necessary.
func Get() *Registry {
	once.Do(func() {
		registry = New()
	})
	return registry
}

// New creates an isolated registry with Go and process collectors attached.
func New() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	r := &Registry{reg: reg}

	r.Sessions = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions",
		Help:      "Client sessions by state",
	}, []string{"state"})

	r.SessionsEnds = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "session_ends_total",
		Help:      "Sessions deauthenticated, by reason",
	}, []string{"reason"})

	r.FirewallOps = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "firewall_ops_total",
		Help:      "Packet-filter operations by kind and result",
	}, []string{"op", "result"})

	r.Polls = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "poller_polls_total",
		Help:      "Control-plane requests by outcome",
	}, []string{"outcome"})

	r.PollerStatus = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "poller_status",
		Help:      "1 for the poller's current operational status, 0 otherwise",
	}, []string{"status"})

	r.Events = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_total",
		Help:      "Control-plane events by kind and result",
	}, []string{"kind", "result"})

	r.WhitelistResolved = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "whitelist_hosts_resolved",
		Help:      "Addresses resolved from whitelisted hosts in the last refresh",
	})

	r.WhitelistErrors = factory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "whitelist_resolve_errors_total",
		Help:      "Whitelist hostnames that failed to resolve",
	})

	r.PortalRequests = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "portal_requests_total",
		Help:      "Splash portal HTTP requests by route and status",
	}, []string{"route", "code"})

	r.Uptime = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "uptime_seconds",
		Help:      "Seconds since the daemon started",
	})

	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// Gatherer exposes the underlying registry for tests and custom exporters.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// FirewallOp records a packet-filter operation.
func (r *Registry) FirewallOp(op string, err error) {
	r.FirewallOps.WithLabelValues(op, result(err)).Inc()
}

// RecordSessionEnd counts a deauthentication.
func (r *Registry) RecordSessionEnd(reason string) {
	r.SessionsEnds.WithLabelValues(reason).Inc()
}

// RecordPoll counts a control-plane request outcome.
func (r *Registry) RecordPoll(outcome string) {
	r.Polls.WithLabelValues(outcome).Inc()
}

// SetPollerStatus marks status as current and clears the others.
func (r *Registry) SetPollerStatus(status string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == status {
			v = 1
		}
		r.PollerStatus.WithLabelValues(s).Set(v)
	}
}

// RecordEvent counts a dispatched event.
func (r *Registry) RecordEvent(kind, outcome string) {
	r.Events.WithLabelValues(kind, outcome).Inc()
}

// RecordWhitelist records one refresh cycle.
func (r *Registry) RecordWhitelist(resolved, failed int) {
	r.WhitelistResolved.Set(float64(resolved))
	r.WhitelistErrors.Add(float64(failed))
}

// RecordPortalRequest counts a portal request.
func (r *Registry) RecordPortalRequest(route string, status int) {
	r.PortalRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
