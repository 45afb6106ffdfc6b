// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "trailpack"

// Collectors groups the service's metrics. A nil *Collectors is valid and
// records nothing, so packages can take one without caring whether metrics
// are enabled.
type Collectors struct {
	registry *prometheus.Registry

	listWrites    *prometheus.CounterVec
	authEvents    *prometheus.CounterVec
	activeWatches prometheus.Gauge
	snapshots     prometheus.Counter
	httpDuration  *prometheus.HistogramVec
}

// New registers all collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Collectors {
	reg := prometheus.NewRegistry()
	c := &Collectors{
		registry: reg,
		listWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "list_writes_total",
			Help:      "Equipment list writes by operation and outcome.",
		}, []string{"op", "outcome"}),
		authEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_events_total",
			Help:      "Sign-up, sign-in and sign-out attempts by outcome.",
		}, []string{"event", "outcome"}),
		activeWatches: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "list_watches_active",
			Help:      "Open snapshot streams.",
		}),
		snapshots: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "list_snapshots_total",
			Help:      "Full list snapshots delivered to watchers.",
		}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method, route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.listWrites,
		c.authEvents,
		c.activeWatches,
		c.snapshots,
		c.httpDuration,
	)
	return c
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collectors) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors.
func (c *Collectors) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// ListWrite counts one list write.
func (c *Collectors) ListWrite(op string, err error) {
	if c == nil {
		return
	}
	c.listWrites.WithLabelValues(op, outcome(err)).Inc()
}

// AuthEvent counts one authentication attempt.
func (c *Collectors) AuthEvent(event string, err error) {
	if c == nil {
		return
	}
	c.authEvents.WithLabelValues(event, outcome(err)).Inc()
}

// WatchOpened and WatchClosed track the number of live snapshot streams.
func (c *Collectors) WatchOpened() {
	if c == nil {
		return
	}
	c.activeWatches.Inc()
}

func (c *Collectors) WatchClosed() {
	if c == nil {
		return
	}
	c.activeWatches.Dec()
}

// SnapshotSent counts one delivered snapshot.
func (c *Collectors) SnapshotSent() {
	if c == nil {
		return
	}
	c.snapshots.Inc()
}

// ObserveHTTP records one request's latency.
func (c *Collectors) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.httpDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
