// Package metrics collects probe statistics and exports them to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/PentesterFlow/APIFuzz/internal/output"
)

// Namespace prefixes every exported metric.
const Namespace = "apifuzz"

// Status classes used as the "class" label.
const (
	Class2xx         = "2xx"
	Class3xx         = "3xx"
	Class4xx         = "4xx"
	Class5xx         = "5xx"
	ClassIntercepted = "intercepted"
	ClassError       = "error"
	ClassOther       = "other"
)

// Classify maps a record status to its class label.
func Classify(status string) string {
	switch status {
	case output.StatusError:
		return ClassError
	case output.StatusIntercepted:
		return ClassIntercepted
	}
	code := (&output.ProbeResult{Status: status}).StatusCode()
	switch {
	case code >= 200 && code < 300:
		return Class2xx
	case code >= 300 && code < 400:
		return Class3xx
	case code >= 400 && code < 500:
		return Class4xx
	case code >= 500 && code < 600:
		return Class5xx
	default:
		return ClassOther
	}
}

// Collector counts probe outcomes. Every counter is mirrored into a private
// Prometheus registry.
type Collector struct {
	registry *prometheus.Registry

	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	endpoints prometheus.Gauge
	inflight  prometheus.Gauge

	requestsTotal atomic.Int64
	errorsTotal   atomic.Int64
	durationSum   atomic.Int64
	endpointCount atomic.Int64

	mu      sync.RWMutex
	classes map[string]int64
	kinds   map[string]int64

	startTime time.Time

	server *http.Server
}

// New creates a collector with its own registry.
func New() *Collector {
	c := &Collector{
		registry:  prometheus.NewRegistry(),
		classes:   make(map[string]int64),
		kinds:     make(map[string]int64),
		startTime: time.Now(),
	}
	c.requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "probes_total",
		Help:      "Probe requests recorded, by dialect and status class.",
	}, []string{"dialect", "class"})
	c.errors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "probe_errors_total",
		Help:      "Probe requests that failed before a response, by error kind.",
	}, []string{"kind"})
	c.duration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: Namespace,
		Name:      "probe_duration_seconds",
		Help:      "Time from send to body read.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"dialect"})
	c.endpoints = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "endpoints",
		Help:      "Endpoints extracted from the current document.",
	})
	c.inflight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "workers_active",
		Help:      "Workers currently running.",
	})
	c.registry.MustRegister(c.requests, c.errors, c.duration, c.endpoints, c.inflight)
	return c
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// SetEndpoints records how many endpoints the document produced.
func (c *Collector) SetEndpoints(n int) {
	c.endpointCount.Store(int64(n))
	c.endpoints.Set(float64(n))
}

// SetActiveWorkers sets the worker gauge.
func (c *Collector) SetActiveWorkers(n int) {
	c.inflight.Set(float64(n))
}

// Observe records one probe record.
func (c *Collector) Observe(dialect string, res *output.ProbeResult) {
	if res == nil {
		return
	}
	class := Classify(res.Status)
	c.requestsTotal.Add(1)
	c.requests.WithLabelValues(dialect, class).Inc()

	c.mu.Lock()
	c.classes[class]++
	if res.Failed() {
		kind := res.ErrorKind
		if kind == "" {
			kind = "unknown"
		}
		c.kinds[kind]++
		c.mu.Unlock()
		c.errorsTotal.Add(1)
		c.errors.WithLabelValues(kind).Inc()
		return
	}
	c.mu.Unlock()

	c.durationSum.Add(int64(res.Elapsed))
	c.duration.WithLabelValues(dialect).Observe(res.Elapsed.Seconds())
}

// Snapshot returns a point-in-time view of the counters.
func (c *Collector) Snapshot() *Snapshot {
	s := &Snapshot{
		Timestamp:     time.Now(),
		Uptime:        time.Since(c.startTime),
		RequestsTotal: c.requestsTotal.Load(),
		ErrorsTotal:   c.errorsTotal.Load(),
		Endpoints:     c.endpointCount.Load(),
		Classes:       make(map[string]int64),
		ErrorKinds:    make(map[string]int64),
	}
	if answered := s.RequestsTotal - s.ErrorsTotal; answered > 0 {
		s.AverageResponseTime = time.Duration(c.durationSum.Load() / answered)
	}

	c.mu.RLock()
	for k, v := range c.classes {
		s.Classes[k] = v
	}
	for k, v := range c.kinds {
		s.ErrorKinds[k] = v
	}
	c.mu.RUnlock()
	return s
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr in the background and returns the bound
// address. Stop it with Shutdown.
func (c *Collector) Serve(addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	c.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	srv := c.server
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			_ = ln.Close()
		}
	}()
	return ln.Addr().String(), nil
}

// Shutdown stops the exporter started by Serve.
func (c *Collector) Shutdown(ctx context.Context) error {
	if c.server == nil {
		return nil
	}
	return c.server.Shutdown(ctx)
}

// Snapshot is a point-in-time view of a Collector.
type Snapshot struct {
	Timestamp           time.Time        `json:"timestamp"`
	Uptime              time.Duration    `json:"uptime"`
	RequestsTotal       int64            `json:"requests_total"`
	ErrorsTotal         int64            `json:"errors_total"`
	Endpoints           int64            `json:"endpoints"`
	AverageResponseTime time.Duration    `json:"average_response_time"`
	Classes             map[string]int64 `json:"classes"`
	ErrorKinds          map[string]int64 `json:"error_kinds"`
}

// ErrorRate returns errors/requests.
func (s *Snapshot) ErrorRate() float64 {
	if s.RequestsTotal == 0 {
		return 0
	}
	return float64(s.ErrorsTotal) / float64(s.RequestsTotal)
}

// Summary returns the fields logged at the end of a run.
func (s *Snapshot) Summary() map[string]interface{} {
	return map[string]interface{}{
		"uptime":               s.Uptime.String(),
		"requests_total":       s.RequestsTotal,
		"errors_total":         s.ErrorsTotal,
		"error_rate":           s.ErrorRate(),
		"endpoints":            s.Endpoints,
		"avg_response_time_ms": s.AverageResponseTime.Milliseconds(),
		"2xx":                  s.Classes[Class2xx],
		"4xx":                  s.Classes[Class4xx],
		"5xx":                  s.Classes[Class5xx],
	}
}
