// internal/monitoring/metrics.go
package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsConfig configures the Prometheus collectors
type MetricsConfig struct {
	Enabled              bool   `yaml:"enabled" json:"enabled"`
	Namespace            string `yaml:"namespace" json:"namespace"`
	Subsystem            string `yaml:"subsystem" json:"subsystem"`
	EnableGoMetrics      bool   `yaml:"enable_go_metrics" json:"enable_go_metrics"`
	EnableProcessMetrics bool   `yaml:"enable_process_metrics" json:"enable_process_metrics"`
}

// Metrics holds every harvester collector on its own registry. All methods
// are safe on a nil receiver so callers can run without metrics.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestRetries   *prometheus.CounterVec
	pagesBlocked     *prometheus.CounterVec
	recordsExtracted *prometheus.CounterVec
	fieldsMissing    *prometheus.CounterVec
	dedupURLs        *prometheus.CounterVec
	dedupBreaker     *prometheus.GaugeVec
	sessionChecks    *prometheus.CounterVec
	logins           *prometheus.CounterVec
	runsTotal        *prometheus.CounterVec
	runDuration      *prometheus.HistogramVec
	runsActive       prometheus.Gauge
	tabsInUse        prometheus.Gauge
}

// NewMetrics creates and registers the collectors
func NewMetrics(config MetricsConfig) *Metrics {
	if config.Namespace == "" {
		config.Namespace = "harvester"
	}
	if config.Subsystem == "" {
		config.Subsystem = "engine"
	}

	ns, sub := config.Namespace, config.Subsystem
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub,
		Name: "requests_total",
		Help: "Labeled requests handled, by final outcome",
	}, []string{"site", "label", "outcome"})

	m.requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: ns, Subsystem: sub,
		Name:    "request_duration_seconds",
		Help:    "Handler duration of one labeled request attempt",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 45, 90},
	}, []string{"site", "label"})

	m.requestRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub,
		Name: "request_retries_total",
		Help: "Requests re-queued after a retryable failure",
	}, []string{"site", "label", "code"})

	m.pagesBlocked = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub,
		Name: "pages_blocked_total",
		Help: "Pages that showed a block or challenge marker",
	}, []string{"site", "kind"})

	m.recordsExtracted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub,
		Name: "records_extracted_total",
		Help: "Records extracted, by stage",
	}, []string{"site", "stage"})

	m.fieldsMissing = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub,
		Name: "fields_missing_total",
		Help: "Expected detail fields that were not found",
	}, []string{"site", "field"})

	m.dedupURLs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub,
		Name: "dedup_urls_total",
		Help: "Candidate URLs checked against the catalog, by outcome",
	}, []string{"site", "outcome"})

	m.dedupBreaker = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: ns, Subsystem: sub,
		Name: "dedup_circuit_open",
		Help: "1 while the dedup circuit breaker is open",
	}, []string{"site"})

	m.sessionChecks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub,
		Name: "session_checks_total",
		Help: "Session liveness checks, by result",
	}, []string{"site", "result"})

	m.logins = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub,
		Name: "logins_total",
		Help: "Login attempts, by result",
	}, []string{"site", "result"})

	m.runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub,
		Name: "runs_total",
		Help: "Finished runs, by stop reason",
	}, []string{"site", "reason"})

	m.runDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: ns, Subsystem: sub,
		Name:    "run_duration_seconds",
		Help:    "Wall time of finished runs",
		Buckets: prometheus.ExponentialBuckets(10, 2, 10),
	}, []string{"site"})

	m.runsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns, Subsystem: sub,
		Name: "runs_active",
		Help: "Runs currently executing",
	})

	m.tabsInUse = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns, Subsystem: sub,
		Name: "browser_tabs_in_use",
		Help: "Browser tabs currently checked out of the pool",
	})

	m.registry.MustRegister(
		m.requestsTotal, m.requestDuration, m.requestRetries, m.pagesBlocked,
		m.recordsExtracted, m.fieldsMissing, m.dedupURLs, m.dedupBreaker,
		m.sessionChecks, m.logins, m.runsTotal, m.runDuration, m.runsActive, m.tabsInUse,
	)
	if config.EnableGoMetrics {
		m.registry.MustRegister(collectors.NewGoCollector())
	}
	if config.EnableProcessMetrics {
		m.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	return m
}

// Registry exposes the underlying registry for tests and custom collectors
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RequestFinished records the terminal outcome of a request (done or failed)
func (m *Metrics) RequestFinished(site, label, outcome string) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(site, label, outcome).Inc()
}

// ObserveAttempt records the duration of one handler attempt
func (m *Metrics) ObserveAttempt(site, label string, d time.Duration) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(site, label).Observe(d.Seconds())
}

// RequestRetried counts a re-queue
func (m *Metrics) RequestRetried(site, label, code string) {
	if m == nil {
		return
	}
	m.requestRetries.WithLabelValues(site, label, code).Inc()
}

// PageBlocked counts a detected block page
func (m *Metrics) PageBlocked(site, kind string) {
	if m == nil {
		return
	}
	m.pagesBlocked.WithLabelValues(site, kind).Inc()
}

// RecordsExtracted adds n extracted records of stage
func (m *Metrics) RecordsExtracted(site, stage string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.recordsExtracted.WithLabelValues(site, stage).Add(float64(n))
}

// FieldMissing counts a missing expected field
func (m *Metrics) FieldMissing(site, field string) {
	if m == nil {
		return
	}
	m.fieldsMissing.WithLabelValues(site, field).Inc()
}

// DedupChecked adds n URLs with outcome new, existing or fail_open
func (m *Metrics) DedupChecked(site, outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.dedupURLs.WithLabelValues(site, outcome).Add(float64(n))
}

// DedupBreakerOpen sets the breaker gauge
func (m *Metrics) DedupBreakerOpen(site string, open bool) {
	if m == nil {
		return
	}
	v := 0.0
	if open {
		v = 1
	}
	m.dedupBreaker.WithLabelValues(site).Set(v)
}

// SessionCheck counts a liveness check
func (m *Metrics) SessionCheck(site string, valid bool) {
	if m == nil {
		return
	}
	m.sessionChecks.WithLabelValues(site, result(valid, "valid", "invalid")).Inc()
}

// LoginAttempt counts a login
func (m *Metrics) LoginAttempt(site string, ok bool) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(site, result(ok, "success", "failure")).Inc()
}

// RunStarted increments the active runs gauge
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.runsActive.Inc()
}

// RunFinished records a terminated run
func (m *Metrics) RunFinished(site, reason string, d time.Duration) {
	if m == nil {
		return
	}
	m.runsActive.Dec()
	m.runsTotal.WithLabelValues(site, reason).Inc()
	m.runDuration.WithLabelValues(site).Observe(d.Seconds())
}

// SetTabsInUse reports the browser pool usage
func (m *Metrics) SetTabsInUse(n int) {
	if m == nil {
		return
	}
	m.tabsInUse.Set(float64(n))
}

func result(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}
