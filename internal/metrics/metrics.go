// Package metrics exposes Prometheus collectors for the wallet core.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "wallet_core"

// Metrics holds every collector on its own registry
type Metrics struct {
	registry *prometheus.Registry

	derivations        prometheus.Counter
	cacheHits          prometheus.Counter
	cacheEvictions     prometheus.Counter
	prompts            *prometheus.CounterVec
	signatures         *prometheus.CounterVec
	submissions        *prometheus.CounterVec
	submissionDuration prometheus.Histogram
	optIns             *prometheus.CounterVec
	httpRequests       *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
}

// New registers all collectors on a fresh registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		derivations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "key_derivations_total",
			Help:      "Number of KDF runs.",
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "key_cache_hits_total",
			Help:      "Number of key lookups served from memory.",
		}),
		cacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "key_cache_evictions_total",
			Help:      "Number of keys zeroed and dropped from memory.",
		}),
		prompts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "biometric_prompts_total",
			Help:      "Biometric gate decisions by how they were reached.",
		}, []string{"result"}),
		signatures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signatures_total",
			Help:      "Transactions signed by result.",
		}, []string{"result"}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "group_submissions_total",
			Help:      "Sponsored group submissions by outcome.",
		}, []string{"status"}),
		submissionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "group_submission_duration_seconds",
			Help:      "Time until a submission was classified.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}),
		optIns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "opt_in_results_total",
			Help:      "EnsureOptedIn results by final state.",
		}, []string{"state", "cached"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Bridge API requests.",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Bridge API latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.derivations,
		m.cacheHits,
		m.cacheEvictions,
		m.prompts,
		m.signatures,
		m.submissions,
		m.submissionDuration,
		m.optIns,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Derivation() {
	if m == nil {
		return
	}
	m.derivations.Inc()
}

func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.cacheHits.Inc()
}

func (m *Metrics) CacheEvictions(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.cacheEvictions.Add(float64(n))
}

// Prompt records a gate decision: prompted_success, prompted_denied, cooldown,
// debounced, joined, locked_out, unsupported or disabled
func (m *Metrics) Prompt(result string) {
	if m == nil {
		return
	}
	m.prompts.WithLabelValues(result).Inc()
}

func (m *Metrics) Signature(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.signatures.WithLabelValues(result).Inc()
}

func (m *Metrics) Submission(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(status).Inc()
	m.submissionDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) OptIn(state string, fromCache bool) {
	if m == nil {
		return
	}
	m.optIns.WithLabelValues(state, strconv.FormatBool(fromCache)).Inc()
}

func (m *Metrics) HTTPRequest(method, path string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}
