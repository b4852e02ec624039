package internal

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/IBM/pgxpoolprometheus"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// NewMetrics creates a new Prometheus registry with default collectors
// already registered.
func NewMetrics() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{
			Namespace: _metricsNamespace,
		}),
		collectors.NewBuildInfoCollector(),
	)

	return reg
}

var _metricsNamespace = "rgbooks"

// PrometheusHandler exposes reg's metrics in the Prometheus exposition
// format, served at GET /metrics.
func PrometheusHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// _patternRE is used for stripping all `{...}` segments from the pattern
// to build a label.
var _patternRE = regexp.MustCompile(`\{[^/]+\}`)

type cacheMetrics struct {
	totals *prometheus.CounterVec
}

// jobMetrics tracks coordinator throughput by pipeline and terminal
// status, replacing the teacher's denormalization-queue gauges with a
// count of jobs by outcome.
type jobMetrics struct {
	totals *prometheus.CounterVec
}

// queueMetrics tracks the cache-warming consumer's batch throughput.
type queueMetrics struct {
	totals *prometheus.CounterVec
}

// RegisterJobStorePool wires pgxpoolprometheus's collector against the job
// store's connection pool, adapted from the teacher's dbMetrics, which
// wired the same collector against its denormalization-cache pool.
func RegisterJobStorePool(db *pgxpool.Pool, reg *prometheus.Registry) {
	if reg == nil || db == nil {
		return
	}
	reg.MustRegister(pgxpoolprometheus.NewCollector(db, nil))
}

// Instrument wraps an HTTP handler to automatically record timing and status
// codes. It wraps the router directly and hands it a chi routing context,
// so the matched route pattern can be read back for the labels.
func Instrument(reg *prometheus.Registry, next http.Handler) http.Handler {
	requests := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: _metricsNamespace,
			Subsystem: "http",
			Name:      "requests",
			Help:      "HTTP request latencies by method & path",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 1.5, 2.0, 2.5, 5, 7.5, 10, 30, 60, 120},
		},
		[]string{"method", "path", "status"},
	)

	inflight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: _metricsNamespace,
			Subsystem: "http",
			Name:      "inflight",
			Help:      "Current number of inbound in-flight HTTP requests.",
		},
	)

	var normalizedMu sync.Mutex
	normalized := map[string]string{}

	reg.MustRegister(requests, inflight)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		inflight.Inc()
		defer inflight.Dec()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		// chi records the matched route on its routing context, not on this
		// request's r.Pattern; a context supplied up front is the one it fills.
		rctx := chi.NewRouteContext()
		r = r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
		next.ServeHTTP(ww, r)

		pattern := rctx.RoutePattern()
		if pattern == "" {
			pattern = r.Pattern
		}

		normalizedMu.Lock()
		path, ok := normalized[pattern]
		if !ok {
			path = normalizePattern(pattern)
			normalized[pattern] = path
		}
		normalizedMu.Unlock()
		if path == "" {
			// Don't record traffic for unrecognized endpoints.
			return
		}

		duration := time.Since(start).Seconds()
		requests.WithLabelValues(r.Method, path, fmt.Sprint(ww.Status())).Observe(duration)
	})
}

func newCacheMetrics(reg *prometheus.Registry) *cacheMetrics {
	totals := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: _metricsNamespace,
			Subsystem: "cache",
			Name:      "total",
			Help:      "Totals for cache system.",
		},
		[]string{"type"},
	)
	if reg != nil {
		reg.MustRegister(totals)
	}
	return &cacheMetrics{totals: totals}
}

func newJobMetrics(reg *prometheus.Registry) *jobMetrics {
	totals := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: _metricsNamespace,
			Subsystem: "job",
			Name:      "total",
			Help:      "Counts of jobs by pipeline and terminal status.",
		},
		[]string{"pipeline", "status"},
	)
	if reg != nil {
		reg.MustRegister(totals)
	}
	return &jobMetrics{totals: totals}
}

func (jm *jobMetrics) terminalInc(pipeline PipelineKind, status JobStatus) {
	jm.totals.WithLabelValues(string(pipeline), string(status)).Inc()
}

func newQueueMetrics(reg *prometheus.Registry) *queueMetrics {
	totals := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: _metricsNamespace,
			Subsystem: "queue",
			Name:      "total",
			Help:      "Counts of cache-warming queue outcomes.",
		},
		[]string{"outcome"},
	)
	if reg != nil {
		reg.MustRegister(totals)
	}
	return &queueMetrics{totals: totals}
}

func (qm *queueMetrics) outcomeInc(outcome string) {
	qm.totals.WithLabelValues(outcome).Inc()
}

func (cm *cacheMetrics) cacheHitInc() {
	cm.totals.WithLabelValues("hits").Inc()
}

func (cm *cacheMetrics) cacheHitGet() int64 {
	m := &dto.Metric{}
	err := cm.totals.WithLabelValues("hits").Write(m)
	if err != nil {
		return 0.0
	}
	return int64(m.GetCounter().GetValue())
}

func (cm *cacheMetrics) cacheMissInc() {
	cm.totals.WithLabelValues("misses").Inc()
}

func (cm *cacheMetrics) cacheMissGet() int64 {
	m := &dto.Metric{}
	err := cm.totals.WithLabelValues("misses").Write(m)
	if err != nil {
		return 0.0
	}
	return int64(m.GetCounter().GetValue())
}

func (cm *cacheMetrics) cacheHitRatioGet() float64 {
	hits := cm.cacheHitGet()
	misses := cm.cacheMissGet()
	if hits+misses == 0 {
		return 0.0
	}
	ratio := float64(hits) / float64(hits+misses)
	return ratio
}

// normalizePattern derives the constant label from the pattern:
//
//	"/api/job-state/{jobId}" → "/api/job-state"
//	"/api/token/refresh"     → "/api/token/refresh"
func normalizePattern(pattern string) string {
	p := _patternRE.ReplaceAllString(pattern, "")
	p = strings.TrimSuffix(p, "/")
	p = strings.ReplaceAll(p, "//", "/")
	return p
}
