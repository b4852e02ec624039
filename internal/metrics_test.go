package internal

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstrument(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()

	mux := chi.NewRouter()
	mux.Get("/api/job-state/{jobId}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.Get("/metrics", PrometheusHandler(reg).ServeHTTP)

	ts := httptest.NewServer(Instrument(reg, mux))
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/api/job-state/123")
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(got), `rgbooks_http_inflight 1`)
	assert.Contains(t, string(got), `path="/api/job-state",status="404"`)
}

func TestCacheMetrics(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	cm := newCacheMetrics(reg)

	cm.cacheHitInc()
	cm.cacheMissInc()

	assert.Equal(t, 1.0, testutil.ToFloat64(cm.totals.WithLabelValues("hits")))
	assert.Equal(t, 1.0, testutil.ToFloat64(cm.totals.WithLabelValues("misses")))
	assert.Equal(t, 0.5, cm.cacheHitRatioGet())
}

func TestJobAndQueueMetrics(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	jm := newJobMetrics(reg)
	qm := newQueueMetrics(reg)

	jm.terminalInc(PipelineBatchEnrichment, JobComplete)
	qm.outcomeInc("warmed")

	assert.Equal(t, 1.0, testutil.ToFloat64(jm.totals.WithLabelValues("batch_enrichment", "complete")))
	assert.Equal(t, 1.0, testutil.ToFloat64(qm.totals.WithLabelValues("warmed")))
}

func TestNormalizePattern(t *testing.T) {
	assert.Equal(t, "/api/job-state", normalizePattern("/api/job-state/{jobId}"))
	assert.Equal(t, "/api/token/refresh", normalizePattern("/api/token/refresh"))
}
