package metrics

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_RegistersOnGivenRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.IngestTotal.WithLabelValues("parsed").Inc()
	m.ObserveLookup("dataset", true)
	m.ObserveLookup("dataset", false)
	m.ObserveLookup("dataset", false)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.IngestTotal.WithLabelValues("parsed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("dataset", "hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("dataset", "miss")))

	// A second set on a fresh registry must not collide.
	assert.NotPanics(t, func() { NewMetrics(prometheus.NewRegistry()) })
}

func TestHealth_CacheProbe(t *testing.T) {
	h := NewHealthStatus()
	h.SetCacheDir("/tmp/cache")

	h.CheckCache(func() (uint64, uint64, error) { return 3, 4096, nil })
	body, code := healthz(t, h)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, 3.0, body["cache_files"])
	assert.Equal(t, "/tmp/cache", body["cache_dir"])

	h.CheckCache(func() (uint64, uint64, error) { return 0, 0, errors.New("disk gone") })
	body, code = healthz(t, h)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, 3.0, body["cache_files"], "last good reading kept")
}

func TestHealth_RedisRequiredOnlyForRedisBackend(t *testing.T) {
	h := NewHealthStatus()
	h.CheckCache(func() (uint64, uint64, error) { return 0, 0, nil })

	h.SetPrefsBackend("file")
	_, code := healthz(t, h)
	assert.Equal(t, http.StatusOK, code)

	h.SetPrefsBackend("redis")
	body, code := healthz(t, h)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "degraded", body["status"])
}

func TestServer_ExposesMetricsAndHealth(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.CandlesParsed.Add(42)

	h := NewHealthStatus()
	h.CheckCache(func() (uint64, uint64, error) { return 0, 0, nil })
	srv := NewServer(":0", h, reg)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "fxengine_candles_parsed_total 42"), rec.Body.String())

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func healthz(t *testing.T, h *HealthStatus) (map[string]any, int) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body, rec.Code
}
