package metrics

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the OHLCV engine.
type Metrics struct {
	// Ingestion
	IngestTotal   *prometheus.CounterVec // labels: result=cache_hit|parsed|error
	IngestDur     prometheus.Histogram
	ParseDur      prometheus.Histogram
	CandlesParsed prometheus.Counter

	// Cache store
	CacheWriteDur *prometheus.HistogramVec // labels: partition
	CacheLookups  *prometheus.CounterVec   // labels: partition, result=hit|miss
	CacheErrors   *prometheus.CounterVec   // labels: partition, op=read|write

	// Engines
	ResampleDur         prometheus.Histogram
	IndicatorComputeDur prometheus.Histogram

	// Command surface
	CommandsTotal    *prometheus.CounterVec // labels: cmd, status=ok|error
	CommandsInFlight prometheus.Gauge
	WSClients        prometheus.Gauge
}

// NewMetrics registers and returns all metrics on reg. A nil reg uses the
// default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		IngestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fxengine_ingest_total",
			Help: "Ingest requests by outcome",
		}, []string{"result"}),
		IngestDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fxengine_ingest_duration_seconds",
			Help:    "End-to-end ingest latency including cache lookup",
			Buckets: prometheus.DefBuckets,
		}),
		ParseDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fxengine_parse_duration_seconds",
			Help:    "Time spent parsing source files",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		CandlesParsed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fxengine_candles_parsed_total",
			Help: "Candles produced by the parser",
		}),

		CacheWriteDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fxengine_cache_write_duration_seconds",
			Help:    "SQLite cache write latency per partition",
			Buckets: prometheus.DefBuckets,
		}, []string{"partition"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fxengine_cache_lookups_total",
			Help: "Cache reads by partition and result",
		}, []string{"partition", "result"}),
		CacheErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fxengine_cache_errors_total",
			Help: "Cache read/write failures by partition",
		}, []string{"partition", "op"}),

		ResampleDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fxengine_resample_duration_seconds",
			Help:    "Resample compute latency on cache miss",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
		IndicatorComputeDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fxengine_indicator_compute_duration_seconds",
			Help:    "Indicator compute latency on cache miss",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),

		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fxengine_commands_total",
			Help: "Commands handled by the API, by name and status",
		}, []string{"cmd", "status"}),
		CommandsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fxengine_commands_in_flight",
			Help: "Commands currently executing",
		}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fxengine_ws_clients",
			Help: "Connected WebSocket command clients",
		}),
	}

	reg.MustRegister(
		m.IngestTotal,
		m.IngestDur,
		m.ParseDur,
		m.CandlesParsed,
		m.CacheWriteDur,
		m.CacheLookups,
		m.CacheErrors,
		m.ResampleDur,
		m.IndicatorComputeDur,
		m.CommandsTotal,
		m.CommandsInFlight,
		m.WSClients,
	)

	return m
}

// ObserveLookup counts a cache read against partition.
func (m *Metrics) ObserveLookup(partition string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(partition, result).Inc()
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	CacheDir       string    `json:"cache_dir"`
	CacheOK        bool      `json:"cache_ok"`
	CacheFiles     uint64    `json:"cache_files"`
	CacheBytes     uint64    `json:"cache_bytes"`
	PrefsBackend   string    `json:"prefs_backend"`
	RedisConnected bool      `json:"redis_connected"`
	LastIngestAt   time.Time `json:"last_ingest_at"`

	// Liveness probe results
	RedisLatencyMs float64   `json:"redis_latency_ms"`
	CacheLatencyMs float64   `json:"cache_latency_ms"`
	LastCheckAt    time.Time `json:"last_check_at"`
	StartedAt      time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetCacheDir(dir string) {
	h.mu.Lock()
	h.CacheDir = dir
	h.mu.Unlock()
}

func (h *HealthStatus) SetPrefsBackend(name string) {
	h.mu.Lock()
	h.PrefsBackend = name
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastIngest(t time.Time) {
	h.mu.Lock()
	h.LastIngestAt = t
	h.mu.Unlock()
}

// CacheProbe reports the cache directory's file count and size.
type CacheProbe func() (files, bytes uint64, err error)

// CheckCache runs probe and records latency + health.
func (h *HealthStatus) CheckCache(probe CacheProbe) {
	start := time.Now()
	files, bytes, err := probe()
	latency := time.Since(start)

	h.mu.Lock()
	h.CacheOK = err == nil
	if err == nil {
		h.CacheFiles = files
		h.CacheBytes = bytes
	}
	h.CacheLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. rdb may be nil when
// preferences are file-backed.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, probe CacheProbe, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if probe != nil {
					h.CheckCache(probe)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK

	redisNeeded := h.PrefsBackend == "redis"
	if !h.CacheOK || (redisNeeded && !h.RedisConnected) {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.CacheOK && redisNeeded && !h.RedisConnected {
		overallStatus = "unhealthy"
	}

	lastIngest := ""
	if !h.LastIngestAt.IsZero() {
		lastIngest = h.LastIngestAt.Format(time.RFC3339)
	}

	status := struct {
		Status         string  `json:"status"`
		Uptime         string  `json:"uptime"`
		CacheDir       string  `json:"cache_dir"`
		CacheOK        bool    `json:"cache_ok"`
		CacheFiles     uint64  `json:"cache_files"`
		CacheBytes     uint64  `json:"cache_bytes"`
		CacheLatencyMs float64 `json:"cache_latency_ms"`
		PrefsBackend   string  `json:"prefs_backend"`
		RedisConnected bool    `json:"redis_connected"`
		RedisLatencyMs float64 `json:"redis_latency_ms"`
		LastIngestAt   string  `json:"last_ingest_at"`
		LastCheckAt    string  `json:"last_check_at"`
	}{
		Status:         overallStatus,
		Uptime:         time.Since(h.StartedAt).Round(time.Second).String(),
		CacheDir:       h.CacheDir,
		CacheOK:        h.CacheOK,
		CacheFiles:     h.CacheFiles,
		CacheBytes:     h.CacheBytes,
		CacheLatencyMs: h.CacheLatencyMs,
		PrefsBackend:   h.PrefsBackend,
		RedisConnected: h.RedisConnected,
		RedisLatencyMs: h.RedisLatencyMs,
		LastIngestAt:   lastIngest,
		LastCheckAt:    h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server. gatherer defaults to the
// global registry when nil.
func NewServer(addr string, health *HealthStatus, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Handler exposes the mux for tests and embedding.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// ListenAndServe blocks until the server stops. A graceful Stop is not an
// error.
func (s *Server) ListenAndServe() error {
	slog.Info("metrics server listening", "addr", s.addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
