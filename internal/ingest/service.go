// Package ingest orchestrates the engine: file identity, dataset cache,
// parsing, and the cache-accelerated resample and indicator paths.
//
// Only datasets produced by Ingest may reach the resample and indicator
// partitions. Datasets supplied from outside use the Inline methods, which
// always recompute.
//
// The dataset cache is on the primary path, so its read errors surface. The
// resample and indicator caches are accelerators only: any failure there
// falls back to recomputation.
package ingest

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"

	"ohlcv-engine/internal/indicator"
	"ohlcv-engine/internal/logger"
	"ohlcv-engine/internal/marketdata/parser"
	"ohlcv-engine/internal/marketdata/resample"
	"ohlcv-engine/internal/metrics"
	"ohlcv-engine/internal/model"
)

// Cache partitions, as used in metric labels.
const (
	partDataset   = "dataset"
	partResample  = "resample"
	partIndicator = "indicator"
)

// Service is the ingestion orchestrator. It is safe for concurrent use.
type Service struct {
	cache    model.CacheStore
	settings indicator.Settings
	metrics  *metrics.Metrics
	health   *metrics.HealthStatus
	log      *slog.Logger

	group singleflight.Group
}

// Option configures a Service.
type Option func(*Service)

// WithSettings sets the indicator periods. Defaults to indicator.DefaultSettings.
func WithSettings(s indicator.Settings) Option { return func(svc *Service) { svc.settings = s } }

// WithMetrics records to m. Without it metrics go to a private registry.
func WithMetrics(m *metrics.Metrics) Option { return func(svc *Service) { svc.metrics = m } }

// WithHealth stamps successful ingests on h.
func WithHealth(h *metrics.HealthStatus) Option { return func(svc *Service) { svc.health = h } }

// WithLogger replaces slog.Default.
func WithLogger(l *slog.Logger) Option { return func(svc *Service) { svc.log = l } }

// New creates a Service over cache.
func New(cache model.CacheStore, opts ...Option) *Service {
	s := &Service{
		cache:    cache,
		settings: indicator.DefaultSettings(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.NewMetrics(prometheus.NewRegistry())
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

// Settings returns the indicator periods in use.
func (s *Service) Settings() indicator.Settings { return s.settings }

// Ingest loads path, from cache when its identity has been seen before,
// otherwise by parsing it and writing the cache. Concurrent calls for the
// same identity share one load.
func (s *Service) Ingest(ctx context.Context, path string) (model.IngestResult, error) {
	start := time.Now()
	trace := logger.LogWithTrace(ctx)
	s.log.Info("ingest start", append(trace, "path", path)...)

	id, err := s.cache.Identity(path)
	if err != nil {
		s.metrics.IngestTotal.WithLabelValues("error").Inc()
		s.log.Warn("ingest error", append(trace, "path", path, "error", err)...)
		return model.IngestResult{}, err
	}

	v, err, shared := s.group.Do(id.Key, func() (any, error) {
		return s.load(ctx, path, id)
	})
	if err != nil {
		s.metrics.IngestTotal.WithLabelValues("error").Inc()
		s.log.Warn("ingest error", append(trace, "path", path, "error", err)...)
		return model.IngestResult{}, err
	}
	res := v.(model.IngestResult)

	result := "parsed"
	if res.UsedCache {
		result = "cache_hit"
	}
	s.metrics.IngestTotal.WithLabelValues(result).Inc()
	s.metrics.IngestDur.Observe(time.Since(start).Seconds())
	if s.health != nil {
		s.health.SetLastIngest(time.Now())
	}
	s.log.Info("ingest total", append(trace,
		"path", path,
		"candles", res.Dataset.Len(),
		"used_cache", res.UsedCache,
		"shared", shared,
		"ms", time.Since(start).Milliseconds())...)
	return res, nil
}

func (s *Service) load(ctx context.Context, path string, id model.CacheIdentity) (model.IngestResult, error) {
	trace := logger.LogWithTrace(ctx)

	readStart := time.Now()
	ds, ok, err := s.cache.ReadDataset(id)
	if err != nil {
		s.metrics.CacheErrors.WithLabelValues(partDataset, "read").Inc()
		return model.IngestResult{}, err
	}
	s.metrics.ObserveLookup(partDataset, ok)
	if ok {
		s.log.Info("ingest cache hit", append(trace,
			"key", id.Key,
			"ms", time.Since(readStart).Milliseconds())...)
		return model.IngestResult{Dataset: ds, UsedCache: true}, nil
	}

	parseStart := time.Now()
	ds, err = parser.ParseFile(path)
	if err != nil {
		return model.IngestResult{}, err
	}
	s.metrics.ParseDur.Observe(time.Since(parseStart).Seconds())
	s.metrics.CandlesParsed.Add(float64(ds.Len()))
	s.log.Info("ingest parse", append(trace,
		"candles", ds.Len(),
		"ms", time.Since(parseStart).Milliseconds())...)

	writeStart := time.Now()
	if err := s.cache.WriteDataset(id, ds); err != nil {
		// The parsed data is still good; the next ingest parses again.
		s.metrics.CacheErrors.WithLabelValues(partDataset, "write").Inc()
		s.log.Error("ingest cache write failed", append(trace, "key", id.Key, "error", err)...)
	} else {
		s.metrics.CacheWriteDur.WithLabelValues(partDataset).Observe(time.Since(writeStart).Seconds())
		s.log.Info("ingest cache write", append(trace,
			"key", id.Key,
			"ms", time.Since(writeStart).Milliseconds())...)
	}
	return model.IngestResult{Dataset: ds, UsedCache: false}, nil
}

// Resample aggregates ds into target buckets, consulting the resample cache
// when ds.SourcePath still names a file on disk. ds must be the dataset
// Ingest returned for that path; anything else goes through ResampleInline.
func (s *Service) Resample(ctx context.Context, ds model.DataSet, target string) (model.DataSet, error) {
	return s.resample(ctx, ds, target, true)
}

// ResampleInline aggregates a caller-supplied dataset. The cache is neither
// read nor written, whatever ds.SourcePath says.
func (s *Service) ResampleInline(ctx context.Context, ds model.DataSet, target string) (model.DataSet, error) {
	return s.resample(ctx, ds, target, false)
}

func (s *Service) resample(ctx context.Context, ds model.DataSet, target string, useCache bool) (model.DataSet, error) {
	iv, err := resample.ParseInterval(target)
	if err != nil {
		return model.DataSet{}, err
	}
	name := iv.String()
	trace := logger.LogWithTrace(ctx)

	var (
		id        model.CacheIdentity
		cacheable bool
	)
	if useCache {
		id, cacheable = s.liveIdentity(ds.SourcePath)
	}
	if cacheable {
		candles, hit, err := s.cache.ReadResample(id, name)
		if err != nil {
			s.metrics.CacheErrors.WithLabelValues(partResample, "read").Inc()
			s.log.Warn("resample cache read failed", append(trace, "target", name, "error", err)...)
		} else {
			s.metrics.ObserveLookup(partResample, hit)
			if hit {
				s.log.Debug("resample cache hit", append(trace, "target", name, "candles", len(candles))...)
				return model.DataSet{SourcePath: ds.SourcePath, Candles: candles}, nil
			}
		}
	}

	start := time.Now()
	out, err := resample.Resample(ds, iv)
	if err != nil {
		return model.DataSet{}, err
	}
	s.metrics.ResampleDur.Observe(time.Since(start).Seconds())

	if cacheable {
		writeStart := time.Now()
		if err := s.cache.WriteResample(id, name, out.Candles); err != nil {
			s.metrics.CacheErrors.WithLabelValues(partResample, "write").Inc()
			s.log.Warn("resample cache write failed", append(trace, "target", name, "error", err)...)
		} else {
			s.metrics.CacheWriteDur.WithLabelValues(partResample).Observe(time.Since(writeStart).Seconds())
		}
	}
	return out, nil
}

// Indicators computes the full indicator set for ds, consulting the
// indicator cache when ds.SourcePath still names a file on disk. As with
// Resample, ds must come from Ingest.
func (s *Service) Indicators(ctx context.Context, ds model.DataSet) indicator.Result {
	return s.indicators(ctx, ds, true)
}

// IndicatorsInline computes indicators for a caller-supplied dataset without
// touching the cache.
func (s *Service) IndicatorsInline(ctx context.Context, ds model.DataSet) indicator.Result {
	return s.indicators(ctx, ds, false)
}

func (s *Service) indicators(ctx context.Context, ds model.DataSet, useCache bool) indicator.Result {
	trace := logger.LogWithTrace(ctx)

	var (
		id        model.CacheIdentity
		cacheable bool
	)
	if useCache {
		id, cacheable = s.liveIdentity(ds.SourcePath)
	}
	if cacheable {
		stored, hit, err := s.cache.ReadIndicators(id, ds.Len(), s.storageNames()...)
		if err != nil {
			s.metrics.CacheErrors.WithLabelValues(partIndicator, "read").Inc()
			s.log.Warn("indicator cache read failed", append(trace, "error", err)...)
		} else {
			s.metrics.ObserveLookup(partIndicator, hit)
			if r, ok := s.fromStored(stored); hit && ok {
				s.log.Debug("indicator cache hit", append(trace, "candles", ds.Len())...)
				return r
			}
		}
	}

	start := time.Now()
	r := indicator.Compute(ds.Candles, s.settings)
	s.metrics.IndicatorComputeDur.Observe(time.Since(start).Seconds())

	if cacheable {
		stored := make(map[string]model.Series, len(indicator.Keys))
		for k, series := range r.Map() {
			stored[s.settings.StorageName(k)] = series
		}
		writeStart := time.Now()
		if err := s.cache.WriteIndicators(id, stored); err != nil {
			s.metrics.CacheErrors.WithLabelValues(partIndicator, "write").Inc()
			s.log.Warn("indicator cache write failed", append(trace, "error", err)...)
		} else {
			s.metrics.CacheWriteDur.WithLabelValues(partIndicator).Observe(time.Since(writeStart).Seconds())
		}
	}
	return r
}

func (s *Service) storageNames() []string {
	out := make([]string, len(indicator.Keys))
	for i, k := range indicator.Keys {
		out[i] = s.settings.StorageName(k)
	}
	return out
}

// fromStored maps cached series back to result keys.
func (s *Service) fromStored(stored map[string]model.Series) (indicator.Result, bool) {
	byKey := make(map[string]model.Series, len(indicator.Keys))
	for _, k := range indicator.Keys {
		if series, ok := stored[s.settings.StorageName(k)]; ok {
			byKey[k] = series
		}
	}
	return indicator.ResultFromMap(byKey)
}

// liveIdentity resolves the cache identity of a dataset's source file. It
// reports false when the path is blank or no longer exists.
func (s *Service) liveIdentity(sourcePath string) (model.CacheIdentity, bool) {
	if strings.TrimSpace(sourcePath) == "" {
		return model.CacheIdentity{}, false
	}
	id, err := s.cache.Identity(sourcePath)
	if err != nil {
		return model.CacheIdentity{}, false
	}
	return id, true
}

// ClearCache removes every cache file and returns how many were removed.
func (s *Service) ClearCache(ctx context.Context) (int, error) {
	n, err := s.cache.Clear()
	if err != nil {
		s.log.Error("cache clear failed", append(logger.LogWithTrace(ctx), "error", err)...)
		return n, err
	}
	s.log.Info("cache cleared", append(logger.LogWithTrace(ctx), "removed", n)...)
	return n, nil
}

// CacheStatus reports the cache directory's file count and size.
func (s *Service) CacheStatus(ctx context.Context) (model.CacheStatus, error) {
	return s.cache.Status()
}
