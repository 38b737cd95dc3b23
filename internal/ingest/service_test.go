package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ohlcv-engine/internal/indicator"
	"ohlcv-engine/internal/logger"
	"ohlcv-engine/internal/metrics"
	"ohlcv-engine/internal/model"
	"ohlcv-engine/internal/store/sqlite"
)

// flakyStore wraps a real store and injects failures per partition.
type flakyStore struct {
	model.CacheStore

	failDatasetWrite  bool
	failResampleRead  bool
	failIndicatorRead bool

	datasetReads atomic.Int32
	entered      chan struct{}
	gate         chan struct{}
}

func (f *flakyStore) ReadDataset(id model.CacheIdentity) (model.DataSet, bool, error) {
	if f.datasetReads.Add(1) == 1 && f.gate != nil {
		close(f.entered)
		<-f.gate
	}
	return f.CacheStore.ReadDataset(id)
}

func (f *flakyStore) WriteDataset(id model.CacheIdentity, ds model.DataSet) error {
	if f.failDatasetWrite {
		return model.NewCacheIO("write dataset", errors.New("disk full"))
	}
	return f.CacheStore.WriteDataset(id, ds)
}

func (f *flakyStore) ReadResample(id model.CacheIdentity, target string) ([]model.Candle, bool, error) {
	if f.failResampleRead {
		return nil, false, model.NewCacheIO("read resample", errors.New("database is locked"))
	}
	return f.CacheStore.ReadResample(id, target)
}

func (f *flakyStore) ReadIndicators(id model.CacheIdentity, expectedLen int, names ...string) (map[string]model.Series, bool, error) {
	if f.failIndicatorRead {
		return nil, false, model.NewCacheIO("read indicators", errors.New("database is locked"))
	}
	return f.CacheStore.ReadIndicators(id, expectedLen, names...)
}

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	loc, err := sqlite.NewLocator(filepath.Join(t.TempDir(), "cache"))
	require.NoError(t, err)
	return sqlite.New(loc)
}

func newService(t *testing.T, cache model.CacheStore, opts ...Option) (*Service, *metrics.Metrics) {
	t.Helper()
	m := metrics.NewMetrics(prometheus.NewRegistry())
	return New(cache, append([]Option{WithMetrics(m)}, opts...)...), m
}

// writeM1 writes n one-minute candles starting at 2003.05.05 00:00.
func writeM1(t *testing.T, n int) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("Timestamp,Open,High,Low,Close,Volume\n")
	start := time.Date(2003, 5, 5, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		ts := start.Add(time.Duration(i) * time.Minute)
		price := 1.1 + float64(i%7)/100 - float64(i%3)/200
		fmt.Fprintf(&b, "%s %d:%02d:00,%.4f,%.4f,%.4f,%.4f,%d\n",
			ts.Format("2006.01.02"), ts.Hour(), ts.Minute(),
			price, price+0.002, price-0.002, price+0.001, 10+i)
	}
	path := filepath.Join(t.TempDir(), "EURUSD_M1.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func TestIngest_ParsesThenServesFromCache(t *testing.T) {
	svc, m := newService(t, newStore(t))
	ctx := logger.WithTraceID(context.Background(), "test")
	path := writeM1(t, 12)

	first, err := svc.Ingest(ctx, path)
	require.NoError(t, err)
	assert.False(t, first.UsedCache)
	assert.Equal(t, path, first.Dataset.SourcePath)
	require.Len(t, first.Dataset.Candles, 12)
	assert.Equal(t, "2003-05-05T00:00:00Z", first.Dataset.Candles[0].TS)

	second, err := svc.Ingest(ctx, path)
	require.NoError(t, err)
	assert.True(t, second.UsedCache)
	assert.Equal(t, first.Dataset, second.Dataset)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.IngestTotal.WithLabelValues("parsed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IngestTotal.WithLabelValues("cache_hit")))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.CandlesParsed))
}

func TestIngest_ModifiedFileIsReparsed(t *testing.T) {
	svc, _ := newService(t, newStore(t))
	path := writeM1(t, 5)

	_, err := svc.Ingest(context.Background(), path)
	require.NoError(t, err)

	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, later, later))

	res, err := svc.Ingest(context.Background(), path)
	require.NoError(t, err)
	assert.False(t, res.UsedCache)
}

func TestIngest_MissingFile(t *testing.T) {
	svc, m := newService(t, newStore(t))

	_, err := svc.Ingest(context.Background(), filepath.Join(t.TempDir(), "nope.csv"))
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrFileNotFound)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IngestTotal.WithLabelValues("error")))
}

func TestIngest_ParseErrorIsNotCached(t *testing.T) {
	store := newStore(t)
	svc, _ := newService(t, store)
	path := filepath.Join(t.TempDir(), "bad.csv")
	require.NoError(t, os.WriteFile(path, []byte("2003.05.05 0:01:00,1,2,0.5,1.5\n2003.05.05 0:02:00,1,abc,0.5,1.5\n"), 0o644))

	_, err := svc.Ingest(context.Background(), path)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrParse)

	var e *model.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, 2, e.Line)

	st, err := svc.CacheStatus(context.Background())
	require.NoError(t, err)
	assert.Zero(t, st.Files)
}

func TestIngest_NonFiniteValueIsRejectedEveryTime(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nan.csv")
	require.NoError(t, os.WriteFile(path, []byte(
		"2003.05.05 0:00:00,1,2,0.5,1.5,10\n"+
			"2003.05.05 0:01:00,1,2,0.5,1.5,NaN\n"), 0o644))

	svc, _ := newService(t, newStore(t))
	for i := 0; i < 2; i++ {
		_, err := svc.Ingest(context.Background(), path)
		require.Error(t, err, "attempt %d", i)
		assert.ErrorIs(t, err, model.ErrParse, "attempt %d", i)

		var e *model.Error
		require.True(t, errors.As(err, &e))
		assert.Equal(t, 2, e.Line)
	}
}

func TestIngest_CacheWriteFailureStillReturnsData(t *testing.T) {
	store := &flakyStore{CacheStore: newStore(t), failDatasetWrite: true}
	svc, m := newService(t, store)
	path := writeM1(t, 3)

	res, err := svc.Ingest(context.Background(), path)
	require.NoError(t, err)
	assert.False(t, res.UsedCache)
	assert.Len(t, res.Dataset.Candles, 3)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheErrors.WithLabelValues("dataset", "write")))

	res, err = svc.Ingest(context.Background(), path)
	require.NoError(t, err)
	assert.False(t, res.UsedCache, "nothing was cached")
}

func TestIngest_ConcurrentCallsShareOneLoad(t *testing.T) {
	store := &flakyStore{
		CacheStore: newStore(t),
		entered:    make(chan struct{}),
		gate:       make(chan struct{}),
	}
	svc, _ := newService(t, store)
	path := writeM1(t, 8)

	const n = 8
	var wg sync.WaitGroup
	results := make([]model.IngestResult, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.Ingest(context.Background(), path)
		}(i)
	}

	<-store.entered
	time.Sleep(100 * time.Millisecond)
	close(store.gate)
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Len(t, results[i].Dataset.Candles, 8)
	}
	assert.Less(t, int(store.datasetReads.Load()), n)
}

func TestResample_InvalidInterval(t *testing.T) {
	svc, _ := newService(t, newStore(t))
	_, err := svc.Resample(context.Background(), model.DataSet{}, "W1")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrInvalidInterval)
}

func TestResample_CachedPerTarget(t *testing.T) {
	svc, m := newService(t, newStore(t))
	ctx := context.Background()
	res, err := svc.Ingest(ctx, writeM1(t, 10))
	require.NoError(t, err)

	m5, err := svc.Resample(ctx, res.Dataset, "m5")
	require.NoError(t, err)
	require.Len(t, m5.Candles, 2)
	assert.Equal(t, "2003-05-05T00:05:00Z", m5.Candles[1].TS)
	assert.Equal(t, res.Dataset.SourcePath, m5.SourcePath)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("resample", "miss")))

	again, err := svc.Resample(ctx, res.Dataset, "M5")
	require.NoError(t, err)
	assert.Equal(t, m5, again)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("resample", "hit")))

	m15, err := svc.Resample(ctx, res.Dataset, "M15")
	require.NoError(t, err)
	assert.Len(t, m15.Candles, 1)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("resample", "miss")))
}

func TestResample_CacheReadErrorFallsBack(t *testing.T) {
	store := &flakyStore{CacheStore: newStore(t), failResampleRead: true}
	svc, m := newService(t, store)
	ctx := context.Background()
	res, err := svc.Ingest(ctx, writeM1(t, 10))
	require.NoError(t, err)

	out, err := svc.Resample(ctx, res.Dataset, "M5")
	require.NoError(t, err)
	assert.Len(t, out.Candles, 2)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheErrors.WithLabelValues("resample", "read")))
}

func TestResample_DetachedDatasetSkipsCache(t *testing.T) {
	svc, m := newService(t, newStore(t))
	ctx := context.Background()
	res, err := svc.Ingest(ctx, writeM1(t, 10))
	require.NoError(t, err)

	ds := res.Dataset
	ds.SourcePath = ""
	out, err := svc.Resample(ctx, ds, "M5")
	require.NoError(t, err)
	assert.Len(t, out.Candles, 2)

	ds.SourcePath = filepath.Join(t.TempDir(), "gone.csv")
	_, err = svc.Resample(ctx, ds, "M5")
	require.NoError(t, err)

	assert.Zero(t, testutil.ToFloat64(m.CacheLookups.WithLabelValues("resample", "miss")))
	assert.Zero(t, testutil.ToFloat64(m.CacheLookups.WithLabelValues("resample", "hit")))
}

func TestResampleInline_NeverTouchesCache(t *testing.T) {
	svc, m := newService(t, newStore(t))
	ctx := context.Background()
	res, err := svc.Ingest(ctx, writeM1(t, 10))
	require.NoError(t, err)

	forged := model.DataSet{
		SourcePath: res.Dataset.SourcePath,
		Candles: []model.Candle{
			{TS: "2003-05-05T00:00:00Z", Open: 999, High: 999, Low: 999, Close: 999, Volume: 1},
		},
	}
	out, err := svc.ResampleInline(ctx, forged, "M5")
	require.NoError(t, err)
	require.Len(t, out.Candles, 1)
	assert.Equal(t, 999.0, out.Candles[0].Open)
	assert.Equal(t, forged.SourcePath, out.SourcePath)
	assert.Zero(t, testutil.ToFloat64(m.CacheLookups.WithLabelValues("resample", "miss")))

	fromFile, err := svc.Resample(ctx, res.Dataset, "M5")
	require.NoError(t, err)
	require.Len(t, fromFile.Candles, 2)
	assert.Equal(t, res.Dataset.Candles[0].Open, fromFile.Candles[0].Open)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("resample", "miss")))
}

func TestIndicatorsInline_NeverTouchesCache(t *testing.T) {
	svc, m := newService(t, newStore(t))
	ctx := context.Background()
	res, err := svc.Ingest(ctx, writeM1(t, 40))
	require.NoError(t, err)

	forged := res.Dataset
	forged.Candles = append([]model.Candle(nil), res.Dataset.Candles...)
	for i := range forged.Candles {
		forged.Candles[i].Close = 999
	}
	inline := svc.IndicatorsInline(ctx, forged)
	assert.Equal(t, indicator.Compute(forged.Candles, svc.Settings()), inline)

	r := svc.Indicators(ctx, res.Dataset)
	assert.Equal(t, indicator.Compute(res.Dataset.Candles, svc.Settings()), r)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("indicator", "miss")))
	assert.Zero(t, testutil.ToFloat64(m.CacheLookups.WithLabelValues("indicator", "hit")))
}

func TestIndicators_CacheHitAndLengthGuard(t *testing.T) {
	svc, m := newService(t, newStore(t))
	ctx := context.Background()
	res, err := svc.Ingest(ctx, writeM1(t, 60))
	require.NoError(t, err)

	first := svc.Indicators(ctx, res.Dataset)
	assert.Equal(t, 60, first.Len())
	assert.Equal(t, indicator.Compute(res.Dataset.Candles, indicator.DefaultSettings()), first)

	second := svc.Indicators(ctx, res.Dataset)
	assert.Equal(t, first, second)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("indicator", "hit")))

	shorter := res.Dataset
	shorter.Candles = shorter.Candles[:59]
	third := svc.Indicators(ctx, shorter)
	assert.Equal(t, 59, third.Len())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("indicator", "miss")))
}

func TestIndicators_SettingsAreKeyed(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	path := writeM1(t, 40)

	svc, _ := newService(t, store)
	res, err := svc.Ingest(ctx, path)
	require.NoError(t, err)
	svc.Indicators(ctx, res.Dataset)

	s := indicator.DefaultSettings()
	s.MAPeriod = 5
	other, m := newService(t, store, WithSettings(s))
	r := other.Indicators(ctx, res.Dataset)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("indicator", "miss")))
	assert.True(t, r.MA[4].Valid)
}

func TestIndicators_CacheReadErrorFallsBack(t *testing.T) {
	store := &flakyStore{CacheStore: newStore(t), failIndicatorRead: true}
	svc, m := newService(t, store)
	ctx := context.Background()
	res, err := svc.Ingest(ctx, writeM1(t, 30))
	require.NoError(t, err)

	r := svc.Indicators(ctx, res.Dataset)
	assert.Equal(t, 30, r.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheErrors.WithLabelValues("indicator", "read")))
}

func TestClearAndStatus(t *testing.T) {
	svc, _ := newService(t, newStore(t))
	ctx := context.Background()

	_, err := svc.Ingest(ctx, writeM1(t, 3))
	require.NoError(t, err)
	_, err = svc.Ingest(ctx, writeM1(t, 4))
	require.NoError(t, err)

	st, err := svc.CacheStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), st.Files)
	assert.Positive(t, st.Bytes)

	n, err := svc.ClearCache(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	st, err = svc.CacheStatus(ctx)
	require.NoError(t, err)
	assert.Zero(t, st.Files)
}

func TestIngest_StampsHealth(t *testing.T) {
	h := metrics.NewHealthStatus()
	svc, _ := newService(t, newStore(t), WithHealth(h))

	_, err := svc.Ingest(context.Background(), writeM1(t, 2))
	require.NoError(t, err)
	assert.False(t, h.LastIngestAt.IsZero())
}
