package model

// ── Cache Port Interfaces ──
// These interfaces decouple the orchestrator from the concrete cache
// implementation (one SQLite file per file identity).

// CacheIdentity names the per-file store. Key is the fixed-width hash of
// "{absolute_path}_{mtime_seconds}"; any mtime change yields a new key.
type CacheIdentity struct {
	Path  string `json:"path"`
	MTime int64  `json:"mtime"`
	Key   string `json:"key"`
}

// DatasetCache holds the parsed dataset partition.
type DatasetCache interface {
	// Identity stats path and derives its cache identity.
	Identity(path string) (CacheIdentity, error)

	// ReadDataset returns the cached dataset. ok is false on a miss.
	ReadDataset(id CacheIdentity) (ds DataSet, ok bool, err error)

	// WriteDataset replaces the dataset partition in one transaction.
	WriteDataset(id CacheIdentity, ds DataSet) error
}

// ResampleCache holds resampled series keyed by interval name.
type ResampleCache interface {
	ReadResample(id CacheIdentity, target string) (candles []Candle, ok bool, err error)
	WriteResample(id CacheIdentity, target string, candles []Candle) error
}

// IndicatorCache holds indicator series keyed by indicator name.
type IndicatorCache interface {
	// ReadIndicators returns every requested series or a miss. A series whose
	// stored count differs from expectedLen is a miss.
	ReadIndicators(id CacheIdentity, expectedLen int, names ...string) (map[string]Series, bool, error)

	// WriteIndicators replaces the named series in one transaction.
	WriteIndicators(id CacheIdentity, series map[string]Series) error
}

// CacheAdmin exposes whole-cache maintenance.
type CacheAdmin interface {
	Clear() (removed int, err error)
	Status() (CacheStatus, error)
}

// CacheStore is the full cache surface used by the orchestrator.
type CacheStore interface {
	DatasetCache
	ResampleCache
	IndicatorCache
	CacheAdmin
}
