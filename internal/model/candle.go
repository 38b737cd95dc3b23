package model

// Candle represents one OHLCV bar.
// TS is the canonical UTC bucket start, "YYYY-MM-DDTHH:MM:SSZ".
type Candle struct {
	TS     string  `json:"ts_utc"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// DataSet is an ordered candle sequence plus the identity of the file it came from.
// Candles are expected in ascending time order; nothing in this module re-sorts them.
type DataSet struct {
	SourcePath string   `json:"source_path"`
	Candles    []Candle `json:"candles"`
}

// Len returns the number of candles.
func (d DataSet) Len() int { return len(d.Candles) }

// IngestResult is returned by the ingestion orchestrator.
type IngestResult struct {
	Dataset   DataSet `json:"dataset"`
	UsedCache bool    `json:"used_cache"`
}

// CacheStatus summarizes the on-disk cache directory.
type CacheStatus struct {
	Path  string `json:"path"`
	Files uint64 `json:"files"`
	Bytes uint64 `json:"bytes"`
}
