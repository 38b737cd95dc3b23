// Package resample aggregates a canonical candle sequence into fixed-width
// time buckets. A candle belongs to the bucket starting at
// epoch - epoch%width; when a candle lands in a new bucket the previous
// bucket is finalized and emitted.
//
// Input must be strictly time-ascending. Nothing here sorts, checks
// monotonicity or removes duplicate timestamps.
package resample

import (
	"ohlcv-engine/internal/model"
	"ohlcv-engine/internal/timeutil"
)

// bucketState holds the forming candle for the open bucket.
type bucketState struct {
	start   int64 // bucket start (Unix seconds)
	candle  model.Candle
	started bool
}

// merge folds c into the forming candle. The first candle seeds open and the
// bucket timestamp; later ones extend high/low, replace close and add volume.
func (b *bucketState) merge(c model.Candle) {
	if !b.started {
		b.candle = model.Candle{
			TS:     timeutil.FormatCanonical(b.start),
			Open:   c.Open,
			High:   c.High,
			Low:    c.Low,
			Close:  c.Close,
			Volume: c.Volume,
		}
		b.started = true
		return
	}
	fc := &b.candle
	if c.High > fc.High {
		fc.High = c.High
	}
	if c.Low < fc.Low {
		fc.Low = c.Low
	}
	fc.Close = c.Close
	fc.Volume += c.Volume
}

// Resample aggregates ds into target-width buckets. Empty input yields an
// empty dataset with the same source path.
func Resample(ds model.DataSet, target Interval) (model.DataSet, error) {
	out := model.DataSet{SourcePath: ds.SourcePath, Candles: []model.Candle{}}
	if len(ds.Candles) == 0 {
		return out, nil
	}

	width := target.Seconds()
	first, err := timeutil.ParseCanonical(ds.Candles[0].TS)
	if err != nil {
		return model.DataSet{}, err
	}
	st := bucketState{start: timeutil.Truncate(first, width)}

	for _, c := range ds.Candles {
		ts, err := timeutil.ParseCanonical(c.TS)
		if err != nil {
			return model.DataSet{}, err
		}
		bucket := timeutil.Truncate(ts, width)
		if bucket != st.start {
			if st.started {
				out.Candles = append(out.Candles, st.candle)
			}
			st = bucketState{start: bucket}
		}
		st.merge(c)
	}
	if st.started {
		out.Candles = append(out.Candles, st.candle)
	}
	return out, nil
}
