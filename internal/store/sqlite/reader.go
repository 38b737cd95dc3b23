package sqlite

import (
	"database/sql"
	"errors"
	"log/slog"

	"ohlcv-engine/internal/model"
)

// ReadDataset loads the dataset partition. A missing store file, or one whose
// dataset tables were never written, is a miss.
func (s *Store) ReadDataset(id model.CacheIdentity) (model.DataSet, bool, error) {
	db, ok, err := s.openExisting(id)
	if err != nil || !ok {
		return model.DataSet{}, false, err
	}
	defer db.Close()

	if exists, err := partitionExists(db, "dataset_meta", "candles"); err != nil || !exists {
		return model.DataSet{}, false, err
	}

	var ds model.DataSet
	err = db.QueryRow(`SELECT source_path FROM dataset_meta LIMIT 1`).Scan(&ds.SourcePath)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Warn("cache dataset meta missing", "key", id.Key)
		return model.DataSet{}, false, nil
	}
	if err != nil {
		return model.DataSet{}, false, model.NewCacheIO("read dataset meta", err)
	}

	rows, err := db.Query(`SELECT ts_utc, open, high, low, close, volume FROM candles ORDER BY ROWID ASC`)
	if err != nil {
		return model.DataSet{}, false, model.NewCacheIO("read candles", err)
	}
	defer rows.Close()

	ds.Candles, err = scanCandles(rows, 0)
	if err != nil {
		return model.DataSet{}, false, model.NewCacheIO("read candles", err)
	}
	return ds, true, nil
}

// ReadResample loads the candles stored under target. No entry, a
// non-positive count, or a count that disagrees with the rows present is a
// miss.
func (s *Store) ReadResample(id model.CacheIdentity, target string) ([]model.Candle, bool, error) {
	db, ok, err := s.openExisting(id)
	if err != nil || !ok {
		return nil, false, err
	}
	defer db.Close()

	if exists, err := partitionExists(db, "resample_meta", "resample_candles"); err != nil || !exists {
		return nil, false, err
	}

	var count int
	err = db.QueryRow(`SELECT count FROM resample_meta WHERE target = ?`, target).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, model.NewCacheIO("read resample meta", err)
	}
	if count <= 0 {
		return nil, false, nil
	}

	rows, err := db.Query(`
		SELECT ts_utc, open, high, low, close, volume
		FROM resample_candles
		WHERE target = ?
		ORDER BY idx ASC
	`, target)
	if err != nil {
		return nil, false, model.NewCacheIO("read resample candles", err)
	}
	defer rows.Close()

	candles, err := scanCandles(rows, count)
	if err != nil {
		return nil, false, model.NewCacheIO("read resample candles", err)
	}
	if len(candles) != count {
		slog.Warn("cache resample count mismatch",
			"key", id.Key, "target", target, "count", count, "rows", len(candles),
			"error", model.NewCacheInconsistent("resample "+target))
		return nil, false, nil
	}
	return candles, true, nil
}

// ReadIndicators loads every named series. Any name without an entry, with a
// stored count other than expectedLen, or with rows disagreeing with its
// count makes the whole read a miss.
func (s *Store) ReadIndicators(id model.CacheIdentity, expectedLen int, names ...string) (map[string]model.Series, bool, error) {
	db, ok, err := s.openExisting(id)
	if err != nil || !ok {
		return nil, false, err
	}
	defer db.Close()

	if exists, err := partitionExists(db, "indicator_meta", "indicator_values"); err != nil || !exists {
		return nil, false, err
	}

	out := make(map[string]model.Series, len(names))
	for _, name := range names {
		series, ok, err := readSeries(db, id, name, expectedLen)
		if err != nil || !ok {
			return nil, false, err
		}
		out[name] = series
	}
	return out, true, nil
}

func readSeries(db *sql.DB, id model.CacheIdentity, name string, expectedLen int) (model.Series, bool, error) {
	var count int
	err := db.QueryRow(`SELECT count FROM indicator_meta WHERE indicator = ?`, name).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, model.NewCacheIO("read indicator meta", err)
	}
	if count != expectedLen {
		return nil, false, nil
	}

	rows, err := db.Query(`SELECT idx, value FROM indicator_values WHERE indicator = ? ORDER BY idx ASC`, name)
	if err != nil {
		return nil, false, model.NewCacheIO("read indicator values", err)
	}
	defer rows.Close()

	series := model.NoneSeries(count)
	n := 0
	for rows.Next() {
		var (
			idx int
			v   model.Value
		)
		if err := rows.Scan(&idx, &v); err != nil {
			return nil, false, model.NewCacheIO("scan indicator value", err)
		}
		if idx >= 0 && idx < count {
			series[idx] = v
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return nil, false, model.NewCacheIO("read indicator values", err)
	}
	if n != count {
		slog.Warn("cache indicator count mismatch",
			"key", id.Key, "indicator", name, "count", count, "rows", n,
			"error", model.NewCacheInconsistent("indicator "+name))
		return nil, false, nil
	}
	return series, true, nil
}

func partitionExists(db *sql.DB, tables ...string) (bool, error) {
	for _, t := range tables {
		ok, err := tableExists(db, t)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func scanCandles(rows *sql.Rows, capacity int) ([]model.Candle, error) {
	candles := make([]model.Candle, 0, capacity)
	for rows.Next() {
		var c model.Candle
		if err := rows.Scan(&c.TS, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, err
		}
		candles = append(candles, c)
	}
	return candles, rows.Err()
}
