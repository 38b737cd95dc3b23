package sqlite

import (
	"database/sql"
	"fmt"
	"sort"

	"ohlcv-engine/internal/model"
)

// WriteDataset replaces the dataset partition: meta and candles are cleared
// and rewritten inside one transaction, so a reader never sees half of it.
func (s *Store) WriteDataset(id model.CacheIdentity, ds model.DataSet) error {
	db, err := s.openForWrite(id)
	if err != nil {
		return err
	}
	defer db.Close()

	return inTx(db, "write dataset", func(tx *sql.Tx) error {
		if _, err := tx.Exec(datasetSchema); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM dataset_meta`); err != nil {
			return err
		}
		if _, err := tx.Exec(`INSERT INTO dataset_meta (source_path) VALUES (?)`, ds.SourcePath); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM candles`); err != nil {
			return err
		}

		stmt, err := tx.Prepare(`
			INSERT INTO candles (ts_utc, open, high, low, close, volume)
			VALUES (?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, c := range ds.Candles {
			if _, err := stmt.Exec(c.TS, c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
				return err
			}
		}
		return nil
	})
}

// WriteResample stores candles under target, replacing only that target.
func (s *Store) WriteResample(id model.CacheIdentity, target string, candles []model.Candle) error {
	db, err := s.openForWrite(id)
	if err != nil {
		return err
	}
	defer db.Close()

	return inTx(db, "write resample "+target, func(tx *sql.Tx) error {
		if _, err := tx.Exec(resampleSchema); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM resample_candles WHERE target = ?`, target); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM resample_meta WHERE target = ?`, target); err != nil {
			return err
		}

		stmt, err := tx.Prepare(`
			INSERT INTO resample_candles (target, idx, ts_utc, open, high, low, close, volume)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i, c := range candles {
			if _, err := stmt.Exec(target, i, c.TS, c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
				return err
			}
		}
		_, err = tx.Exec(`INSERT INTO resample_meta (target, count) VALUES (?, ?)`, target, len(candles))
		return err
	})
}

// WriteIndicators replaces every named series in a single transaction.
// Absent readings are stored as NULL.
func (s *Store) WriteIndicators(id model.CacheIdentity, series map[string]model.Series) error {
	db, err := s.openForWrite(id)
	if err != nil {
		return err
	}
	defer db.Close()

	names := make([]string, 0, len(series))
	for name := range series {
		names = append(names, name)
	}
	sort.Strings(names)

	return inTx(db, "write indicators", func(tx *sql.Tx) error {
		if _, err := tx.Exec(indicatorSchema); err != nil {
			return err
		}

		stmt, err := tx.Prepare(`INSERT INTO indicator_values (indicator, idx, value) VALUES (?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, name := range names {
			if _, err := tx.Exec(`DELETE FROM indicator_values WHERE indicator = ?`, name); err != nil {
				return err
			}
			if _, err := tx.Exec(`DELETE FROM indicator_meta WHERE indicator = ?`, name); err != nil {
				return err
			}
			values := series[name]
			for i, v := range values {
				if _, err := stmt.Exec(name, i, v); err != nil {
					return err
				}
			}
			if _, err := tx.Exec(`INSERT INTO indicator_meta (indicator, count) VALUES (?, ?)`, name, len(values)); err != nil {
				return err
			}
		}
		return nil
	})
}

// inTx runs fn in a transaction, rolling back on any error. Failures come
// back as CacheIoError tagged with op.
func inTx(db *sql.DB, op string, fn func(tx *sql.Tx) error) error {
	tx, err := db.Begin()
	if err != nil {
		return model.NewCacheIO(op, fmt.Errorf("begin: %w", err))
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return model.NewCacheIO(op, err)
	}
	if err := tx.Commit(); err != nil {
		return model.NewCacheIO(op, fmt.Errorf("commit: %w", err))
	}
	return nil
}
