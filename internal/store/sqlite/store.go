// Package sqlite is the on-disk cache: one SQLite file per source file
// identity, holding the dataset, resample and indicator partitions.
//
// Every operation opens its own connection and closes it before returning.
// Writes to a partition happen inside one transaction; partitions are not
// coordinated with each other.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"ohlcv-engine/internal/model"
)

const (
	fileExt = ".sqlite"
	dsnOpts = "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
)

const (
	datasetSchema = `
		CREATE TABLE IF NOT EXISTS dataset_meta (source_path TEXT);
		CREATE TABLE IF NOT EXISTS candles (
			ts_utc TEXT,
			open   REAL,
			high   REAL,
			low    REAL,
			close  REAL,
			volume REAL
		);`

	resampleSchema = `
		CREATE TABLE IF NOT EXISTS resample_meta (target TEXT PRIMARY KEY, count INTEGER);
		CREATE TABLE IF NOT EXISTS resample_candles (
			target TEXT,
			idx    INTEGER,
			ts_utc TEXT,
			open   REAL,
			high   REAL,
			low    REAL,
			close  REAL,
			volume REAL
		);
		CREATE INDEX IF NOT EXISTS idx_resample_target_idx ON resample_candles(target, idx);`

	indicatorSchema = `
		CREATE TABLE IF NOT EXISTS indicator_meta (indicator TEXT PRIMARY KEY, count INTEGER);
		CREATE TABLE IF NOT EXISTS indicator_values (
			indicator TEXT,
			idx       INTEGER,
			value     REAL
		);
		CREATE INDEX IF NOT EXISTS idx_indicator_idx ON indicator_values(indicator, idx);`
)

// Store implements model.CacheStore over a directory of SQLite files.
type Store struct {
	loc Locator
}

var _ model.CacheStore = (*Store)(nil)

// New creates a Store rooted at loc. Nothing is touched on disk until the
// first write.
func New(loc Locator) *Store {
	return &Store{loc: loc}
}

// Dir returns the cache directory.
func (s *Store) Dir() string { return s.loc.Dir() }

// Identity derives the cache identity of path.
func (s *Store) Identity(path string) (model.CacheIdentity, error) {
	return IdentityOf(path)
}

// Path returns the store file backing id.
func (s *Store) Path(id model.CacheIdentity) string {
	return s.loc.Path(id.Key)
}

// openExisting opens the store for id for reading. ok is false when the file
// does not exist, in which case nothing is created.
func (s *Store) openExisting(id model.CacheIdentity) (db *sql.DB, ok bool, err error) {
	path := s.Path(id)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, model.NewCacheIO("stat "+path, err)
	}
	db, err = open(path)
	if err != nil {
		return nil, false, err
	}
	return db, true, nil
}

// openForWrite creates the cache directory if needed and opens the store.
func (s *Store) openForWrite(id model.CacheIdentity) (*sql.DB, error) {
	if err := s.loc.ensure(); err != nil {
		return nil, model.NewCacheIO("create cache dir", err)
	}
	return open(s.Path(id))
}

func open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+dsnOpts)
	if err != nil {
		return nil, model.NewCacheIO("sqlite open", err)
	}
	// One connection per call; the handle never outlives the operation.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, nil
}

// tableExists reports whether name is present in the schema.
func tableExists(db *sql.DB, name string) (bool, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&n)
	if err != nil {
		return false, model.NewCacheIO("sqlite schema lookup", err)
	}
	return n > 0, nil
}

// Clear removes every store file from the cache directory and returns how
// many were removed. A missing directory removes nothing.
func (s *Store) Clear() (int, error) {
	entries, err := os.ReadDir(s.loc.Dir())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, model.NewCacheIO("read cache dir", err)
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != fileExt {
			continue
		}
		path := filepath.Join(s.loc.Dir(), e.Name())
		if err := os.Remove(path); err != nil {
			return removed, model.NewCacheIO("remove "+e.Name(), err)
		}
		removed++
		// WAL side files are normally gone once the last connection closes.
		for _, side := range []string{"-wal", "-shm"} {
			_ = os.Remove(path + side)
		}
	}
	return removed, nil
}

// Status counts store files and their total size.
func (s *Store) Status() (model.CacheStatus, error) {
	st := model.CacheStatus{Path: s.loc.Dir()}
	entries, err := os.ReadDir(s.loc.Dir())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return st, nil
		}
		return st, model.NewCacheIO("read cache dir", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return st, model.NewCacheIO(fmt.Sprintf("stat %s", e.Name()), err)
		}
		st.Files++
		st.Bytes += uint64(info.Size())
	}
	return st, nil
}
