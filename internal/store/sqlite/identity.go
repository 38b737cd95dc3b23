package sqlite

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"

	"ohlcv-engine/internal/model"
)

// IdentityOf stats path and derives its cache identity: the blake3 hex digest
// of "{absolute_path}_{mtime_unix_seconds}".
func IdentityOf(path string) (model.CacheIdentity, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return model.CacheIdentity{}, model.NewFileNotFound(path)
		}
		return model.CacheIdentity{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return model.CacheIdentity{}, model.NewFileNotFound(path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return model.CacheIdentity{}, fmt.Errorf("resolve %s: %w", path, err)
	}
	mtime := info.ModTime().Unix()
	return model.CacheIdentity{Path: abs, MTime: mtime, Key: Key(abs, mtime)}, nil
}

// Key hashes an absolute path and modification time into a cache key.
func Key(absPath string, mtime int64) string {
	sum := blake3.Sum256([]byte(fmt.Sprintf("%s_%d", absPath, mtime)))
	return hex.EncodeToString(sum[:])
}
