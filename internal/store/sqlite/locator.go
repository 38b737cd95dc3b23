package sqlite

import (
	"fmt"
	"os"
	"path/filepath"
)

// Locator resolves where cache files live. The directory is fixed at
// construction and only created when something is first written.
type Locator struct {
	dir string
}

// NewLocator returns a locator rooted at dir. Relative paths are resolved
// against the working directory once, here.
func NewLocator(dir string) (Locator, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return Locator{}, fmt.Errorf("resolve cache dir %s: %w", dir, err)
	}
	return Locator{dir: abs}, nil
}

// DataLocator places the cache under <dataDir>/cache.
func DataLocator(dataDir string) (Locator, error) {
	return NewLocator(filepath.Join(dataDir, "cache"))
}

// Dir returns the cache directory. It may not exist yet.
func (l Locator) Dir() string { return l.dir }

// Path returns the store file for a cache key.
func (l Locator) Path(key string) string {
	return filepath.Join(l.dir, key+fileExt)
}

// ensure creates the directory if needed.
func (l Locator) ensure() error {
	return os.MkdirAll(l.dir, 0o755)
}
