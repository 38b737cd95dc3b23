package prefs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	historyFile = "dataset_history.json"
	presetsFile = "presets.json"
)

// FileStore keeps each record list in its own JSON file under dir.
// Writes go through a temp file and rename.
type FileStore struct {
	dir string
	now func() time.Time

	mu sync.Mutex
}

var _ Store = (*FileStore)(nil)

// NewFileStore returns a store rooted at dir. The directory is created on
// first write.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir, now: time.Now}
}

func (f *FileStore) Backend() string { return "file" }

func (f *FileStore) History(ctx context.Context) ([]HistoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var h []HistoryEntry
	err := f.read(historyFile, &h)
	return nonNil(h), err
}

func (f *FileStore) RecordHistory(ctx context.Context, path string) ([]HistoryEntry, error) {
	if err := validPath(path); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var h []HistoryEntry
	if err := f.read(historyFile, &h); err != nil {
		return nil, err
	}
	h = touch(h, path, f.now())
	if err := f.write(historyFile, h); err != nil {
		return nil, err
	}
	return h, nil
}

func (f *FileStore) Presets(ctx context.Context) ([]Preset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ps []Preset
	err := f.read(presetsFile, &ps)
	return nonNil(ps), err
}

func (f *FileStore) SavePreset(ctx context.Context, p Preset) error {
	if err := validPreset(p); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var ps []Preset
	if err := f.read(presetsFile, &ps); err != nil {
		return err
	}
	return f.write(presetsFile, upsert(ps, p))
}

func (f *FileStore) LoadPreset(ctx context.Context, name string) (Preset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ps []Preset
	if err := f.read(presetsFile, &ps); err != nil {
		return Preset{}, err
	}
	return findPreset(ps, name)
}

func (f *FileStore) DeletePreset(ctx context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ps []Preset
	if err := f.read(presetsFile, &ps); err != nil {
		return false, err
	}
	kept := removePreset(ps, name)
	if len(kept) == len(ps) {
		return false, nil
	}
	return true, f.write(presetsFile, kept)
}

// read decodes name into v. A missing file leaves v untouched.
func (f *FileStore) read(name string, v any) error {
	data, err := os.ReadFile(filepath.Join(f.dir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

func (f *FileStore) write(name string, v any) error {
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("create prefs dir: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	tmp, err := os.CreateTemp(f.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(f.dir, name)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace %s: %w", name, err)
	}
	return nil
}
