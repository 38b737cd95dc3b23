// Package prefs persists the small user-facing records kept beside the
// engine: the recently used dataset list and named chart layout presets.
//
// Both are plain JSON blobs the engine never reads. Two backends exist: a
// directory of JSON files and Redis.
package prefs

import (
	"context"
	"errors"
	"strings"
	"time"
)

// MaxHistory bounds the dataset history list.
const MaxHistory = 10

var (
	// ErrPresetNotFound is returned by LoadPreset for an unknown name.
	ErrPresetNotFound = errors.New("preset not found")
	// ErrNameRequired rejects presets with a blank name.
	ErrNameRequired = errors.New("preset name is required")
	// ErrPathRequired rejects blank history paths.
	ErrPathRequired = errors.New("dataset path is required")
	// ErrConflict reports an update that kept losing to concurrent writers.
	ErrConflict = errors.New("preferences update conflict, retry")
)

// HistoryEntry is one recently used dataset. LastUsed is Unix seconds.
type HistoryEntry struct {
	Path     string `json:"path"`
	LastUsed int64  `json:"last_used"`
}

// PaneState is the saved state of one chart pane.
type PaneState struct {
	ID         int     `json:"id"`
	Pair       string  `json:"pair"`
	Timeframe  string  `json:"timeframe"`
	Indicator  string  `json:"indicator"`
	ViewBars   int64   `json:"view_bars"`
	ViewOffset int64   `json:"view_offset"`
	Playing    bool    `json:"playing"`
	Speed      float64 `json:"speed"`
	Seek       int64   `json:"seek"`
	Bars       int64   `json:"bars"`
}

// Preset is a named pane layout.
type Preset struct {
	Name  string      `json:"name"`
	Split int         `json:"split"`
	Panes []PaneState `json:"panes"`
}

// Store is implemented by every preferences backend.
type Store interface {
	// History returns the dataset history, most recent first.
	History(ctx context.Context) ([]HistoryEntry, error)
	// RecordHistory moves path to the front of the history.
	RecordHistory(ctx context.Context, path string) ([]HistoryEntry, error)

	Presets(ctx context.Context) ([]Preset, error)
	// SavePreset replaces any preset of the same name.
	SavePreset(ctx context.Context, p Preset) error
	LoadPreset(ctx context.Context, name string) (Preset, error)
	// DeletePreset reports whether a preset was removed.
	DeletePreset(ctx context.Context, name string) (bool, error)

	Backend() string
}

func touch(history []HistoryEntry, path string, now time.Time) []HistoryEntry {
	out := make([]HistoryEntry, 0, len(history)+1)
	out = append(out, HistoryEntry{Path: path, LastUsed: now.Unix()})
	for _, h := range history {
		if h.Path != path {
			out = append(out, h)
		}
	}
	if len(out) > MaxHistory {
		out = out[:MaxHistory]
	}
	return out
}

func upsert(presets []Preset, p Preset) []Preset {
	out := removePreset(presets, p.Name)
	return append(out, p)
}

func removePreset(presets []Preset, name string) []Preset {
	out := make([]Preset, 0, len(presets))
	for _, q := range presets {
		if q.Name != name {
			out = append(out, q)
		}
	}
	return out
}

func findPreset(presets []Preset, name string) (Preset, error) {
	for _, p := range presets {
		if p.Name == name {
			return p, nil
		}
	}
	return Preset{}, ErrPresetNotFound
}

func validPreset(p Preset) error {
	if strings.TrimSpace(p.Name) == "" {
		return ErrNameRequired
	}
	return nil
}

func validPath(path string) error {
	if strings.TrimSpace(path) == "" {
		return ErrPathRequired
	}
	return nil
}

// nonNil keeps empty lists encoding as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
