// Package persistence implements the periodic full-trie snapshot contract
// from spec.md's Persistence section: write the whole store to a temp file,
// fsync, atomically rename over the live snapshot, and reload it at startup.
package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Save writes data as a single JSON document to path, via a temp file in
// the same directory, fsync, and atomic rename — so a crash mid-write never
// leaves a corrupt snapshot in place.
func Save(path string, data map[string]any) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("persistence: create temp file: %w", err)
	}
	enc := json.NewEncoder(f)
	if err := enc.Encode(data); err != nil {
		f.Close()
		return fmt.Errorf("persistence: encode snapshot: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("persistence: fsync: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("persistence: close temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("persistence: rename into place: %w", err)
	}
	return nil
}

// Load reads a snapshot previously written by Save. A missing file is not
// an error — it reports an empty store, matching "nothing persisted yet".
func Load(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("persistence: read snapshot: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("persistence: decode snapshot: %w", err)
	}
	return out, nil
}

// Exporter is the subset of the actor's capability this package needs: a
// way to pull a consistent snapshot and to load one back in at startup.
type Exporter interface {
	Export() map[string]any
	Import(data map[string]any)
}

// Runner ticks every Interval, asking Store for a snapshot and writing it to
// Path. A failed write is logged and retried on the next tick, per spec.
type Runner struct {
	Path     string
	Interval time.Duration
	Store    Exporter
	Log      zerolog.Logger
}

// Run blocks, saving on each tick until done is closed.
func (r *Runner) Run(done <-chan struct{}) {
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := Save(r.Path, r.Store.Export()); err != nil {
				r.Log.Error().Err(err).Str("path", r.Path).Msg("persistence: snapshot write failed, will retry next tick")
			}
		case <-done:
			return
		}
	}
}

// LoadInto loads the snapshot at path (if UsePersistence) into store,
// failing fatally on a read/decode error per spec ("failure to read on
// startup is fatal").
func LoadInto(path string, usePersistence bool, store Exporter) error {
	if !usePersistence {
		return nil
	}
	data, err := Load(path)
	if err != nil {
		return err
	}
	store.Import(data)
	return nil
}

// EnsureDir makes sure the snapshot's parent directory exists.
func EnsureDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o755)
}
