// Package snapshot persists whole collections as JSON array files. Every save
// rewrites the file wholesale; readers only ever see a complete document.
package snapshot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// Format selects how a snapshot document is encoded.
type Format int

const (
	// Compact writes the array on a single line.
	Compact Format = iota
	// Pretty indents the array for human inspection.
	Pretty
)

// File is a JSON array snapshot of T stored at Path.
type File[T any] struct {
	Path   string
	Format Format
}

// NewFile returns a snapshot file bound to path.
func NewFile[T any](path string, format Format) *File[T] {
	return &File[T]{Path: path, Format: format}
}

// Load reads the snapshot. A missing or empty file yields an empty collection.
func (f *File[T]) Load() ([]T, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []T{}, nil
		}
		return nil, fmt.Errorf("read snapshot %s: %w", f.Path, err)
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return []T{}, nil
	}

	var items []T
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", f.Path, err)
	}
	if items == nil {
		items = []T{}
	}
	return items, nil
}

// Save replaces the snapshot with items. The write goes to a temporary file
// that is renamed over the target while holding an exclusive lock on
// Path+".lock", so concurrent processes never observe a torn document.
func (f *File[T]) Save(items []T) error {
	if items == nil {
		items = []T{}
	}

	data, err := f.encode(items)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", f.Path, err)
	}

	dir := filepath.Dir(f.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir %s: %w", dir, err)
	}

	lock := flock.New(f.Path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock snapshot %s: %w", f.Path, err)
	}
	defer func() { _ = lock.Unlock() }()

	tmp, err := os.CreateTemp(dir, filepath.Base(f.Path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write snapshot %s: %w", f.Path, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("sync snapshot %s: %w", f.Path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close snapshot %s: %w", f.Path, err)
	}

	if err := os.Rename(tmpName, f.Path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace snapshot %s: %w", f.Path, err)
	}

	return nil
}

func (f *File[T]) encode(items []T) ([]byte, error) {
	if f.Format == Pretty {
		return json.MarshalIndent(items, "", "  ")
	}
	return json.Marshal(items)
}
