// Package entity provides the durable actor substrate: one isolated SQLite
// partition per entity identifier, at most one live storage instance per
// identifier, and idempotent partition tear-down.
package entity

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"bandaid/internal/identity"
)

// Arena hands out per-entity partitions from a shared directory. It
// guarantees at most one live Storage per identifier so per-entity
// serialization holds process-wide.
type Arena struct {
	dir string

	mu   sync.Mutex
	open map[identity.ID]*Storage
}

// NewArena creates an arena rooted at dir, creating the directory if needed.
func NewArena(dir string) (*Arena, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create arena directory %q: %w", dir, err)
	}
	return &Arena{dir: dir, open: make(map[identity.ID]*Storage)}, nil
}

// Dir returns the arena's root directory.
func (a *Arena) Dir() string { return a.dir }

func (a *Arena) partitionPath(id identity.ID) string {
	return filepath.Join(a.dir, id.String()+".db")
}

// Open returns the live storage for id, creating the partition file when it
// does not exist yet.
func (a *Arena) Open(ctx context.Context, id identity.ID) (*Storage, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if storage, ok := a.open[id]; ok {
		return storage, nil
	}
	storage, err := openStorage(id, a.partitionPath(id))
	if err != nil {
		return nil, err
	}
	a.open[id] = storage
	return storage, nil
}

// OpenExisting returns the live storage for id only when its partition file
// already exists. A wiped or never-created entity yields (nil, false, nil).
func (a *Arena) OpenExisting(ctx context.Context, id identity.ID) (*Storage, bool, error) {
	a.mu.Lock()
	if storage, ok := a.open[id]; ok {
		a.mu.Unlock()
		return storage, true, nil
	}
	a.mu.Unlock()

	if !a.Exists(id) {
		return nil, false, nil
	}
	storage, err := a.Open(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return storage, true, nil
}

// Exists reports whether the partition for id is present on disk or live.
func (a *Arena) Exists(id identity.ID) bool {
	a.mu.Lock()
	if _, ok := a.open[id]; ok {
		a.mu.Unlock()
		return true
	}
	a.mu.Unlock()

	_, err := os.Stat(a.partitionPath(id))
	return err == nil
}

// Wipe tears down the partition for id: the live instance is closed and the
// partition file removed along with its WAL sidecars. Wiping an absent
// partition is a no-op so tear-down stays idempotent.
func (a *Arena) Wipe(ctx context.Context, id identity.ID) error {
	a.mu.Lock()
	if storage, ok := a.open[id]; ok {
		delete(a.open, id)
		a.mu.Unlock()
		if err := storage.close(); err != nil {
			return fmt.Errorf("close partition %s: %w", id, err)
		}
	} else {
		a.mu.Unlock()
	}

	base := a.partitionPath(id)
	for _, path := range []string{base, base + "-wal", base + "-shm"} {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove partition file %q: %w", path, err)
		}
	}
	return nil
}

// Close releases every live partition.
func (a *Arena) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var firstErr error
	for id, storage := range a.open {
		if err := storage.close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(a.open, id)
	}
	return firstErr
}
