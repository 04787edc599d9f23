package entity_test

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"

	"bandaid/internal/entity"
	"bandaid/internal/identity"
	"bandaid/internal/services"
)

func newArena(t *testing.T) *entity.Arena {
	t.Helper()
	arena, err := entity.NewArena(t.TempDir())
	if err != nil {
		t.Fatalf("new arena: %v", err)
	}
	t.Cleanup(func() { _ = arena.Close() })
	return arena
}

func TestOpenReturnsSameInstance(t *testing.T) {
	arena := newArena(t)
	ctx := context.Background()
	id := identity.NewID()

	first, err := arena.Open(ctx, id)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	second, err := arena.Open(ctx, id)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if first != second {
		t.Fatal("expected a single live instance per entity id")
	}
}

func TestConfigRoundTrip(t *testing.T) {
	arena := newArena(t)
	ctx := context.Background()
	storage, err := arena.Open(ctx, identity.NewID())
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if err := storage.SetConfig(ctx, "slug", "the-midnight"); err != nil {
		t.Fatalf("set config: %v", err)
	}
	value, err := storage.GetConfig(ctx, "slug")
	if err != nil {
		t.Fatalf("get config: %v", err)
	}
	if value != "the-midnight" {
		t.Fatalf("got %q", value)
	}

	if err := storage.SetConfig(ctx, "slug", "updated"); err != nil {
		t.Fatalf("overwrite config: %v", err)
	}
	entry, err := storage.GetConfigEntry(ctx, "slug")
	if err != nil {
		t.Fatalf("get entry: %v", err)
	}
	if entry.Value != "updated" {
		t.Fatalf("got %q after overwrite", entry.Value)
	}
	if entry.UpdatedAt.Before(entry.CreatedAt) {
		t.Fatal("updated_at must not precede created_at")
	}

	if _, err := storage.GetConfig(ctx, "missing"); !services.IsNotFound(err) {
		t.Fatalf("expected not-found for missing key, got %v", err)
	}
}

func TestSetConfigBatchWritesAllKeys(t *testing.T) {
	arena := newArena(t)
	ctx := context.Background()
	storage, err := arena.Open(ctx, identity.NewID())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := storage.SetConfig(ctx, "accessToken", "old"); err != nil {
		t.Fatalf("seed: %v", err)
	}

	err = storage.SetConfigBatch(ctx, map[string]string{
		"accessToken":  "new",
		"refreshToken": "r2",
		"expiresIn":    "3600",
	})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	for key, want := range map[string]string{"accessToken": "new", "refreshToken": "r2", "expiresIn": "3600"} {
		value, err := storage.GetConfig(ctx, key)
		if err != nil || value != want {
			t.Fatalf("%s = %q err = %v", key, value, err)
		}
	}

	if err := storage.SetConfigBatch(ctx, nil); err != nil {
		t.Fatalf("empty batch must be a no-op, got %v", err)
	}
}

func TestTxRollsBackOnError(t *testing.T) {
	arena := newArena(t)
	ctx := context.Background()
	storage, err := arena.Open(ctx, identity.NewID())
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	boom := errors.New("boom")
	err = storage.Tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO config (config_key, config_value, created_at, updated_at)
VALUES ('accessToken', 'half-written', '2024-01-01T00:00:00Z', '2024-01-01T00:00:00Z')`); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if _, err := storage.GetConfig(ctx, "accessToken"); !services.IsNotFound(err) {
		t.Fatalf("rolled back write must not be visible, got %v", err)
	}
}

func TestWipeIsIdempotentAndRemovesState(t *testing.T) {
	arena := newArena(t)
	ctx := context.Background()
	id := identity.NewID()

	storage, err := arena.Open(ctx, id)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := storage.SetConfig(ctx, "k", "v"); err != nil {
		t.Fatalf("set config: %v", err)
	}
	path := storage.Path()

	if err := arena.Wipe(ctx, id); err != nil {
		t.Fatalf("wipe: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("expected partition file to be removed")
	}
	if arena.Exists(id) {
		t.Fatal("expected Exists to report false after wipe")
	}
	if err := arena.Wipe(ctx, id); err != nil {
		t.Fatalf("second wipe must be a no-op, got %v", err)
	}

	// A fresh open after wipe starts from an empty partition.
	reopened, err := arena.Open(ctx, id)
	if err != nil {
		t.Fatalf("reopen after wipe: %v", err)
	}
	if _, err := reopened.GetConfig(ctx, "k"); !services.IsNotFound(err) {
		t.Fatalf("expected wiped state to be gone, got %v", err)
	}
}

func TestOpenExisting(t *testing.T) {
	arena := newArena(t)
	ctx := context.Background()
	id := identity.NewID()

	if _, ok, err := arena.OpenExisting(ctx, id); err != nil || ok {
		t.Fatalf("expected absent entity, ok=%v err=%v", ok, err)
	}
	if _, err := arena.Open(ctx, id); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, ok, err := arena.OpenExisting(ctx, id); err != nil || !ok {
		t.Fatalf("expected live entity, ok=%v err=%v", ok, err)
	}
}

func TestIsolationBetweenPartitions(t *testing.T) {
	arena := newArena(t)
	ctx := context.Background()

	a, err := arena.Open(ctx, identity.NewID())
	if err != nil {
		t.Fatalf("open a: %v", err)
	}
	b, err := arena.Open(ctx, identity.NewID())
	if err != nil {
		t.Fatalf("open b: %v", err)
	}
	if err := a.SetConfig(ctx, "who", "a"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := b.GetConfig(ctx, "who"); !services.IsNotFound(err) {
		t.Fatalf("partitions must be isolated, got %v", err)
	}
}
