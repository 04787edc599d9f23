package entity

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"bandaid/internal/identity"
	"bandaid/internal/services"
)

// Storage is a single entity's isolated SQLite partition. All mutations go
// through the instance mutex so writes to one entity are strictly serialized
// regardless of how many goroutines address it.
type Storage struct {
	id   identity.ID
	db   *sql.DB
	path string

	mu sync.Mutex
}

const configSchema = `
CREATE TABLE IF NOT EXISTS config (
    config_key TEXT PRIMARY KEY,
    config_value TEXT NOT NULL,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
)`

func openStorage(id identity.ID, path string) (*Storage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open entity db: %w", err)
	}
	if err := applyPragmas(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	storage := &Storage{id: id, db: db, path: path}
	if _, err := db.Exec(configSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init config schema: %w", err)
	}
	return storage, nil
}

// ID returns the entity identifier this partition belongs to.
func (s *Storage) ID() identity.ID { return s.id }

// Path returns the partition file path.
func (s *Storage) Path() string { return s.path }

// ApplySchema executes DDL against the partition. Statements must be
// idempotent (CREATE TABLE IF NOT EXISTS and friends).
func (s *Storage) ApplySchema(ctx context.Context, ddl string) error {
	ctx = ensureContext(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Exec runs a serialized write against the partition.
func (s *Storage) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx = ensureContext(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	var res sql.Result
	err := retryOnBusy(ctx, func() error {
		var execErr error
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	})
	return res, err
}

// Tx runs fn inside a serialized transaction, committing on nil return.
func (s *Storage) Tx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	ctx = ensureContext(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

// Query runs a read against the partition. Reads do not take the write mutex.
func (s *Storage) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ensureContext(ctx), query, args...)
}

// QueryRow runs a single-row read against the partition.
func (s *Storage) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ensureContext(ctx), query, args...)
}

// ConfigEntry is one versioned key/value row from the config table.
type ConfigEntry struct {
	Key       string
	Value     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SetConfig upserts a config value, bumping updated_at on overwrite.
func (s *Storage) SetConfig(ctx context.Context, key, value string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.Exec(ctx, `
INSERT INTO config (config_key, config_value, created_at, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(config_key) DO UPDATE SET config_value = excluded.config_value, updated_at = excluded.updated_at`,
		key, value, now, now)
	if err != nil {
		return fmt.Errorf("set config %q: %w", key, err)
	}
	return nil
}

// SetConfigBatch upserts several config values in one transaction. Either
// every key commits or none does, so a crash mid-write can never leave a
// partially updated group behind.
func (s *Storage) SetConfigBatch(ctx context.Context, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	return s.Tx(ctx, func(tx *sql.Tx) error {
		for key, value := range values {
			if _, err := tx.ExecContext(ctx, `
INSERT INTO config (config_key, config_value, created_at, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(config_key) DO UPDATE SET config_value = excluded.config_value, updated_at = excluded.updated_at`,
				key, value, now, now); err != nil {
				return fmt.Errorf("set config %q: %w", key, err)
			}
		}
		return nil
	})
}

// GetConfig returns the stored value for key.
func (s *Storage) GetConfig(ctx context.Context, key string) (string, error) {
	entry, err := s.GetConfigEntry(ctx, key)
	if err != nil {
		return "", err
	}
	return entry.Value, nil
}

// GetConfigEntry returns the stored value plus its timestamps.
func (s *Storage) GetConfigEntry(ctx context.Context, key string) (ConfigEntry, error) {
	row := s.QueryRow(ctx, `SELECT config_value, created_at, updated_at FROM config WHERE config_key = ?`, key)
	var entry ConfigEntry
	var createdAt, updatedAt string
	if err := row.Scan(&entry.Value, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return ConfigEntry{}, services.Wrap(services.ErrNotFound, "entity", "get config", key, nil)
		}
		return ConfigEntry{}, fmt.Errorf("get config %q: %w", key, err)
	}
	entry.Key = key
	if t, err := ParseTimeString(createdAt); err == nil {
		entry.CreatedAt = t
	}
	if t, err := ParseTimeString(updatedAt); err == nil {
		entry.UpdatedAt = t
	}
	return entry, nil
}

// AllConfig returns every config key/value pair.
func (s *Storage) AllConfig(ctx context.Context) (map[string]string, error) {
	rows, err := s.Query(ctx, `SELECT config_key, config_value FROM config`)
	if err != nil {
		return nil, fmt.Errorf("list config: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan config: %w", err)
		}
		out[key] = value
	}
	return out, rows.Err()
}

func (s *Storage) close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
