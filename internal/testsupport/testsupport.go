// Package testsupport provides shared fixtures for package tests.
package testsupport

import (
	"path/filepath"
	"testing"

	"bandaid/internal/config"
	"bandaid/internal/enrichment"
	"bandaid/internal/entity"
)

// NewConfig returns a validated configuration rooted in a per-test temp
// directory. Ingest stays disabled and the external endpoints carry dummy
// credentials; tests never reach the network.
func NewConfig(t *testing.T) *config.Config {
	t.Helper()
	base := t.TempDir()

	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.Extraction.APIKey = "test-key"
	cfg.Catalog.ClientID = "test-client"
	cfg.Catalog.ClientSecret = "test-secret"
	cfg.Catalog.AccountID = "test-account"

	if err := cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return &cfg
}

// MustOpenArena opens an entity arena in a temp directory and closes it when
// the test finishes.
func MustOpenArena(t *testing.T) *entity.Arena {
	t.Helper()
	arena, err := entity.NewArena(t.TempDir())
	if err != nil {
		t.Fatalf("new arena: %v", err)
	}
	t.Cleanup(func() { _ = arena.Close() })
	return arena
}

// MustOpenLedger opens an enrichment ledger in a temp directory and closes
// it when the test finishes.
func MustOpenLedger(t *testing.T) *enrichment.Ledger {
	t.Helper()
	ledger, err := enrichment.OpenLedger(filepath.Join(t.TempDir(), "enrichment.db"))
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() { _ = ledger.Close() })
	return ledger
}
