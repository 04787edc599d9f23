package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"bandaid/internal/config"
)

func validConfigTOML() string {
	return `
[paths]
data_dir = "{data}"
log_dir = "{log}"

[extraction]
api_key = "test-key"

[catalog]
client_id = "cid"
client_secret = "secret"
account_id = "acct"
`
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	body = strings.ReplaceAll(body, "{data}", filepath.Join(dir, "data"))
	body = strings.ReplaceAll(body, "{log}", filepath.Join(dir, "logs"))
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, validConfigTOML())
	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !exists {
		t.Fatal("expected config file to be reported as existing")
	}
	if resolved != path {
		t.Fatalf("resolved path = %q, want %q", resolved, path)
	}
	if cfg.Enrichment.Workers != 4 {
		t.Fatalf("default workers = %d, want 4", cfg.Enrichment.Workers)
	}
	if cfg.Catalog.BaseURL == "" || cfg.Catalog.TokenURL == "" {
		t.Fatal("expected catalog URL defaults to be applied")
	}
	if cfg.Logging.Format != "console" {
		t.Fatalf("default logging format = %q", cfg.Logging.Format)
	}
}

func TestLoadRejectsMissingAPIKey(t *testing.T) {
	body := strings.ReplaceAll(validConfigTOML(), `api_key = "test-key"`, "")
	path := writeConfig(t, body)
	if _, _, _, err := config.Load(path); err == nil {
		t.Fatal("expected error for missing extraction.api_key")
	}
}

func TestLoadRejectsBadLogFormat(t *testing.T) {
	body := validConfigTOML() + "\n[logging]\nformat = \"xml\"\n"
	path := writeConfig(t, body)
	if _, _, _, err := config.Load(path); err == nil {
		t.Fatal("expected error for bad logging.format")
	}
}

func TestIngestValidationOnlyWhenEnabled(t *testing.T) {
	body := validConfigTOML() + "\n[ingest]\nenabled = true\n"
	path := writeConfig(t, body)
	if _, _, _, err := config.Load(path); err == nil {
		t.Fatal("expected error for ingest enabled without brokers")
	}
}

func TestEnsureDirectories(t *testing.T) {
	path := writeConfig(t, validConfigTOML())
	cfg, _, _, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	for _, dir := range []string{cfg.Paths.DataDir, cfg.EntitiesDir(), cfg.Paths.LogDir} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Fatalf("expected directory %q to exist", dir)
		}
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("create sample: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(data), "[enrichment]") {
		t.Fatal("sample config missing enrichment section")
	}
}
