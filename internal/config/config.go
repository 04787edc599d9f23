package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
	APIBind string `toml:"api_bind"`
}

// Extraction contains connection settings for the vision metadata extractor.
type Extraction struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Catalog contains connection settings for the music catalog API.
type Catalog struct {
	BaseURL            string `toml:"base_url"`
	TokenURL           string `toml:"token_url"`
	ClientID           string `toml:"client_id"`
	ClientSecret       string `toml:"client_secret"`
	AccountID          string `toml:"account_id"`
	Market             string `toml:"market"`
	TimeoutSeconds     int    `toml:"timeout_seconds"`
	PlaylistNamePrefix string `toml:"playlist_name_prefix"`
}

// Blob contains configuration for the poster image object store.
type Blob struct {
	Bucket     string `toml:"bucket"`
	Region     string `toml:"region"`
	Endpoint   string `toml:"endpoint"`
	PublicHost string `toml:"public_host"`
}

// Ingest contains configuration for the upload event consumer.
type Ingest struct {
	Enabled bool     `toml:"enabled"`
	Brokers []string `toml:"brokers"`
	Topic   string   `toml:"topic"`
	GroupID string   `toml:"group_id"`
}

// Enrichment contains configuration for the workflow engine.
type Enrichment struct {
	Workers            int `toml:"workers"`
	StepTimeoutSeconds int `toml:"step_timeout_seconds"`
	RetryMaxAttempts   int `toml:"retry_max_attempts"`
	RetryBaseDelayMS   int `toml:"retry_base_delay_ms"`
	RetryMaxDelayMS    int `toml:"retry_max_delay_ms"`
	PollInterval       int `toml:"poll_interval"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for bandaid.
//
// Configuration sections by subsystem:
//   - Paths: data/log directories and API bind address
//   - Extraction: vision model connection for poster metadata
//   - Catalog: music catalog API and client credentials
//   - Blob: poster image bucket
//   - Ingest: upload event consumer
//   - Enrichment: workflow engine workers, retries, and timing
//   - Logging: log format and level
type Config struct {
	Paths      Paths      `toml:"paths"`
	Extraction Extraction `toml:"extraction"`
	Catalog    Catalog    `toml:"catalog"`
	Blob       Blob       `toml:"blob"`
	Ingest     Ingest     `toml:"ingest"`
	Enrichment Enrichment `toml:"enrichment"`
	Logging    Logging    `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/bandaid/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("bandaid.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

func (c *Config) normalize() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return err
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return err
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Catalog.Market = strings.ToUpper(strings.TrimSpace(c.Catalog.Market))

	brokers := make([]string, 0, len(c.Ingest.Brokers))
	for _, broker := range c.Ingest.Brokers {
		if trimmed := strings.TrimSpace(broker); trimmed != "" {
			brokers = append(brokers, trimmed)
		}
	}
	c.Ingest.Brokers = brokers
	return nil
}

// EnsureDirectories creates required directories for daemon operation,
// including the per-entity partition directory under DataDir.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Paths.DataDir,
		filepath.Join(c.Paths.DataDir, "entities"),
		c.Paths.LogDir,
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// EntitiesDir returns the directory holding per-entity partitions.
func (c *Config) EntitiesDir() string {
	return filepath.Join(c.Paths.DataDir, "entities")
}

// LedgerPath returns the path of the enrichment run ledger database.
func (c *Config) LedgerPath() string {
	return filepath.Join(c.Paths.DataDir, "enrichment.db")
}

// LockFilePath returns the daemon lock file path.
func (c *Config) LockFilePath() string {
	return filepath.Join(c.Paths.DataDir, "bandaidd.lock")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
