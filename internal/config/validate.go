package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateExtraction(); err != nil {
		return err
	}
	if err := c.validateCatalog(); err != nil {
		return err
	}
	if err := c.validateIngest(); err != nil {
		return err
	}
	if err := c.validateEnrichment(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir must be set")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		return errors.New("paths.log_dir must be set")
	}
	return nil
}

func (c *Config) validateExtraction() error {
	if strings.TrimSpace(c.Extraction.APIKey) == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/bandaid/config.toml"
		}
		return fmt.Errorf("extraction.api_key is required. Edit %s (create with 'bandaid config init')", defaultPath)
	}
	if strings.TrimSpace(c.Extraction.BaseURL) == "" {
		return errors.New("extraction.base_url must be set")
	}
	if strings.TrimSpace(c.Extraction.Model) == "" {
		return errors.New("extraction.model must be set")
	}
	if c.Extraction.TimeoutSeconds <= 0 {
		return errors.New("extraction.timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateCatalog() error {
	if strings.TrimSpace(c.Catalog.ClientID) == "" {
		return errors.New("catalog.client_id must be set")
	}
	if strings.TrimSpace(c.Catalog.ClientSecret) == "" {
		return errors.New("catalog.client_secret must be set")
	}
	if strings.TrimSpace(c.Catalog.AccountID) == "" {
		return errors.New("catalog.account_id must be set")
	}
	if strings.TrimSpace(c.Catalog.BaseURL) == "" {
		return errors.New("catalog.base_url must be set")
	}
	if strings.TrimSpace(c.Catalog.TokenURL) == "" {
		return errors.New("catalog.token_url must be set")
	}
	if c.Catalog.TimeoutSeconds <= 0 {
		return errors.New("catalog.timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateIngest() error {
	if !c.Ingest.Enabled {
		return nil
	}
	if len(c.Ingest.Brokers) == 0 {
		return errors.New("ingest.brokers must be set when ingest.enabled is true")
	}
	if strings.TrimSpace(c.Ingest.Topic) == "" {
		return errors.New("ingest.topic must be set when ingest.enabled is true")
	}
	if strings.TrimSpace(c.Ingest.GroupID) == "" {
		return errors.New("ingest.group_id must be set when ingest.enabled is true")
	}
	if strings.TrimSpace(c.Blob.Bucket) == "" {
		return errors.New("blob.bucket must be set when ingest.enabled is true")
	}
	return nil
}

func (c *Config) validateEnrichment() error {
	positives := map[string]int{
		"enrichment.workers":              c.Enrichment.Workers,
		"enrichment.step_timeout_seconds": c.Enrichment.StepTimeoutSeconds,
		"enrichment.retry_max_attempts":   c.Enrichment.RetryMaxAttempts,
		"enrichment.retry_base_delay_ms":  c.Enrichment.RetryBaseDelayMS,
		"enrichment.poll_interval":        c.Enrichment.PollInterval,
		"enrichment.error_retry_interval": c.Enrichment.ErrorRetryInterval,
	}
	for name, value := range positives {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.Enrichment.RetryMaxDelayMS < c.Enrichment.RetryBaseDelayMS {
		return errors.New("enrichment.retry_max_delay_ms must be at least retry_base_delay_ms")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}
