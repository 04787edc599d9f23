// Package config loads, validates, and defaults bandaid's TOML configuration.
package config
