// Package config provides configuration loading and validation for the
// proxy server.
//
// Configuration can be provided via:
//   - Environment variables (highest priority for the Docker Hub credential
//     pair, per the contract in spec.md §6; PROXY_ prefix for everything else)
//   - Configuration file (YAML or JSON)
//
// Registry table overrides:
//
//	registries:
//	  quay: quay.internal.example.com
//	  mirror: registry.mirror.example.com
//
// Docker Hub credentials (put real values in the environment, not the file):
//
//	docker_hub:
//	  username: ""
//	  password: ""
//
// See config.example.yaml in the repository root for a complete example.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the proxy server.
type Config struct {
	// Listen is the address to listen on (e.g., ":8080", "127.0.0.1:8080").
	Listen string `json:"listen" yaml:"listen"`

	// Log configures logging.
	Log LogConfig `json:"log" yaml:"log"`

	// Registries overrides or adds entries to the built-in Registry Table.
	Registries map[string]string `json:"registries" yaml:"registries"`

	// DockerHub holds the optional Docker Hub basic-auth pair.
	DockerHub DockerHubConfig `json:"docker_hub" yaml:"docker_hub"`

	// Blob configures the Blob Pipeline.
	Blob BlobConfig `json:"blob" yaml:"blob"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `json:"level" yaml:"level"`

	// Format is the log format: "text" or "json".
	Format string `json:"format" yaml:"format"`
}

// DockerHubConfig holds the optional Docker Hub credential pair and the
// token-cache feature flag.
type DockerHubConfig struct {
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`

	// TokenCacheEnabled turns on the permissible TTL token cache described
	// in spec.md §9's "Token caching" design note. Off by default, which
	// matches the core's "no cross-request caching" behaviour.
	TokenCacheEnabled bool `json:"token_cache_enabled" yaml:"token_cache_enabled"`
}

// BlobConfig configures the Blob Pipeline's bounds and feature flags.
type BlobConfig struct {
	// CDNFallbackEnabled toggles the CDN fall-back sub-routine, per
	// spec.md §9's design note to keep it behind a feature flag.
	CDNFallbackEnabled bool `json:"cdn_fallback_enabled" yaml:"cdn_fallback_enabled"`

	// Timeout overrides the 300s per-attempt upstream timeout.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// MaxRedirects overrides the 10-redirect bound.
	MaxRedirects int `json:"max_redirects" yaml:"max_redirects"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen: ":8080",
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Registries: map[string]string{},
		DockerHub:  DockerHubConfig{},
		Blob: BlobConfig{
			CDNFallbackEnabled: true,
			Timeout:            300 * time.Second,
			MaxRedirects:       10,
		},
	}
}

// Load reads configuration from a file (YAML or JSON).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config: %w", err)
		}
	default:
		// Try YAML first, then JSON
		if err := yaml.Unmarshal(data, cfg); err != nil {
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config (tried YAML and JSON): %w", err)
			}
		}
	}

	return cfg, nil
}

// LoadFromEnv applies environment variable overrides to a Config.
// Environment variables:
//   - PROXY_LISTEN
//   - PROXY_LOG_LEVEL
//   - PROXY_LOG_FORMAT
//   - DOCKER_HUB_USERNAME, DOCKER_HUB_PASSWORD (per spec.md §6 — no PROXY_
//     prefix; these are the exact names the hosting environment sets)
func (c *Config) LoadFromEnv() {
	if v := os.Getenv("PROXY_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("PROXY_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("PROXY_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	if v := os.Getenv("DOCKER_HUB_USERNAME"); v != "" {
		c.DockerHub.Username = v
	}
	if v := os.Getenv("DOCKER_HUB_PASSWORD"); v != "" {
		c.DockerHub.Password = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
		// OK
	default:
		return fmt.Errorf("invalid log level %q (must be debug, info, warn, or error)", c.Log.Level)
	}

	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
		// OK
	default:
		return fmt.Errorf("invalid log format %q (must be text or json)", c.Log.Format)
	}

	if c.Blob.Timeout <= 0 {
		return fmt.Errorf("blob.timeout must be positive")
	}
	if c.Blob.MaxRedirects < 0 {
		return fmt.Errorf("blob.max_redirects must not be negative")
	}

	return nil
}
