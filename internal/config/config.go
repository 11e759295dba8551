// Package config handles TOML configuration parsing for Harbor. It loads
// configuration from config.toml, applies environment variable overrides
// (prefixed with HARBOR_), validates required fields, and provides sane
// defaults for all settings. A config file that does not exist yet is
// created with defaults the first time Load runs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config is the top-level configuration for a Harbor instance.
type Config struct {
	Instance   InstanceConfig   `toml:"instance"`
	Store      StoreConfig      `toml:"store"`
	NATS       NATSConfig       `toml:"nats"`
	Federation FederationConfig `toml:"federation"`
	RateLimit  RateLimitConfig  `toml:"ratelimit"`
	HTTP       HTTPConfig       `toml:"http"`
	WebSocket  WebSocketConfig  `toml:"websocket"`
	Logging    LoggingConfig    `toml:"logging"`
}

// InstanceConfig defines the identity of this Harbor instance.
type InstanceConfig struct {
	Domain         string `toml:"domain"`
	Name           string `toml:"name"`
	Description    string `toml:"description"`
	FederationMode string `toml:"federation_mode"`
}

// StoreConfig defines the embedded bbolt database's on-disk location.
type StoreConfig struct {
	Path string `toml:"path"`
}

// NATSConfig defines NATS message broker connection settings for the
// federation outbound queue.
type NATSConfig struct {
	URL string `toml:"url"`
}

// FederationConfig defines the local federation identity's key material.
type FederationConfig struct {
	KeyPath string `toml:"key_path"`
}

// RateLimitConfig defines the per-session token bucket applied to RPC
// calls. A bucket holds Burst tokens and refills fully every RefillSeconds.
type RateLimitConfig struct {
	Disabled      bool `toml:"disabled"`
	Burst         int  `toml:"burst"`
	RefillSeconds int  `toml:"refill_seconds"`
}

// HTTPConfig defines the RPC API HTTP server settings.
type HTTPConfig struct {
	Listen      string   `toml:"listen"`
	CORSOrigins []string `toml:"cors_origins"`
}

// WebSocketConfig defines the streaming gateway's keepalive settings. The
// gateway itself is mounted on the same listener as the rest of the API
// (GET /gateway), not a separate port.
type WebSocketConfig struct {
	HeartbeatInterval string `toml:"heartbeat_interval"`
	HeartbeatTimeout  string `toml:"heartbeat_timeout"`
}

// HeartbeatIntervalParsed returns the heartbeat interval as a time.Duration.
func (w WebSocketConfig) HeartbeatIntervalParsed() (time.Duration, error) {
	d, err := time.ParseDuration(w.HeartbeatInterval)
	if err != nil {
		return 0, fmt.Errorf("parsing heartbeat_interval %q: %w", w.HeartbeatInterval, err)
	}
	return d, nil
}

// HeartbeatTimeoutParsed returns the heartbeat timeout as a time.Duration.
func (w WebSocketConfig) HeartbeatTimeoutParsed() (time.Duration, error) {
	d, err := time.ParseDuration(w.HeartbeatTimeout)
	if err != nil {
		return 0, fmt.Errorf("parsing heartbeat_timeout %q: %w", w.HeartbeatTimeout, err)
	}
	return d, nil
}

// LoggingConfig defines structured logging settings.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// defaults returns a Config with sane default values for all fields.
func defaults() Config {
	return Config{
		Instance: InstanceConfig{
			Domain:         "localhost",
			Name:           "Harbor",
			FederationMode: "closed",
		},
		Store: StoreConfig{
			Path: "./harbor.db",
		},
		NATS: NATSConfig{
			URL: "nats://localhost:4222",
		},
		Federation: FederationConfig{
			KeyPath: "./federation.key",
		},
		RateLimit: RateLimitConfig{
			Disabled:      false,
			Burst:         20,
			RefillSeconds: 10,
		},
		HTTP: HTTPConfig{
			Listen:      "0.0.0.0:8080",
			CORSOrigins: []string{"*"},
		},
		WebSocket: WebSocketConfig{
			HeartbeatInterval: "30s",
			HeartbeatTimeout:  "90s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the configuration from the given TOML file path, applies
// defaults for missing values, and then applies environment variable
// overrides. If path does not exist, defaults are written there so the
// operator has something to edit on the next run.
func Load(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config file %q: %w", path, err)
		}
		if writeErr := writeDefaults(path, &cfg); writeErr != nil {
			return nil, writeErr
		}
		applyEnvOverrides(&cfg)
		deriveDefaults(&cfg)
		if err := validate(&cfg); err != nil {
			return nil, err
		}
		return &cfg, nil
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}

	applyEnvOverrides(&cfg)
	deriveDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// writeDefaults serializes cfg as TOML and writes it to path, so a first
// run leaves behind an editable config file instead of only defaults held
// in memory.
func writeDefaults(path string, cfg *Config) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling default config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing default config file %q: %w", path, err)
	}
	return nil
}

// applyEnvOverrides overrides config fields with environment variables when
// set. Environment variables use the prefix HARBOR_ followed by the
// section and field name in uppercase with underscores (e.g.
// HARBOR_STORE_PATH).
func applyEnvOverrides(cfg *Config) {
	// Instance
	if v := os.Getenv("HARBOR_INSTANCE_DOMAIN"); v != "" {
		cfg.Instance.Domain = v
	}
	if v := os.Getenv("HARBOR_INSTANCE_NAME"); v != "" {
		cfg.Instance.Name = v
	}
	if v := os.Getenv("HARBOR_INSTANCE_DESCRIPTION"); v != "" {
		cfg.Instance.Description = v
	}
	if v := os.Getenv("HARBOR_INSTANCE_FEDERATION_MODE"); v != "" {
		cfg.Instance.FederationMode = v
	}

	// Store
	if v := os.Getenv("HARBOR_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}

	// NATS
	if v := os.Getenv("HARBOR_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}

	// Federation
	if v := os.Getenv("HARBOR_FEDERATION_KEY_PATH"); v != "" {
		cfg.Federation.KeyPath = v
	}

	// Rate limit
	if v := os.Getenv("HARBOR_RATELIMIT_DISABLED"); v != "" {
		cfg.RateLimit.Disabled = v == "true" || v == "1"
	}
	if v := os.Getenv("HARBOR_RATELIMIT_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit.Burst = n
		}
	}
	if v := os.Getenv("HARBOR_RATELIMIT_REFILL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit.RefillSeconds = n
		}
	}

	// HTTP
	if v := os.Getenv("HARBOR_HTTP_LISTEN"); v != "" {
		cfg.HTTP.Listen = v
	}
	if v := os.Getenv("HARBOR_HTTP_CORS_ORIGINS"); v != "" {
		cfg.HTTP.CORSOrigins = strings.Split(v, ",")
	}

	// WebSocket
	if v := os.Getenv("HARBOR_WEBSOCKET_HEARTBEAT_INTERVAL"); v != "" {
		cfg.WebSocket.HeartbeatInterval = v
	}
	if v := os.Getenv("HARBOR_WEBSOCKET_HEARTBEAT_TIMEOUT"); v != "" {
		cfg.WebSocket.HeartbeatTimeout = v
	}

	// Logging
	if v := os.Getenv("HARBOR_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("HARBOR_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

// deriveDefaults fills in config values that can be inferred from other
// settings. Called after env overrides so that explicitly set values are
// not overwritten.
func deriveDefaults(cfg *Config) {
	if len(cfg.HTTP.CORSOrigins) == 0 {
		cfg.HTTP.CORSOrigins = []string{"*"}
	}
}

// validate checks that required configuration fields are present and valid.
func validate(cfg *Config) error {
	if cfg.Instance.Domain == "" {
		return fmt.Errorf("config: instance.domain is required")
	}

	validFedModes := map[string]bool{"open": true, "allowlist": true, "closed": true}
	if !validFedModes[cfg.Instance.FederationMode] {
		return fmt.Errorf("config: instance.federation_mode must be one of: open, allowlist, closed (got %q)", cfg.Instance.FederationMode)
	}

	if cfg.Store.Path == "" {
		return fmt.Errorf("config: store.path is required")
	}

	if cfg.NATS.URL == "" {
		return fmt.Errorf("config: nats.url is required")
	}

	if cfg.Federation.KeyPath == "" {
		return fmt.Errorf("config: federation.key_path is required")
	}

	if cfg.RateLimit.Burst < 1 {
		return fmt.Errorf("config: ratelimit.burst must be at least 1")
	}
	if cfg.RateLimit.RefillSeconds < 1 {
		return fmt.Errorf("config: ratelimit.refill_seconds must be at least 1")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("config: logging.level must be one of: debug, info, warn, error (got %q)", cfg.Logging.Level)
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[cfg.Logging.Format] {
		return fmt.Errorf("config: logging.format must be one of: json, text (got %q)", cfg.Logging.Format)
	}

	if _, err := cfg.WebSocket.HeartbeatIntervalParsed(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := cfg.WebSocket.HeartbeatTimeoutParsed(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	if cfg.HTTP.Listen == "" {
		return fmt.Errorf("config: http.listen is required")
	}

	return nil
}
