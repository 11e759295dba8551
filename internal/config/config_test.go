package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := defaults()

	if cfg.Instance.Domain != "localhost" {
		t.Errorf("default domain = %q, want %q", cfg.Instance.Domain, "localhost")
	}
	if cfg.Instance.FederationMode != "closed" {
		t.Errorf("default federation_mode = %q, want %q", cfg.Instance.FederationMode, "closed")
	}
	if cfg.Store.Path != "./harbor.db" {
		t.Errorf("default store.path = %q, want %q", cfg.Store.Path, "./harbor.db")
	}
	if cfg.HTTP.Listen != "0.0.0.0:8080" {
		t.Errorf("default http.listen = %q, want %q", cfg.HTTP.Listen, "0.0.0.0:8080")
	}
	if cfg.RateLimit.Burst != 20 {
		t.Errorf("default ratelimit.burst = %d, want 20", cfg.RateLimit.Burst)
	}
}

func TestLoad_NoFileWritesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load of missing file should use defaults, got error: %v", err)
	}
	if cfg.Instance.Domain != "localhost" {
		t.Errorf("domain = %q, want %q", cfg.Instance.Domain, "localhost")
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected Load to write defaults back to %q: %v", path, err)
	}
}

func TestLoad_ValidTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[instance]
domain = "test.example.com"
name = "Test Instance"
federation_mode = "open"

[store]
path = "/var/lib/harbor/data.db"

[http]
listen = "127.0.0.1:9090"
cors_origins = ["https://test.example.com"]
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing test config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if cfg.Instance.Domain != "test.example.com" {
		t.Errorf("domain = %q, want %q", cfg.Instance.Domain, "test.example.com")
	}
	if cfg.Instance.FederationMode != "open" {
		t.Errorf("federation_mode = %q, want %q", cfg.Instance.FederationMode, "open")
	}
	if cfg.Store.Path != "/var/lib/harbor/data.db" {
		t.Errorf("store.path = %q, want %q", cfg.Store.Path, "/var/lib/harbor/data.db")
	}
	// Values not in TOML should retain defaults.
	if cfg.NATS.URL != "nats://localhost:4222" {
		t.Errorf("nats.url = %q, want default", cfg.NATS.URL)
	}
}

func TestLoad_InvalidTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("not valid toml [[["), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	if err == nil {
		t.Fatal("Load should fail on invalid TOML")
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			"invalid federation mode",
			`[instance]
domain = "test.com"
federation_mode = "invalid"`,
		},
		{
			"invalid log level",
			`[logging]
level = "trace"`,
		},
		{
			"invalid log format",
			`[logging]
format = "xml"`,
		},
		{
			"empty store path",
			`[store]
path = ""`,
		},
		{
			"zero ratelimit burst",
			`[ratelimit]
burst = 0`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "config.toml")
			if err := os.WriteFile(path, []byte(tc.content), 0644); err != nil {
				t.Fatal(err)
			}
			_, err := Load(path)
			if err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HARBOR_INSTANCE_DOMAIN", "env.example.com")
	t.Setenv("HARBOR_STORE_PATH", "/data/env.db")
	t.Setenv("HARBOR_RATELIMIT_DISABLED", "true")
	t.Setenv("HARBOR_RATELIMIT_BURST", "50")

	cfg, err := Load(filepath.Join(t.TempDir(), "config.toml"))
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}

	if cfg.Instance.Domain != "env.example.com" {
		t.Errorf("domain = %q, want %q", cfg.Instance.Domain, "env.example.com")
	}
	if cfg.Store.Path != "/data/env.db" {
		t.Errorf("store.path = %q, want %q", cfg.Store.Path, "/data/env.db")
	}
	if !cfg.RateLimit.Disabled {
		t.Error("ratelimit should be disabled via env")
	}
	if cfg.RateLimit.Burst != 50 {
		t.Errorf("ratelimit.burst = %d, want 50", cfg.RateLimit.Burst)
	}
}

func TestHeartbeatIntervalParsed(t *testing.T) {
	cfg := WebSocketConfig{HeartbeatInterval: "30s"}
	d, err := cfg.HeartbeatIntervalParsed()
	if err != nil {
		t.Fatalf("HeartbeatIntervalParsed error: %v", err)
	}
	if d.Seconds() != 30 {
		t.Errorf("duration = %v, want 30s", d)
	}
}

func TestHeartbeatIntervalParsed_Invalid(t *testing.T) {
	cfg := WebSocketConfig{HeartbeatInterval: "not-a-duration"}
	_, err := cfg.HeartbeatIntervalParsed()
	if err == nil {
		t.Fatal("expected error for invalid duration")
	}
}
