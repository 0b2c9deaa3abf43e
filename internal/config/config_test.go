package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// isolate points every config source at a scratch directory so tests
// never read the developer's real config.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("XDG_DATA_HOME", dir)
	t.Setenv("HOME", dir)
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend.BaseURL != "http://localhost:8080/api" {
		t.Errorf("BaseURL = %q", cfg.Backend.BaseURL)
	}
	if cfg.Backend.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", cfg.Backend.MaxRetries)
	}
	if cfg.Backend.Timeout() != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", cfg.Backend.Timeout())
	}
	if cfg.Backend.RetryDelay() != time.Second {
		t.Errorf("RetryDelay = %v, want 1s", cfg.Backend.RetryDelay())
	}
	if cfg.Query.Collection != "default" {
		t.Errorf("Collection = %q", cfg.Query.Collection)
	}
	if cfg.Query.CacheTTL() != 5*time.Minute {
		t.Errorf("CacheTTL = %v, want 5m", cfg.Query.CacheTTL())
	}
	if cfg.Server.Port != 4600 {
		t.Errorf("Port = %d, want 4600", cfg.Server.Port)
	}
	if cfg.Pipeline.Local {
		t.Error("Local = true by default")
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("DOCDECK_BACKEND_BASE_URL", "https://api.example.com/v1")
	t.Setenv("DOCDECK_BACKEND_MAX_RETRIES", "5")
	t.Setenv("DOCDECK_QUERY_COLLECTION", "legal")
	t.Setenv("DOCDECK_PIPELINE_LOCAL", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend.BaseURL != "https://api.example.com/v1" {
		t.Errorf("BaseURL = %q", cfg.Backend.BaseURL)
	}
	if cfg.Backend.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d, want 5", cfg.Backend.MaxRetries)
	}
	if cfg.Query.Collection != "legal" {
		t.Errorf("Collection = %q, want legal", cfg.Query.Collection)
	}
	if !cfg.Pipeline.Local {
		t.Error("Local = false, want env override")
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := isolate(t)

	cfgDir := filepath.Join(dir, "docdeck")
	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	yaml := []byte("backend:\n  base_url: http://staging:9000/api\nserver:\n  port: 7777\n")
	if err := os.WriteFile(filepath.Join(cfgDir, "config.yaml"), yaml, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Backend.BaseURL != "http://staging:9000/api" {
		t.Errorf("BaseURL = %q", cfg.Backend.BaseURL)
	}
	if cfg.Server.Port != 7777 {
		t.Errorf("Port = %d, want 7777", cfg.Server.Port)
	}
	// File values lose to environment.
	t.Setenv("DOCDECK_SERVER_PORT", "8888")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8888 {
		t.Errorf("Port = %d, want env override 8888", cfg.Server.Port)
	}
}

func TestLoad_RejectsBadFailureRate(t *testing.T) {
	isolate(t)
	t.Setenv("DOCDECK_PIPELINE_FAILURE_RATE", "1.5")
	if _, err := Load(); err == nil {
		t.Fatal("Load accepted failure_rate 1.5")
	}
}
