package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

// setupTestHome points HOME at a temporary directory for the test.
func setupTestHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	return home
}

// writeConfig writes a config file into the allowed directory.
func writeConfig(t *testing.T, home, content string, perm os.FileMode) string {
	t.Helper()
	configDir := filepath.Join(home, ".config", "remedyd")
	if err := os.MkdirAll(configDir, 0700); err != nil {
		t.Fatalf("Failed to create config dir: %v", err)
	}
	path := filepath.Join(configDir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), perm); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidYAML(t *testing.T) {
	home := setupTestHome(t)
	path := writeConfig(t, home, `server:
  http_port: 8088
  shutdown_timeout: 3s

storage:
  driver: sqlite
  dsn: /tmp/remedyd-test.db

jobs:
  max_concurrent_per_tenant: 7
  max_active_age: 30m
  sweep_interval: 1m

remediation:
  default_language: fr
`, 0600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v, want nil", err)
	}

	if cfg.Server.Port != 8088 {
		t.Errorf("Server.Port = %d, want 8088", cfg.Server.Port)
	}
	if cfg.Server.ShutdownTimeout != 3*time.Second {
		t.Errorf("Server.ShutdownTimeout = %v, want 3s", cfg.Server.ShutdownTimeout)
	}
	if cfg.Storage.DSN.Value() != "/tmp/remedyd-test.db" {
		t.Errorf("Storage.DSN = %q, want /tmp/remedyd-test.db", cfg.Storage.DSN.Value())
	}
	if cfg.Jobs.MaxConcurrentPerTenant != 7 {
		t.Errorf("Jobs.MaxConcurrentPerTenant = %d, want 7", cfg.Jobs.MaxConcurrentPerTenant)
	}
	if cfg.Jobs.MaxActiveAge != 30*time.Minute {
		t.Errorf("Jobs.MaxActiveAge = %v, want 30m", cfg.Jobs.MaxActiveAge)
	}
	if cfg.Remediation.DefaultLanguage != "fr" {
		t.Errorf("Remediation.DefaultLanguage = %q, want fr", cfg.Remediation.DefaultLanguage)
	}
}

func TestLoad_EnvironmentOverride(t *testing.T) {
	home := setupTestHome(t)
	path := writeConfig(t, home, `server:
  http_port: 8088
jobs:
  max_concurrent_per_tenant: 2
`, 0600)

	t.Setenv("REMEDYD_SERVER_HTTP_PORT", "7777")
	t.Setenv("REMEDYD_JOBS_MAX_CONCURRENT_PER_TENANT", "9")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v, want nil", err)
	}

	if cfg.Server.Port != 7777 {
		t.Errorf("Server.Port = %d, want 7777 (from env override)", cfg.Server.Port)
	}
	if cfg.Jobs.MaxConcurrentPerTenant != 9 {
		t.Errorf("Jobs.MaxConcurrentPerTenant = %d, want 9 (from env override)", cfg.Jobs.MaxConcurrentPerTenant)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	home := setupTestHome(t)
	path := filepath.Join(home, ".config", "remedyd", "config.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() should not error on missing file, got: %v", err)
	}

	if cfg.Storage.Driver != "sqlite" {
		t.Errorf("Storage.Driver = %q, want sqlite", cfg.Storage.Driver)
	}
	if cfg.Jobs.MaxConcurrentPerTenant != 3 {
		t.Errorf("Jobs.MaxConcurrentPerTenant = %d, want 3", cfg.Jobs.MaxConcurrentPerTenant)
	}
	if cfg.NATS.SubjectPrefix != "remediation" {
		t.Errorf("NATS.SubjectPrefix = %q, want remediation", cfg.NATS.SubjectPrefix)
	}
	if !cfg.Storage.DSN.IsSet() {
		t.Error("Storage.DSN should default to a sqlite path")
	}
}

func TestLoad_RejectsPathOutsideAllowedDirs(t *testing.T) {
	setupTestHome(t)
	path := filepath.Join(t.TempDir(), "config.yaml")

	if _, err := Load(path); err == nil {
		t.Error("Load() should reject config outside allowed directories")
	}
}

func TestLoad_RejectsInsecurePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission model differs on windows")
	}
	home := setupTestHome(t)
	path := writeConfig(t, home, "server:\n  http_port: 8088\n", 0644)

	if _, err := Load(path); err == nil {
		t.Error("Load() should reject world-readable config")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	home := setupTestHome(t)
	path := writeConfig(t, home, "server:\n  http_port: [\n", 0600)

	if _, err := Load(path); err == nil {
		t.Error("Load() should error on invalid YAML")
	}
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"REMEDYD_SERVER_HTTP_PORT":               "server.http_port",
		"REMEDYD_STORAGE_DSN":                    "storage.dsn",
		"REMEDYD_JOBS_MAX_CONCURRENT_PER_TENANT": "jobs.max_concurrent_per_tenant",
		"REMEDYD_VERBOSE":                        "verbose",
	}
	for in, want := range tests {
		if got := envKey(in); got != want {
			t.Errorf("envKey(%q) = %q, want %q", in, got, want)
		}
	}
}
