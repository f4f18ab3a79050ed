package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadParsesSettings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := `ListenAddress = "0.0.0.0:9000"
DataDir = "./data"
NetworkName = "testnet"
EventLogSize = 128
LogFile = "./vaultswap.log"
LogMaxSizeMB = 16
LogMaxBackups = 3
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != "0.0.0.0:9000" {
		t.Fatalf("unexpected listen address %q", cfg.ListenAddress)
	}
	if cfg.DataDir != "./data" {
		t.Fatalf("unexpected data dir %q", cfg.DataDir)
	}
	if cfg.NetworkName != "testnet" {
		t.Fatalf("unexpected network name %q", cfg.NetworkName)
	}
	if cfg.EventLogSize != 128 {
		t.Fatalf("unexpected event log size %d", cfg.EventLogSize)
	}
	if cfg.LogFile != "./vaultswap.log" || cfg.LogMaxSizeMB != 16 || cfg.LogMaxBackups != 3 {
		t.Fatalf("unexpected log settings %+v", cfg)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(""), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != "127.0.0.1:8645" {
		t.Fatalf("unexpected default listen address %q", cfg.ListenAddress)
	}
	if cfg.NetworkName != "vaultswap-local" {
		t.Fatalf("unexpected default network name %q", cfg.NetworkName)
	}
	if cfg.EventLogSize != 4096 {
		t.Fatalf("unexpected default event log size %d", cfg.EventLogSize)
	}
}

func TestLoadCreatesDefaultFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress == "" || cfg.DataDir == "" {
		t.Fatalf("expected defaults in created config, got %+v", cfg)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected config file written: %v", err)
	}
}

func TestLoadRejectsUnknownField(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("Bogus = true\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestLoadRejectsMalformedListenAddress(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("ListenAddress = \"localhost\"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for malformed listen address")
	}
}
