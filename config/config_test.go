package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestLoadOrCreateCreatesAndReloadsConfig(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv("SMSRELAY_DATA_DIR", tempDir)

	firstCfg, firstPath, err := LoadOrCreate()
	if err != nil {
		t.Fatalf("first LoadOrCreate failed: %v", err)
	}
	if firstCfg.DeviceID <= 0 {
		t.Fatalf("expected positive device ID, got %d", firstCfg.DeviceID)
	}
	if firstCfg.RelayURL != DefaultRelayURL {
		t.Fatalf("expected default relay URL %q, got %q", DefaultRelayURL, firstCfg.RelayURL)
	}
	if firstCfg.OutboxInterval != DefaultOutboxInterval {
		t.Fatalf("expected default outbox interval, got %s", firstCfg.OutboxInterval)
	}
	if firstCfg.Linked() {
		t.Fatalf("fresh config must not report a linked account")
	}

	expectedConfigPath := filepath.Join(tempDir, "config.yaml")
	if firstPath != expectedConfigPath {
		t.Fatalf("expected config path %q, got %q", expectedConfigPath, firstPath)
	}

	secondCfg, secondPath, err := LoadOrCreate()
	if err != nil {
		t.Fatalf("second LoadOrCreate failed: %v", err)
	}
	if secondPath != firstPath {
		t.Fatalf("expected config path to be stable, got %q then %q", firstPath, secondPath)
	}
	if secondCfg.DeviceID != firstCfg.DeviceID {
		t.Fatalf("expected stable device ID, got %d then %d", firstCfg.DeviceID, secondCfg.DeviceID)
	}
	if secondCfg.DatabasePath != firstCfg.DatabasePath {
		t.Fatalf("expected stable database path, got %q then %q", firstCfg.DatabasePath, secondCfg.DatabasePath)
	}
}

func TestLoadOrCreateKeepsCredentialsAndFillsMissingDefaults(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv("SMSRELAY_DATA_DIR", tempDir)
	if err := EnsureDataDirectories(tempDir); err != nil {
		t.Fatalf("EnsureDataDirectories failed: %v", err)
	}

	partial := &DeviceConfig{
		AccountID:      "acct-1",
		DeviceID:       42,
		Primary:        true,
		PassHash:       "hash",
		Salt:           "salt",
		OutboxInterval: time.Minute,
	}
	if err := Save(ConfigPath(tempDir), partial); err != nil {
		t.Fatalf("Save partial config failed: %v", err)
	}

	cfg, _, err := LoadOrCreate()
	if err != nil {
		t.Fatalf("LoadOrCreate failed: %v", err)
	}
	if !cfg.Linked() || !cfg.Primary {
		t.Fatalf("expected linked primary config, got %+v", cfg)
	}
	if cfg.DeviceID != 42 {
		t.Fatalf("expected device ID to be retained, got %d", cfg.DeviceID)
	}
	if cfg.OutboxInterval != time.Minute {
		t.Fatalf("expected outbox interval to be retained, got %s", cfg.OutboxInterval)
	}
	if cfg.MediaWorkers != DefaultMediaWorkers {
		t.Fatalf("expected default media workers, got %d", cfg.MediaWorkers)
	}
	if cfg.MediaDir != filepath.Join(tempDir, "media") {
		t.Fatalf("unexpected media dir %q", cfg.MediaDir)
	}
}

func TestNewDeviceIDIsPositive(t *testing.T) {
	for i := 0; i < 64; i++ {
		if id := NewDeviceID(); id <= 0 {
			t.Fatalf("expected positive device id, got %d", id)
		}
	}
}
