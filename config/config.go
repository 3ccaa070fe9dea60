package config

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

const (
	// AppDirectoryName is the per-user application data directory name.
	AppDirectoryName = "smsrelay"
	// RelayURLDiscover resolves the relay endpoint over mDNS instead of a fixed URL.
	RelayURLDiscover = "mdns"
	// DefaultRelayURL is used when no relay endpoint is configured.
	DefaultRelayURL = "https://api.messenger.example.com"
	// DefaultOutboxInterval is how often queued relay mutations are replayed.
	DefaultOutboxInterval = 5 * time.Minute
	// DefaultRequestRate caps relay requests per second.
	DefaultRequestRate = 20
	// DefaultMediaWorkers bounds concurrent blob transfers.
	DefaultMediaWorkers = 4
	// configFileName is the persisted configuration file.
	configFileName = "config.yaml"
)

// DeviceConfig contains persistent account and local-device settings.
type DeviceConfig struct {
	AccountID      string        `yaml:"account_id"`
	DeviceID       int64         `yaml:"device_id"`
	DeviceName     string        `yaml:"device_name"`
	Primary        bool          `yaml:"primary"`
	PassHash       string        `yaml:"pass_hash"`
	Salt           string        `yaml:"salt"`
	RelayURL       string        `yaml:"relay_url"`
	LogLevel       string        `yaml:"log_level"`
	MetricsAddr    string        `yaml:"metrics_addr"`
	OutboxInterval time.Duration `yaml:"outbox_interval"`
	RequestRate    float64       `yaml:"request_rate"`
	MediaWorkers   int           `yaml:"media_workers"`
	MediaDir       string        `yaml:"media_dir"`
	DatabasePath   string        `yaml:"database_path"`
	KeyFingerprint string        `yaml:"key_fingerprint"`
}

// ResolveDataDir returns the OS-aware app data directory.
//
// If SMSRELAY_DATA_DIR is set, its value is used as an explicit override.
func ResolveDataDir() (string, error) {
	if override := os.Getenv("SMSRELAY_DATA_DIR"); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(base, AppDirectoryName), nil
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", AppDirectoryName), nil
	default:
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			base = filepath.Join(home, ".config")
		}
		return filepath.Join(base, AppDirectoryName), nil
	}
}

// ConfigPath returns the full path to config.yaml for a data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, configFileName)
}

// EnsureDataDirectories creates the app data directory layout if needed.
func EnsureDataDirectories(dataDir string) error {
	dirs := []string{
		dataDir,
		filepath.Join(dataDir, "media"),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}

	return nil
}

// Load reads and unmarshals config.yaml from disk.
func Load(path string) (*DeviceConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg DeviceConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// Save marshals and writes config.yaml to disk. The file holds the pass hash, so it is 0600.
func Save(path string, cfg *DeviceConfig) error {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// LoadOrCreate ensures directories and config exist, then returns both.
func LoadOrCreate() (*DeviceConfig, string, error) {
	dataDir, err := ResolveDataDir()
	if err != nil {
		return nil, "", err
	}
	if err := EnsureDataDirectories(dataDir); err != nil {
		return nil, "", err
	}

	cfgPath := ConfigPath(dataDir)
	cfg, err := Load(cfgPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", err
		}

		cfg = defaultConfig(dataDir)
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}

		return cfg, cfgPath, nil
	}

	if normalizeDefaults(cfg, dataDir) {
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}
	}

	return cfg, cfgPath, nil
}

// Linked reports whether the config carries the account credentials needed for sync.
func (c *DeviceConfig) Linked() bool {
	return c != nil && c.AccountID != "" && c.PassHash != "" && c.Salt != ""
}

// NewDeviceID returns a positive 53-bit id seeded from a random uuid.
func NewDeviceID() int64 {
	id := uuid.New()
	return int64(binary.BigEndian.Uint64(id[:8]) >> 11)
}

func defaultConfig(dataDir string) *DeviceConfig {
	cfg := &DeviceConfig{}
	normalizeDefaults(cfg, dataDir)
	return cfg
}

func normalizeDefaults(cfg *DeviceConfig, dataDir string) bool {
	updated := false

	if cfg.DeviceID <= 0 {
		cfg.DeviceID = NewDeviceID()
		updated = true
	}

	if cfg.DeviceName == "" {
		deviceName := "SMS Relay Device"
		if host, err := os.Hostname(); err == nil && host != "" {
			deviceName = host
		}
		cfg.DeviceName = deviceName
		updated = true
	}

	if cfg.RelayURL == "" {
		cfg.RelayURL = DefaultRelayURL
		updated = true
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
		updated = true
	}
	if cfg.OutboxInterval <= 0 {
		cfg.OutboxInterval = DefaultOutboxInterval
		updated = true
	}
	if cfg.RequestRate <= 0 {
		cfg.RequestRate = DefaultRequestRate
		updated = true
	}
	if cfg.MediaWorkers <= 0 {
		cfg.MediaWorkers = DefaultMediaWorkers
		updated = true
	}
	if cfg.MediaDir == "" {
		cfg.MediaDir = filepath.Join(dataDir, "media")
		updated = true
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = filepath.Join(dataDir, "messages.db")
		updated = true
	}

	return updated
}
