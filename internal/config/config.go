// Package config loads biovault settings from defaults, an optional TOML
// file, and environment overrides, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

const (
	defaultQueueCapacity  = 256
	defaultBatchSize      = 64
	defaultRelayBatchSize = 50
	defaultRetentionDays  = 30
	defaultLogLevel       = "info"
	defaultLogMaxSizeMB   = 10
	defaultLogMaxFiles    = 5
	defaultKeyLabel       = "pii:device_id"

	envConfigPath = "BIOVAULT_CONFIG"
	envDBPath     = "BIOVAULT_DB"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Store   StoreConfig   `toml:"store"`
	Ingest  IngestConfig  `toml:"ingest"`
	Relay   RelayConfig   `toml:"relay"`
	Crypto  CryptoConfig  `toml:"crypto"`
	Logging LoggingConfig `toml:"logging"`
}

type StoreConfig struct {
	Path string `toml:"path"`
}

type IngestConfig struct {
	QueueCapacity int `toml:"queue_capacity"`
	BatchSize     int `toml:"batch_size"`
}

type RelayConfig struct {
	BatchSize     int `toml:"batch_size"`
	RetentionDays int `toml:"retention_days"`
}

type CryptoConfig struct {
	KeyLabel string `toml:"key_label"`
}

type LoggingConfig struct {
	Level     string `toml:"level"`
	File      string `toml:"file"`
	MaxSizeMB int    `toml:"max_size_mb"`
	MaxFiles  int    `toml:"max_files"`
}

func DefaultConfig() Config {
	return Config{
		Store: StoreConfig{
			Path: defaultDBPath(),
		},
		Ingest: IngestConfig{
			QueueCapacity: defaultQueueCapacity,
			BatchSize:     defaultBatchSize,
		},
		Relay: RelayConfig{
			BatchSize:     defaultRelayBatchSize,
			RetentionDays: defaultRetentionDays,
		},
		Crypto: CryptoConfig{
			KeyLabel: defaultKeyLabel,
		},
		Logging: LoggingConfig{
			Level:     defaultLogLevel,
			File:      "",
			MaxSizeMB: defaultLogMaxSizeMB,
			MaxFiles:  defaultLogMaxFiles,
		},
	}
}

// Load resolves the config file path (explicit, then $BIOVAULT_CONFIG, then
// none) and applies it over the defaults. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = os.Getenv(envConfigPath)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := toml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if dbPath := os.Getenv(envDBPath); dbPath != "" {
		cfg.Store.Path = dbPath
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch {
	case c.Store.Path == "":
		return fmt.Errorf("%w: store path must not be empty", ErrInvalidConfig)
	case c.Ingest.QueueCapacity <= 0:
		return fmt.Errorf("%w: ingest queue capacity must be > 0", ErrInvalidConfig)
	case c.Ingest.BatchSize <= 0:
		return fmt.Errorf("%w: ingest batch size must be > 0", ErrInvalidConfig)
	case c.Relay.BatchSize <= 0:
		return fmt.Errorf("%w: relay batch size must be > 0", ErrInvalidConfig)
	case c.Relay.RetentionDays <= 0:
		return fmt.Errorf("%w: relay retention days must be > 0", ErrInvalidConfig)
	case c.Crypto.KeyLabel == "":
		return fmt.Errorf("%w: crypto key label must not be empty", ErrInvalidConfig)
	default:
		return nil
	}
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "biovault.db"
	}
	return filepath.Join(home, ".biovault", "biovault.db")
}
