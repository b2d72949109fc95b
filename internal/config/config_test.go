package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	require.Equal(t, 256, cfg.Ingest.QueueCapacity)
	require.Equal(t, 64, cfg.Ingest.BatchSize)
	require.Equal(t, 50, cfg.Relay.BatchSize)
	require.Equal(t, 30, cfg.Relay.RetentionDays)
	require.Equal(t, "pii:device_id", cfg.Crypto.KeyLabel)
	require.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadAppliesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "biovault.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[store]
path = "/tmp/custom.db"

[ingest]
batch_size = 16

[logging]
level = "debug"
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/tmp/custom.db", cfg.Store.Path)
	require.Equal(t, 16, cfg.Ingest.BatchSize)
	require.Equal(t, "debug", cfg.Logging.Level)

	// Untouched sections keep their defaults.
	require.Equal(t, 256, cfg.Ingest.QueueCapacity)
	require.Equal(t, 30, cfg.Relay.RetentionDays)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	require.NoError(t, err)
	require.Equal(t, DefaultConfig().Ingest, cfg.Ingest)
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "biovault.toml")
	require.NoError(t, os.WriteFile(path, []byte(`store = {`), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadEnvOverridesDBPath(t *testing.T) {
	t.Setenv("BIOVAULT_DB", "/tmp/env-override.db")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "/tmp/env-override.db", cfg.Store.Path)
}

func TestLoadConfigPathFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "biovault.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[ingest]
queue_capacity = 512
`), 0o600))
	t.Setenv("BIOVAULT_CONFIG", path)

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 512, cfg.Ingest.QueueCapacity)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty store path", func(c *Config) { c.Store.Path = "" }},
		{"zero queue capacity", func(c *Config) { c.Ingest.QueueCapacity = 0 }},
		{"negative batch size", func(c *Config) { c.Ingest.BatchSize = -1 }},
		{"zero relay batch", func(c *Config) { c.Relay.BatchSize = 0 }},
		{"zero retention", func(c *Config) { c.Relay.RetentionDays = 0 }},
		{"empty key label", func(c *Config) { c.Crypto.KeyLabel = "" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}
