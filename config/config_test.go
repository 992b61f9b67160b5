package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsWithoutFile(t *testing.T) {
	// Run from a temp dir so no stray configs/config.yaml is picked up.
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:8080", cfg.Addr())
	assert.Equal(t, 10000.0, cfg.Trading.StartingBalance)
	assert.Equal(t, 0.05, cfg.Trading.SlippageCap)
	assert.Equal(t, 5*time.Second, cfg.Simulator.PriceInterval)
	assert.Equal(t, 2*time.Second, cfg.Simulator.BookInterval)
	assert.Equal(t, 15, cfg.Simulator.Depth)
	assert.Equal(t, 256, cfg.Bus.QueueLimit)
	assert.True(t, cfg.Simulator.Enabled)
	assert.Empty(t, cfg.Database.DSN)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9999
trading:
  starting_balance: 500
simulator:
  enabled: false
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, 500.0, cfg.Trading.StartingBalance)
	assert.False(t, cfg.Simulator.Enabled)
	// Untouched keys keep their defaults.
	assert.Equal(t, 128, cfg.Trading.QueueSize)
}

func TestMissingExplicitFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("EXCHANGE_JWT_SECRET", "from-env")
	t.Setenv("EXCHANGE_DATABASE_DSN", "postgres://env")

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
	assert.Equal(t, "postgres://env", cfg.Database.DSN)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"empty secret", func(c *Config) { c.Auth.JWTSecret = "" }},
		{"negative balance", func(c *Config) { c.Trading.StartingBalance = -1 }},
		{"slippage too big", func(c *Config) { c.Trading.SlippageCap = 1.5 }},
		{"zero queue", func(c *Config) { c.Trading.QueueSize = 0 }},
		{"zero depth", func(c *Config) { c.Simulator.Depth = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wd, err := os.Getwd()
			require.NoError(t, err)
			require.NoError(t, os.Chdir(t.TempDir()))
			t.Cleanup(func() { _ = os.Chdir(wd) })

			cfg, err := Load("")
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
