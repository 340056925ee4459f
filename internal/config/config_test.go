package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, "claude", cfg.CLIPath)
	assert.Equal(t, ModeBatch, cfg.Mode)
	assert.Equal(t, 10*time.Minute, cfg.DefaultTimeout)
	assert.Equal(t, 15*time.Second, cfg.ReadyTimeout)
	assert.Equal(t, 256, cfg.Backpressure.Capacity)
	assert.Equal(t, "block", cfg.Backpressure.Strategy)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"empty cli path", func(c *Config) { c.CLIPath = "" }, "cli_path"},
		{"unknown mode", func(c *Config) { c.Mode = "turbo" }, "mode"},
		{"zero timeout", func(c *Config) { c.DefaultTimeout = 0 }, "default_timeout"},
		{"zero ready timeout", func(c *Config) { c.ReadyTimeout = 0 }, "ready_timeout"},
		{"negative retries", func(c *Config) { c.MaxRetries = -1 }, "max_retries"},
		{"zero capacity", func(c *Config) { c.Backpressure.Capacity = 0 }, "backpressure.capacity"},
		{"unknown strategy", func(c *Config) { c.Backpressure.Strategy = "panic" }, "backpressure.strategy"},
		{"inverted watermarks", func(c *Config) {
			c.Backpressure.HighWatermark = 0.3
			c.Backpressure.LowWatermark = 0.8
		}, "backpressure.low_watermark"},
		{"transcript without path", func(c *Config) { c.Transcript.Enabled = true }, "transcript.path"},
		{"gateway without addr", func(c *Config) { c.Gateway.Enabled = true }, "gateway.addr"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()

			var cfgErr *ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.field, cfgErr.Field)
		})
	}
}

func TestConfigurationError_Message(t *testing.T) {
	err := &ConfigurationError{Field: "mode", Reason: "unknown"}

	assert.Contains(t, err.Error(), "mode")
	assert.Contains(t, err.Error(), "unknown")
}
