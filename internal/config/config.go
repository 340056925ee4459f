package config

import (
	"fmt"
	"time"
)

// Mode selects how queries are executed against the agent CLI.
type Mode string

const (
	// ModeBatch spawns one CLI process per query.
	ModeBatch Mode = "batch"
	// ModeInteractive holds one persistent CLI session across queries.
	ModeInteractive Mode = "interactive"
)

// ConfigurationError reports an invalid required option.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// Config is the full runtime configuration.
type Config struct {
	// CLI
	CLIPath        string        `json:"cli_path" mapstructure:"cli_path"`
	Mode           Mode          `json:"mode" mapstructure:"mode"`
	ExtraArgs      []string      `json:"extra_args" mapstructure:"extra_args"`
	DefaultTimeout time.Duration `json:"default_timeout" mapstructure:"default_timeout"`
	ReadyTimeout   time.Duration `json:"ready_timeout" mapstructure:"ready_timeout"`
	MaxRetries     int           `json:"max_retries" mapstructure:"max_retries"`

	// Auth forwarding. The credential collaborator resolves these; we only
	// overlay them onto the child process environment when enabled.
	ForwardAuthEnv bool              `json:"forward_auth_env" mapstructure:"forward_auth_env"`
	AuthEnv        map[string]string `json:"auth_env" mapstructure:"auth_env"`

	Backpressure BackpressureConfig `json:"backpressure" mapstructure:"backpressure"`
	Transcript   TranscriptConfig   `json:"transcript" mapstructure:"transcript"`
	Gateway      GatewayConfig      `json:"gateway" mapstructure:"gateway"`
	Sweep        SweepConfig        `json:"sweep" mapstructure:"sweep"`
	Logging      LoggingConfig      `json:"logging" mapstructure:"logging"`
}

// BackpressureConfig bounds in-flight decoded messages.
type BackpressureConfig struct {
	Capacity      int     `json:"capacity" mapstructure:"capacity"`
	Strategy      string  `json:"strategy" mapstructure:"strategy"` // block, drop_oldest, drop_latest, buffer
	HighWatermark float64 `json:"high_watermark" mapstructure:"high_watermark"`
	LowWatermark  float64 `json:"low_watermark" mapstructure:"low_watermark"`
}

// TranscriptConfig controls message persistence.
type TranscriptConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Path    string `json:"path" mapstructure:"path"`
}

// GatewayConfig controls the websocket event tap.
type GatewayConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Addr    string `json:"addr" mapstructure:"addr"`
}

// SweepConfig controls expiry of terminal stream records.
type SweepConfig struct {
	Schedule string        `json:"schedule" mapstructure:"schedule"` // cron expression
	MaxAge   time.Duration `json:"max_age" mapstructure:"max_age"`
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	Level   string `json:"level" mapstructure:"level"`
	File    string `json:"file" mapstructure:"file"`
	Console bool   `json:"console" mapstructure:"console"`
	Pretty  bool   `json:"pretty" mapstructure:"pretty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		CLIPath:        "claude",
		Mode:           ModeBatch,
		DefaultTimeout: 10 * time.Minute,
		ReadyTimeout:   15 * time.Second,
		MaxRetries:     3,
		Backpressure: BackpressureConfig{
			Capacity:      256,
			Strategy:      "block",
			HighWatermark: 0.8,
			LowWatermark:  0.3,
		},
		Sweep: SweepConfig{
			Schedule: "@every 5m",
			MaxAge:   30 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			Pretty:  true,
		},
	}
}

// Validate checks required options.
func (c *Config) Validate() error {
	if c.CLIPath == "" {
		return &ConfigurationError{Field: "cli_path", Reason: "cannot be empty"}
	}
	if c.Mode != ModeBatch && c.Mode != ModeInteractive {
		return &ConfigurationError{Field: "mode", Reason: fmt.Sprintf("must be %q or %q, got %q", ModeBatch, ModeInteractive, c.Mode)}
	}
	if c.DefaultTimeout <= 0 {
		return &ConfigurationError{Field: "default_timeout", Reason: "must be positive"}
	}
	if c.ReadyTimeout <= 0 {
		return &ConfigurationError{Field: "ready_timeout", Reason: "must be positive"}
	}
	if c.MaxRetries < 0 {
		return &ConfigurationError{Field: "max_retries", Reason: "cannot be negative"}
	}
	if c.Backpressure.Capacity <= 0 {
		return &ConfigurationError{Field: "backpressure.capacity", Reason: "must be positive"}
	}
	switch c.Backpressure.Strategy {
	case "block", "drop_oldest", "drop_latest", "buffer":
	default:
		return &ConfigurationError{Field: "backpressure.strategy", Reason: fmt.Sprintf("unknown strategy %q", c.Backpressure.Strategy)}
	}
	if c.Backpressure.LowWatermark >= c.Backpressure.HighWatermark {
		return &ConfigurationError{Field: "backpressure.low_watermark", Reason: "must be below high_watermark"}
	}
	if c.Transcript.Enabled && c.Transcript.Path == "" {
		return &ConfigurationError{Field: "transcript.path", Reason: "required when transcript is enabled"}
	}
	if c.Gateway.Enabled && c.Gateway.Addr == "" {
		return &ConfigurationError{Field: "gateway.addr", Reason: "required when gateway is enabled"}
	}
	return nil
}
