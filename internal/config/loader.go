package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load loads the configuration from file, layered under CORVID_* environment
// overrides and the built-in defaults.
func (l *Loader) Load() (*Config, error) {
	configPath := l.configPath
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		configPath = filepath.Join(home, ".corvid", "corvid.json")
	}
	l.configPath = configPath

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")
	v.SetEnvPrefix("CORVID")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if _, err := os.Stat(configPath); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Structural validation on the raw document before unmarshalling.
		raw, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := ValidateDocument(raw); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Path returns the resolved config file path. Before Load it reflects the
// path the loader was constructed with, which may be empty.
func (l *Loader) Path() string {
	return l.configPath
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("cli_path", d.CLIPath)
	v.SetDefault("mode", string(d.Mode))
	v.SetDefault("default_timeout", d.DefaultTimeout)
	v.SetDefault("ready_timeout", d.ReadyTimeout)
	v.SetDefault("max_retries", d.MaxRetries)
	v.SetDefault("backpressure.capacity", d.Backpressure.Capacity)
	v.SetDefault("backpressure.strategy", d.Backpressure.Strategy)
	v.SetDefault("backpressure.high_watermark", d.Backpressure.HighWatermark)
	v.SetDefault("backpressure.low_watermark", d.Backpressure.LowWatermark)
	v.SetDefault("sweep.schedule", d.Sweep.Schedule)
	v.SetDefault("sweep.max_age", d.Sweep.MaxAge)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.console", d.Logging.Console)
	v.SetDefault("logging.pretty", d.Logging.Pretty)
}
