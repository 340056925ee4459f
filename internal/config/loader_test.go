package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "corvid.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoader_MissingFileUsesDefaults(t *testing.T) {
	loader := NewLoader(filepath.Join(t.TempDir(), "absent.json"))

	cfg, err := loader.Load()

	require.NoError(t, err)
	assert.Equal(t, "claude", cfg.CLIPath)
	assert.Equal(t, ModeBatch, cfg.Mode)
}

func TestLoader_FileOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, `{
		"cli_path": "/usr/local/bin/claude",
		"mode": "interactive",
		"default_timeout": "5m",
		"extra_args": ["--model", "sonnet"],
		"backpressure": {"capacity": 32, "strategy": "drop_latest"},
		"transcript": {"enabled": true, "path": "/tmp/corvid/transcripts.db"}
	}`)

	cfg, err := NewLoader(path).Load()

	require.NoError(t, err)
	assert.Equal(t, "/usr/local/bin/claude", cfg.CLIPath)
	assert.Equal(t, ModeInteractive, cfg.Mode)
	assert.Equal(t, 5*time.Minute, cfg.DefaultTimeout)
	assert.Equal(t, []string{"--model", "sonnet"}, cfg.ExtraArgs)
	assert.Equal(t, 32, cfg.Backpressure.Capacity)
	assert.Equal(t, "drop_latest", cfg.Backpressure.Strategy)
	assert.True(t, cfg.Transcript.Enabled)

	// Untouched fields keep their defaults.
	assert.Equal(t, 15*time.Second, cfg.ReadyTimeout)
	assert.Equal(t, "@every 5m", cfg.Sweep.Schedule)
}

func TestLoader_RejectsSchemaViolations(t *testing.T) {
	path := writeConfigFile(t, `{"mode": "turbo"}`)

	_, err := NewLoader(path).Load()

	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "document", cfgErr.Field)
}

func TestLoader_RejectsInvalidSemantics(t *testing.T) {
	path := writeConfigFile(t, `{"backpressure": {"capacity": -1}}`)

	_, err := NewLoader(path).Load()

	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "backpressure.capacity", cfgErr.Field)
}

func TestLoader_RejectsMalformedJSON(t *testing.T) {
	path := writeConfigFile(t, `{"cli_path": `)

	_, err := NewLoader(path).Load()

	assert.Error(t, err)
}

func TestLoader_ResolvesDefaultPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	defaultPath := filepath.Join(home, ".corvid", "corvid.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(defaultPath), 0700))
	require.NoError(t, os.WriteFile(defaultPath, []byte(`{"cli_path": "/opt/claude"}`), 0600))

	loader := NewLoader("")
	cfg, err := loader.Load()

	require.NoError(t, err)
	assert.Equal(t, "/opt/claude", cfg.CLIPath)
	assert.Equal(t, defaultPath, loader.Path())
}

func TestValidateDocument(t *testing.T) {
	assert.NoError(t, ValidateDocument([]byte(`{}`)))
	assert.NoError(t, ValidateDocument([]byte(`{"mode": "batch"}`)))
	assert.Error(t, ValidateDocument([]byte(`{"mode": 42}`)))
	assert.Error(t, ValidateDocument([]byte(`{"extra_args": "not an array"}`)))
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	path := writeConfigFile(t, `{"cli_path": "claude"}`)
	loader := NewLoader(path)

	reloaded := make(chan *Config, 1)
	w, err := NewWatcher(loader, func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte(`{"cli_path": "/opt/claude"}`), 0600))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, "/opt/claude", cfg.CLIPath)
	case <-time.After(3 * time.Second):
		t.Fatal("config change never triggered a reload")
	}
}

func TestWatcher_ReloadsDefaultPath(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	path := filepath.Join(home, ".corvid", "corvid.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0700))
	require.NoError(t, os.WriteFile(path, []byte(`{"cli_path": "claude"}`), 0600))

	loader := NewLoader("")
	_, err := loader.Load()
	require.NoError(t, err)

	reloaded := make(chan *Config, 1)
	w, err := NewWatcher(loader, func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte(`{"cli_path": "/opt/claude"}`), 0600))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, "/opt/claude", cfg.CLIPath)
	case <-time.After(3 * time.Second):
		t.Fatal("default config path change never triggered a reload")
	}
}

func TestWatcher_RefusesUnresolvedPath(t *testing.T) {
	w, err := NewWatcher(NewLoader(""), nil)
	require.NoError(t, err)
	defer w.Stop()

	assert.Error(t, w.Start())
}

func TestWatcher_KeepsOldConfigOnBadReload(t *testing.T) {
	path := writeConfigFile(t, `{"cli_path": "claude"}`)
	loader := NewLoader(path)

	reloaded := make(chan *Config, 1)
	w, err := NewWatcher(loader, func(cfg *Config) {
		reloaded <- cfg
	})
	require.NoError(t, err)
	require.NoError(t, w.Start())
	defer w.Stop()

	// Invalid document: the callback must not fire.
	require.NoError(t, os.WriteFile(path, []byte(`{"mode": 42}`), 0600))

	select {
	case <-reloaded:
		t.Fatal("reload callback fired for an invalid document")
	case <-time.After(time.Second):
	}
}
