package strategy

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvid-agent/corvid/internal/config"
	"github.com/corvid-agent/corvid/pkg/backpressure"
	"github.com/corvid-agent/corvid/pkg/proc"
	"github.com/corvid-agent/corvid/pkg/streamstate"
)

// fakeCLI writes a shell script standing in for the agent CLI. The batch
// invocation always carries --print as its first argument, so the script
// can serve both modes.
func fakeCLI(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-agent")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0755))
	return path
}

// echoCLI replies to batch queries and session commands with one text
// message and a result reply.
func echoCLI(t *testing.T) string {
	return fakeCLI(t, `
if [ "$1" = "--print" ]; then
  echo '{"id":"b1","type":"text","content":"hello from batch"}'
  echo '{"type":"result","result":"done","uuid":"b2"}'
  exit 0
fi
echo '{"type":"system","subtype":"init","content":"session ready"}'
while IFS= read -r line; do
  echo '{"id":"s1","type":"text","content":"hello from session"}'
  echo '{"type":"result","result":"done","uuid":"s2"}'
done
`)
}

func testConfig(cliPath string, mode config.Mode) *config.Config {
	cfg := config.DefaultConfig()
	cfg.CLIPath = cliPath
	cfg.Mode = mode
	cfg.DefaultTimeout = 10 * time.Second
	cfg.ReadyTimeout = 2 * time.Second
	cfg.MaxRetries = 0
	return cfg
}

func testDeps() Deps {
	return Deps{
		Runner:     proc.NewRunner(nil, 10*time.Second),
		Tracker:    streamstate.NewTracker(),
		Controller: backpressure.New(backpressure.Config{Capacity: 16}),
	}
}

func TestNew_SelectsMode(t *testing.T) {
	deps := testDeps()

	s, err := New(testConfig("claude", config.ModeBatch), deps)
	require.NoError(t, err)
	assert.IsType(t, &Batch{}, s)

	s, err = New(testConfig("claude", config.ModeInteractive), deps)
	require.NoError(t, err)
	assert.IsType(t, &Interactive{}, s)
}

func TestNew_RequiresRunner(t *testing.T) {
	_, err := New(testConfig("claude", config.ModeBatch), Deps{})

	var cfgErr *config.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "runner", cfgErr.Field)
}

func TestNew_UnknownMode(t *testing.T) {
	_, err := New(testConfig("claude", "turbo"), testDeps())

	var cfgErr *config.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "mode", cfgErr.Field)
}

func TestStartError_Message(t *testing.T) {
	err := &StartError{Reason: "stdin pipe", Err: os.ErrClosed}

	assert.Contains(t, err.Error(), "stdin pipe")
	assert.ErrorIs(t, err, os.ErrClosed)
}
