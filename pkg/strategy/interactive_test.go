package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvid-agent/corvid/internal/config"
	"github.com/corvid-agent/corvid/pkg/codec"
)

func newInteractive(t *testing.T, cli string) (*Interactive, Deps) {
	t.Helper()
	cfg := testConfig(cli, config.ModeInteractive)
	deps := testDeps()
	s, err := New(cfg, deps)
	require.NoError(t, err)
	inter, ok := s.(*Interactive)
	require.True(t, ok)
	t.Cleanup(inter.Shutdown)
	return inter, deps
}

func TestInteractive_StartAndExecute(t *testing.T) {
	inter, deps := newInteractive(t, echoCLI(t))

	require.NoError(t, inter.Start(context.Background()))
	assert.True(t, inter.IsAvailable())
	assert.Equal(t, StateReady, inter.State())

	msgs, err := inter.Execute(context.Background(), QueryRequest{Prompt: "say hello"})

	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hello from session", msgs[0].Content)
	assert.Equal(t, "done", msgs[1].Content)
	assert.Equal(t, "s2", msgs[1].ID)

	assert.Equal(t, 1, deps.Tracker.TotalCount())
	assert.Equal(t, 0, deps.Tracker.ActiveCount())
}

func TestInteractive_SessionSurvivesAcrossQueries(t *testing.T) {
	inter, _ := newInteractive(t, echoCLI(t))
	require.NoError(t, inter.Start(context.Background()))

	for i := 0; i < 3; i++ {
		msgs, err := inter.Execute(context.Background(), QueryRequest{Prompt: "again"})
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, "hello from session", msgs[0].Content)
	}

	assert.True(t, inter.IsAvailable())
}

func TestInteractive_ExecuteStream_DeliversLive(t *testing.T) {
	inter, _ := newInteractive(t, echoCLI(t))
	require.NoError(t, inter.Start(context.Background()))

	var got []codec.Message
	err := inter.ExecuteStream(context.Background(), QueryRequest{Prompt: "stream it"}, func(msg codec.Message) {
		got = append(got, msg)
	})

	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "hello from session", got[0].Content)
	assert.Equal(t, "done", got[1].Content)
}

func TestInteractive_DeadSessionFallsBackToBatch(t *testing.T) {
	// The session branch dies immediately; only batch invocations reply.
	cli := fakeCLI(t, `
if [ "$1" = "--print" ]; then
  echo '{"type":"result","result":"fallback reply","uuid":"f1"}'
  exit 0
fi
exit 1
`)
	inter, deps := newInteractive(t, cli)
	cfg := inter.cfg
	cfg.ReadyTimeout = 200 * time.Millisecond

	require.NoError(t, inter.Start(context.Background()))

	// Give the dead child's read loop time to observe EOF.
	deadline := time.Now().Add(2 * time.Second)
	for inter.IsAvailable() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	msgs, err := inter.Execute(context.Background(), QueryRequest{Prompt: "q"})

	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "fallback reply", msgs[0].Content)
	assert.Equal(t, "f1", msgs[0].ID)

	// The fallback ran on the batch path and completed its stream record.
	assert.Equal(t, 0, deps.Tracker.ActiveCount())
}

func TestInteractive_TimeoutFallsBackToBatch(t *testing.T) {
	// The session accepts commands but never replies.
	cli := fakeCLI(t, `
if [ "$1" = "--print" ]; then
  echo '{"type":"result","result":"fallback reply","uuid":"f1"}'
  exit 0
fi
echo '{"type":"system","subtype":"init","content":"ready"}'
while IFS= read -r line; do
  sleep 30
done
`)
	inter, _ := newInteractive(t, cli)
	require.NoError(t, inter.Start(context.Background()))

	msgs, err := inter.Execute(context.Background(), QueryRequest{
		Prompt:  "q",
		Timeout: 200 * time.Millisecond,
	})

	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "fallback reply", msgs[0].Content)
}

func TestInteractive_StreamFallbackParity(t *testing.T) {
	cli := fakeCLI(t, `
if [ "$1" = "--print" ]; then
  echo '{"id":"m1","type":"text","content":"streamed"}'
  echo '{"type":"result","result":"ok","uuid":"r1"}'
  exit 0
fi
exit 1
`)
	inter, _ := newInteractive(t, cli)
	inter.cfg.ReadyTimeout = 200 * time.Millisecond
	require.NoError(t, inter.Start(context.Background()))

	deadline := time.Now().Add(2 * time.Second)
	for inter.IsAvailable() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	var got []codec.Message
	err := inter.ExecuteStream(context.Background(), QueryRequest{Prompt: "q"}, func(msg codec.Message) {
		got = append(got, msg)
	})

	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "streamed", got[0].Content)
	assert.Equal(t, "ok", got[1].Content)
}

func TestInteractive_BatchParity(t *testing.T) {
	// Both modes reply identically; callers must not be able to tell which
	// path served them.
	cli := fakeCLI(t, `
emit() {
  echo '{"id":"m1","type":"text","content":"same answer"}'
  echo '{"type":"result","result":"same","uuid":"r1"}'
}
if [ "$1" = "--print" ]; then
  emit
  exit 0
fi
echo '{"type":"system","subtype":"init","content":"ready"}'
while IFS= read -r line; do
  emit
done
`)
	cfg := testConfig(cli, config.ModeInteractive)
	deps := testDeps()

	batch := NewBatch(cfg, deps)
	batchMsgs, err := batch.Execute(context.Background(), QueryRequest{Prompt: "q"})
	require.NoError(t, err)

	inter := NewInteractive(cfg, deps, batch)
	defer inter.Shutdown()
	require.NoError(t, inter.Start(context.Background()))
	interMsgs, err := inter.Execute(context.Background(), QueryRequest{Prompt: "q"})
	require.NoError(t, err)

	require.Len(t, interMsgs, len(batchMsgs))
	for i := range batchMsgs {
		assert.Equal(t, batchMsgs[i].Content, interMsgs[i].Content)
		assert.Equal(t, batchMsgs[i].Kind, interMsgs[i].Kind)
	}
}

func TestInteractive_RestartAfterSessionDeath(t *testing.T) {
	// The session delays its first output and exits on a "quit" command, so
	// a restart must wait for the new process to speak before going ready.
	cli := fakeCLI(t, `
if [ "$1" = "--print" ]; then
  echo '{"type":"result","result":"from batch","uuid":"b1"}'
  exit 0
fi
sleep 1
echo '{"type":"system","subtype":"init","content":"session ready"}'
while IFS= read -r line; do
  case "$line" in
  quit*) exit 0 ;;
  esac
  echo '{"type":"result","result":"session reply","uuid":"s1"}'
done
`)
	inter, _ := newInteractive(t, cli)
	require.NoError(t, inter.Start(context.Background()))

	msgs, err := inter.Execute(context.Background(), QueryRequest{Prompt: "ping"})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "session reply", msgs[0].Content)

	_, err = inter.Execute(context.Background(), QueryRequest{Prompt: "quit"})
	require.NoError(t, err)

	deadline := time.Now().Add(2 * time.Second)
	for inter.IsAvailable() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	require.False(t, inter.IsAvailable())

	started := time.Now()
	require.NoError(t, inter.Start(context.Background()))
	assert.GreaterOrEqual(t, time.Since(started), 500*time.Millisecond,
		"restart must wait for the new session's first output")
	assert.True(t, inter.IsAvailable())

	msgs, err = inter.Execute(context.Background(), QueryRequest{Prompt: "ping"})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "session reply", msgs[0].Content)
	assert.Equal(t, "s1", msgs[0].ID)
}

func TestInteractive_ShutdownIsIdempotent(t *testing.T) {
	inter, _ := newInteractive(t, echoCLI(t))
	require.NoError(t, inter.Start(context.Background()))

	inter.Shutdown()
	inter.Shutdown()

	assert.False(t, inter.IsAvailable())
	assert.Equal(t, StateShutdown, inter.State())
}

func TestInteractive_StartAfterShutdownRefused(t *testing.T) {
	inter, _ := newInteractive(t, echoCLI(t))
	inter.Shutdown()

	err := inter.Start(context.Background())

	var startErr *StartError
	require.ErrorAs(t, err, &startErr)
}

func TestInteractive_DoubleStartRefused(t *testing.T) {
	inter, _ := newInteractive(t, echoCLI(t))
	require.NoError(t, inter.Start(context.Background()))

	err := inter.Start(context.Background())

	var startErr *StartError
	require.ErrorAs(t, err, &startErr)
	assert.Contains(t, err.Error(), "already running")
}

func TestBuildCommandLine_FlattensNewlines(t *testing.T) {
	line := buildCommandLine(QueryRequest{
		Prompt: "first\nsecond",
		Tools:  []string{"bash"},
	})

	assert.Equal(t, "first second --tool bash", line)
}
