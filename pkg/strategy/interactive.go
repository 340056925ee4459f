package strategy

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/codes"

	"github.com/corvid-agent/corvid/internal/config"
	"github.com/corvid-agent/corvid/internal/observability"
	"github.com/corvid-agent/corvid/internal/tracing"
	"github.com/corvid-agent/corvid/pkg/codec"
	"github.com/corvid-agent/corvid/pkg/streamstate"
)

const (
	// shutdownGrace is how long Shutdown waits for the child to exit after
	// stdin closes before killing it.
	shutdownGrace = 5 * time.Second
	// scanBufSize bounds a single session output line.
	scanBufSize = 1024 * 1024
)

// Interactive holds one persistent CLI session and multiplexes queries over
// it. Responses are correlated to commands by order: exactly one command is
// in flight at a time, and the response buffer is drained when the session
// reports a result. Any interactive failure falls back, for that call only,
// to the owned batch strategy.
type Interactive struct {
	cfg   *config.Config
	deps  Deps
	batch *Batch
	pipe  *pipeline

	// mu guards session lifecycle state.
	mu       sync.Mutex
	state    SessionState
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	cancel   context.CancelFunc
	alive    bool
	shutdown bool

	// cmdMu serializes in-flight commands: the protocol is one
	// request/response channel over a single session.
	cmdMu sync.Mutex

	// bufMu guards the response buffer and the per-command listeners. The
	// reader goroutine appends; callers drain under the same lock.
	bufMu     sync.Mutex
	respBuf   []string
	doneCh    chan struct{}
	liveFn    func(codec.Message)
	firstLine chan struct{}
	firstOnce sync.Once
}

// NewInteractive creates an interactive strategy owning batch as its
// fallback.
func NewInteractive(cfg *config.Config, deps Deps, batch *Batch) *Interactive {
	return &Interactive{
		cfg:   cfg,
		deps:  deps,
		batch: batch,
		pipe: &pipeline{
			deps:   deps,
			logger: log.With().Str("component", "interactive-strategy").Logger(),
		},
		state:     StateNotStarted,
		firstLine: make(chan struct{}),
	}
}

// Start launches the persistent session and waits, bounded by the ready
// timeout, for the process to show liveness. A ready timeout is not fatal:
// liveness detection for the external CLI is best-effort, so Start logs a
// warning and proceeds.
func (s *Interactive) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return &StartError{Reason: "strategy is shut down"}
	}
	if s.alive {
		s.mu.Unlock()
		return &StartError{Reason: "session already running"}
	}
	s.state = StateStarting

	// Re-arm the readiness signal: a prior session consumed it, and that
	// session's reader loop has already exited once alive is false.
	s.firstLine = make(chan struct{})
	s.firstOnce = sync.Once{}

	procCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	cmd := exec.CommandContext(procCtx, s.cfg.CLIPath, s.sessionArgs()...)
	cmd.Env = s.deps.Runner.Environ()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		s.state = StateNotStarted
		s.mu.Unlock()
		return &StartError{Reason: "stdin pipe", Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		s.state = StateNotStarted
		s.mu.Unlock()
		return &StartError{Reason: "stdout pipe", Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		s.state = StateNotStarted
		s.mu.Unlock()
		return &StartError{Reason: "stderr pipe", Err: err}
	}

	if err := cmd.Start(); err != nil {
		cancel()
		s.state = StateNotStarted
		s.mu.Unlock()
		return &StartError{Reason: "start session process", Err: err}
	}

	s.cmd = cmd
	s.stdin = stdin
	s.alive = true
	s.mu.Unlock()

	go s.drainStderr(stderr)
	go s.readLoop(stdout)

	// Best-effort readiness: first output line or the ready timeout,
	// whichever comes first.
	select {
	case <-s.firstLine:
		log.Info().Msg("Interactive session ready")
	case <-time.After(s.cfg.ReadyTimeout):
		log.Warn().
			Dur("ready_timeout", s.cfg.ReadyTimeout).
			Msg("Interactive session produced no output before ready timeout, proceeding")
	case <-ctx.Done():
		log.Warn().Err(ctx.Err()).Msg("Start context cancelled while waiting for readiness, proceeding")
	}

	s.mu.Lock()
	if s.alive {
		s.state = StateReady
	}
	s.mu.Unlock()
	return nil
}

// IsAvailable reports whether the session process is running and the
// strategy has not been shut down.
func (s *Interactive) IsAvailable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alive && !s.shutdown
}

// State returns the session lifecycle state.
func (s *Interactive) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Execute sends one command over the session and returns the decoded
// response buffer once the session signals completion. Failures of any
// kind retry the call on the batch strategy.
func (s *Interactive) Execute(ctx context.Context, req QueryRequest) ([]codec.Message, error) {
	ctx, span := tracing.StartSpan(ctx, "corvid.strategy", "interactive.execute")
	defer span.End()

	if !s.IsAvailable() {
		return s.fallbackExecute(ctx, req, "unavailable", nil)
	}

	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	s.setState(StateExecuting)
	defer s.setState(StateReady)

	queryID := uuid.New().String()
	ctx = tracing.WithQueryID(ctx, queryID)
	logger := tracing.LoggerFromContext(ctx, log.Logger)

	streamID := s.deps.Tracker.Create(streamName(req))
	s.deps.Tracker.UpdateStatus(streamID, streamstate.StatusRunning)
	s.pipe.announce("stream.running", streamID, nil)

	start := time.Now()

	done, err := s.sendCommand(req)
	if err != nil {
		s.deps.Tracker.Fail(streamID, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return s.fallbackExecute(ctx, req, "send_failed", err)
	}

	select {
	case <-done:
	case <-time.After(s.timeout(req)):
		err := fmt.Errorf("interactive execute timed out after %s", s.timeout(req))
		s.deps.Tracker.Fail(streamID, err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn().Dur("timeout", s.timeout(req)).Msg("Interactive execute timed out")
		// Leftover output for this command is discarded by the next
		// sendCommand; the session itself stays usable.
		return s.fallbackExecute(ctx, req, "timeout", err)
	case <-ctx.Done():
		s.deps.Tracker.Fail(streamID, ctx.Err())
		return nil, ctx.Err()
	}

	block := s.drainBuffer()
	msgs, err := codec.DecodeMany(block)
	if err != nil {
		s.deps.Tracker.Fail(streamID, err)
		span.RecordError(err)
		return s.fallbackExecute(ctx, req, "decode_failed", err)
	}

	delivered := s.pipe.deliverAll(ctx, streamID, msgs)

	s.deps.Tracker.Complete(streamID)
	s.pipe.announce("stream.completed", streamID, len(delivered))
	observability.RecordQuery(string(config.ModeInteractive), time.Since(start), true)

	logger.Debug().
		Int("messages", len(delivered)).
		Dur("duration", time.Since(start)).
		Msg("Interactive execution completed")
	return delivered, nil
}

// ExecuteStream sends one command and forwards messages live as session
// output arrives, with no buffering past emission.
func (s *Interactive) ExecuteStream(ctx context.Context, req QueryRequest, onMessage OnMessage) error {
	ctx, span := tracing.StartSpan(ctx, "corvid.strategy", "interactive.execute_stream")
	defer span.End()

	if !s.IsAvailable() {
		return s.fallbackStream(ctx, req, onMessage, "unavailable", nil)
	}

	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	s.setState(StateExecuting)
	defer s.setState(StateReady)

	streamID := s.deps.Tracker.Create(streamName(req))
	ctx = tracing.WithStreamID(ctx, streamID)
	s.deps.Tracker.UpdateStatus(streamID, streamstate.StatusRunning)
	s.pipe.announce("stream.running", streamID, nil)

	start := time.Now()

	s.bufMu.Lock()
	s.liveFn = func(msg codec.Message) {
		s.pipe.deliver(ctx, streamID, msg, onMessage)
	}
	s.bufMu.Unlock()
	defer func() {
		s.bufMu.Lock()
		s.liveFn = nil
		s.bufMu.Unlock()
	}()

	done, err := s.sendCommand(req)
	if err != nil {
		s.deps.Tracker.Fail(streamID, err)
		span.RecordError(err)
		return s.fallbackStream(ctx, req, onMessage, "send_failed", err)
	}

	select {
	case <-done:
	case <-time.After(s.timeout(req)):
		err := fmt.Errorf("interactive stream timed out after %s", s.timeout(req))
		s.deps.Tracker.Fail(streamID, err)
		span.SetStatus(codes.Error, err.Error())
		return s.fallbackStream(ctx, req, onMessage, "timeout", err)
	case <-ctx.Done():
		s.deps.Tracker.Fail(streamID, ctx.Err())
		return ctx.Err()
	}

	// The buffer was consumed live; clear what the reader accumulated.
	s.drainBuffer()

	s.deps.Tracker.Complete(streamID)
	s.pipe.announce("stream.completed", streamID, nil)
	observability.RecordQuery(string(config.ModeInteractive), time.Since(start), true)
	return nil
}

// Shutdown terminates the session process and marks the strategy
// permanently unavailable. Idempotent.
func (s *Interactive) Shutdown() {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return
	}
	s.shutdown = true
	s.state = StateShutdown
	cmd := s.cmd
	stdin := s.stdin
	cancel := s.cancel
	alive := s.alive
	s.mu.Unlock()

	if !alive {
		if cancel != nil {
			cancel()
		}
		return
	}

	if stdin != nil {
		stdin.Close()
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-done:
	case <-time.After(shutdownGrace):
		if cmd.Process != nil {
			cmd.Process.Kill()
		}
		<-done
	}

	s.mu.Lock()
	s.alive = false
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	log.Info().Msg("Interactive session shut down")
}

// sendCommand discards any leftover buffered output, arms a fresh
// completion signal, and writes the command line.
func (s *Interactive) sendCommand(req QueryRequest) (<-chan struct{}, error) {
	s.mu.Lock()
	stdin := s.stdin
	alive := s.alive
	s.mu.Unlock()
	if !alive || stdin == nil {
		return nil, fmt.Errorf("session not running")
	}

	done := make(chan struct{})

	s.bufMu.Lock()
	// Reads correlate to sends only by order; anything still buffered
	// belongs to an earlier, likely timed-out command.
	if len(s.respBuf) > 0 {
		log.Warn().Int("lines", len(s.respBuf)).Msg("Discarding stale session output")
		s.respBuf = s.respBuf[:0]
	}
	s.doneCh = done
	s.bufMu.Unlock()

	line := buildCommandLine(req)
	if _, err := io.WriteString(stdin, line+"\n"); err != nil {
		s.bufMu.Lock()
		s.doneCh = nil
		s.bufMu.Unlock()
		return nil, fmt.Errorf("write command: %w", err)
	}
	return done, nil
}

// drainBuffer removes and returns everything the reader accumulated,
// holding the lock for the full drain+clear.
func (s *Interactive) drainBuffer() string {
	s.bufMu.Lock()
	defer s.bufMu.Unlock()
	block := strings.Join(s.respBuf, "\n")
	s.respBuf = s.respBuf[:0]
	s.doneCh = nil
	return block
}

// readLoop is the single goroutine reading all session output. Each line
// is buffered for the pending command, forwarded to the live listener if
// one is installed, and checked for the completion signal.
func (s *Interactive) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), scanBufSize)

	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		s.firstOnce.Do(func() { close(s.firstLine) })

		s.bufMu.Lock()
		s.respBuf = append(s.respBuf, line)
		liveFn := s.liveFn
		done := s.doneCh
		s.bufMu.Unlock()

		msg, ok := codec.DecodeStreamLine(line)
		if ok && liveFn != nil {
			liveFn(msg)
		}

		if isCompletionLine(line) && done != nil {
			s.bufMu.Lock()
			if s.doneCh == done {
				close(done)
				s.doneCh = nil
			}
			s.bufMu.Unlock()
		}
	}

	if err := scanner.Err(); err != nil {
		log.Warn().Err(err).Msg("Session stdout read failed")
	}

	// Process gone: release any waiter and mark the session dead so every
	// subsequent call goes to batch.
	s.bufMu.Lock()
	if s.doneCh != nil {
		close(s.doneCh)
		s.doneCh = nil
	}
	s.bufMu.Unlock()

	s.mu.Lock()
	s.alive = false
	s.mu.Unlock()

	log.Info().Msg("Interactive session process exited")
}

func (s *Interactive) drainStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		log.Debug().Str("line", scanner.Text()).Msg("Session stderr")
	}
}

func (s *Interactive) fallbackExecute(ctx context.Context, req QueryRequest, reason string, cause error) ([]codec.Message, error) {
	observability.RecordFallback(reason)
	log.Warn().
		Str("reason", reason).
		AnErr("cause", cause).
		Msg("Interactive execution falling back to batch")
	return s.batch.Execute(ctx, req)
}

func (s *Interactive) fallbackStream(ctx context.Context, req QueryRequest, onMessage OnMessage, reason string, cause error) error {
	observability.RecordFallback(reason)
	log.Warn().
		Str("reason", reason).
		AnErr("cause", cause).
		Msg("Interactive streaming falling back to batch")
	return s.batch.ExecuteStream(ctx, req, onMessage)
}

func (s *Interactive) setState(state SessionState) {
	s.mu.Lock()
	if s.state != StateShutdown {
		s.state = state
	}
	s.mu.Unlock()
}

func (s *Interactive) timeout(req QueryRequest) time.Duration {
	if req.Timeout > 0 {
		return req.Timeout
	}
	return s.cfg.DefaultTimeout
}

func (s *Interactive) sessionArgs() []string {
	args := []string{"--output-format", "stream-json", "--verbose"}
	return append(args, s.cfg.ExtraArgs...)
}

// buildCommandLine forms the single line-oriented command for the session:
// the prompt followed by a --tool flag per enabled tool.
func buildCommandLine(req QueryRequest) string {
	var b strings.Builder
	b.WriteString(strings.ReplaceAll(req.Prompt, "\n", " "))
	for _, tool := range req.Tools {
		b.WriteString(" --tool ")
		b.WriteString(tool)
	}
	return b.String()
}

// isCompletionLine reports whether a session output line is the "result"
// reply terminating the current command's response.
func isCompletionLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	trimmed = strings.TrimPrefix(trimmed, "data: ")
	if !codec.IsValidJSON(trimmed) {
		return false
	}
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(trimmed), &probe); err != nil {
		return false
	}
	return probe.Type == "result"
}
