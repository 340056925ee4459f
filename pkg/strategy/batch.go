package strategy

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/corvid-agent/corvid/internal/config"
	"github.com/corvid-agent/corvid/internal/observability"
	"github.com/corvid-agent/corvid/internal/tracing"
	"github.com/corvid-agent/corvid/pkg/codec"
	"github.com/corvid-agent/corvid/pkg/proc"
	"github.com/corvid-agent/corvid/pkg/streamstate"
)

// Batch executes each query as one independent CLI process invocation. It
// keeps no state between calls, so concurrent Execute calls run fully in
// parallel, each with its own child process.
type Batch struct {
	cfg  *config.Config
	deps Deps
	pipe *pipeline

	mu    sync.Mutex
	state SessionState
}

// NewBatch creates a batch strategy.
func NewBatch(cfg *config.Config, deps Deps) *Batch {
	return &Batch{
		cfg:  cfg,
		deps: deps,
		pipe: &pipeline{
			deps:   deps,
			logger: log.With().Str("component", "batch-strategy").Logger(),
		},
		state: StateNotStarted,
	}
}

// Start marks the strategy ready. Batch has no persistent resources.
func (b *Batch) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateShutdown {
		return &StartError{Reason: "strategy is shut down"}
	}
	b.state = StateReady
	return nil
}

// IsAvailable reports whether the configured CLI can be found.
func (b *Batch) IsAvailable() bool {
	b.mu.Lock()
	if b.state == StateShutdown {
		b.mu.Unlock()
		return false
	}
	b.mu.Unlock()
	return b.deps.Runner.IsCommandAvailable(b.cfg.CLIPath)
}

// Shutdown marks the strategy unavailable. Idempotent.
func (b *Batch) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateShutdown
}

// State returns the session lifecycle state.
func (b *Batch) State() SessionState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Execute spawns one process for the query and returns the decoded output.
func (b *Batch) Execute(ctx context.Context, req QueryRequest) ([]codec.Message, error) {
	ctx, span := tracing.StartSpan(ctx, "corvid.strategy", "batch.execute")
	defer span.End()

	streamID := b.deps.Tracker.Create(streamName(req))
	ctx = tracing.WithStreamID(ctx, streamID)
	logger := tracing.LoggerFromContext(ctx, log.Logger)

	b.deps.Tracker.UpdateStatus(streamID, streamstate.StatusRunning)
	b.pipe.announce("stream.running", streamID, nil)

	start := time.Now()
	var result proc.Result
	var err error
	for attempt := 0; ; attempt++ {
		result, err = b.deps.Runner.Run(ctx, proc.Command{
			Path:    b.cfg.CLIPath,
			Args:    b.buildArgs(req),
			Timeout: b.timeout(req),
		})
		if err == nil {
			break
		}
		b.deps.Tracker.Fail(streamID, err)
		if !retryable(err) || attempt >= b.cfg.MaxRetries {
			b.pipe.announce("stream.error", streamID, err.Error())
			observability.RecordQuery(string(config.ModeBatch), time.Since(start), false)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.Error().Err(err).Int("attempts", attempt+1).Msg("Batch execution failed")
			return nil, err
		}
		b.deps.Tracker.Retry(streamID)
		logger.Warn().Err(err).Int("attempt", attempt+1).Msg("Batch execution failed, retrying")
	}

	msgs, err := codec.DecodeMany(result.Stdout)
	if err != nil {
		b.deps.Tracker.Fail(streamID, err)
		observability.RecordQuery(string(config.ModeBatch), time.Since(start), false)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	delivered := b.pipe.deliverAll(ctx, streamID, msgs)

	b.deps.Tracker.Complete(streamID)
	b.pipe.announce("stream.completed", streamID, len(delivered))
	observability.RecordQuery(string(config.ModeBatch), time.Since(start), true)
	span.SetAttributes(attribute.Int("messages", len(delivered)))

	logger.Debug().
		Int("messages", len(delivered)).
		Dur("duration", time.Since(start)).
		Msg("Batch execution completed")

	return delivered, nil
}

// ExecuteStream spawns one process and forwards messages line by line as
// the child produces them.
func (b *Batch) ExecuteStream(ctx context.Context, req QueryRequest, onMessage OnMessage) error {
	ctx, span := tracing.StartSpan(ctx, "corvid.strategy", "batch.execute_stream")
	defer span.End()

	streamID := b.deps.Tracker.Create(streamName(req))
	ctx = tracing.WithStreamID(ctx, streamID)

	b.deps.Tracker.UpdateStatus(streamID, streamstate.StatusRunning)
	b.pipe.announce("stream.running", streamID, nil)

	start := time.Now()
	_, err := b.deps.Runner.RunStreaming(ctx, proc.Command{
		Path:    b.cfg.CLIPath,
		Args:    b.buildArgs(req),
		Timeout: b.timeout(req),
	}, func(line string) {
		msg, ok := codec.DecodeStreamLine(line)
		if !ok {
			return
		}
		b.pipe.deliver(ctx, streamID, msg, onMessage)
	})
	if err != nil {
		b.deps.Tracker.Fail(streamID, err)
		b.pipe.announce("stream.error", streamID, err.Error())
		observability.RecordQuery(string(config.ModeBatch), time.Since(start), false)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	b.deps.Tracker.Complete(streamID)
	b.pipe.announce("stream.completed", streamID, nil)
	observability.RecordQuery(string(config.ModeBatch), time.Since(start), true)
	return nil
}

func (b *Batch) buildArgs(req QueryRequest) []string {
	args := []string{"--print", "--output-format", "stream-json"}
	for _, tool := range req.Tools {
		args = append(args, "--tool", tool)
	}
	if req.MaxTokens > 0 {
		args = append(args, "--max-tokens", strconv.Itoa(req.MaxTokens))
	}
	if req.Temperature > 0 {
		args = append(args, "--temperature", strconv.FormatFloat(req.Temperature, 'f', -1, 64))
	}
	args = append(args, b.cfg.ExtraArgs...)
	args = append(args, req.Prompt)
	return args
}

func (b *Batch) timeout(req QueryRequest) time.Duration {
	if req.Timeout > 0 {
		return req.Timeout
	}
	return b.cfg.DefaultTimeout
}

// retryable reports whether a failed run may be attempted again. Timeouts
// already consumed the caller's budget and interruptions must abort.
func retryable(err error) bool {
	var procErr *proc.ProcessError
	if !errors.As(err, &procErr) {
		return false
	}
	return procErr.Cause == proc.CauseExit || procErr.Cause == proc.CauseStart
}

func streamName(req QueryRequest) string {
	const maxLen = 40
	name := req.Prompt
	if len(name) > maxLen {
		cut := maxLen
		// Back off to a rune boundary so the name stays valid UTF-8.
		for cut > 0 && !utf8.RuneStart(name[cut]) {
			cut--
		}
		name = name[:cut]
	}
	return fmt.Sprintf("query:%s", name)
}
