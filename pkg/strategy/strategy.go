// Package strategy executes queries against the agent CLI in one of two
// modes: batch (one process per query) or interactive (one persistent
// session with automatic per-call fallback to batch).
package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/corvid-agent/corvid/internal/config"
	"github.com/corvid-agent/corvid/pkg/backpressure"
	"github.com/corvid-agent/corvid/pkg/codec"
	"github.com/corvid-agent/corvid/pkg/gateway"
	"github.com/corvid-agent/corvid/pkg/proc"
	"github.com/corvid-agent/corvid/pkg/streamstate"
	"github.com/corvid-agent/corvid/pkg/transcript"
)

// QueryRequest describes one query. It is a read-only value object; one
// request yields one response sequence.
type QueryRequest struct {
	Prompt      string
	Tools       []string
	Timeout     time.Duration
	MaxTokens   int
	Temperature float64
}

// OnMessage receives messages incrementally during a streaming execution.
type OnMessage func(msg codec.Message)

// Strategy is the capability contract shared by both execution modes.
type Strategy interface {
	// Start prepares the strategy for use.
	Start(ctx context.Context) error
	// Execute runs one query and returns the full decoded message sequence.
	Execute(ctx context.Context, req QueryRequest) ([]codec.Message, error)
	// ExecuteStream runs one query, forwarding messages as they arrive.
	ExecuteStream(ctx context.Context, req QueryRequest, onMessage OnMessage) error
	// IsAvailable reports whether the strategy can currently serve queries.
	IsAvailable() bool
	// Shutdown releases all resources. Idempotent.
	Shutdown()
}

// SessionState tracks a strategy's lifecycle.
type SessionState string

const (
	StateNotStarted SessionState = "not_started"
	StateStarting   SessionState = "starting"
	StateReady      SessionState = "ready"
	StateExecuting  SessionState = "executing"
	StateShutdown   SessionState = "shutdown"
)

// StartError reports that an interactive session failed to launch.
type StartError struct {
	Reason string
	Err    error
}

func (e *StartError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("strategy start failed: %s: %v", e.Reason, e.Err)
	}
	return "strategy start failed: " + e.Reason
}

func (e *StartError) Unwrap() error { return e.Err }

// Deps carries the collaborators both strategies deliver through. Runner
// is required; the rest are optional.
type Deps struct {
	Runner      *proc.Runner
	Tracker     *streamstate.Tracker
	Controller  *backpressure.Controller
	Transcript  *transcript.Store
	Broadcaster *gateway.Broadcaster
}

// New selects a strategy from configuration. Interactive mode wraps a fully
// configured batch strategy to fall back on.
func New(cfg *config.Config, deps Deps) (Strategy, error) {
	if deps.Runner == nil {
		return nil, &config.ConfigurationError{Field: "runner", Reason: "process runner is required"}
	}
	if deps.Tracker == nil {
		deps.Tracker = streamstate.NewTracker()
	}

	batch := NewBatch(cfg, deps)
	switch cfg.Mode {
	case config.ModeBatch:
		return batch, nil
	case config.ModeInteractive:
		return NewInteractive(cfg, deps, batch), nil
	default:
		return nil, &config.ConfigurationError{Field: "mode", Reason: fmt.Sprintf("unknown mode %q", cfg.Mode)}
	}
}
