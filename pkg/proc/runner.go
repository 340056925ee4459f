package proc

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/corvid-agent/corvid/internal/observability"
)

const (
	// scanBufSize bounds a single stdout line. Stream-json payloads can
	// carry whole files, so the default 64K scanner limit is too small.
	scanBufSize = 1024 * 1024
)

// Command describes one external process invocation.
type Command struct {
	Path    string
	Args    []string
	Dir     string
	Stdin   []byte
	Timeout time.Duration
}

// Result holds the captured outcome of a completed process.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Outcome pairs a Result with its error for deferred delivery.
type Outcome struct {
	Result Result
	Err    error
}

// Runner spawns child processes with an explicit environment overlay and a
// base timeout used when a Command does not carry its own.
type Runner struct {
	env         map[string]string
	baseTimeout time.Duration
}

// NewRunner creates a Runner. env keys overlay the inherited environment.
func NewRunner(env map[string]string, baseTimeout time.Duration) *Runner {
	if baseTimeout <= 0 {
		baseTimeout = 10 * time.Minute
	}
	return &Runner{env: env, baseTimeout: baseTimeout}
}

// Run executes the command synchronously, capturing stdout and stderr.
// It returns a *ProcessError on nonzero exit, timeout, or interruption.
func (r *Runner) Run(ctx context.Context, cmd Command) (Result, error) {
	return r.run(ctx, cmd, nil)
}

// RunAsync executes the command without blocking the caller. The returned
// channel delivers exactly one Outcome.
func (r *Runner) RunAsync(ctx context.Context, cmd Command) <-chan Outcome {
	out := make(chan Outcome, 1)
	go func() {
		res, err := r.Run(ctx, cmd)
		out <- Outcome{Result: res, Err: err}
		close(out)
	}()
	return out
}

// RunStreaming executes the command and invokes onLine once per stdout line
// as it becomes available. It returns when the process exits.
func (r *Runner) RunStreaming(ctx context.Context, cmd Command, onLine func(line string)) (Result, error) {
	return r.run(ctx, cmd, onLine)
}

func (r *Runner) run(ctx context.Context, cmd Command, onLine func(string)) (Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = r.baseTimeout
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c := exec.CommandContext(execCtx, cmd.Path, cmd.Args...)
	if cmd.Dir != "" {
		c.Dir = cmd.Dir
	}
	c.Env = r.buildEnvironment()

	if len(cmd.Stdin) > 0 {
		c.Stdin = bytes.NewReader(cmd.Stdin)
	}

	var stderr bytes.Buffer
	c.Stderr = &stderr

	var stdout bytes.Buffer
	var lineErr error

	start := time.Now()

	var runErr error
	if onLine == nil {
		c.Stdout = &stdout
		runErr = c.Run()
	} else {
		var pipe io.ReadCloser
		pipe, runErr = c.StdoutPipe()
		if runErr == nil {
			runErr = c.Start()
		}
		if runErr == nil {
			scanner := bufio.NewScanner(pipe)
			scanner.Buffer(make([]byte, 0, 64*1024), scanBufSize)
			for scanner.Scan() {
				line := scanner.Text()
				stdout.WriteString(line)
				stdout.WriteByte('\n')
				onLine(line)
			}
			lineErr = scanner.Err()
			runErr = c.Wait()
		}
	}

	duration := time.Since(start)
	result := Result{
		ExitCode: 0,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: duration,
	}

	// Timeout and interruption take precedence over whatever exit state
	// the kill produced.
	if execCtx.Err() == context.DeadlineExceeded {
		result.ExitCode = -1
		observability.RecordProcessRun(duration, false)
		return result, &ProcessError{
			Command: cmd.Path,
			Cause:   CauseTimeout,
			Stdout:  result.Stdout,
			Stderr:  result.Stderr,
			Err:     context.DeadlineExceeded,
		}
	}
	if ctx.Err() != nil {
		result.ExitCode = -1
		observability.RecordProcessRun(duration, false)
		return result, &ProcessError{
			Command: cmd.Path,
			Cause:   CauseInterrupted,
			Stdout:  result.Stdout,
			Stderr:  result.Stderr,
			Err:     ctx.Err(),
		}
	}

	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
			observability.RecordProcessRun(duration, false)
			return result, &ProcessError{
				Command:  cmd.Path,
				Cause:    CauseExit,
				ExitCode: result.ExitCode,
				Stdout:   result.Stdout,
				Stderr:   result.Stderr,
				Err:      runErr,
			}
		}
		observability.RecordProcessRun(duration, false)
		return result, &ProcessError{
			Command: cmd.Path,
			Cause:   CauseStart,
			Stdout:  result.Stdout,
			Stderr:  result.Stderr,
			Err:     runErr,
		}
	}
	if lineErr != nil {
		observability.RecordProcessRun(duration, false)
		return result, &ProcessError{
			Command: cmd.Path,
			Cause:   CauseRead,
			Stdout:  result.Stdout,
			Stderr:  result.Stderr,
			Err:     fmt.Errorf("read stdout: %w", lineErr),
		}
	}

	log.Debug().
		Str("command", cmd.Path).
		Strs("args", cmd.Args).
		Int("exit_code", result.ExitCode).
		Dur("duration", duration).
		Msg("Command executed")

	observability.RecordProcessRun(duration, true)
	return result, nil
}

// IsCommandAvailable probes the platform path lookup for name. Failures of
// any kind mean "not available"; it never returns an error.
func IsCommandAvailable(name string) bool {
	if name == "" {
		return false
	}
	_, err := exec.LookPath(name)
	return err == nil
}

// IsCommandAvailable reports whether name resolves on the runner's host.
func (r *Runner) IsCommandAvailable(name string) bool {
	return IsCommandAvailable(name)
}

// Environ returns the full environment for child processes: the runner's
// overlay applied on top of the inherited environment. Overlay keys win.
func (r *Runner) Environ() []string {
	return r.buildEnvironment()
}

// buildEnvironment overlays the runner's env map onto the inherited
// environment. Overlay keys win.
func (r *Runner) buildEnvironment() []string {
	if len(r.env) == 0 {
		return os.Environ()
	}

	seen := make(map[string]bool, len(r.env))
	result := make([]string, 0, len(os.Environ())+len(r.env))
	for key, value := range r.env {
		result = append(result, fmt.Sprintf("%s=%s", key, value))
		seen[key] = true
	}
	for _, kv := range os.Environ() {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				if !seen[kv[:i]] {
					result = append(result, kv)
				}
				break
			}
		}
	}
	return result
}
