package proc

import "fmt"

// Cause classifies why a process run failed.
type Cause string

const (
	// CauseExit means the process ran to completion with a nonzero exit code.
	CauseExit Cause = "exit"
	// CauseTimeout means the wall-clock timeout expired before exit.
	CauseTimeout Cause = "timeout"
	// CauseInterrupted means the caller's context was cancelled.
	CauseInterrupted Cause = "interrupted"
	// CauseStart means the process could not be started at all.
	CauseStart Cause = "start"
	// CauseRead means the process ran but its output could not be read,
	// for example a stdout line exceeding the scanner limit.
	CauseRead Cause = "read"
)

// ProcessError reports a failed external process run. It carries the exit
// code and whatever output was captured before the failure.
type ProcessError struct {
	Command  string
	Cause    Cause
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error
}

func (e *ProcessError) Error() string {
	switch e.Cause {
	case CauseTimeout:
		return fmt.Sprintf("process %q timed out", e.Command)
	case CauseInterrupted:
		return fmt.Sprintf("process %q interrupted: %v", e.Command, e.Err)
	case CauseStart:
		return fmt.Sprintf("process %q failed to start: %v", e.Command, e.Err)
	case CauseRead:
		return fmt.Sprintf("process %q output unreadable: %v", e.Command, e.Err)
	default:
		return fmt.Sprintf("process %q exited with code %d: %s", e.Command, e.ExitCode, e.Stderr)
	}
}

func (e *ProcessError) Unwrap() error { return e.Err }
