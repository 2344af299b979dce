package domain

import (
	"fmt"
	"time"
)

// OutcomeKind is the terminal state of a supervised process.
type OutcomeKind string

const (
	OutcomeCompleted OutcomeKind = "COMPLETED"
	OutcomeTimedOut  OutcomeKind = "TIMED_OUT"
	OutcomeCancelled OutcomeKind = "CANCELLED"
)

// ExecutionRequest describes one external process launch.
type ExecutionRequest struct {
	// Args is the full argument vector; Args[0] is the program.
	Args []string
	// Dir is the working directory of the child.
	Dir string
	// Env is appended to the parent environment.
	Env []string
	// StdinPath is read as the child's stdin when set.
	StdinPath string
	// StdoutPath receives stdout when set. Without StderrPath it also receives stderr.
	StdoutPath string
	// StderrPath receives stderr separately when set.
	StderrPath string
	// Timeout is wall-clock, counted from launch. Zero disables it.
	Timeout time.Duration
}

// ExecutionOutcome is the result of a supervised process. ExitCode is only
// meaningful when Kind is OutcomeCompleted.
type ExecutionOutcome struct {
	Kind     OutcomeKind   `json:"kind"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
}

// Completed builds a completed outcome.
func Completed(exitCode int, elapsed time.Duration) ExecutionOutcome {
	return ExecutionOutcome{Kind: OutcomeCompleted, ExitCode: exitCode, Duration: elapsed}
}

// TimedOut builds a timed-out outcome.
func TimedOut(elapsed time.Duration) ExecutionOutcome {
	return ExecutionOutcome{Kind: OutcomeTimedOut, ExitCode: -1, Duration: elapsed}
}

// Cancelled builds a cancelled outcome.
func Cancelled(elapsed time.Duration) ExecutionOutcome {
	return ExecutionOutcome{Kind: OutcomeCancelled, ExitCode: -1, Duration: elapsed}
}

// Succeeded reports whether the process completed with exit code 0.
func (o ExecutionOutcome) Succeeded() bool {
	return o.Kind == OutcomeCompleted && o.ExitCode == 0
}

// Interrupted reports whether the process was stopped by the supervisor.
func (o ExecutionOutcome) Interrupted() bool {
	return o.Kind == OutcomeTimedOut || o.Kind == OutcomeCancelled
}

func (o ExecutionOutcome) String() string {
	if o.Kind == OutcomeCompleted {
		return fmt.Sprintf("%s(%d)", o.Kind, o.ExitCode)
	}
	return string(o.Kind)
}
