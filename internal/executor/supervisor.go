package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/passbuild/passbuild/internal/domain"
)

// DefaultPollInterval is the cancellation and timeout check period.
const DefaultPollInterval = 100 * time.Millisecond

// Supervisor runs one external process at a time under a wall-clock timeout.
// Cancel may be called from any goroutine; it is observed on the next poll tick.
type Supervisor struct {
	pollInterval time.Duration
	env          []string
	logger       *zap.Logger

	mu        sync.Mutex
	active    bool
	cancelled atomic.Bool
}

// NewSupervisor creates a supervisor. env is merged into every child
// environment after the parent's own variables.
func NewSupervisor(pollInterval time.Duration, env []string, logger *zap.Logger) *Supervisor {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Supervisor{
		pollInterval: pollInterval,
		env:          env,
		logger:       logger,
	}
}

// Active reports whether a request is currently in flight.
func (s *Supervisor) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Cancel asks the in-flight process to stop. It is a no-op when idle.
func (s *Supervisor) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		s.cancelled.Store(true)
	}
}

// Run launches the request and blocks until the process reaches a terminal
// outcome. Context cancellation is treated like Cancel. An error is returned
// only when the process could not be started or waited on.
func (s *Supervisor) Run(ctx context.Context, req domain.ExecutionRequest) (domain.ExecutionOutcome, error) {
	if len(req.Args) == 0 {
		return domain.ExecutionOutcome{}, errors.New("empty argument vector")
	}
	if err := s.acquire(); err != nil {
		return domain.ExecutionOutcome{}, err
	}
	defer s.release()
	if ctx.Err() != nil {
		return s.interrupted(req, domain.Cancelled(0)), nil
	}

	cmd := exec.Command(req.Args[0], req.Args[1:]...)
	cmd.Dir = req.Dir
	cmd.Env = mergeEnv(s.env, req.Env)
	setProcessGroup(cmd)

	closeFiles, err := redirect(cmd, req)
	if err != nil {
		return domain.ExecutionOutcome{}, err
	}
	defer closeFiles()

	var expired atomic.Bool
	startTime := time.Now()
	if err := cmd.Start(); err != nil {
		return domain.ExecutionOutcome{}, fmt.Errorf("start %s: %w", req.Args[0], err)
	}

	s.logger.Debug("Process started",
		zap.Strings("args", req.Args),
		zap.String("dir", req.Dir),
		zap.Int("pid", cmd.Process.Pid),
		zap.Duration("timeout", req.Timeout),
	)

	if req.Timeout > 0 {
		timer := time.AfterFunc(req.Timeout, func() { expired.Store(true) })
		defer timer.Stop()
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case waitErr := <-done:
			return s.exited(req, cmd, waitErr, expired.Load(), time.Since(startTime))

		case <-ctx.Done():
			s.stop(cmd, done)
			return s.interrupted(req, domain.Cancelled(time.Since(startTime))), nil

		case <-ticker.C:
			// A process that already exited wins over a late cancel.
			select {
			case waitErr := <-done:
				return s.exited(req, cmd, waitErr, expired.Load(), time.Since(startTime))
			default:
			}

			if s.cancelled.Load() {
				s.stop(cmd, done)
				return s.interrupted(req, domain.Cancelled(time.Since(startTime))), nil
			}
			if expired.Load() {
				s.stop(cmd, done)
				return s.interrupted(req, domain.TimedOut(time.Since(startTime))), nil
			}
		}
	}
}

func (s *Supervisor) acquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return domain.ErrRequestInFlight
	}
	s.active = true
	s.cancelled.Store(false)
	return nil
}

func (s *Supervisor) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
	s.cancelled.Store(false)
}

// stop kills the process group and waits for the child to be reaped.
func (s *Supervisor) stop(cmd *exec.Cmd, done <-chan error) {
	if err := killProcessGroup(cmd); err != nil {
		s.logger.Warn("Failed to kill process", zap.Int("pid", cmd.Process.Pid), zap.Error(err))
	}
	<-done
}

// exited maps a reaped process to its outcome. A process that outlived its
// deadline is timed out even when it exits before the next poll tick.
func (s *Supervisor) exited(req domain.ExecutionRequest, cmd *exec.Cmd, waitErr error, expired bool, elapsed time.Duration) (domain.ExecutionOutcome, error) {
	if expired {
		return s.interrupted(req, domain.TimedOut(elapsed)), nil
	}
	return s.completed(cmd, waitErr, elapsed)
}

func (s *Supervisor) completed(cmd *exec.Cmd, waitErr error, elapsed time.Duration) (domain.ExecutionOutcome, error) {
	if waitErr == nil {
		return domain.Completed(0, elapsed), nil
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		s.logger.Debug("Process exited",
			zap.Int("pid", cmd.Process.Pid),
			zap.Int("exit_code", exitErr.ExitCode()),
			zap.Duration("elapsed", elapsed),
		)
		return domain.Completed(exitErr.ExitCode(), elapsed), nil
	}
	return domain.ExecutionOutcome{}, fmt.Errorf("wait: %w", waitErr)
}

func (s *Supervisor) interrupted(req domain.ExecutionRequest, outcome domain.ExecutionOutcome) domain.ExecutionOutcome {
	s.logger.Info("Process interrupted",
		zap.String("program", req.Args[0]),
		zap.String("outcome", string(outcome.Kind)),
		zap.Duration("elapsed", outcome.Duration),
	)
	return outcome
}

// ──────────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────────

// redirect wires the request's stdin/stdout/stderr files into cmd. Without a
// separate stderr file, stderr goes to the stdout file. Streams without a
// destination go to the null device.
func redirect(cmd *exec.Cmd, req domain.ExecutionRequest) (func(), error) {
	var opened []*os.File
	closeAll := func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}

	if req.StdinPath != "" {
		f, err := os.Open(req.StdinPath)
		if err != nil {
			return nil, fmt.Errorf("open stdin: %w", err)
		}
		opened = append(opened, f)
		cmd.Stdin = f
	}

	if req.StdoutPath != "" {
		f, err := os.Create(req.StdoutPath)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("create stdout: %w", err)
		}
		opened = append(opened, f)
		cmd.Stdout = f
		cmd.Stderr = f
	}

	if req.StderrPath != "" {
		f, err := os.Create(req.StderrPath)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("create stderr: %w", err)
		}
		opened = append(opened, f)
		cmd.Stderr = f
	}

	return closeAll, nil
}

func mergeEnv(base, extra []string) []string {
	env := os.Environ()
	env = append(env, base...)
	return append(env, extra...)
}
