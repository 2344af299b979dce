package executor

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/passbuild/passbuild/internal/domain"
)

func skipIfNoShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not found in PATH")
	}
}

func newTestSupervisor() *Supervisor {
	return NewSupervisor(20*time.Millisecond, nil, zap.NewNop())
}

func waitActive(t *testing.T, s *Supervisor) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !s.Active() {
		if time.Now().After(deadline) {
			t.Fatal("supervisor never became active")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRun_ExitCode(t *testing.T) {
	skipIfNoShell(t)

	tests := []struct {
		name   string
		script string
		want   int
	}{
		{"success", "exit 0", 0},
		{"failure", "exit 3", 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSupervisor()
			out, err := s.Run(context.Background(), domain.ExecutionRequest{
				Args:    []string{"sh", "-c", tt.script},
				Dir:     t.TempDir(),
				Timeout: 10 * time.Second,
			})
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if out.Kind != domain.OutcomeCompleted {
				t.Fatalf("Kind = %s, want COMPLETED", out.Kind)
			}
			if out.ExitCode != tt.want {
				t.Errorf("ExitCode = %d, want %d", out.ExitCode, tt.want)
			}
		})
	}
}

func TestRun_MergesStderrIntoStdout(t *testing.T) {
	skipIfNoShell(t)
	dir := t.TempDir()
	stdout := filepath.Join(dir, "log")

	s := newTestSupervisor()
	_, err := s.Run(context.Background(), domain.ExecutionRequest{
		Args:       []string{"sh", "-c", "echo out; echo err 1>&2"},
		Dir:        dir,
		StdoutPath: stdout,
		Timeout:    10 * time.Second,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	data, _ := os.ReadFile(stdout)
	if !strings.Contains(string(data), "out") || !strings.Contains(string(data), "err") {
		t.Errorf("merged log = %q, want both streams", data)
	}
}

func TestRun_SeparateStreamsAndStdin(t *testing.T) {
	skipIfNoShell(t)
	dir := t.TempDir()
	stdin := filepath.Join(dir, "in")
	stdout := filepath.Join(dir, "out")
	stderr := filepath.Join(dir, "err")
	if err := os.WriteFile(stdin, []byte("alpha\nbeta\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := newTestSupervisor()
	out, err := s.Run(context.Background(), domain.ExecutionRequest{
		Args:       []string{"sh", "-c", "cat; echo oops 1>&2"},
		Dir:        dir,
		StdinPath:  stdin,
		StdoutPath: stdout,
		StderrPath: stderr,
		Timeout:    10 * time.Second,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !out.Succeeded() {
		t.Fatalf("outcome = %s, want success", out)
	}

	gotOut, _ := os.ReadFile(stdout)
	gotErr, _ := os.ReadFile(stderr)
	if string(gotOut) != "alpha\nbeta\n" {
		t.Errorf("stdout = %q", gotOut)
	}
	if string(gotErr) != "oops\n" {
		t.Errorf("stderr = %q", gotErr)
	}
}

func TestRun_MergesEnvironment(t *testing.T) {
	skipIfNoShell(t)
	dir := t.TempDir()
	stdout := filepath.Join(dir, "out")

	s := NewSupervisor(20*time.Millisecond, []string{"PASS_COURSE=cs101"}, zap.NewNop())
	_, err := s.Run(context.Background(), domain.ExecutionRequest{
		Args:       []string{"sh", "-c", `echo "$PASS_COURSE/$PASS_EXTRA"`},
		Dir:        dir,
		Env:        []string{"PASS_EXTRA=lab1"},
		StdoutPath: stdout,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	data, _ := os.ReadFile(stdout)
	if strings.TrimSpace(string(data)) != "cs101/lab1" {
		t.Errorf("stdout = %q, want cs101/lab1", data)
	}
}

func TestRun_Timeout(t *testing.T) {
	skipIfNoShell(t)

	s := newTestSupervisor()
	start := time.Now()
	out, err := s.Run(context.Background(), domain.ExecutionRequest{
		Args:    []string{"sh", "-c", "sleep 30"},
		Dir:     t.TempDir(),
		Timeout: 200 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.Kind != domain.OutcomeTimedOut {
		t.Fatalf("Kind = %s, want TIMED_OUT", out.Kind)
	}
	if out.Succeeded() {
		t.Error("timed-out outcome must not report success")
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("timeout took %s, process was not killed promptly", elapsed)
	}
	if s.Active() {
		t.Error("supervisor still active after terminal outcome")
	}
}

func TestRun_ExitAfterDeadlineBeforeTickIsTimeout(t *testing.T) {
	skipIfNoShell(t)

	// The child exits well after the deadline but long before the first tick.
	s := NewSupervisor(5*time.Second, nil, zap.NewNop())
	out, err := s.Run(context.Background(), domain.ExecutionRequest{
		Args:    []string{"sh", "-c", "sleep 0.3"},
		Dir:     t.TempDir(),
		Timeout: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.Kind != domain.OutcomeTimedOut {
		t.Fatalf("Kind = %s, want TIMED_OUT", out.Kind)
	}
}

func TestRun_Cancel(t *testing.T) {
	skipIfNoShell(t)

	s := newTestSupervisor()
	result := make(chan domain.ExecutionOutcome, 1)
	go func() {
		out, _ := s.Run(context.Background(), domain.ExecutionRequest{
			Args:    []string{"sh", "-c", "sleep 30"},
			Dir:     t.TempDir(),
			Timeout: time.Minute,
		})
		result <- out
	}()

	waitActive(t, s)
	s.Cancel()

	select {
	case out := <-result:
		if out.Kind != domain.OutcomeCancelled {
			t.Errorf("Kind = %s, want CANCELLED", out.Kind)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("cancel was not observed")
	}
}

func TestRun_ContextCancel(t *testing.T) {
	skipIfNoShell(t)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	s := newTestSupervisor()
	out, err := s.Run(ctx, domain.ExecutionRequest{
		Args: []string{"sh", "-c", "sleep 30"},
		Dir:  t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.Kind != domain.OutcomeCancelled {
		t.Errorf("Kind = %s, want CANCELLED", out.Kind)
	}
}

func TestCancel_IdleIsNoop(t *testing.T) {
	skipIfNoShell(t)

	s := newTestSupervisor()
	s.Cancel()

	out, err := s.Run(context.Background(), domain.ExecutionRequest{
		Args: []string{"sh", "-c", "sleep 0.1; exit 0"},
		Dir:  t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !out.Succeeded() {
		t.Errorf("outcome = %s, idle cancel leaked into next request", out)
	}
}

func TestRun_RejectsConcurrentRequest(t *testing.T) {
	skipIfNoShell(t)

	s := newTestSupervisor()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.Run(context.Background(), domain.ExecutionRequest{
			Args:    []string{"sh", "-c", "sleep 30"},
			Dir:     t.TempDir(),
			Timeout: time.Minute,
		})
	}()

	waitActive(t, s)
	_, err := s.Run(context.Background(), domain.ExecutionRequest{Args: []string{"true"}})
	if !errors.Is(err, domain.ErrRequestInFlight) {
		t.Errorf("error = %v, want ErrRequestInFlight", err)
	}

	s.Cancel()
	<-done
}

func TestRun_StartFailure(t *testing.T) {
	s := newTestSupervisor()
	_, err := s.Run(context.Background(), domain.ExecutionRequest{
		Args: []string{filepath.Join(t.TempDir(), "missing-binary")},
	})
	if err == nil {
		t.Fatal("expected start error")
	}
	if s.Active() {
		t.Error("supervisor still active after start failure")
	}
}

func TestRun_EmptyArgs(t *testing.T) {
	s := newTestSupervisor()
	if _, err := s.Run(context.Background(), domain.ExecutionRequest{}); err == nil {
		t.Fatal("expected error for empty args")
	}
}
