package pipeline

import (
	"context"
	"os/exec"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/passbuild/passbuild/internal/domain"
	"github.com/passbuild/passbuild/internal/executor"
	"github.com/passbuild/passbuild/internal/resource"
)

func TestRun_BashTimeoutWithSupervisor(t *testing.T) {
	if _, err := exec.LookPath("bash"); err != nil {
		t.Skip("bash not found in PATH")
	}

	settings := testSettings(t)
	settings.Timeout = 300 * time.Millisecond
	sup := executor.NewSupervisor(20*time.Millisecond, nil, zap.NewNop())
	p := New(sup, resource.NewFetcher(time.Second, zap.NewNop()), settings, zap.NewNop())

	spec := &domain.AssignmentSpec{Label: "loop", MainFile: "loop.sh", Run: true}
	files := []domain.SubmissionFile{submission(t, "loop.sh", "echo started\nsleep 30\n", domain.LangBash)}

	start := time.Now()
	report, err := p.Run(context.Background(), spec, files, Options{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Fatalf("run took %v, timeout not enforced", elapsed)
	}

	if report.Status != domain.StatusTimedOut {
		t.Errorf("Status = %s, want TIMED_OUT", report.Status)
	}
	if report.Execution == nil || report.Execution.Kind != domain.OutcomeTimedOut {
		t.Errorf("Execution = %+v", report.Execution)
	}
	timeouts := report.WarningsOf(domain.WarnTimeout)
	if len(timeouts) != 1 || !strings.Contains(timeouts[0].Message, "0.3s") {
		t.Errorf("timeout warnings = %+v", timeouts)
	}
	if got := sectionBody(t, report, domain.SectionStdout); got != "started\n" {
		t.Errorf("stdout = %q, want output captured before the kill", got)
	}
	assertCleanedUp(t, settings.TempDir)
}

func TestRun_BashEchoWithSupervisor(t *testing.T) {
	if _, err := exec.LookPath("bash"); err != nil {
		t.Skip("bash not found in PATH")
	}

	settings := testSettings(t)
	sup := executor.NewSupervisor(20*time.Millisecond, nil, zap.NewNop())
	p := New(sup, resource.NewFetcher(time.Second, zap.NewNop()), settings, zap.NewNop())

	spec := &domain.AssignmentSpec{
		Label: "echo", MainFile: "echo.sh", Run: true,
		Args:   []string{"a b"},
		Inputs: []string{"line"},
	}
	script := "read x\necho \"$1:$x\"\necho oops >&2\n"
	files := []domain.SubmissionFile{submission(t, "echo.sh", script, domain.LangBash)}

	report, err := p.Run(context.Background(), spec, files, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if report.Status != domain.StatusSuccess {
		t.Errorf("Status = %s, warnings = %+v", report.Status, report.Warnings)
	}
	if got := sectionBody(t, report, domain.SectionStdout); got != "a b:line\n" {
		t.Errorf("stdout = %q", got)
	}
	if got := sectionBody(t, report, domain.SectionStderr); got != "oops\n" {
		t.Errorf("stderr = %q", got)
	}
}

// cancelFirst requests a pipeline cancel just before the supervisor becomes
// active, when Supervisor.Cancel alone would be a no-op.
type cancelFirst struct {
	*executor.Supervisor
	p *Pipeline
}

func (c cancelFirst) Run(ctx context.Context, req domain.ExecutionRequest) (domain.ExecutionOutcome, error) {
	c.p.Cancel()
	return c.Supervisor.Run(ctx, req)
}

func TestRun_CancelBeforeLaunchIsKept(t *testing.T) {
	if _, err := exec.LookPath("bash"); err != nil {
		t.Skip("bash not found in PATH")
	}

	settings := testSettings(t)
	settings.Timeout = 5 * time.Second
	runner := &cancelFirst{Supervisor: executor.NewSupervisor(20*time.Millisecond, nil, zap.NewNop())}
	p := New(runner, resource.NewFetcher(time.Second, zap.NewNop()), settings, zap.NewNop())
	runner.p = p

	spec := &domain.AssignmentSpec{Label: "loop", MainFile: "loop.sh", Run: true}
	files := []domain.SubmissionFile{submission(t, "loop.sh", "sleep 30\n", domain.LangBash)}

	start := time.Now()
	report, err := p.Run(context.Background(), spec, files, Options{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("run took %v, cancel was lost", elapsed)
	}
	if report.Execution == nil || report.Execution.Kind != domain.OutcomeCancelled {
		t.Errorf("Execution = %+v, want CANCELLED", report.Execution)
	}
	if report.Status != domain.StatusCancelled {
		t.Errorf("Status = %s, want CANCELLED", report.Status)
	}
}
