package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/passbuild/passbuild/internal/domain"
)

func skipIfNoBash(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("bash"); err != nil {
		t.Skip("bash not found in PATH")
	}
}

func setupEnv(t *testing.T) {
	t.Helper()
	t.Setenv("PASS_TEMP_DIR", t.TempDir())
	t.Setenv("PASS_LOG_LEVEL", "error")
	t.Setenv("PASS_TIMEOUT", "10s")
	t.Setenv("REDIS_URL", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("RABBITMQ_URL", "")
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewRootCommand()
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestRunCommand_BuildsAndPrintsReport(t *testing.T) {
	skipIfNoBash(t)
	setupEnv(t)
	metricsFile := filepath.Join(t.TempDir(), "passbuild.prom")
	t.Setenv("PASS_METRICS_FILE", metricsFile)

	dir := t.TempDir()
	spec := writeFile(t, dir, "hello.yaml", "label: hello\nmain_file: hello.sh\ncompile: false\n")
	script := writeFile(t, dir, "hello.sh", "echo hi from $1\n")

	out, err := execute(t, "run", "--assignment", spec, "--session", "s-1", script)
	if err != nil {
		t.Fatalf("run error = %v", err)
	}

	var report domain.RunReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("output is not a report: %v\n%s", err, out)
	}
	if report.Status != domain.StatusSuccess || report.Language != domain.LangBash {
		t.Errorf("status = %s, language = %s, warnings = %+v", report.Status, report.Language, report.Warnings)
	}
	var stdout string
	for _, s := range report.Sections {
		if s.Kind == domain.SectionStdout {
			stdout = s.Body
		}
	}
	if stdout != "hi from\n" {
		t.Errorf("stdout section = %q", stdout)
	}
	if _, err := os.Stat(metricsFile); err != nil {
		t.Errorf("metrics textfile not written: %v", err)
	}
}

func TestRunCommand_WritesReportFile(t *testing.T) {
	skipIfNoBash(t)
	setupEnv(t)

	dir := t.TempDir()
	spec := writeFile(t, dir, "lab.yaml", "label: lab\nmain_file: run.sh\nresults:\n  - name: out.txt\n    listing: true\n")
	script := writeFile(t, dir, "run.sh", "printf 'x\\n' > out.txt\n")
	reportFile := filepath.Join(dir, "report.json")
	resultsDir := filepath.Join(dir, "results")

	out, err := execute(t, "run", "-a", spec, "-o", reportFile, "--results-dir", resultsDir, script+"=bash")
	if err != nil {
		t.Fatalf("run error = %v", err)
	}
	if out != "" {
		t.Errorf("stdout = %q, want report in file only", out)
	}
	data, err := os.ReadFile(reportFile)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"kind": "result"`) {
		t.Errorf("report has no result section:\n%s", data)
	}
	if _, err := os.Stat(filepath.Join(resultsDir, "out.txt")); err != nil {
		t.Errorf("result file not copied: %v", err)
	}
}

func TestRunCommand_AbortedExitsNonZero(t *testing.T) {
	setupEnv(t)

	dir := t.TempDir()
	spec := writeFile(t, dir, "lab.yaml",
		"label: lab\nmain_file: main.c\nresources:\n  - uri: file:///nonexistent/passbuild/data.txt\n")
	src := writeFile(t, dir, "main.c", "int main(void) { return 0; }\n")

	out, err := execute(t, "run", "-a", spec, src)
	if err == nil {
		t.Fatal("run error = nil, want abort")
	}
	if !strings.Contains(out, `"status": "ABORTED"`) {
		t.Errorf("aborted report not printed:\n%s", out)
	}
}

func TestRunCommand_RequiresAssignment(t *testing.T) {
	setupEnv(t)
	if _, err := execute(t, "run", "main.c"); err == nil {
		t.Fatal("run without --assignment succeeded")
	}
}

func TestRunCommand_BadConfig(t *testing.T) {
	setupEnv(t)
	t.Setenv("PASS_POOL_SIZE", "0")
	if _, err := execute(t, "run", "-a", "x.yaml"); err == nil || !strings.Contains(err.Error(), "PASS_POOL_SIZE") {
		t.Fatalf("error = %v", err)
	}
}

func TestBatchCommand(t *testing.T) {
	skipIfNoBash(t)
	setupEnv(t)

	dir := t.TempDir()
	writeFile(t, dir, "lab.yaml", "label: lab\nmain_file: run.sh\ncompile: false\n")
	writeFile(t, dir, "alice/run.sh", "echo alice\n")
	writeFile(t, dir, "bob/run.sh", "exit 3\n")
	manifest := writeFile(t, dir, "batch.yaml", `
assignment: lab.yaml
jobs:
  - session: alice
    files: [alice/run.sh]
  - session: bob
    files: [bob/run.sh]
`)
	outDir := filepath.Join(dir, "reports")

	out, err := execute(t, "batch", "--manifest", manifest, "--out-dir", outDir, "--pool-size", "2")
	if err != nil {
		t.Fatalf("batch error = %v\n%s", err, out)
	}
	if !strings.Contains(out, "alice") || !strings.Contains(out, "RUN_FAILED") {
		t.Errorf("summary = %q", out)
	}
	for _, s := range []string{"alice", "bob"} {
		if _, err := os.Stat(filepath.Join(outDir, s+".json")); err != nil {
			t.Errorf("report for %s missing: %v", s, err)
		}
	}
}

func TestNewLogger(t *testing.T) {
	if _, err := newLogger("debug", false); err != nil {
		t.Errorf("newLogger(debug) error = %v", err)
	}
	if _, err := newLogger("loud", false); err == nil {
		t.Error("newLogger(loud) error = nil")
	}
	if _, err := newLogger("loud", true); err != nil {
		t.Errorf("verbose logger ignores level, got %v", err)
	}
}
