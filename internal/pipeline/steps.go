package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"al.essio.dev/pkg/shellescape"
	"go.uber.org/zap"

	"github.com/passbuild/passbuild/internal/domain"
	"github.com/passbuild/passbuild/internal/strategy"
)

const noneText = "None."

// build selects a strategy and drives the compile, run and result scan
// steps. Only a failure to lay out files for the compiler is returned.
func (p *Pipeline) build(ctx context.Context, r *run) error {
	if r.bc.BuildScript == "" && r.bc.Main == nil {
		if r.spec.Compile {
			r.report.Warn(domain.WarnToolchain, "Can't compile: no main file.")
		} else {
			p.notice(r, "Compile setting off.")
		}
		return nil
	}

	r.strat = strategy.Select(r.bc)
	r.report.Language = r.strat.Language()
	if r.report.Language == domain.LangUnknown && r.bc.Main != nil {
		r.report.Language = r.bc.Main.Source.Language
	}

	p.logger.Debug("Strategy selected",
		zap.String("run_id", r.report.RunID.String()),
		zap.String("language", string(r.report.Language)),
		zap.String("mode", r.strat.Mode().String()),
	)

	switch r.strat.Mode() {
	case strategy.Script:
		p.runBuildScript(ctx, r)
	case strategy.Interpreted:
		p.advance(r, StateCompile, 1)
		p.runStep(ctx, r)
		p.scanResults(r)
	case strategy.Compiled:
		compiled, err := p.compileStep(ctx, r)
		if err != nil {
			return err
		}
		if !compiled {
			return nil
		}
		p.runStep(ctx, r)
		p.scanResults(r)
	default:
		p.notice(r, strategy.UnsupportedMessage(r.report.Language, r.bc.Main.Name))
		setStatus(r, domain.StatusUnsupported)
	}
	return nil
}

// runBuildScript runs the build script once with run-style capture, in place
// of the compile and run steps.
func (p *Pipeline) runBuildScript(ctx context.Context, r *run) {
	args, err := r.strat.RunArgs(r.bc)
	if err != nil {
		r.report.Warn(domain.WarnToolchain, "Something went wrong trying to run build script: %v", err)
		setStatus(r, domain.StatusToolchainError)
		p.advance(r, StateRun, 2)
		return
	}
	p.runApplication(ctx, r, StateCompile, args, r.strat.ExecDir(r.bc))
	p.advance(r, StateCompile, 1)
	p.advance(r, StateRun, 1)
	p.scanResults(r)
}

// compileStep reports whether the run step may follow.
func (p *Pipeline) compileStep(ctx context.Context, r *run) (bool, error) {
	defer p.advance(r, StateCompile, 1)

	if !r.spec.Compile {
		p.notice(r, "Compile setting off.")
		return false, nil
	}
	if prep, ok := r.strat.(strategy.Preparer); ok {
		if err := prep.Prepare(r.bc); err != nil {
			return false, domain.NewPipelineError(domain.KindStaging, err)
		}
	}

	args := r.strat.CompileArgs(r.bc)
	r.report.AddSection(domain.Section{
		Kind:     domain.SectionCompilerInvocation,
		Title:    "Compiler Invocation",
		Body:     shellescape.QuoteCommand(args),
		Verbatim: true,
	})

	logPath := r.area.IOPath("compiler.log")
	outcome, err := p.execute(ctx, r, StateCompile, domain.ExecutionRequest{
		Args:       args,
		Dir:        r.bc.WorkDir,
		StdoutPath: logPath,
		Timeout:    p.settings.Timeout,
	})
	if err != nil {
		r.report.Warn(domain.WarnToolchain, "Unable to run compiler: %v", err)
		setStatus(r, domain.StatusToolchainError)
		return false, nil
	}
	r.report.Compile = &outcome
	p.addCapture(r, domain.SectionCompilerMessages, "Compiler Messages", logPath)

	if outcome.Interrupted() {
		return false, nil
	}
	if outcome.ExitCode != 0 {
		p.notice(r, fmt.Sprintf("Compiler returned exit code %d.", outcome.ExitCode))
		setStatus(r, domain.StatusCompileFailed)
		return false, nil
	}
	return true, nil
}

func (p *Pipeline) runStep(ctx context.Context, r *run) {
	defer p.advance(r, StateRun, 1)

	if !r.spec.RunEnabled(r.opts.NoPDF) {
		p.notice(r, "Run application setting is off.")
		return
	}

	args, err := r.strat.RunArgs(r.bc)
	if err != nil {
		if errors.Is(err, strategy.ErrArtifactMissing) {
			p.notice(r, "Executable doesn't exist.")
		}
		r.report.Warn(domain.WarnToolchain, "%v", err)
		setStatus(r, domain.StatusToolchainError)
		return
	}
	p.runApplication(ctx, r, StateRun, args, r.strat.ExecDir(r.bc))
}

// runApplication runs a program with the assignment arguments and stdin
// lines, capturing stdout and stderr separately.
func (p *Pipeline) runApplication(ctx context.Context, r *run, state State, args []string, dir string) {
	args = append(append([]string(nil), args...), r.spec.Args...)
	req := domain.ExecutionRequest{
		Args:       args,
		Dir:        dir,
		StdoutPath: r.area.IOPath("stdout"),
		StderrPath: r.area.IOPath("stderr"),
		Timeout:    p.settings.Timeout,
	}
	if len(r.spec.Inputs) > 0 {
		stdin, err := r.area.WriteIOFile("stdin", []byte(strings.Join(r.spec.Inputs, "\n")+"\n"))
		if err != nil {
			r.report.Warn(domain.WarnToolchain, "Unable to write input file: %v", err)
			setStatus(r, domain.StatusToolchainError)
			return
		}
		req.StdinPath = stdin
	}

	r.report.AddSection(domain.Section{
		Kind:     domain.SectionRunInvocation,
		Title:    "Application Invocation",
		Body:     shellescape.QuoteCommand(displayArgs(args)),
		Verbatim: true,
	})

	outcome, err := p.execute(ctx, r, state, req)
	if err != nil {
		r.report.Warn(domain.WarnToolchain, "Unable to run application: %v", err)
		setStatus(r, domain.StatusToolchainError)
		return
	}
	r.report.Execution = &outcome

	p.addCapture(r, domain.SectionStdout, "Messages to STDOUT", req.StdoutPath)
	p.addCapture(r, domain.SectionStderr, "Messages to STDERR", req.StderrPath)

	if outcome.Kind == domain.OutcomeCompleted && outcome.ExitCode != 0 {
		r.report.Warn(domain.WarnRunFailed, "Something went wrong while testing the application. Exit code: %d.", outcome.ExitCode)
		setStatus(r, domain.StatusRunFailed)
	}
}

// execute hands a request to the runner. Timeouts and cancellations become
// warnings. A cancel requested between steps stops later steps from starting.
func (p *Pipeline) execute(ctx context.Context, r *run, state State, req domain.ExecutionRequest) (domain.ExecutionOutcome, error) {
	var outcome domain.ExecutionOutcome
	if p.cancelled.Load() {
		outcome = domain.Cancelled(0)
	} else {
		var err error
		outcome, err = p.runner.Run(ctx, req)
		if err != nil {
			p.logger.Warn("Process failed to start",
				zap.String("run_id", r.report.RunID.String()),
				zap.String("state", string(state)),
				zap.Strings("args", req.Args),
				zap.Error(err),
			)
			return outcome, err
		}
	}

	if p.observer != nil {
		p.observer.ObserveStep(state, r.report.Language, outcome)
	}

	switch outcome.Kind {
	case domain.OutcomeTimedOut:
		r.report.Warn(domain.WarnTimeout, "Process timed out after %gs.", req.Timeout.Seconds())
		setStatus(r, domain.StatusTimedOut)
	case domain.OutcomeCancelled:
		r.report.Warn(domain.WarnCancelled, "Process cancelled.")
		setStatus(r, domain.StatusCancelled)
	}
	return outcome, nil
}

// addCapture renders a capture file into a section. A missing or empty
// file renders as "None.".
func (p *Pipeline) addCapture(r *run, kind domain.SectionKind, title, path string) {
	frag, err := r.renderer.RenderFile(path, r.maxOut)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		r.report.Warn(domain.WarnToolchain, "Unable to read %s: %v", strings.ToLower(title), err)
		return
	}

	section := domain.Section{Kind: kind, Title: title, Body: frag.Text, Verbatim: true, Truncated: frag.Truncated}
	if frag.Empty() {
		section.Body = noneText
		section.Verbatim = false
	}
	r.report.AddSection(section)
	r.report.AddWarnings(frag.Warnings...)
}

func (p *Pipeline) notice(r *run, msg string) {
	r.report.AddSection(domain.Section{Kind: domain.SectionNotice, Body: msg})
}

// setStatus keeps the first non-success status.
func setStatus(r *run, status domain.RunStatus) {
	if r.report.Status == domain.StatusSuccess {
		r.report.Status = status
	}
}

// displayArgs shows absolute paths of existing files by base name so the
// staging location never leaks into the report.
func displayArgs(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = a
		if filepath.IsAbs(a) {
			if _, err := os.Stat(a); err == nil {
				out[i] = filepath.Base(a)
			}
		}
	}
	return out
}
