// Package pipeline drives one submission through staging, resource fetch,
// compile, run and result scan.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/passbuild/passbuild/internal/capture"
	"github.com/passbuild/passbuild/internal/config"
	"github.com/passbuild/passbuild/internal/domain"
	"github.com/passbuild/passbuild/internal/resource"
	"github.com/passbuild/passbuild/internal/staging"
	"github.com/passbuild/passbuild/internal/strategy"
)

// State is a pipeline step.
type State string

const (
	StateStaging       State = "STAGING"
	StateResourceFetch State = "RESOURCE_FETCH"
	StateCompile       State = "COMPILE"
	StateRun           State = "RUN"
	StateResultScan    State = "RESULT_SCAN"
	StateDone          State = "DONE"
)

// ProcessRunner runs one external process at a time.
type ProcessRunner interface {
	Run(ctx context.Context, req domain.ExecutionRequest) (domain.ExecutionOutcome, error)
	Cancel()
}

// ResourceFetcher retrieves resource files and build scripts.
type ResourceFetcher interface {
	Fetch(ctx context.Context, uri, destDir string, namer resource.Namer, force bool) (resource.Result, error)
}

// StepObserver is told about every supervised process.
type StepObserver interface {
	ObserveStep(state State, lang domain.Language, outcome domain.ExecutionOutcome)
}

// Settings are the configured defaults for every run.
type Settings struct {
	Timeout      time.Duration
	MaxOutput    int64
	VerbMaxChars int
	VerbTabCount int
	Encoding     string
	TempDir      string
	Toolchain    config.ToolchainConfig
}

// SettingsFromConfig extracts pipeline settings from the loaded config.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		Timeout:      cfg.Pipeline.Timeout,
		MaxOutput:    cfg.Capture.MaxOutput,
		VerbMaxChars: cfg.Capture.VerbMaxChars,
		VerbTabCount: cfg.Capture.VerbTabCount,
		Encoding:     cfg.Capture.Encoding,
		TempDir:      cfg.Pipeline.TempDir,
		Toolchain:    cfg.Toolchain,
	}
}

// Options are per-run inputs from the caller.
type Options struct {
	// BaseDir preserves submission layout relative to it when set.
	BaseDir  string
	Encoding string
	// NoPDF selects the no-PDF build script and run toggle, and allows
	// previously fetched resources to be reused.
	NoPDF bool
	// ResultsDir receives copies of the result files found.
	ResultsDir string
	// OnProgress is called after every step. It must not block.
	OnProgress func(State, domain.Progress)
}

// Pipeline runs submissions. A Pipeline serves one session: a second Run
// while one is active fails with ErrSessionBusy.
type Pipeline struct {
	runner   ProcessRunner
	fetcher  ResourceFetcher
	settings Settings
	observer StepObserver
	logger   *zap.Logger

	mu        sync.Mutex
	running   bool
	stop      context.CancelFunc
	cancelled atomic.Bool
}

// New creates a pipeline.
func New(runner ProcessRunner, fetcher ResourceFetcher, settings Settings, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		runner:   runner,
		fetcher:  fetcher,
		settings: settings,
		logger:   logger,
	}
}

// WithObserver attaches a step observer.
func (p *Pipeline) WithObserver(o StepObserver) *Pipeline {
	p.observer = o
	return p
}

// Cancel stops the process in flight. The run still completes and reports
// what it has.
func (p *Pipeline) Cancel() {
	p.cancelled.Store(true)
	p.mu.Lock()
	stop := p.stop
	p.mu.Unlock()
	if stop != nil {
		stop()
	}
	p.runner.Cancel()
}

// run holds the state of one Run call.
type run struct {
	spec     *domain.AssignmentSpec
	opts     Options
	report   *domain.RunReport
	area     *staging.Area
	renderer *capture.Renderer
	bc       *strategy.BuildContext
	strat    strategy.Strategy
	maxOut   int64
	progress domain.Progress
}

// Run builds and runs a submission. The returned report is always non-nil.
// An error is returned only when the run aborted on an infrastructure or
// required-resource failure; the report then has status ABORTED.
func (p *Pipeline) Run(ctx context.Context, spec *domain.AssignmentSpec, files []domain.SubmissionFile, opts Options) (*domain.RunReport, error) {
	report := domain.NewRunReport(spec.Label, domain.LangUnknown)
	// procCtx is cancelled by Cancel and bounds every supervised process.
	procCtx, stop := context.WithCancel(ctx)
	defer stop()
	if err := p.begin(stop); err != nil {
		return p.abort(report, err), err
	}
	defer p.end()

	r := &run{
		spec:     spec,
		opts:     opts,
		report:   report,
		maxOut:   firstPositive64(spec.MaxOutput, p.settings.MaxOutput),
		progress: domain.Progress{Total: len(files) + 3},
	}

	enc := opts.Encoding
	if enc == "" {
		enc = p.settings.Encoding
	}
	renderer, err := capture.NewRenderer(
		firstPositive(spec.VerbMaxChars, p.settings.VerbMaxChars),
		firstPositive(spec.VerbTabCount, p.settings.VerbTabCount),
		enc,
	)
	if err != nil {
		pe := domain.NewPipelineError(domain.KindInternal, err)
		return p.abort(report, pe), pe
	}
	r.renderer = renderer

	area, err := staging.New(p.settings.TempDir, spec.Label, p.logger)
	if err != nil {
		pe := domain.NewPipelineError(domain.KindStaging, err)
		return p.abort(report, pe), pe
	}
	r.area = area
	defer func() {
		if err := area.Sweep(); err != nil {
			p.logger.Error("Failed to clean up staging area", zap.String("root", area.Root()), zap.Error(err))
		}
	}()

	p.logger.Info("Build started",
		zap.String("run_id", report.RunID.String()),
		zap.String("assignment", spec.Label),
		zap.Int("files", len(files)),
		zap.Bool("no_pdf", opts.NoPDF),
	)

	if err := p.stage(r, files); err != nil {
		pe := domain.NewPipelineError(domain.KindStaging, err)
		return p.abort(report, pe), pe
	}
	if err := p.fetchResources(ctx, r); err != nil {
		pe := domain.NewPipelineError(domain.KindResource, err)
		return p.abort(report, pe), pe
	}
	if err := p.build(procCtx, r); err != nil {
		var pe *domain.PipelineError
		if !errors.As(err, &pe) {
			pe = domain.NewPipelineError(domain.KindInternal, err)
		}
		return p.abort(report, pe), pe
	}

	p.advance(r, StateDone, r.progress.Total)
	report.Progress = r.progress
	report.FinishedAt = time.Now().UTC()

	for _, w := range report.Warnings {
		p.logger.Warn("Build warning",
			zap.String("run_id", report.RunID.String()),
			zap.String("kind", string(w.Kind)),
			zap.String("message", w.Message),
		)
	}

	p.logger.Info("Build finished",
		zap.String("run_id", report.RunID.String()),
		zap.String("status", string(report.Status)),
		zap.Int("warnings", len(report.Warnings)),
		zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)),
	)
	return report, nil
}

func (p *Pipeline) begin(stop context.CancelFunc) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return domain.ErrSessionBusy
	}
	p.running = true
	p.stop = stop
	p.cancelled.Store(false)
	return nil
}

func (p *Pipeline) end() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = false
	p.stop = nil
}

func (p *Pipeline) abort(report *domain.RunReport, err error) *domain.RunReport {
	report.Status = domain.StatusAborted
	report.Error = err.Error()
	report.FinishedAt = time.Now().UTC()
	p.logger.Error("Build aborted",
		zap.String("run_id", report.RunID.String()),
		zap.String("assignment", report.Assignment),
		zap.Error(err),
	)
	return report
}

func (p *Pipeline) advance(r *run, state State, steps int) {
	r.progress = r.progress.Advance(steps)
	if r.opts.OnProgress != nil {
		r.opts.OnProgress(state, r.progress)
	}
}

// ──────────────────────────────────────────────────────
// Staging and resource fetch
// ──────────────────────────────────────────────────────

func (p *Pipeline) stage(r *run, files []domain.SubmissionFile) error {
	staged := make([]staging.StagedFile, 0, len(files))
	var main *staging.StagedFile

	for _, f := range files {
		sf, warning, err := r.area.Stage(f, r.opts.BaseDir)
		if err != nil {
			return err
		}
		if warning != nil {
			r.report.AddWarnings(*warning)
		}
		staged = append(staged, sf)
		p.advance(r, StateStaging, 1)
	}
	for i := range staged {
		if r.spec.MainFile != "" && staged[i].Source.Name() == r.spec.MainFile {
			main = &staged[i]
			break
		}
	}

	r.bc = &strategy.BuildContext{
		Spec:      r.spec,
		Files:     staged,
		Main:      main,
		WorkDir:   r.area.WorkDir(),
		Toolchain: p.settings.Toolchain,
		Encoding:  r.opts.Encoding,
	}
	if r.bc.Encoding == "" {
		r.bc.Encoding = p.settings.Encoding
	}
	return nil
}

// fetchResources retrieves resource files and the build script into the work
// directory before any process starts. A failure aborts the run when a
// process step depends on it and is a warning otherwise.
func (p *Pipeline) fetchResources(ctx context.Context, r *run) error {
	force := !r.opts.NoPDF
	scriptURI := r.spec.BuildScriptURI(r.opts.NoPDF)
	needed := scriptURI != "" ||
		(r.bc.Main != nil && (r.spec.Compile || r.spec.RunEnabled(r.opts.NoPDF)))

	for _, res := range r.spec.Resources {
		got, err := p.fetcher.Fetch(ctx, res.URI, r.area.WorkDir(), r.area, force)
		if err != nil {
			if needed {
				return err
			}
			r.report.Warn(domain.WarnResource, "%v", err)
			continue
		}
		r.area.Track(got.Path)
		if got.Warning != nil {
			r.report.AddWarnings(*got.Warning)
		}
		r.bc.Resources = append(r.bc.Resources, got.Path)
	}

	if scriptURI != "" {
		got, err := p.fetcher.Fetch(ctx, scriptURI, r.area.WorkDir(), r.area, force)
		if err != nil {
			return fmt.Errorf("build script: %w", err)
		}
		r.area.Track(got.Path)
		if got.Warning != nil {
			r.report.AddWarnings(*got.Warning)
		}
		r.bc.BuildScript = got.Path
	}

	if r.opts.OnProgress != nil {
		r.opts.OnProgress(StateResourceFetch, r.progress)
	}
	return nil
}

func firstPositive(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

func firstPositive64(v, fallback int64) int64 {
	if v > 0 {
		return v
	}
	return fallback
}
