package cli

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/passbuild/passbuild/internal/assignment"
	"github.com/passbuild/passbuild/internal/domain"
	"github.com/passbuild/passbuild/internal/pipeline"
	"github.com/passbuild/passbuild/internal/pool"
	"github.com/passbuild/passbuild/internal/staging"
	"github.com/passbuild/passbuild/internal/usecase"
)

type batchResult struct {
	session string
	report  *domain.RunReport
	err     error
}

func newBatchCommand() *cobra.Command {
	var (
		manifestFile string
		outDir       string
		poolSize     int
	)

	cmd := &cobra.Command{
		Use:   "batch --manifest FILE",
		Short: "Build many submission sessions through a worker pool",
		Long: `Build every session listed in a manifest. Sessions run concurrently up
to the pool size; each one gets its own staging area and process supervisor.
Reports are written to --out-dir as <session>.json and a summary table is
printed. The exit status is non-zero when any build aborted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := GetApp(cmd)
			if err != nil {
				return err
			}

			manifest, jobs, err := assignment.LoadManifest(manifestFile)
			if err != nil {
				return err
			}
			if outDir != "" {
				if err := os.MkdirAll(outDir, 0o755); err != nil {
					return err
				}
			}
			size := poolSize
			if size < 1 {
				size = app.Config.Worker.PoolSize
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc, err := wire(ctx, app)
			if err != nil {
				return err
			}
			defer svc.Close()

			var mu sync.Mutex
			results := make([]batchResult, len(jobs))

			ch := make(chan *pool.JobMessage, len(jobs))
			for i, j := range jobs {
				opts := pipeline.Options{
					BaseDir:    j.BaseDir,
					Encoding:   j.Encoding,
					NoPDF:      j.NoPDF,
					OnProgress: progressLogger(app.Logger, j.Session),
				}
				if manifest.ResultsDir != "" {
					opts.ResultsDir = filepath.Join(manifest.ResultsDir, staging.SafeBaseName(j.Session))
				}
				ch <- &pool.JobMessage{
					Job: &usecase.BuildJob{Session: j.Session, Spec: j.Spec, Files: j.Files, Options: opts},
					Done: func(report *domain.RunReport, err error) {
						mu.Lock()
						results[i] = batchResult{session: j.Session, report: report, err: err}
						mu.Unlock()
					},
				}
			}
			close(ch)

			wp := pool.NewWorkerPool(size, ch, svc.usecase, app.Logger)
			wp.Start(ctx)
			wp.Stop()
			writeMetrics(app)

			return summarize(cmd, app, results, outDir)
		},
	}

	cmd.Flags().StringVarP(&manifestFile, "manifest", "m", "", "batch manifest (YAML)")
	cmd.Flags().StringVar(&outDir, "out-dir", "", "write one <session>.json report per session here")
	cmd.Flags().IntVar(&poolSize, "pool-size", 0, "concurrent builds (default from PASS_POOL_SIZE)")
	_ = cmd.MarkFlagRequired("manifest")

	return cmd
}

// summarize writes per-session reports and a status table. Sessions that
// never ran (cancelled before a worker picked them up) are listed as skipped.
func summarize(cmd *cobra.Command, app *App, results []batchResult, outDir string) error {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tSTATUS\tWARNINGS\tRUN ID")

	failed := 0
	for _, r := range results {
		switch {
		case r.session == "":
			failed++
			fmt.Fprintln(tw, "-\tSKIPPED\t-\t-")
		case r.report == nil:
			failed++
			fmt.Fprintf(tw, "%s\tERROR\t-\t%v\n", r.session, r.err)
		default:
			if r.report.Status == domain.StatusAborted {
				failed++
			}
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", r.session, r.report.Status, len(r.report.Warnings), r.report.RunID)
			if outDir != "" {
				path := filepath.Join(outDir, staging.SafeBaseName(r.session)+".json")
				if err := writeReport(nil, path, r.report); err != nil {
					app.Logger.Error("Failed to write report", zap.String("session", r.session), zap.Error(err))
				}
			}
		}
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d builds failed", failed, len(results))
	}
	return nil
}
