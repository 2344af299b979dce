package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/passbuild/passbuild/internal/assignment"
	"github.com/passbuild/passbuild/internal/domain"
	"github.com/passbuild/passbuild/internal/pipeline"
	"github.com/passbuild/passbuild/internal/usecase"
)

func newRunCommand() *cobra.Command {
	var (
		specFile   string
		baseDir    string
		encoding   string
		noPDF      bool
		session    string
		out        string
		resultsDir string
	)

	cmd := &cobra.Command{
		Use:   "run --assignment FILE [flags] FILE[=LANG]...",
		Short: "Build one submission and print its run report",
		Long: `Build one submission. Each argument is a submitted file, optionally
followed by =LANG to set its language tag (for example notes=Plain Text).
Without a tag the language comes from the assignment's required files or
the file extension.

The exit status is non-zero only when the build aborted; compile errors,
timeouts and failing programs are reported in the run report.`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := GetApp(cmd)
			if err != nil {
				return err
			}

			spec, err := assignment.LoadSpec(specFile)
			if err != nil {
				return err
			}
			files := make([]domain.SubmissionFile, 0, len(args))
			for _, arg := range args {
				f, err := assignment.SubmissionFile(arg, spec)
				if err != nil {
					return err
				}
				files = append(files, f)
			}
			if session == "" {
				session = uuid.NewString()
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc, err := wire(ctx, app)
			if err != nil {
				return err
			}
			defer svc.Close()

			report, err := svc.usecase.Execute(ctx, &usecase.BuildJob{
				Session: session,
				Spec:    spec,
				Files:   files,
				Options: pipeline.Options{
					BaseDir:    baseDir,
					Encoding:   encoding,
					NoPDF:      noPDF,
					ResultsDir: resultsDir,
					OnProgress: progressLogger(app.Logger, session),
				},
			})
			writeMetrics(app)

			if report != nil {
				if werr := writeReport(cmd.OutOrStdout(), out, report); werr != nil {
					return werr
				}
			}
			if report == nil || report.Status == domain.StatusAborted {
				return err
			}
			if err != nil {
				app.Logger.Warn("Report built but not fully delivered", zap.Error(err))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&specFile, "assignment", "a", "", "assignment specification (YAML)")
	cmd.Flags().StringVar(&baseDir, "base-dir", "", "keep submitted files' layout relative to this directory")
	cmd.Flags().StringVar(&encoding, "encoding", "", "encoding of program output (default from PASS_ENCODING)")
	cmd.Flags().BoolVar(&noPDF, "no-pdf", false, "use the no-PDF build variant and reuse fetched resources")
	cmd.Flags().StringVar(&session, "session", "", "submission session id (default: random)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the report to this file instead of stdout")
	cmd.Flags().StringVar(&resultsDir, "results-dir", "", "copy result files found into this directory")
	_ = cmd.MarkFlagRequired("assignment")

	return cmd
}

func progressLogger(logger *zap.Logger, session string) func(pipeline.State, domain.Progress) {
	return func(state pipeline.State, p domain.Progress) {
		logger.Debug("Build progress",
			zap.String("session", session),
			zap.String("state", string(state)),
			zap.Int("current", p.Current),
			zap.Int("total", p.Total),
		)
	}
}

// writeReport writes the report as indented JSON to path, or to w when
// path is empty.
func writeReport(w io.Writer, path string, report *domain.RunReport) error {
	body, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	body = append(body, '\n')
	if path == "" {
		_, err = w.Write(body)
		return err
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
