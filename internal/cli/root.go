// Package cli implements the passbuild command line.
package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/passbuild/passbuild/internal/config"
	"github.com/passbuild/passbuild/internal/metrics"
)

type contextKey string

const appContextKey contextKey = "passbuild"

// App is the loaded configuration and logger shared by every command.
type App struct {
	Config *config.Config
	Logger *zap.Logger
}

// NewRootCommand builds the passbuild command tree.
func NewRootCommand() *cobra.Command {
	var (
		cfgFile string
		verbose bool
	)

	root := &cobra.Command{
		Use:   "passbuild",
		Short: "Stage, compile, run and capture student submissions",
		Long: `passbuild builds a student submission the way the assignment describes:
files are staged into a private work area, resources are fetched, the
program is compiled and run under a timeout, and everything it printed or
produced is collected into a JSON run report.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg.Log.Level, verbose)
			if err != nil {
				return err
			}
			ctx := context.WithValue(cmd.Context(), appContextKey, &App{Config: cfg, Logger: logger})
			cmd.SetContext(ctx)
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			app, err := GetApp(cmd)
			if err != nil {
				return err
			}
			_ = app.Logger.Sync()
			return nil
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON, TOML or .env); environment variables override it")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "development logging at debug level")

	root.AddCommand(newRunCommand(), newBatchCommand())
	return root
}

// GetApp retrieves the App from the command context.
func GetApp(cmd *cobra.Command) (*App, error) {
	app, ok := cmd.Context().Value(appContextKey).(*App)
	if !ok {
		return nil, errors.New("no app in context")
	}
	return app, nil
}

func newLogger(level string, verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("PASS_LOG_LEVEL: %w", err)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = lvl
	return zcfg.Build()
}

func writeMetrics(app *App) {
	if app.Config.Worker.MetricsFile == "" {
		return
	}
	if err := metrics.WriteTextfile(app.Config.Worker.MetricsFile); err != nil {
		app.Logger.Warn("Failed to write metrics textfile",
			zap.String("path", app.Config.Worker.MetricsFile),
			zap.Error(err),
		)
	}
}
