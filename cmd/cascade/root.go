package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/kode4food/cascade"
	"github.com/kode4food/cascade/internal/config"
	"github.com/kode4food/cascade/pkg/log"
)

type app struct {
	cfg *config.Config
	out io.Writer
	err io.Writer
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	a := &app{
		cfg: config.NewDefaultConfig(),
		out: out,
		err: errOut,
	}

	var logLevel string
	root := &cobra.Command{
		Use:     cascade.Name,
		Short:   "Resolve and run flow executions",
		Version: cascade.Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.cfg.LoadFromEnv(); err != nil {
				return err
			}
			if logLevel != "" {
				a.cfg.LogLevel = logLevel
			}
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			a.setupLogging()
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.SetErr(errOut)
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"log level (debug, info, warn, error)",
	)

	root.AddCommand(
		a.newRunCmd(),
		a.newServerCmd(),
		a.newValidateCmd(),
	)
	return root
}

// setupLogging sends logs to the error stream so run output stays parseable
func (a *app) setupLogging() {
	level, err := log.ParseLevel(a.cfg.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}

	env := os.Getenv("ENV")
	logger := log.NewWithWriter(
		a.err, cascade.Name, env, cascade.Version, level,
	)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level)
}
