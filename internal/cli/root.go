// Package cli wires configuration, logging and the servers into the bookfeed
// commands.
package cli

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/bryan-buckman/bookfeed/internal/config"
)

// app is the state shared by all commands.
type app struct {
	cfg    config.Config
	log    *slog.Logger
	stderr io.Writer

	configFile string
	logLevel   string
	logFormat  string
}

// Execute runs the command line until ctx is cancelled.
func Execute(ctx context.Context) error {
	return NewRootCommand(os.Stderr).ExecuteContext(ctx)
}

// NewRootCommand builds the command tree. Logs go to stderr.
func NewRootCommand(stderr io.Writer) *cobra.Command {
	a := &app{stderr: stderr}

	root := &cobra.Command{
		Use:           "bookfeed",
		Short:         "Book page with live comment and like feeds",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}
	root.PersistentFlags().StringVar(&a.configFile, "config", "", "HCL config file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level: debug|info|warn|error")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "Log format: text|json")

	root.AddCommand(a.webCommand(), a.feedsCommand(), a.watchCommand())
	return root
}

func (a *app) init() error {
	var files []string
	if a.configFile != "" {
		files = append(files, a.configFile)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}
	if a.logFormat != "" {
		cfg.LogFormat = a.logFormat
	}
	a.cfg = cfg
	a.log = cfg.Logger(a.stderr)
	// Also routes the standard logger through slog.
	slog.SetDefault(a.log)

	middleware.DefaultLogger = middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger:  slog.NewLogLogger(a.log.Handler(), slog.LevelInfo),
		NoColor: true,
	})
	return nil
}
