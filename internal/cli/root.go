// Package cli implements the kickclip operator command.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dvcrn/kickclip/internal/app"
	"github.com/dvcrn/kickclip/internal/config"
	"github.com/dvcrn/kickclip/internal/logger"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:           "kickclip",
	Short:         "Log in to Kick and create clips from the command line",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.toml (default "+config.DefaultPath()+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// Main runs the CLI and exits non-zero on failure. Interrupts cancel the
// running command.
func Main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadApp builds the application for one command invocation. Logs go to
// stderr so command output stays clean.
func loadApp(cmd *cobra.Command) (*app.App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	log := logger.NewWithOptions(logger.Options{
		Environment: cfg.Environment,
		Level:       level,
		Out:         cmd.ErrOrStderr(),
	})
	return app.New(cfg, log)
}
