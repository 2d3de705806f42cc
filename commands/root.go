// Package commands provides the reviewd command-line interface.
package commands

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Coldaine/repo-analysis-suite/config"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "reviewd"
)

// rootFlags are shared by all subcommands.
type rootFlags struct {
	repoPath string
	logLevel string
}

// Execute runs the root command.
func Execute() error {
	return NewRootCommand().Execute()
}

// NewRootCommand builds the reviewd command tree.
func NewRootCommand() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Multi-specialist change review engine",
		Long: `Reviewd runs multi-specialist reviews over change requests.

A review plans a roster of specialists (alignment, testing, security, ...),
runs each as a bounded plan/gather/analyze loop against the repository, and
aggregates their verdicts into a single report.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&flags.repoPath, "repo", "", "Repository path to review (default: auto-detect)")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(newRunCommand(flags))
	cmd.AddCommand(newServeCommand(flags))
	cmd.AddCommand(newWorkerCommand(flags))
	cmd.AddCommand(newVersionCommand())

	return cmd
}

// setupLogger configures the default slog logger from the flag.
func setupLogger(logLevel string) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

// loadConfig loads the layered app config and applies flag overrides.
func loadConfig(logger *slog.Logger, flags *rootFlags) (*config.Config, error) {
	cfg, err := config.NewLoader(logger).Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if flags.repoPath != "" {
		cfg.Repo.Path = flags.repoPath
	}
	return cfg, nil
}
