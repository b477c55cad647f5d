// Package cmd provides the CLI commands for blogsearchd.
package cmd

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/inkpress/blogsearch/internal/config"
	"github.com/inkpress/blogsearch/internal/logging"
	"github.com/inkpress/blogsearch/internal/profiling"
	"github.com/inkpress/blogsearch/internal/service"
	"github.com/inkpress/blogsearch/pkg/version"
)

// Profiling flags
var (
	profileCPU   string
	profileMem   string
	profileTrace string
	profiler     = profiling.NewProfiler()
	cpuCleanup   func()
	traceCleanup func()
)

// Debug logging flag
var (
	debugMode      bool
	workDir        string
	loggingCleanup func()
)

// NewRootCmd creates the root command for the blogsearchd CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blogsearchd",
		Short: "Full-text search daemon for blog entries",
		Long: `blogsearchd maintains a full-text index over blog entries and serves
search queries against it.

Index updates are asynchronous: entry saves and deletes enqueue
operations that a single background worker applies in order, so
writers never block on indexing.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("blogsearchd version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&workDir, "dir", "d", ".", "Working directory holding config and data")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.blogsearch/logs/")
	cmd.PersistentFlags().StringVar(&profileCPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&profileMem, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&profileTrace, "profile-trace", "", "Write execution trace to file")

	cmd.PersistentPreRunE = startProfilingAndLogging
	cmd.PersistentPostRunE = stopProfilingAndLogging

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newRebuildCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newPutCmd())
	cmd.AddCommand(newRemoveCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// startProfilingAndLogging starts CPU profiling and debug logging if flags are set.
func startProfilingAndLogging(_ *cobra.Command, _ []string) error {
	if debugMode {
		logger, cleanup, err := logging.Setup(logging.DebugConfig())
		if err != nil {
			return fmt.Errorf("failed to setup debug logging: %w", err)
		}
		loggingCleanup = cleanup
		slog.SetDefault(logger)
		slog.Info("debug logging enabled",
			slog.String("log_file", logging.DefaultLogPath()))
	}

	if profileCPU != "" {
		var err error
		cpuCleanup, err = profiler.StartCPU(profileCPU)
		if err != nil {
			return fmt.Errorf("failed to start CPU profile: %w", err)
		}
	}

	if profileTrace != "" {
		var err error
		traceCleanup, err = profiler.StartTrace(profileTrace)
		if err != nil {
			return fmt.Errorf("failed to start execution trace: %w", err)
		}
	}

	return nil
}

// stopProfilingAndLogging stops profiling and logging, writes memory profile if requested.
func stopProfilingAndLogging(_ *cobra.Command, _ []string) error {
	if cpuCleanup != nil {
		cpuCleanup()
		cpuCleanup = nil
	}

	if traceCleanup != nil {
		traceCleanup()
		traceCleanup = nil
	}

	if profileMem != "" {
		if err := profiler.WriteHeap(profileMem); err != nil {
			return fmt.Errorf("failed to write memory profile: %w", err)
		}
	}

	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}

	return nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// openService loads configuration from the working directory and
// assembles the pipeline. Relative data paths resolve under the
// working directory.
func openService() (*service.Service, *config.Config, error) {
	cfg, err := config.Load(workDir)
	if err != nil {
		return nil, nil, err
	}

	if cfg.Paths.IndexDir != "" && !filepath.IsAbs(cfg.Paths.IndexDir) {
		cfg.Paths.IndexDir = filepath.Join(workDir, cfg.Paths.IndexDir)
	}
	if !filepath.IsAbs(cfg.Paths.EntryDB) {
		cfg.Paths.EntryDB = filepath.Join(workDir, cfg.Paths.EntryDB)
	}

	svc, err := service.New(cfg)
	if err != nil {
		return nil, nil, err
	}
	return svc, cfg, nil
}
