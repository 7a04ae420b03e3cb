package main

import (
	stderrors "errors"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"kernscope/internal/config"
	"kernscope/internal/errors"
	"kernscope/internal/query"
	"kernscope/internal/slogutil"
	"kernscope/internal/version"
)

var (
	configPath   string
	verbosity    int
	quiet        bool
	outputFormat string
	logFile      string
	metricsOut   string
)

var rootCmd = &cobra.Command{
	Use:   "kernscope",
	Short: "kernscope - query and prune binary analysis snapshots",
	Long: `kernscope answers structured queries over a static-analysis snapshot of a
binary (functions, call graph, strings, imports, data, decompiled text) and
compresses the snapshot into a bounded, deterministic evidence bundle.

A snapshot is an extracted <binary>_archive directory, a .zip of one, or the
analyzed binary itself when its archive sits beside it.`,
	Version:           version.Version,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.SetVersionTemplate("kernscope version {{.Version}}\n")
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "Config file (default: .kernscope/kernscope.{json,toml,yaml})")
	pf.CountVarP(&verbosity, "verbose", "v", "Increase log verbosity (-v info, -vv debug)")
	pf.BoolVar(&quiet, "quiet", false, "Suppress all log output")
	pf.StringVar(&outputFormat, "format", string(FormatJSON), "Output format (json, yaml, toml, human)")
	pf.StringVar(&logFile, "log-file", "", "Mirror debug logs into a size-rotated file")
	pf.StringVar(&metricsOut, "metrics-out", "", "Write query metrics in Prometheus text format to this file")
}

// app is the state shared by every command of one invocation.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	closer  io.Closer
	metrics *query.Metrics
}

var cli = &app{
	cfg:     config.DefaultConfig(),
	logger:  slogutil.NewDiscardLogger(),
	metrics: query.NewMetrics(),
}

func (a *app) close() {
	if a.closer != nil {
		_ = a.closer.Close()
	}
}

// setup loads configuration and builds the logger before any command runs.
func setup(cmd *cobra.Command, args []string) error {
	if _, err := ParseOutputFormat(outputFormat); err != nil {
		return err
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return errors.New(errors.InvalidQuery, "load config", err)
	}
	cli.cfg = cfg

	level := slogutil.LevelFromVerbosity(verbosity, quiet)
	if verbosity == 0 && !quiet && cfg.Logging.Level != "" {
		level = slogutil.LevelFromString(cfg.Logging.Level)
	}
	path := logFile
	if path == "" {
		path = cfg.Logging.File
	}
	logger, closer, err := slogutil.Setup(slogutil.Options{
		Level:      level,
		Console:    os.Stderr,
		FilePath:   path,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
	})
	if err != nil {
		return errors.New(errors.InternalError, "open log file", err)
	}
	cli.logger = logger
	cli.closer = closer
	return nil
}

func asKernError(err error, target **errors.KernError) bool {
	return stderrors.As(err, target)
}
