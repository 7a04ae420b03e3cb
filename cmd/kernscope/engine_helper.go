package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"kernscope/internal/capability"
	"kernscope/internal/complexity"
	"kernscope/internal/errors"
	"kernscope/internal/query"
	"kernscope/internal/snapshot"
)

// openEngine loads the snapshot at path and wraps it in a query engine
// configured from the loaded config. The returned func closes the snapshot.
func openEngine(ctx context.Context, path string) (*query.Engine, func(), error) {
	analyzer := complexity.NewAnalyzer()
	snap, err := snapshot.Load(ctx, path, snapshot.Options{
		Logger:   cli.logger,
		Analyzer: analyzer,
	})
	if err != nil {
		return nil, nil, err
	}

	classifier, err := capability.FromConfig(cli.cfg.Capability, cli.logger)
	if err != nil {
		_ = snap.Close()
		return nil, nil, errors.New(errors.InvalidQuery, "load capability rules", err)
	}

	engine := query.NewEngine(snap, cli.logger, cli.cfg).
		WithClassifier(classifier).
		WithAnalyzer(analyzer).
		WithMetrics(cli.metrics)
	return engine, func() { _ = snap.Close() }, nil
}

// runQuery executes one request against the snapshot at path and prints
// the result. A Timeout still prints the partial result, then a warning.
func runQuery(cmd *cobra.Command, path string, req query.Request) error {
	start := time.Now()
	engine, done, err := openEngine(cmd.Context(), path)
	if err != nil {
		return err
	}
	defer done()
	defer writeMetrics()

	result, err := engine.Dispatch(cmd.Context(), req)
	if err != nil && !errors.IsCode(err, errors.Timeout) {
		return err
	}
	if perr := printResult(cmd, result); perr != nil {
		return perr
	}

	cli.logger.Debug("Query completed",
		"op", req.Op(),
		"duration", time.Since(start).Milliseconds(),
	)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %v\n", err)
		return err
	}
	return nil
}

// printResult renders resp in the selected output format.
func printResult(cmd *cobra.Command, resp any) error {
	format, err := ParseOutputFormat(outputFormat)
	if err != nil {
		return err
	}
	out, err := FormatResponse(resp, format)
	if err != nil {
		return errors.New(errors.InternalError, "format output", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), out)
	return nil
}

// writeMetrics dumps the query metrics when --metrics-out is set.
func writeMetrics() {
	if metricsOut == "" {
		return
	}
	f, err := os.Create(metricsOut)
	if err != nil {
		cli.logger.Warn("Failed to write metrics", "path", metricsOut, "error", err)
		return
	}
	defer f.Close()
	if err := cli.metrics.WriteText(f); err != nil {
		cli.logger.Warn("Failed to write metrics", "path", metricsOut, "error", err)
	}
}

// addPageFlags binds --limit and --offset to p.
func addPageFlags(cmd *cobra.Command, p *query.Page) {
	cmd.Flags().IntVar(&p.Limit, "limit", 0, "Maximum number of results (default from config)")
	cmd.Flags().IntVar(&p.Offset, "offset", 0, "Number of results to skip")
}

// optionalBool returns &v when the flag was given, else nil.
func optionalBool(cmd *cobra.Command, name string, v bool) *bool {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	return &v
}
