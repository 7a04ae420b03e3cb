package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"kernscope/internal/errors"
	"kernscope/internal/pruner"
)

var (
	pruneOut          string
	pruneMaxFunctions int
	pruneMaxStrings   int
)

var pruneCmd = &cobra.Command{
	Use:   "prune <snapshot>",
	Short: "Compress a snapshot into a bounded evidence bundle",
	Long: `Select the most relevant functions, strings, imports, sections, configuration
candidates and constants of a snapshot within fixed budgets, and derive the
suspicion flags. The same snapshot and budgets always give byte-identical JSON.

Budgets come from the budget section of the config; the flags below override
the two most common ones.

Examples:
  kernscope prune ./sample_archive
  kernscope prune ./sample_archive.zip --out bundle.json
  kernscope prune ./sample_archive --max-functions 20 --format human`,
	Args: cobra.ExactArgs(1),
	RunE: runPrune,
}

func init() {
	pruneCmd.Flags().StringVarP(&pruneOut, "out", "o", "", "Write the bundle JSON to a file instead of stdout")
	pruneCmd.Flags().IntVar(&pruneMaxFunctions, "max-functions", 0, "Override budget.maxFunctions")
	pruneCmd.Flags().IntVar(&pruneMaxStrings, "max-strings", 0, "Override budget.maxStrings")
	rootCmd.AddCommand(pruneCmd)
}

func runPrune(cmd *cobra.Command, args []string) error {
	cfg := *cli.cfg
	if pruneMaxFunctions > 0 {
		cfg.Budget.MaxFunctions = pruneMaxFunctions
	}
	if pruneMaxStrings > 0 {
		cfg.Budget.MaxStrings = pruneMaxStrings
	}

	p, err := pruner.New(&cfg, cli.logger)
	if err != nil {
		return err
	}
	bundle, err := p.PrunePath(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	if pruneOut != "" {
		data, err := bundle.JSON()
		if err != nil {
			return errors.New(errors.InternalError, "encode bundle", err)
		}
		if err := os.WriteFile(pruneOut, data, 0o644); err != nil {
			return errors.New(errors.InternalError, "write bundle", err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Bundle %s written to %s\n", bundle.BundleID, pruneOut)
		return nil
	}

	// JSON goes out byte-for-byte as the bundle encodes itself.
	if format, _ := ParseOutputFormat(outputFormat); format == FormatJSON {
		data, err := bundle.JSON()
		if err != nil {
			return errors.New(errors.InternalError, "encode bundle", err)
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}
	return printResult(cmd, bundle)
}
