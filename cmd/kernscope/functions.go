package main

import (
	"github.com/spf13/cobra"

	"kernscope/internal/query"
)

var (
	functionsOpts      query.SearchFunctionsOptions
	functionsHasDecomp bool
	statsOpts          query.FunctionStatsOptions
)

var functionsCmd = &cobra.Command{
	Use:   "functions <snapshot>",
	Short: "Search functions",
	Long: `List functions in ascending address order, filtered by name, size,
complexity, capability, decompilation and call relations.

Examples:
  kernscope functions ./sample_archive
  kernscope functions ./sample_archive --name connect
  kernscope functions ./sample_archive --name '^sub_4' --regex
  kernscope functions ./sample_archive --capability network --min-complexity 10
  kernscope functions ./sample_archive --callers-of helper`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := functionsOpts
		opts.HasDecomp = optionalBool(cmd, "has-decomp", functionsHasDecomp)
		return runQuery(cmd, args[0], opts)
	},
}

var functionCmd = &cobra.Command{
	Use:   "function <snapshot> <name|address>",
	Short: "Show one function in full",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runQuery(cmd, args[0], query.GetFunctionOptions{Function: args[1]})
	},
}

var decompCmd = &cobra.Command{
	Use:   "decomp <snapshot> <name|address>",
	Short: "Print the decompiled text of a function",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runQuery(cmd, args[0], query.ReadDecompilationOptions{Function: args[1]})
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats <snapshot>",
	Short: "Show snapshot-wide function statistics",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runQuery(cmd, args[0], statsOpts)
	},
}

func init() {
	f := functionsCmd.Flags()
	f.StringVar(&functionsOpts.NamePattern, "name", "", "Name substring, case-insensitive")
	f.BoolVar(&functionsOpts.IsRegex, "regex", false, "Treat --name as a regular expression")
	f.Int64Var(&functionsOpts.MinSize, "min-size", 0, "Minimum size in bytes")
	f.Int64Var(&functionsOpts.MaxSize, "max-size", 0, "Maximum size in bytes")
	f.IntVar(&functionsOpts.MinComplexity, "min-complexity", 0, "Minimum cyclomatic complexity")
	f.StringVar(&functionsOpts.CapabilityTag, "capability", "", "Capability category (e.g. network, persistence)")
	f.BoolVar(&functionsHasDecomp, "has-decomp", false, "Only functions with (or, =false, without) decompiled text")
	f.StringVar(&functionsOpts.CallersOf, "callers-of", "", "Only functions calling this function")
	f.StringVar(&functionsOpts.CalleesOf, "callees-of", "", "Only functions called by this function")
	addPageFlags(functionsCmd, &functionsOpts.Page)

	statsCmd.Flags().IntVar(&statsOpts.Top, "top", 0, "Length of the top lists (default 10)")

	rootCmd.AddCommand(functionsCmd, functionCmd, decompCmd, statsCmd)
}
