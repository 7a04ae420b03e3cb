package main

import (
	"github.com/spf13/cobra"

	"kernscope/internal/query"
)

var (
	stringsOpts  query.SearchStringsOptions
	dataOpts     query.SearchDataOptions
	dataHasValue bool
	equatesOpts  query.SearchEquatesOptions
)

var stringsCmd = &cobra.Command{
	Use:   "strings <snapshot> [pattern]",
	Short: "Search defined strings",
	Long: `Search defined strings by substring or regular expression. Each hit lists
the functions referencing it and its classification.

Examples:
  kernscope strings ./sample_archive http
  kernscope strings ./sample_archive 'https?://' --regex
  kernscope strings ./sample_archive --min-length 20`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := stringsOpts
		if len(args) == 2 {
			opts.Pattern = args[1]
		}
		return runQuery(cmd, args[0], opts)
	},
}

var dataCmd = &cobra.Command{
	Use:   "data <snapshot>",
	Short: "Search defined data items",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := dataOpts
		opts.HasValue = optionalBool(cmd, "has-value", dataHasValue)
		return runQuery(cmd, args[0], opts)
	},
}

var equatesCmd = &cobra.Command{
	Use:   "equates <snapshot>",
	Short: "Search named constants",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runQuery(cmd, args[0], equatesOpts)
	},
}

func init() {
	stringsCmd.Flags().BoolVar(&stringsOpts.IsRegex, "regex", false, "Treat the pattern as a regular expression")
	stringsCmd.Flags().BoolVar(&stringsOpts.CaseSensitive, "case-sensitive", false, "Match case")
	stringsCmd.Flags().IntVar(&stringsOpts.MinLength, "min-length", 0, "Minimum string length")
	addPageFlags(stringsCmd, &stringsOpts.Page)

	f := dataCmd.Flags()
	f.StringVar(&dataOpts.NamePattern, "name", "", "Name substring")
	f.StringVar(&dataOpts.TypePattern, "type", "", "Data type substring")
	f.StringVar(&dataOpts.MinAddress, "min-address", "", "Lowest address (hex)")
	f.StringVar(&dataOpts.MaxAddress, "max-address", "", "Highest address (hex)")
	f.IntVar(&dataOpts.MinLength, "min-length", 0, "Minimum length in bytes")
	f.IntVar(&dataOpts.MaxLength, "max-length", 0, "Maximum length in bytes")
	f.BoolVar(&dataHasValue, "has-value", false, "Only items with (or, =false, without) a value")
	addPageFlags(dataCmd, &dataOpts.Page)

	equatesCmd.Flags().StringVar(&equatesOpts.NamePattern, "name", "", "Name substring")
	equatesCmd.Flags().StringVar(&equatesOpts.Value, "value", "", "Exact value (decimal or 0x hex)")
	addPageFlags(equatesCmd, &equatesOpts.Page)

	rootCmd.AddCommand(stringsCmd, dataCmd, equatesCmd)
}
