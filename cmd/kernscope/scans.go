package main

import (
	"github.com/spf13/cobra"

	"kernscope/internal/query"
)

var (
	insnOpts query.SearchByInstructionOptions
	grepOpts query.SearchDecompOptions
)

var insnCmd = &cobra.Command{
	Use:   "insn <snapshot> [mnemonic]",
	Short: "Search instructions by mnemonic and operands",
	Long: `Find functions containing instructions with a mnemonic (exact,
case-insensitive) and/or an operand pattern. Results are partial when the
scan time or match ceiling is reached; the exit code is then 2.

Examples:
  kernscope insn ./sample_archive call --operand connect
  kernscope insn ./sample_archive --operand 'fs:\[0x30\]' --regex`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := insnOpts
		if len(args) == 2 {
			opts.Mnemonic = args[1]
		}
		return runQuery(cmd, args[0], opts)
	},
}

var grepCmd = &cobra.Command{
	Use:   "grep <snapshot> <pattern>",
	Short: "Search decompiled text with a regular expression",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := grepOpts
		opts.Pattern = args[1]
		return runQuery(cmd, args[0], opts)
	},
}

func init() {
	insnCmd.Flags().StringVar(&insnOpts.OperandPattern, "operand", "", "Operand substring")
	insnCmd.Flags().BoolVar(&insnOpts.IsRegex, "regex", false, "Treat --operand as a regular expression")
	insnCmd.Flags().IntVar(&insnOpts.SamplesPerMatch, "samples", 0, "Sample instructions per function (default 5)")
	addPageFlags(insnCmd, &insnOpts.Page)

	grepCmd.Flags().BoolVar(&grepOpts.CaseSensitive, "case-sensitive", false, "Match case")
	grepCmd.Flags().IntVar(&grepOpts.MaxMatchesPerFunction, "max-per-function", 0, "Matching lines kept per function")
	addPageFlags(grepCmd, &grepOpts.Page)

	rootCmd.AddCommand(insnCmd, grepCmd)
}
