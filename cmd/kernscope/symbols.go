package main

import (
	"github.com/spf13/cobra"

	"kernscope/internal/query"
)

var importsOpts query.SearchImportsExportsOptions

var importsCmd = &cobra.Command{
	Use:   "imports <snapshot>",
	Short: "Search imports and exports",
	Long: `Search imported and exported symbols. Imports carry the capability
categories their names match.

Examples:
  kernscope imports ./sample_archive --module ws2_32
  kernscope imports ./sample_archive --name Reg --direction import
  kernscope imports ./sample_archive --direction export`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runQuery(cmd, args[0], importsOpts)
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <snapshot> <name|address>",
	Short: "Resolve a name or address to functions, imports, exports, data or strings",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runQuery(cmd, args[0], query.ResolveSymbolOptions{Query: args[1]})
	},
}

func init() {
	importsCmd.Flags().StringVar(&importsOpts.ModulePattern, "module", "", "Library substring (imports only)")
	importsCmd.Flags().StringVar(&importsOpts.NamePattern, "name", "", "Symbol name substring")
	importsCmd.Flags().StringVar(&importsOpts.Direction, "direction", "", "import or export (default both)")
	addPageFlags(importsCmd, &importsOpts.Page)

	rootCmd.AddCommand(importsCmd, resolveCmd)
}
