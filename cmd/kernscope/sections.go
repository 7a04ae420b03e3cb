package main

import (
	"github.com/spf13/cobra"

	"kernscope/internal/query"
)

var filesOpts query.ListFilesOptions

var sectionCmd = &cobra.Command{
	Use:   "section <snapshot> [address]",
	Short: "Show the section containing an address, or all sections",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var opts query.GetMemorySectionOptions
		if len(args) == 2 {
			opts.Address = args[1]
		}
		return runQuery(cmd, args[0], opts)
	},
}

var filesCmd = &cobra.Command{
	Use:   "files <snapshot>",
	Short: "List the snapshot's files and the missing optional ones",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runQuery(cmd, args[0], filesOpts)
	},
}

func init() {
	addPageFlags(filesCmd, &filesOpts.Page)
	rootCmd.AddCommand(sectionCmd, filesCmd)
}
