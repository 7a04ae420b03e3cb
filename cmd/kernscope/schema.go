package main

import (
	"github.com/spf13/cobra"

	"kernscope/internal/pruner"
	"kernscope/internal/query"
)

var schemaCmd = &cobra.Command{
	Use:   "schema [operation]",
	Short: "Print the JSON Schema of the evidence bundle or of an operation's arguments",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return printResult(cmd, pruner.Schema())
		}
		op, err := query.ParseOperation(args[0])
		if err != nil {
			return err
		}
		s, err := query.Schema(op)
		if err != nil {
			return err
		}
		return printResult(cmd, s)
	},
}

func init() {
	rootCmd.AddCommand(schemaCmd)
}
