package main

import (
	"io"
	"strings"

	"github.com/spf13/cobra"

	"kernscope/internal/errors"
	"kernscope/internal/query"
)

var queryCmd = &cobra.Command{
	Use:   "query <snapshot> <operation> [json-args|-]",
	Short: "Run any operation with JSON arguments",
	Long: `Run one of the closed set of query operations. Arguments are a JSON object
whose fields follow the operation's schema (see 'kernscope schema <operation>');
unknown fields are rejected. Use - to read the arguments from stdin.

Operations:
  ` + operationList() + `

Examples:
  kernscope query ./sample_archive search_functions '{"name_pattern":"main"}'
  kernscope query ./sample_archive trace_calls '{"function":"main","max_depth":2}'
  echo '{"target":"0x401000"}' | kernscope query ./sample_archive get_xrefs -`,
	Args: cobra.RangeArgs(2, 3),
	RunE: runQueryCmd,
}

func init() {
	rootCmd.AddCommand(queryCmd)
}

func runQueryCmd(cmd *cobra.Command, args []string) error {
	op, err := query.ParseOperation(args[1])
	if err != nil {
		return err
	}

	var raw []byte
	if len(args) == 3 {
		if args[2] == "-" {
			raw, err = io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return errors.New(errors.InvalidQuery, "read arguments from stdin", err)
			}
		} else {
			raw = []byte(args[2])
		}
	}

	req, err := query.DecodeRequest(string(op), raw)
	if err != nil {
		return err
	}
	return runQuery(cmd, args[0], req)
}

func operationList() string {
	names := make([]string, len(query.Operations))
	for i, op := range query.Operations {
		names[i] = string(op)
	}
	return strings.Join(names, "\n  ")
}
