package main

import (
	"github.com/spf13/cobra"

	"kernscope/internal/query"
)

var (
	traceOpts  query.TraceCallsOptions
	traceDepth int
	xrefsOpts  query.GetXrefsOptions
)

var traceCmd = &cobra.Command{
	Use:   "trace <snapshot> <name|address>",
	Short: "Walk the call graph from a function",
	Long: `Breadth-first walk of callers or callees, bounded by depth and node
count. Every function appears once.

Examples:
  kernscope trace ./sample_archive main
  kernscope trace ./sample_archive connect --direction callers --depth 5`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := traceOpts
		opts.Function = args[1]
		if cmd.Flags().Changed("depth") {
			depth := traceDepth
			opts.MaxDepth = &depth
		}
		return runQuery(cmd, args[0], opts)
	},
}

var xrefsCmd = &cobra.Command{
	Use:   "xrefs <snapshot> <target>",
	Short: "List references to or from an address, function or symbol",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := xrefsOpts
		opts.Target = args[1]
		return runQuery(cmd, args[0], opts)
	},
}

func init() {
	traceCmd.Flags().StringVar(&traceOpts.Direction, "direction", query.DirectionCallees, "callers or callees")
	traceCmd.Flags().IntVar(&traceDepth, "depth", 3, "Maximum depth")
	traceCmd.Flags().IntVar(&traceOpts.MaxNodes, "max-nodes", 0, "Maximum nodes visited (default from config)")

	xrefsCmd.Flags().StringVar(&xrefsOpts.Direction, "direction", "", "incoming, outgoing or both")
	xrefsCmd.Flags().StringVar(&xrefsOpts.Kind, "kind", "", "code, data or any")
	addPageFlags(xrefsCmd, &xrefsOpts.Page)

	rootCmd.AddCommand(traceCmd, xrefsCmd)
}
