package main

import (
	"github.com/spf13/cobra"

	"kernscope/internal/config"
)

var configDefaults bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Long: `Print the configuration after merging defaults, the config file and
KERNSCOPE_* environment overrides.

Examples:
  kernscope config
  kernscope config --format toml
  kernscope config --defaults --format yaml > .kernscope/kernscope.yaml
  KERNSCOPE_BUDGET_MAXFUNCTIONS=60 kernscope config`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if configDefaults {
			return printResult(cmd, config.DefaultConfig())
		}
		return printResult(cmd, cli.cfg)
	},
}

func init() {
	configCmd.Flags().BoolVar(&configDefaults, "defaults", false, "Print the built-in defaults instead")
	rootCmd.AddCommand(configCmd)
}
