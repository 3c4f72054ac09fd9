package main

import "github.com/spf13/cobra"

var (
	version = "dev"
	commit  = "none"
)

// defaultConfigPath is used when --config is not given. A missing file at
// this path is not an error; the built-in defaults apply instead.
const defaultConfigPath = "config.yaml"

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	cmd := &cobra.Command{
		Use:   "copyedit",
		Short: "Paragraph copyediting with located changes",
		Long: "copyedit fixes spelling, grammar and punctuation in a paragraph using a " +
			"deterministic rule engine and an LLM, and reports every edit with its " +
			"position in the revised text.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", defaultConfigPath,
		"path to the YAML or TOML configuration file")

	cmd.AddCommand(newServeCmd(g))
	cmd.AddCommand(newFixCmd(g))
	cmd.AddCommand(newMCPCmd(g))
	cmd.AddCommand(newVersionCmd())
	return cmd
}
