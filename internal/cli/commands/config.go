package commands

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/leapstack-labs/laspad/internal/cli/config"
)

// NewConfigCommand creates the config command.
func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show the effective settings",
		Long: `Print the settings laspad runs with after merging defaults, the config
file, LASPAD_* environment variables and flags.

The output is valid .laspad.yaml content.`,
		Example: `  # Show the settings
  laspad config

  # Start a config file from the current settings
  laspad config > .laspad.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfig(cmd)
		},
	}
	return cmd
}

func runConfig(cmd *cobra.Command) error {
	cmdCtx, err := newBaseContext(cmd)
	if err != nil {
		return err
	}
	r := cmdCtx.Renderer

	if used := config.GetConfigFileUsed(); used != "" {
		r.Muted("# from " + used)
	}
	enc := yaml.NewEncoder(r.Writer())
	enc.SetIndent(2)
	if err := enc.Encode(cmdCtx.Cfg); err != nil {
		return err
	}
	return enc.Close()
}
