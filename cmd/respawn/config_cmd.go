package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/steveyegge/respawn/internal/config"
	"github.com/steveyegge/respawn/internal/ui"
)

func newConfigCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Print the settings a run would use after applying flags, RESPAWN_*
environment variables, .respawn/config.yaml and defaults.

The YAML output can be saved as .respawn/config.yaml.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if format == formatText {
				format = formatYAML
			}
			fmtName, err := resolveFormat(format, false)
			if err != nil {
				return err
			}
			applyFlagOverrides(cmd)
			s, err := config.Load()
			if err != nil {
				return err
			}
			if used := config.ConfigFileUsed(); used != "" {
				fmt.Fprintln(cmd.ErrOrStderr(), ui.RenderMuted("# from "+used))
			}
			return writeStructured(cmd.OutOrStdout(), fmtName, s)
		},
	}
	cmd.Flags().StringVar(&format, "format", formatYAML, "Output format: yaml, toml or json")
	return cmd
}
