package main

import (
	"encoding/json"
	"fmt"
	rdebug "runtime/debug"

	"github.com/spf13/cobra"
)

var (
	// Version is the current version of respawn (overridden by ldflags at build time)
	Version = "0.3.0"
	// Build can be set via ldflags at compile time
	Build = "dev"
	// Commit is the git revision the binary was built from (optional ldflag)
	Commit = ""
)

func newVersionCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			commit := resolveCommitHash()
			out := cmd.OutOrStdout()

			if jsonOut {
				result := map[string]string{
					"version": Version,
					"build":   Build,
				}
				if commit != "" {
					result["commit"] = commit
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}
			if commit != "" {
				fmt.Fprintf(out, "respawn version %s (%s: %s)\n", Version, Build, shortCommit(commit))
			} else {
				fmt.Fprintf(out, "respawn version %s (%s)\n", Version, Build)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
	return cmd
}

func resolveCommitHash() string {
	if Commit != "" {
		return Commit
	}

	if info, ok := rdebug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" && setting.Value != "" {
				return setting.Value
			}
		}
	}

	return ""
}

func shortCommit(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
