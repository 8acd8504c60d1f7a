/*
Copyright © 2025 3 Leaps <info@3leaps.com>
*/
package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fulmenhq/exportsync/pkg/buildinfo"
)

func newVersionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show exportsync version",
		RunE:  runVersion,
	}
	cmd.Flags().Bool("extended", false, "Show detailed build information")
	cmd.Flags().Bool("json", false, "Output version information in JSON format")
	return cmd
}

func runVersion(cmd *cobra.Command, _ []string) error {
	extended, _ := cmd.Flags().GetBool("extended")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	out := cmd.OutOrStdout()
	info := buildinfo.Current()

	if jsonOutput {
		jsonData, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to format JSON: %v", err)
		}
		fmt.Fprintln(out, string(jsonData))
		return nil
	}

	fmt.Fprintf(out, "exportsync %s\n", info.Version)
	if extended {
		commit := info.Commit
		if len(commit) > 8 {
			commit = commit[:8]
		}
		if commit == "" {
			commit = "unknown"
		}
		buildDate := info.BuildDate
		if buildDate == "" {
			buildDate = "unknown"
		}
		fmt.Fprintf(out, "Build time: %s\n", buildDate)
		fmt.Fprintf(out, "Git commit: %s\n", commit)
		if info.Module != "" {
			fmt.Fprintf(out, "Module: %s\n", info.Module)
		}
	}
	fmt.Fprintf(out, "Go Version: %s\n", info.GoVersion)
	fmt.Fprintf(out, "OS/Arch: %s\n", info.Platform)
	return nil
}
