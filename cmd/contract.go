/*
Copyright © 2025 3 Leaps <info@3leaps.com>
*/
package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/fulmenhq/exportsync/pkg/contract"
	"github.com/fulmenhq/exportsync/pkg/exitcode"
)

func newContractCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contract",
		Short: "Check referential integrity of the synced bundle",
		Long: `Contract scans the destination bundle: reports index shape, report artifacts,
payloads, memos, evidence index entries and evidence references in payloads.
Exits 3 when any category has a violation.`,
		RunE: runContract,
	}
	cmd.Flags().String("dest", "", "Destination bundle directory")
	cmd.Flags().String("format", "text", "Output format (text|json|junit)")
	return cmd
}

func runContract(cmd *cobra.Command, _ []string) error {
	format, _ := cmd.Flags().GetString("format")
	switch format {
	case "text", "json", "junit":
	default:
		return exitcode.WithCode(exitcode.ConfigError, fmt.Errorf("invalid --format %q: expected text, json or junit", format))
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	res, err := contract.CheckIntegrity(cfg.Destination)
	if err != nil {
		if errors.Is(err, contract.ErrBundleMissing) {
			return exitcode.WithCode(exitcode.ValidationError, err)
		}
		return exitcode.WithCode(exitcode.FileSystemError, err)
	}

	out := cmd.OutOrStdout()
	switch format {
	case "json":
		data, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to format JSON: %v", err)
		}
		fmt.Fprintln(out, string(data))
	case "junit":
		data, err := contract.RenderJUnit(res)
		if err != nil {
			return fmt.Errorf("failed to render JUnit: %w", err)
		}
		fmt.Fprint(out, string(data))
	default:
		if res.OK() {
			green := color.New(color.FgGreen).SprintFunc()
			fmt.Fprintf(out, "%s %s\n", green("✓"), "site_export contract OK: "+res.Root)
		}
		for _, failure := range []string{res.ReportFailure(), res.EvidenceFailure()} {
			if failure != "" {
				fmt.Fprintln(out, failure)
			}
		}
	}

	if !res.OK() {
		return shown(exitcode.WithCode(exitcode.ValidationError, errors.New("site_export contract violations found")))
	}
	return nil
}
