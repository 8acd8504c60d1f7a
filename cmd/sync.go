/*
Copyright © 2025 3 Leaps <info@3leaps.com>
*/
package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/fulmenhq/exportsync/internal/report"
	"github.com/fulmenhq/exportsync/internal/syncer"
	"github.com/fulmenhq/exportsync/pkg/logger"
)

// addSourceFlags registers the discovery and selection flags shared by sync
// and candidates. Defaults live in pkg/config; an unset flag never overrides
// the config file or environment.
func addSourceFlags(fs *pflag.FlagSet) {
	fs.String("vault-dir", "", "Vault directory to scan for site_export.v1 bundles")
	fs.String("vault-zip", "", "Vault zip used when the vault directory is unavailable")
	fs.String("export-root", "", "Explicit bundle root to select (path or zip::prefix)")
	fs.String("focus", "", "Comma-separated focus tracks")
	fs.String("min-reports", "", "Minimum report count for an eligible candidate")
	fs.Bool("allow-zip-fallback", false, "Scan the vault zip when the vault directory has no valid candidate")
	fs.Int("max-depth", 0, "Maximum directory depth for discovery")
	fs.StringSlice("exclude", nil, "Glob patterns excluded from discovery (relative to the scan root)")
	fs.String("ignore-file", "", "Ignore file read at the scan root")
	fs.Int("concurrency", 0, "Parallel candidate builders")
}

func newSyncCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Select a site_export.v1 bundle and sync it into the destination",
		Long: `Sync discovers candidate bundles, selects the best one, replaces the destination
with it, resolves dashboards, repairs the copy and writes _meta/source_stamp.json.

Exit codes: 2 configuration, 3 validation, 4 filesystem, 10 no valid candidates,
11 selection refused, 12 focus regression in the destination.`,
		RunE: runSync,
	}
	addSourceFlags(cmd.Flags())
	cmd.Flags().String("dest", "", "Destination bundle directory")
	cmd.Flags().Bool("allow-focus-mismatch", false, "Proceed when another candidate has better focus coverage")
	cmd.Flags().String("metrics-file", "", "Write a Prometheus textfile with the sync outcome")
	cmd.Flags().Bool("dry-run", false, "Discover and select without touching the destination")
	return cmd
}

func runSync(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	res, runErr := syncer.Run(cmd.Context(), syncer.Options{Config: cfg, DryRun: dryRun})
	if err := report.Sync(cmd.OutOrStdout(), res); err != nil {
		logger.Warn("failed to render sync summary", logger.Err(err))
	}
	return runErr
}
