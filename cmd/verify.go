/*
Copyright © 2025 3 Leaps <info@3leaps.com>
*/
package cmd

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/fulmenhq/exportsync/internal/report"
	"github.com/fulmenhq/exportsync/pkg/contract"
	"github.com/fulmenhq/exportsync/pkg/exitcode"
)

func newVerifyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Report track counts of the synced bundle and enforce minimums",
		Long: `Verify reads the destination reports index and source stamp, prints track
counts, focus counts and dashboards presence, and fails on the requested checks.`,
		RunE: runVerify,
	}
	cmd.Flags().String("dest", "", "Destination bundle directory")
	cmd.Flags().Bool("require-nonzero-focus", false, "Fail when every focus track has zero reports")
	cmd.Flags().Bool("require-dashboards", false, "Fail when no dashboards file is present")
	cmd.Flags().String("focus", "", "Comma-separated focus tracks (default: CLARUM_SYNC_FOCUS_TRACKS or config, then stamp focus, then built-in)")
	cmd.Flags().String("min-total-reports", "", "Fail when the index lists fewer reports")
	return cmd
}

func runVerify(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	errOut := cmd.ErrOrStderr()

	minTotal := -1
	if raw, _ := cmd.Flags().GetString("min-total-reports"); cmd.Flags().Changed("min-total-reports") {
		n, err := parseMinTotalReports(raw)
		if err != nil {
			return verifyFailure(errOut, exitcode.ConfigError, err)
		}
		minTotal = n
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	// A focus list set by flag, environment or config file wins over the
	// stamp; the built-in default does not.
	focus := ""
	if cfg.FocusTracksExplicit {
		focus = cfg.FocusTracksRaw
	}
	requireFocus, _ := cmd.Flags().GetBool("require-nonzero-focus")
	requireDashboards, _ := cmd.Flags().GetBool("require-dashboards")

	rep, verr := contract.Verify(contract.VerifyOptions{
		Root:                cfg.Destination,
		Focus:               focus,
		RequireNonzeroFocus: requireFocus,
		RequireDashboards:   requireDashboards,
		MinTotalReports:     minTotal,
	})
	if rep != nil {
		if err := report.Verify(out, rep); err != nil {
			return err
		}
	}
	if verr != nil {
		return verifyFailure(errOut, exitcode.ValidationError, verr)
	}
	return nil
}

// parseMinTotalReports accepts any finite non-negative number; fractional
// thresholds round up.
func parseMinTotalReports(raw string) (int, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0, fmt.Errorf("Invalid --min-total-reports value: %s", raw)
	}
	return int(math.Ceil(v)), nil
}

func verifyFailure(w io.Writer, code int, err error) error {
	red := color.New(color.FgRed).SprintFunc()
	fmt.Fprintf(w, "%s %s\n", "[verify]", red("ERROR: "+err.Error()))
	return shown(exitcode.WithCode(code, err))
}
