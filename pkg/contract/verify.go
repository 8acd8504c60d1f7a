package contract

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fulmenhq/exportsync/pkg/dashboards"
	"github.com/fulmenhq/exportsync/pkg/siteexport"
	"github.com/fulmenhq/exportsync/pkg/stamp"
	"github.com/fulmenhq/exportsync/pkg/track"
)

// firstReportIDs bounds the sample of report ids in a verify report.
const firstReportIDs = 10

// VerifyOptions configures Verify. MinTotalReports is ignored when negative.
// An empty Focus falls back to the stamp's focus tracks, then the default.
type VerifyOptions struct {
	Root                string
	Focus               string
	RequireNonzeroFocus bool
	RequireDashboards   bool
	MinTotalReports     int
}

// VerifyReport is what Verify observed in the destination bundle.
type VerifyReport struct {
	IndexPath         string
	TotalReports      int
	TrackCounts       track.Counts
	Stamp             *stamp.Summary
	FocusTracks       []track.Key
	FirstReportIDs    []string
	DashboardsPresent []string
	DashboardsMissing []string
}

// VerifyError is a verification failure.
type VerifyError struct {
	Message string
}

func (e *VerifyError) Error() string { return e.Message }

func verifyErrorf(format string, args ...interface{}) error {
	return &VerifyError{Message: fmt.Sprintf(format, args...)}
}

// Verify reads the bundle at opts.Root and applies the requested checks. A
// missing or malformed index returns a nil report. Flag-gated failures return
// the report together with the error so callers can print both.
func Verify(opts VerifyOptions) (*VerifyReport, error) {
	indexPath := siteexport.Resolve(opts.Root, siteexport.ReportsIndexRel)
	data, err := os.ReadFile(indexPath) // #nosec G304 -- bundle-relative constant
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, verifyErrorf("Missing reports index: %s", indexPath)
		}
		return nil, verifyErrorf("Failed to read reports index at %s: %v", indexPath, err)
	}
	idx, err := siteexport.ParseReportsIndex(data)
	if err != nil {
		if errors.Is(err, siteexport.ErrInvalidShape) {
			return nil, verifyErrorf("Invalid reports index shape in %s: expected top-level reports array.", indexPath)
		}
		return nil, verifyErrorf("Failed to parse reports index at %s: %v", indexPath, err)
	}

	rep := &VerifyReport{
		IndexPath:    indexPath,
		TotalReports: len(idx.Reports),
		TrackCounts:  track.CountReports(idx.Reports, track.CanonicalKeys),
		Stamp:        stamp.ReadSummary(opts.Root),
	}
	rep.DashboardsPresent, rep.DashboardsMissing = dashboards.Present(opts.Root)

	switch {
	case strings.TrimSpace(opts.Focus) != "":
		rep.FocusTracks = track.ParseFocus(opts.Focus)
	case rep.Stamp != nil && len(rep.Stamp.FocusTracks) > 0:
		rep.FocusTracks = track.FromStrings(rep.Stamp.FocusTracks)
	}
	if len(rep.FocusTracks) == 0 {
		rep.FocusTracks = track.ParseFocus("")
	}

	for _, id := range idx.ReportIDs() {
		if len(rep.FirstReportIDs) == firstReportIDs {
			break
		}
		rep.FirstReportIDs = append(rep.FirstReportIDs, id)
	}

	if opts.MinTotalReports >= 0 && rep.TotalReports < opts.MinTotalReports {
		return rep, verifyErrorf("total_reports %d is below required minimum %d.", rep.TotalReports, opts.MinTotalReports)
	}
	if opts.RequireNonzeroFocus && track.ComputeFocus(rep.TrackCounts, rep.FocusTracks).Sum == 0 {
		return rep, verifyErrorf("All focus tracks are zero: %s", strings.Join(track.Strings(rep.FocusTracks), ", "))
	}
	if opts.RequireDashboards && len(rep.DashboardsPresent) == 0 {
		return rep, verifyErrorf("No dashboards files found in destination dashboards directory.")
	}
	return rep, nil
}
