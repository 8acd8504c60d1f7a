// Package contract checks that a synced bundle is consistent: focus tracks
// survived the copy, the reports index is well formed and every cross
// reference between reports, payloads and evidence resolves.
package contract

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/fulmenhq/exportsync/pkg/siteexport"
	"github.com/fulmenhq/exportsync/pkg/stamp"
	"github.com/fulmenhq/exportsync/pkg/track"
)

// AggregateFocus names the focus-sum pseudo track in a RegressionError.
const AggregateFocus = "focus_sum"

// maxListedReports bounds report ids listed in warning details.
const maxListedReports = 20

// RegressionError reports a focus track present in the source candidate and
// absent from the destination after copy.
type RegressionError struct {
	Track  string
	Source int
	Dest   int
}

func (e *RegressionError) Error() string {
	return fmt.Sprintf("destination lost focus track %s after copy (source=%d, destination=%d)", e.Track, e.Source, e.Dest)
}

// CheckFocusRegression fails when a focus track, or the focus sum, is
// nonzero in source and zero in dest.
func CheckFocusRegression(source, dest track.Counts, focus []track.Key) error {
	for _, k := range focus {
		if s, d := source.Get(k), dest.Get(k); s > 0 && d == 0 {
			return &RegressionError{Track: string(k), Source: s, Dest: d}
		}
	}
	src := track.ComputeFocus(source, focus)
	dst := track.ComputeFocus(dest, focus)
	if src.Sum > 0 && dst.Sum == 0 {
		return &RegressionError{Track: AggregateFocus, Source: src.Sum, Dest: dst.Sum}
	}
	return nil
}

// ResidualWarnings reports non-fatal leftovers in a synced bundle: focus
// tracks that are all zero and reports whose payload file is missing.
func ResidualWarnings(bundleRoot string, idx *siteexport.ReportsIndex, dest track.Counts, focus []track.Key) []stamp.Warning {
	var warnings []stamp.Warning

	if len(focus) > 0 && track.ComputeFocus(dest, focus).Sum == 0 {
		warnings = append(warnings, stamp.Warning{
			Code:    stamp.CodeFocusTracksAllZero,
			Message: fmt.Sprintf("all focus tracks are zero in destination: %s", strings.Join(track.Strings(focus), ", ")),
			Details: map[string]interface{}{"focusTracks": track.Strings(focus)},
		})
	}

	missing := MissingPayloads(bundleRoot, idx)
	if len(missing) > 0 {
		listed := missing
		if len(listed) > maxListedReports {
			listed = listed[:maxListedReports]
		}
		warnings = append(warnings, stamp.Warning{
			Code:    stamp.CodeMissingPayloads,
			Message: fmt.Sprintf("%d report(s) have no payload file", len(missing)),
			Details: map[string]interface{}{"count": len(missing), "reports": listed},
		})
	}
	return warnings
}

// MissingPayloads lists report ids whose payload file is absent, sorted.
func MissingPayloads(bundleRoot string, idx *siteexport.ReportsIndex) []string {
	if idx == nil {
		return nil
	}
	var missing []string
	for _, entry := range idx.Reports {
		id := siteexport.EntryID(entry)
		if id == "" {
			continue
		}
		if _, err := os.Stat(siteexport.Resolve(bundleRoot, siteexport.PayloadRel(id))); err != nil {
			missing = append(missing, id)
		}
	}
	sort.Strings(missing)
	return missing
}
