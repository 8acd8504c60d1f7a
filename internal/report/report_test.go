package report

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fulmenhq/exportsync/internal/syncer"
	"github.com/fulmenhq/exportsync/pkg/candidate"
	"github.com/fulmenhq/exportsync/pkg/contract"
	"github.com/fulmenhq/exportsync/pkg/dashboards"
	"github.com/fulmenhq/exportsync/pkg/stamp"
	"github.com/fulmenhq/exportsync/pkg/track"
)

func TestVerify_WithStamp(t *testing.T) {
	counts := track.NewCounts(track.CanonicalKeys)
	counts[track.CriticalMinerals] = 2
	counts[track.Other] = 1
	rep := &contract.VerifyReport{
		IndexPath:    "/site/04 - Data & Ontology/_meta/reports_index.json",
		TotalReports: 3,
		TrackCounts:  counts,
		Stamp: &stamp.Summary{
			Mode:           "vault_dir",
			ExportRoot:     "/vault/site_export.v1",
			CandidateCount: "2",
			SelectedScore:  "3210",
			SelectedReason: "best_score",
		},
		FocusTracks:       []track.Key{track.CriticalMinerals, track.MaritimeLogistics},
		FirstReportIDs:    []string{"a", "b", "c"},
		DashboardsPresent: []string{"x.json"},
		DashboardsMissing: []string{"y.json", "z.json"},
	}

	var buf bytes.Buffer
	require.NoError(t, Verify(&buf, rep))
	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")

	want := []string{
		"[verify] site_export track counts",
		"[verify] index=/site/04 - Data & Ontology/_meta/reports_index.json",
		"[verify] total_reports=3",
		"[verify] stamp_mode=vault_dir",
		"[verify] stamp_export_root=/vault/site_export.v1",
		"[verify] stamp_candidate_count=2",
		"[verify] stamp_selected_candidate_score=3210",
		"[verify] stamp_selected_candidate_reason=best_score",
	}
	for _, k := range track.CanonicalKeys {
		want = append(want, fmt.Sprintf("[verify] %s=%d", k, counts.Get(k)))
	}
	want = append(want,
		"[verify] focus_tracks",
		"[verify] critical_minerals=2",
		"[verify] maritime_logistics=0",
		"[verify] first_report_ids=a, b, c",
		"[verify] dashboards_present=1 dashboards_missing=2",
	)
	assert.Equal(t, want, lines)
}

func TestVerify_WithoutStamp(t *testing.T) {
	rep := &contract.VerifyReport{
		IndexPath:   "/dest/_meta/reports_index.json",
		TrackCounts: track.NewCounts(track.CanonicalKeys),
		FocusTracks: track.DefaultFocus,
	}
	var buf bytes.Buffer
	require.NoError(t, Verify(&buf, rep))
	out := buf.String()
	for _, key := range []string{"stamp_mode", "stamp_export_root", "stamp_candidate_count", "stamp_selected_candidate_score", "stamp_selected_candidate_reason"} {
		assert.Contains(t, out, "[verify] "+key+"=n/a\n")
	}
	assert.Contains(t, out, "[verify] first_report_ids=\n")
	assert.Contains(t, out, "[verify] dashboards_present=0 dashboards_missing=0\n")
}

func TestSync_Copied(t *testing.T) {
	c := &candidate.Candidate{Root: "/vault/site_export.v1"}
	st := stamp.New(syncer.ModeVaultDir)
	st.FilesCopied = 5
	st.Destination.TotalReports = 3
	st.Source.TotalReports = 3
	st.Dashboards = dashboards.Result{Mode: dashboards.ModeCopied, FilesCopied: []string{"a.json"}}
	st.Repair.ReportIDAliasesAdded = 3
	st.Repair.Payloads.Created = 2
	st.Warn(stamp.CodeDashboardsMissing, "4 of 5 dashboard files missing", nil)

	res := &syncer.Result{
		Mode:        syncer.ModeVaultDir,
		Destination: "/site/public/data/site_export.v1",
		Candidates:  []candidate.Candidate{*c},
		Selection:   &candidate.Selection{Selected: c, Reason: candidate.ReasonOnlyCandidate, SelectedScore: 3210},
		Stamp:       st,
		Copied:      true,
	}
	var buf bytes.Buffer
	require.NoError(t, Sync(&buf, res))
	out := buf.String()

	assert.Contains(t, out, "[sync] Source: vault_dir\n")
	assert.Contains(t, out, "[sync] Candidates: 1\n")
	assert.Contains(t, out, "[sync] Selected: /vault/site_export.v1 (only_candidate, score=3210)\n")
	assert.Contains(t, out, "[sync] Copied 5 files to /site/public/data/site_export.v1.\n")
	assert.Contains(t, out, "[sync] Destination reports: 3 (source 3)\n")
	assert.Contains(t, out, "[sync] Dashboards: copied (1 copied)\n")
	assert.Contains(t, out, "[sync] Repair: report_id aliases=3 payloads created=2 failed=0\n")
	assert.Contains(t, out, "[sync] Run: "+st.RunID+"\n")
	assert.Contains(t, out, "[sync] WARNING DASHBOARDS_MISSING: 4 of 5 dashboard files missing\n")
	assert.NotContains(t, out, "Dry run")
}

func TestSync_DryRun(t *testing.T) {
	c := &candidate.Candidate{Root: "/vault/a"}
	res := &syncer.Result{
		Mode:        syncer.ModeVaultZip,
		Destination: "/dest",
		Candidates:  []candidate.Candidate{*c},
		Selection:   &candidate.Selection{Selected: c, Reason: candidate.ReasonBestScore, SelectedScore: 1000},
		Stamp:       stamp.New(syncer.ModeVaultZip),
		DryRun:      true,
	}
	var buf bytes.Buffer
	require.NoError(t, Sync(&buf, res))
	out := buf.String()
	assert.Contains(t, out, "[sync] Dry run: destination /dest left untouched.\n")
	assert.NotContains(t, out, "Copied")
}

func TestSync_NoSelection(t *testing.T) {
	res := &syncer.Result{
		Mode:       syncer.ModeVaultDir,
		Candidates: []candidate.Candidate{{Root: "/vault/bad"}},
		Selection:  &candidate.Selection{Reason: candidate.ReasonNoValidCandidates},
	}
	var buf bytes.Buffer
	require.NoError(t, Sync(&buf, res))
	assert.Contains(t, buf.String(), "[sync] Selected: none (no_valid_candidates)\n")

	buf.Reset()
	require.NoError(t, Sync(&buf, nil))
	assert.Empty(t, buf.String())
}
