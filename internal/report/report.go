// Package report renders the console reports of the verify and sync commands
// from Handlebars templates.
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/aymerick/raymond"

	"github.com/fulmenhq/exportsync/internal/syncer"
	"github.com/fulmenhq/exportsync/pkg/contract"
	"github.com/fulmenhq/exportsync/pkg/track"
)

const notAvailable = "n/a"

// Values are triple-stashed: paths such as "04 - Data & Ontology" must not be
// HTML-escaped on a terminal.
const verifyTemplate = `[verify] site_export track counts
[verify] index={{{index}}}
[verify] total_reports={{total}}
[verify] stamp_mode={{{stamp.mode}}}
[verify] stamp_export_root={{{stamp.exportRoot}}}
[verify] stamp_candidate_count={{{stamp.candidateCount}}}
[verify] stamp_selected_candidate_score={{{stamp.score}}}
[verify] stamp_selected_candidate_reason={{{stamp.reason}}}
{{#each tracks}}[verify] {{{key}}}={{count}}
{{/each}}[verify] focus_tracks
{{#each focus}}[verify] {{{key}}}={{count}}
{{/each}}[verify] first_report_ids={{{firstReportIds}}}
[verify] dashboards_present={{present}} dashboards_missing={{missing}}
`

const syncTemplate = `[sync] Source: {{{mode}}}
[sync] Candidates: {{candidates}}
{{#if selected}}[sync] Selected: {{{selected}}} ({{{reason}}}, score={{{score}}})
{{else}}[sync] Selected: none ({{{reason}}})
{{/if}}{{#if dryRun}}[sync] Dry run: destination {{{destination}}} left untouched.
{{else}}{{#if stamped}}[sync] Copied {{filesCopied}} files to {{{destination}}}.
[sync] Destination reports: {{totalReports}} (source {{sourceReports}})
[sync] Dashboards: {{{dashboardsMode}}} ({{dashboardsCopied}} copied)
[sync] Repair: report_id aliases={{aliases}} payloads created={{payloadsCreated}} failed={{payloadsFailed}}
[sync] Run: {{{runId}}}
{{/if}}{{/if}}{{#each warnings}}[sync] WARNING {{{code}}}: {{{message}}}
{{/each}}`

var (
	verifyTpl = raymond.MustParse(verifyTemplate)
	syncTpl   = raymond.MustParse(syncTemplate)
)

func trackRows(counts track.Counts, keys []track.Key) []map[string]interface{} {
	rows := make([]map[string]interface{}, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, map[string]interface{}{"key": string(k), "count": counts.Get(k)})
	}
	return rows
}

// Verify writes the verification report.
func Verify(w io.Writer, rep *contract.VerifyReport) error {
	// Stamp values are pre-rendered strings; absent keys read "n/a".
	stampCtx := map[string]interface{}{
		"mode":           notAvailable,
		"exportRoot":     notAvailable,
		"candidateCount": notAvailable,
		"score":          notAvailable,
		"reason":         notAvailable,
	}
	if s := rep.Stamp; s != nil {
		stampCtx = map[string]interface{}{
			"mode":           s.Mode,
			"exportRoot":     s.ExportRoot,
			"candidateCount": s.CandidateCount,
			"score":          s.SelectedScore,
			"reason":         s.SelectedReason,
		}
	}
	return render(w, verifyTpl, map[string]interface{}{
		"index":          rep.IndexPath,
		"total":          rep.TotalReports,
		"stamp":          stampCtx,
		"tracks":         trackRows(rep.TrackCounts, track.CanonicalKeys),
		"focus":          trackRows(rep.TrackCounts, rep.FocusTracks),
		"firstReportIds": strings.Join(rep.FirstReportIDs, ", "),
		"present":        len(rep.DashboardsPresent),
		"missing":        len(rep.DashboardsMissing),
	})
}

// Sync writes the sync summary. It renders partial results of failed runs.
func Sync(w io.Writer, res *syncer.Result) error {
	if res == nil {
		return nil
	}
	ctx := map[string]interface{}{
		"mode":        res.Mode,
		"candidates":  len(res.Candidates),
		"destination": res.Destination,
		"dryRun":      res.DryRun,
	}
	if sel := res.Selection; sel != nil {
		ctx["reason"] = string(sel.Reason)
		ctx["score"] = sel.SelectedScore.String()
		if sel.Selected != nil {
			ctx["selected"] = sel.Selected.Root
		}
	}
	if st := res.Stamp; st != nil {
		warnings := make([]map[string]interface{}, 0, len(st.Warnings))
		for _, w := range st.Warnings {
			warnings = append(warnings, map[string]interface{}{"code": w.Code, "message": w.Message})
		}
		ctx["warnings"] = warnings
		if res.Copied {
			ctx["stamped"] = true
			ctx["filesCopied"] = st.FilesCopied
			ctx["totalReports"] = st.Destination.TotalReports
			ctx["sourceReports"] = st.Source.TotalReports
			ctx["dashboardsMode"] = string(st.Dashboards.Mode)
			ctx["dashboardsCopied"] = len(st.Dashboards.FilesCopied)
			ctx["aliases"] = st.Repair.ReportIDAliasesAdded
			ctx["payloadsCreated"] = st.Repair.Payloads.Created
			ctx["payloadsFailed"] = st.Repair.Payloads.Failed
			ctx["runId"] = st.RunID
		}
	}
	return render(w, syncTpl, ctx)
}

func render(w io.Writer, tpl *raymond.Template, ctx interface{}) error {
	out, err := tpl.Exec(ctx)
	if err != nil {
		return fmt.Errorf("error rendering template: %w", err)
	}
	_, err = io.WriteString(w, out)
	return err
}
