package contract

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fulmenhq/exportsync/pkg/dashboards"
	"github.com/fulmenhq/exportsync/pkg/siteexport"
	"github.com/fulmenhq/exportsync/pkg/stamp"
	"github.com/fulmenhq/exportsync/pkg/track"
)

const (
	reportCM = "bra.critical_minerals.v1"
	reportML = "chl.maritime_logistics.v1"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func entry(id, country string) map[string]interface{} {
	return map[string]interface{}{
		"id":         id,
		"country":    country,
		"track":      strings.Split(id, ".")[1],
		"profile_id": "p-" + country,
		"path":       "data/site_export.v1/reports/" + id + ".json",
	}
}

func writeIndex(t *testing.T, root string, entries ...interface{}) {
	t.Helper()
	data, err := json.Marshal(map[string]interface{}{"reports": entries})
	require.NoError(t, err)
	writeFile(t, root, siteexport.ReportsIndexRel, string(data))
}

// validBundle writes a bundle that satisfies both contracts.
func validBundle(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeIndex(t, root, entry(reportCM, "bra"), entry(reportML, "chl"))
	for _, id := range []string{reportCM, reportML} {
		writeFile(t, root, "reports/"+id+".json", `{"meta":{}}`)
	}
	writeFile(t, root, siteexport.PayloadRel(reportCM), `{"evidence_refs":["ev-1"]}`)
	writeFile(t, root, siteexport.PayloadRel(reportML), `{"evidence_refs":null}`)
	writeFile(t, root, "evidence/index/index.evidence.v1.json", `[{"id":"ev-1"}]`)
	writeFile(t, root, siteexport.EvidenceMarkdownRel("ev-1"), "# ev-1\n")
	return root
}

func TestCheckIntegrityValidBundle(t *testing.T) {
	res, err := CheckIntegrity(validBundle(t))
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.Empty(t, res.ReportFailure())
	assert.Empty(t, res.EvidenceFailure())
}

func TestCheckIntegrityMissingBundle(t *testing.T) {
	_, err := CheckIntegrity(t.TempDir())
	assert.ErrorIs(t, err, ErrBundleMissing)
}

func TestCheckIntegrityUnknownEvidenceRef(t *testing.T) {
	root := validBundle(t)
	writeFile(t, root, siteexport.PayloadRel(reportCM), `{"evidence_refs":["ev-1","ev-missing"]}`)
	writeFile(t, root, siteexport.EvidenceMarkdownRel("ev-missing"), "# orphan\n")

	res, err := CheckIntegrity(root)
	require.NoError(t, err)
	assert.Equal(t, []string{reportCM + " -> ev-missing"}, res.Evidence.MissingEvidenceIndexEntries)
	assert.Empty(t, res.Evidence.MissingEvidenceMarkdownForRefs)
	assert.Empty(t, res.ReportFailure())
	assert.Equal(t,
		"site_export evidence contract failed.\n\nMISSING_EVIDENCE_INDEX_ENTRIES:\n- "+reportCM+" -> ev-missing",
		res.EvidenceFailure())
}

func TestCheckIntegrityReportViolations(t *testing.T) {
	root := validBundle(t)
	bad := entry(reportML, "chl")
	bad["memo_md_path"] = 42
	writeIndex(t, root,
		entry(reportCM, "bra"),
		bad,
		entry(reportCM, "bra"),
		"not-an-object",
		map[string]interface{}{"id": "x", "country": " "},
	)
	writeFile(t, root, "reports/"+reportML+".json", `[]`)
	require.NoError(t, os.Remove(siteexport.Resolve(root, siteexport.PayloadRel(reportCM))))

	res, err := CheckIntegrity(root)
	require.NoError(t, err)
	assert.Equal(t, []string{reportCM}, res.Report.DuplicateReportIDs)
	assert.ElementsMatch(t, []string{
		"reports[1] :: memo_md_path must be a string when present",
		"reports[3] :: expected object entry",
		"reports[4] :: missing required field(s): country, track, profile_id, path",
		"reports/" + reportML + ".json :: expected report artifact JSON object",
	}, res.Report.InvalidReportIndexEntries)
	assert.Contains(t, res.Report.MissingFiles, "index/"+reportCM+".payload.v1.json")

	msg := res.ReportFailure()
	assert.True(t, strings.HasPrefix(msg, ReportContractTitle+"\n\nMISSING_FILES:\n- "))
	assert.Equal(t, 1, strings.Count(msg, "- index/"+reportCM+".payload.v1.json"), "items are de-duplicated")
}

func TestCheckIntegrityIndexShape(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, siteexport.ReportsIndexRel, `{"reports":{}}`)
	res, err := CheckIntegrity(root)
	require.NoError(t, err)
	assert.Equal(t, []string{`index/index.reports.v1.json :: expected "reports" to be an array`}, res.Report.InvalidReportsIndexShape)
	assert.Equal(t, []string{"evidence/index/index.evidence.v1.json"}, res.Evidence.MissingFiles)

	writeFile(t, root, siteexport.ReportsIndexRel, `[1]`)
	res, err = CheckIntegrity(root)
	require.NoError(t, err)
	assert.Equal(t, []string{"index/index.reports.v1.json :: expected JSON object at top level"}, res.Report.InvalidReportsIndexShape)

	writeFile(t, root, siteexport.ReportsIndexRel, `{`)
	res, err = CheckIntegrity(root)
	require.NoError(t, err)
	require.Len(t, res.Report.JSONParseFailures, 1)
	assert.True(t, strings.HasPrefix(res.Report.JSONParseFailures[0], "index/index.reports.v1.json :: "))
}

func TestCheckIntegrityEvidenceViolations(t *testing.T) {
	root := validBundle(t)
	writeFile(t, root, "evidence/index/index.evidence.v1.json", `[{"id":"ev-1"},{"id":""},{"id":"ev-2"}]`)
	writeFile(t, root, siteexport.PayloadRel(reportML), `{"evidence_refs":"ev-1"}`)
	writeFile(t, root, siteexport.PayloadRel(reportCM), `{"evidence_refs":["ev-1", 3, "ev-3"]}`)

	res, err := CheckIntegrity(root)
	require.NoError(t, err)
	assert.Equal(t, []string{`evidence_index[1] :: missing required string field "id"`}, res.Evidence.InvalidEvidenceIndexEntries)
	assert.Equal(t, []string{"evidence/ev-2.md"}, res.Evidence.MissingFiles)
	assert.ElementsMatch(t, []string{
		reportCM + " :: payload.evidence_refs contains a non-string/blank value",
		reportML + " :: payload.evidence_refs must be an array when present",
	}, res.Evidence.InvalidPayloadEvidenceRefs)
	assert.Equal(t, []string{reportCM + " -> ev-3"}, res.Evidence.MissingEvidenceIndexEntries)
	assert.Equal(t, []string{reportCM + " -> evidence/ev-3.md"}, res.Evidence.MissingEvidenceMarkdownForRefs)

	evidenceTop := res.EvidenceFailure()
	assert.Less(t, strings.Index(evidenceTop, "MISSING_FILES:"), strings.Index(evidenceTop, "INVALID_EVIDENCE_INDEX_ENTRIES:"))
}

func TestCheckIntegrityEvidenceIndexFallbackLocation(t *testing.T) {
	root := validBundle(t)
	require.NoError(t, os.Remove(filepath.Join(root, "evidence", "index", "index.evidence.v1.json")))
	writeFile(t, root, "index/index.evidence.v1.json", `{"items":[]}`)

	res, err := CheckIntegrity(root)
	require.NoError(t, err)
	assert.Equal(t, []string{"index/index.evidence.v1.json :: expected top-level array"}, res.Evidence.InvalidEvidenceIndexEntries)
}

func TestFormatFailure(t *testing.T) {
	assert.Empty(t, FormatFailure("t", []Section{{Header: "A"}}))
	got := FormatFailure("title.", []Section{
		{Header: "A", Items: []string{"b", "a", "b"}},
		{Header: "EMPTY"},
		{Header: "C", Items: []string{"z"}},
	})
	assert.Equal(t, "title.\n\nA:\n- a\n- b\n\nC:\n- z", got)
}

func TestIntegrityResultJSON(t *testing.T) {
	root := validBundle(t)
	writeFile(t, root, siteexport.PayloadRel(reportCM), `{"evidence_refs":["nope"]}`)
	res, err := CheckIntegrity(root)
	require.NoError(t, err)

	data, err := json.Marshal(res)
	require.NoError(t, err)
	var decoded struct {
		OK       bool                `json:"ok"`
		Report   map[string][]string `json:"report"`
		Evidence map[string][]string `json:"evidence"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.False(t, decoded.OK)
	assert.Empty(t, decoded.Report)
	assert.Equal(t, []string{reportCM + " -> nope"}, decoded.Evidence[MissingEvidenceIndexEntries])
}

func TestRenderJUnit(t *testing.T) {
	root := validBundle(t)
	writeFile(t, root, siteexport.PayloadRel(reportCM), `{"evidence_refs":["nope"]}`)
	res, err := CheckIntegrity(root)
	require.NoError(t, err)

	out, err := RenderJUnit(res)
	require.NoError(t, err)

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromBytes(out))
	suite := doc.SelectElement("testsuite")
	require.NotNil(t, suite)
	assert.Equal(t, "2", suite.SelectAttrValue("tests", ""))
	assert.Equal(t, "1", suite.SelectAttrValue("failures", ""))

	cases := suite.SelectElements("testcase")
	require.Len(t, cases, 2)
	assert.Nil(t, cases[0].SelectElement("failure"))
	failure := cases[1].SelectElement("failure")
	require.NotNil(t, failure)
	assert.Equal(t, EvidenceContractTitle, failure.SelectAttrValue("message", ""))
	assert.Contains(t, failure.Text(), reportCM+" -> nope")
}

func TestCheckFocusRegression(t *testing.T) {
	focus := []track.Key{track.CriticalMinerals, track.MaritimeLogistics}
	src := track.Counts{track.CriticalMinerals: 3, track.MaritimeLogistics: 1}

	assert.NoError(t, CheckFocusRegression(src, src, focus))
	assert.NoError(t, CheckFocusRegression(track.Counts{}, track.Counts{}, focus))

	err := CheckFocusRegression(src, track.Counts{track.CriticalMinerals: 3}, focus)
	var reg *RegressionError
	require.True(t, errors.As(err, &reg))
	assert.Equal(t, string(track.MaritimeLogistics), reg.Track)
	assert.Equal(t, 1, reg.Source)
	assert.Equal(t, 0, reg.Dest)

	err = CheckFocusRegression(src, track.Counts{track.CriticalMinerals: 1, track.MaritimeLogistics: 1}, focus)
	assert.NoError(t, err, "a lower but nonzero count is not a regression")
}

func TestResidualWarnings(t *testing.T) {
	root := validBundle(t)
	require.NoError(t, os.Remove(siteexport.Resolve(root, siteexport.PayloadRel(reportML))))
	idx, _, err := siteexport.ReadReportsIndex(root)
	require.NoError(t, err)

	warnings := ResidualWarnings(root, idx, track.Counts{}, track.DefaultFocus)
	require.Len(t, warnings, 2)
	assert.Equal(t, stamp.CodeFocusTracksAllZero, warnings[0].Code)
	assert.Equal(t, stamp.CodeMissingPayloads, warnings[1].Code)
	assert.Equal(t, []string{reportML}, warnings[1].Details["reports"])

	counts := track.CountReports(idx.Reports, track.CanonicalKeys)
	assert.Len(t, ResidualWarnings(root, idx, counts, track.DefaultFocus), 1)
	assert.Nil(t, MissingPayloads(root, nil))
}

func TestVerify(t *testing.T) {
	root := validBundle(t)
	writeFile(t, root, "dashboards/"+dashboards.TargetFilenames[0], `{}`)

	rep, err := Verify(VerifyOptions{Root: root, MinTotalReports: 2, RequireNonzeroFocus: true, RequireDashboards: true})
	require.NoError(t, err)
	assert.Equal(t, 2, rep.TotalReports)
	assert.Equal(t, 1, rep.TrackCounts[track.CriticalMinerals])
	assert.Equal(t, []string{reportCM, reportML}, rep.FirstReportIDs)
	assert.Equal(t, track.DefaultFocus, rep.FocusTracks)
	assert.Nil(t, rep.Stamp)
	assert.Equal(t, []string{dashboards.TargetFilenames[0]}, rep.DashboardsPresent)
	assert.Len(t, rep.DashboardsMissing, len(dashboards.TargetFilenames)-1)
}

func TestVerifyFailures(t *testing.T) {
	root := validBundle(t)

	rep, err := Verify(VerifyOptions{Root: root, MinTotalReports: 5})
	require.NotNil(t, rep)
	assert.EqualError(t, err, "total_reports 2 is below required minimum 5.")

	_, err = Verify(VerifyOptions{Root: root, MinTotalReports: -1, Focus: "sanctions_controls, other", RequireNonzeroFocus: true})
	assert.EqualError(t, err, "All focus tracks are zero: sanctions_controls, other")

	_, err = Verify(VerifyOptions{Root: root, MinTotalReports: -1, RequireDashboards: true})
	assert.EqualError(t, err, "No dashboards files found in destination dashboards directory.")

	empty := t.TempDir()
	rep, err = Verify(VerifyOptions{Root: empty})
	assert.Nil(t, rep)
	assert.ErrorContains(t, err, "Missing reports index: ")

	writeFile(t, empty, siteexport.ReportsIndexRel, `{"reports":1}`)
	_, err = Verify(VerifyOptions{Root: empty})
	assert.ErrorContains(t, err, "expected top-level reports array.")

	writeFile(t, empty, siteexport.ReportsIndexRel, `nope`)
	_, err = Verify(VerifyOptions{Root: empty})
	assert.ErrorContains(t, err, "Failed to parse reports index at ")
}

func TestVerifyFocusFromStamp(t *testing.T) {
	root := validBundle(t)
	writeFile(t, root, siteexport.StampRel, `{"mode":"vault_dir","focusTracks":["maritime_logistics"],"candidate_count":2}`)

	rep, err := Verify(VerifyOptions{Root: root, MinTotalReports: -1})
	require.NoError(t, err)
	require.NotNil(t, rep.Stamp)
	assert.Equal(t, "vault_dir", rep.Stamp.Mode)
	assert.Equal(t, "2", rep.Stamp.CandidateCount)
	assert.Equal(t, "n/a", rep.Stamp.ExportRoot)
	assert.Equal(t, []track.Key{track.MaritimeLogistics}, rep.FocusTracks)

	rep, err = Verify(VerifyOptions{Root: root, MinTotalReports: -1, Focus: "critical_minerals"})
	require.NoError(t, err)
	assert.Equal(t, []track.Key{track.CriticalMinerals}, rep.FocusTracks)
}
