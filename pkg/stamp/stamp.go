// Package stamp writes and reads the source stamp: the record of what a sync
// selected, copied and repaired.
package stamp

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/fulmenhq/exportsync/internal/gitctx"
	"github.com/fulmenhq/exportsync/pkg/buildinfo"
	"github.com/fulmenhq/exportsync/pkg/candidate"
	"github.com/fulmenhq/exportsync/pkg/dashboards"
	"github.com/fulmenhq/exportsync/pkg/repair"
	"github.com/fulmenhq/exportsync/pkg/safeio"
	"github.com/fulmenhq/exportsync/pkg/schema"
	"github.com/fulmenhq/exportsync/pkg/siteexport"
	"github.com/fulmenhq/exportsync/pkg/track"
)

// SchemaVersion is written into every stamp.
const SchemaVersion = "v1"

// topCandidates bounds the ranked candidates kept in a stamp.
const topCandidates = 5

// Warning codes recorded by sync.
const (
	CodeFocusMismatchBypassed = "FOCUS_MISMATCH_BYPASSED"
	CodeFocusTracksAllZero    = "FOCUS_TRACKS_ALL_ZERO"
	CodeMissingPayloads       = "MISSING_PAYLOADS"
	CodePayloadBackfillFailed = "PAYLOAD_BACKFILL_FAILED"
	CodeDashboardsMissing     = "DASHBOARDS_MISSING"
	CodeDashboardsSkipped     = "DASHBOARDS_SKIPPED"
	CodeDashboardsError       = "DASHBOARDS_ERROR"
	CodeZipFallback           = "ZIP_FALLBACK"
	CodeSchemaViolations      = "SCHEMA_VIOLATIONS"
)

// Warning is a non-fatal condition observed during a sync.
type Warning struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Counts is a bundle-level report tally.
type Counts struct {
	TotalReports int          `json:"totalReports"`
	TrackCounts  track.Counts `json:"trackCounts"`
}

// RepairSummary records what post-copy repair changed.
type RepairSummary struct {
	ReportIDAliasesAdded int                   `json:"report_id_aliases_added"`
	Payloads             repair.BackfillResult `json:"payloads"`
}

// Stamp is the sync decision record written to _meta/source_stamp.json.
type Stamp struct {
	SchemaVersion           string                `json:"schema_version"`
	RunID                   string                `json:"run_id"`
	SyncedAt                time.Time             `json:"synced_at"`
	Generator               string                `json:"generator"`
	Mode                    string                `json:"mode"`
	ExportRoot              string                `json:"exportRoot"`
	SourceType              candidate.SourceType  `json:"sourceType"`
	SourceIndexSHA256       string                `json:"sourceIndexSha256,omitempty"`
	CandidateCount          int                   `json:"candidate_count"`
	SelectedCandidateScore  candidate.Score       `json:"selected_candidate_score"`
	SelectedCandidateReason string                `json:"selected_candidate_reason"`
	FocusTracks             []string              `json:"focusTracks"`
	MinReports              int                   `json:"minReports"`
	FilesCopied             int                   `json:"files_copied"`
	Source                  Counts                `json:"source"`
	Destination             Counts                `json:"destination"`
	Dashboards              dashboards.Result     `json:"dashboards"`
	Repair                  RepairSummary         `json:"repair"`
	TopCandidates           []candidate.Candidate `json:"top_candidates"`
	VaultGit                *gitctx.Provenance    `json:"vault_git,omitempty"`
	Warnings                []Warning             `json:"warnings"`
}

// New returns a stamp with a fresh run id and timestamp.
func New(mode string) *Stamp {
	return &Stamp{
		SchemaVersion: SchemaVersion,
		RunID:         uuid.NewString(),
		SyncedAt:      time.Now().UTC(),
		Generator:     "exportsync " + buildinfo.BinaryVersion,
		Mode:          mode,
		FocusTracks:   []string{},
		Source:        Counts{TrackCounts: track.NewCounts(track.CanonicalKeys)},
		Destination:   Counts{TrackCounts: track.NewCounts(track.CanonicalKeys)},
		TopCandidates: []candidate.Candidate{},
		Warnings:      []Warning{},
	}
}

// Warn appends a warning.
func (s *Stamp) Warn(code, message string, details map[string]interface{}) {
	s.Warnings = append(s.Warnings, Warning{Code: code, Message: message, Details: details})
}

// SetSelection records the selection outcome and the top ranked candidates.
func (s *Stamp) SetSelection(sel *candidate.Selection, all []candidate.Candidate) {
	s.CandidateCount = len(all)
	s.SelectedCandidateScore = sel.SelectedScore
	s.SelectedCandidateReason = string(sel.Reason)
	s.FocusTracks = track.Strings(sel.FocusTracks)
	if sel.Selected != nil {
		s.ExportRoot = sel.Selected.Root
		s.SourceType = sel.Selected.SourceType
		s.SourceIndexSHA256 = sel.Selected.IndexSHA256
		s.Source = Counts{TotalReports: sel.Selected.TotalReports, TrackCounts: sel.Selected.TrackCounts}
	}
	ranked := candidate.Rank(all)
	if len(ranked) > topCandidates {
		ranked = ranked[:topCandidates]
	}
	s.TopCandidates = ranked
}

// Write validates the stamp against its schema and writes it under bundleRoot.
func Write(bundleRoot string, s *Stamp) error {
	res, err := schema.Validate(s, schema.SourceStampV1)
	if err != nil {
		return fmt.Errorf("validate source stamp: %w", err)
	}
	if !res.Valid {
		return fmt.Errorf("source stamp failed schema validation: %s", strings.Join(res.Messages(5), "; "))
	}
	return safeio.WriteJSON(siteexport.Resolve(bundleRoot, siteexport.StampRel), s)
}

// Read loads the stamp written under bundleRoot.
func Read(bundleRoot string) (*Stamp, error) {
	data, err := os.ReadFile(siteexport.Resolve(bundleRoot, siteexport.StampRel)) // #nosec G304 -- bundle-relative constant
	if err != nil {
		return nil, err
	}
	var s Stamp
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse source stamp: %w", err)
	}
	return &s, nil
}

// Summary is the subset of a stamp the verify report shows. Fields fall back
// to older key names so stamps from earlier sync revisions still render.
type Summary struct {
	Mode           string
	ExportRoot     string
	CandidateCount string
	SelectedScore  string
	SelectedReason string
	FocusTracks    []string
}

const notAvailable = "n/a"

// ReadSummary loads the stamp summary under bundleRoot. It returns nil when
// the stamp is absent or not valid JSON.
func ReadSummary(bundleRoot string) *Summary {
	data, err := os.ReadFile(siteexport.Resolve(bundleRoot, siteexport.StampRel)) // #nosec G304 -- bundle-relative constant
	if err != nil || !gjson.ValidBytes(data) {
		return nil
	}
	doc := gjson.ParseBytes(data)
	if !doc.IsObject() {
		return nil
	}
	sum := &Summary{
		Mode:           display(doc, "mode"),
		ExportRoot:     display(doc, "exportRoot", "vaultExportRoot"),
		CandidateCount: display(doc, "candidate_count", "candidatesConsidered"),
		SelectedScore:  display(doc, "selected_candidate_score", "selection.score"),
		SelectedReason: display(doc, "selected_candidate_reason", "selection.reason"),
	}
	for _, v := range doc.Get("focusTracks").Array() {
		if v.Type == gjson.String {
			sum.FocusTracks = append(sum.FocusTracks, v.Str)
		}
	}
	return sum
}

// display renders the first non-null value among paths, or "n/a". A null
// score renders as -Inf.
func display(doc gjson.Result, paths ...string) string {
	for _, p := range paths {
		r := doc.Get(p)
		switch r.Type {
		case gjson.String:
			return r.Str
		case gjson.Number:
			return strconv.FormatFloat(r.Num, 'f', -1, 64)
		case gjson.True, gjson.False:
			return r.String()
		case gjson.Null:
			if r.Exists() && strings.HasSuffix(p, "score") {
				return "-Inf"
			}
		}
	}
	return notAvailable
}
