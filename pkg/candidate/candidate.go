// Package candidate discovers site_export bundle roots in a vault directory or
// archive, scores them and selects the one to sync.
package candidate

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fulmenhq/exportsync/pkg/track"
)

// SourceType identifies where a candidate lives.
type SourceType string

const (
	SourceVault SourceType = "vault"
	SourceZip   SourceType = "zip"
)

// ArchiveRootSep joins an archive path and an entry prefix in a candidate root.
const ArchiveRootSep = "::"

// Reason strings recorded on candidates.
const (
	ReasonValid = "valid"
)

// Candidate is a provisional bundle source. Every candidate, valid or not,
// carries the full canonical key set in TrackCounts.
type Candidate struct {
	Root             string       `json:"root"`
	Valid            bool         `json:"valid"`
	Reason           string       `json:"reason"`
	TotalReports     int          `json:"totalReports"`
	TrackCounts      track.Counts `json:"trackCounts"`
	FocusCounts      track.Counts `json:"focusCounts"`
	FocusSum         int          `json:"focusSum"`
	MinFocus         int          `json:"minFocus"`
	IndexSHA256      string       `json:"indexSha256,omitempty"`
	IndexMtimeMs     int64        `json:"indexMtimeMs"`
	SourceType       SourceType   `json:"sourceType"`
	HasEvidenceIndex bool         `json:"hasEvidenceIndex"`
	EvidenceIndex    string       `json:"evidenceIndex,omitempty"`
	DashboardsFound  int          `json:"dashboardsFound"`
	PathPreference   int          `json:"pathPreference"`

	// Dir is the bundle directory for vault candidates.
	Dir string `json:"-"`
	// ArchivePath and EntryPrefix locate zip candidates.
	ArchivePath string `json:"-"`
	EntryPrefix string `json:"-"`
}

// ArchiveRoot formats the root identifier of a zip candidate. The archive
// part is made absolute so the identifier does not depend on the working
// directory.
func ArchiveRoot(archivePath, prefix string) string {
	if abs, err := filepath.Abs(archivePath); err == nil {
		archivePath = abs
	}
	return archivePath + ArchiveRootSep + prefix
}

// newCandidate returns an invalid candidate with zeroed counts for every key.
func newCandidate(root string, src SourceType, focus []track.Key) Candidate {
	c := Candidate{
		Root:        root,
		SourceType:  src,
		TrackCounts: track.NewCounts(track.CanonicalKeys),
	}
	c.applyFocus(focus)
	return c
}

func (c *Candidate) applyFocus(focus []track.Key) {
	m := track.ComputeFocus(c.TrackCounts, focus)
	c.FocusCounts = m.Counts
	c.FocusSum = m.Sum
	c.MinFocus = m.Min
}

// ShortHash returns the first 12 hex digits of the index hash.
func (c Candidate) ShortHash() string {
	if len(c.IndexSHA256) > 12 {
		return c.IndexSHA256[:12]
	}
	return c.IndexSHA256
}

// Score is a candidate score. Invalid candidates score negative infinity,
// which is encoded as JSON null.
type Score float64

// MarshalJSON encodes non-finite scores as null.
func (s Score) MarshalJSON() ([]byte, error) {
	f := float64(s)
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return []byte("null"), nil
	}
	return json.Marshal(f)
}

// UnmarshalJSON decodes null as negative infinity.
func (s *Score) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = Score(math.Inf(-1))
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*s = Score(f)
	return nil
}

// String renders the score for tables and logs.
func (s Score) String() string {
	if math.IsInf(float64(s), -1) {
		return "-Inf"
	}
	return strconv.FormatFloat(float64(s), 'f', -1, 64)
}

// ComputeScore weights raw volume over focus presence over evidence
// completeness: reports*1000 + focusSum*100 + evidence*10.
func ComputeScore(c Candidate) Score {
	if !c.Valid {
		return Score(math.Inf(-1))
	}
	evidence := 0
	if c.HasEvidenceIndex {
		evidence = 1
	}
	return Score(c.TotalReports*1000 + c.FocusSum*100 + evidence*10)
}

var (
	// ErrExplicitRootNotFound is returned when an override root matches no candidate.
	ErrExplicitRootNotFound = errors.New("explicit export root not found among candidates")
	// ErrNoValidCandidates is returned when nothing passes the validity and threshold filter.
	ErrNoValidCandidates = errors.New("no valid export candidates")
)

// FocusMismatchError reports a zero-focus selection while a candidate with
// focus-track reports exists.
type FocusMismatchError struct {
	Selected    Candidate
	Suggested   Candidate
	FocusTracks []track.Key
}

func (e *FocusMismatchError) Error() string {
	return fmt.Sprintf(
		"selected export root %s has zero reports for focus tracks [%s] while %s has %d; "+
			"set CLARUM_EXPORT_ROOT to pick a root explicitly or CLARUM_ALLOW_FOCUS_MISMATCH=1 to accept",
		e.Selected.Root,
		strings.Join(track.Strings(e.FocusTracks), ", "),
		e.Suggested.Root,
		e.Suggested.FocusSum,
	)
}
