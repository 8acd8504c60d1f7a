package candidate

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/fulmenhq/exportsync/pkg/track"
)

// Reason explains how a selection was made.
type Reason string

const (
	ReasonExplicitOverride  Reason = "explicit_override"
	ReasonOnlyCandidate     Reason = "only_candidate"
	ReasonBestScore         Reason = "best_score"
	ReasonNoValidCandidates Reason = "no_valid_candidates"
)

// Selection is the outcome of Choose.
type Selection struct {
	Selected      *Candidate  `json:"selected"`
	Ranked        []Candidate `json:"ranked"`
	Reason        Reason      `json:"reason"`
	SelectedScore Score       `json:"selectedScore"`
	FocusTracks   []track.Key `json:"focusTracks"`
}

// SelectOptions configures Choose.
type SelectOptions struct {
	FocusTracks  []track.Key
	ExplicitRoot string
	MinReports   int
}

// Compare orders candidates: valid first, then score, focus sum, total
// reports and index mtime (all descending), then root ascending so repeated
// runs over unchanged input agree.
func Compare(a, b Candidate) int {
	if a.Valid != b.Valid {
		if a.Valid {
			return -1
		}
		return 1
	}
	if sa, sb := ComputeScore(a), ComputeScore(b); sa != sb {
		if sa > sb {
			return -1
		}
		return 1
	}
	if a.FocusSum != b.FocusSum {
		return b.FocusSum - a.FocusSum
	}
	if a.TotalReports != b.TotalReports {
		return b.TotalReports - a.TotalReports
	}
	if a.IndexMtimeMs != b.IndexMtimeMs {
		if a.IndexMtimeMs > b.IndexMtimeMs {
			return -1
		}
		return 1
	}
	return strings.Compare(a.Root, b.Root)
}

// Rank returns a sorted copy of cands.
func Rank(cands []Candidate) []Candidate {
	ranked := append([]Candidate(nil), cands...)
	sort.SliceStable(ranked, func(i, j int) bool { return Compare(ranked[i], ranked[j]) < 0 })
	return ranked
}

// ApplyMinimum marks valid candidates below minReports invalid while
// keeping them in the list for diagnostics.
func ApplyMinimum(cands []Candidate, minReports int) []Candidate {
	out := make([]Candidate, len(cands))
	for i, c := range cands {
		if c.Valid && c.TotalReports < minReports {
			c.Valid = false
			c.Reason = fmt.Sprintf("below minimum reports (%d < %d)", c.TotalReports, minReports)
		}
		out[i] = c
	}
	return out
}

// Choose selects exactly one candidate. An explicit root must match a
// candidate's root exactly and always wins. Otherwise the valid candidates
// meeting the threshold are ranked and the top one is selected; when none
// qualify the selection has a nil Selected and ReasonNoValidCandidates.
func Choose(cands []Candidate, opts SelectOptions) (*Selection, error) {
	focus := opts.FocusTracks
	if len(focus) == 0 {
		focus = append([]track.Key(nil), track.DefaultFocus...)
	}

	if opts.ExplicitRoot != "" {
		for i := range cands {
			if cands[i].Root == opts.ExplicitRoot {
				matched := cands[i]
				return &Selection{
					Selected:      &matched,
					Ranked:        []Candidate{matched},
					Reason:        ReasonExplicitOverride,
					SelectedScore: ComputeScore(matched),
					FocusTracks:   focus,
				}, nil
			}
		}
		return nil, fmt.Errorf("%w: %s", ErrExplicitRootNotFound, opts.ExplicitRoot)
	}

	var eligible []Candidate
	for _, c := range cands {
		if c.Valid && c.TotalReports >= opts.MinReports {
			eligible = append(eligible, c)
		}
	}
	if len(eligible) == 0 {
		return &Selection{
			Ranked:        []Candidate{},
			Reason:        ReasonNoValidCandidates,
			SelectedScore: Score(math.Inf(-1)),
			FocusTracks:   focus,
		}, nil
	}

	ranked := Rank(eligible)
	selected := ranked[0]
	reason := ReasonBestScore
	if len(ranked) == 1 {
		reason = ReasonOnlyCandidate
	}
	return &Selection{
		Selected:      &selected,
		Ranked:        ranked,
		Reason:        reason,
		SelectedScore: ComputeScore(selected),
		FocusTracks:   focus,
	}, nil
}

// FindBetterFocus returns the top-ranked valid candidate with focus-track
// reports when selected is valid but has none. It returns nil otherwise.
func FindBetterFocus(selected *Candidate, cands []Candidate) *Candidate {
	if selected == nil || !selected.Valid || selected.FocusSum > 0 {
		return nil
	}
	var withFocus []Candidate
	for _, c := range cands {
		if c.Valid && c.FocusSum > 0 {
			withFocus = append(withFocus, c)
		}
	}
	if len(withFocus) == 0 {
		return nil
	}
	best := Rank(withFocus)[0]
	return &best
}

// CheckFocus returns a *FocusMismatchError when FindBetterFocus has a
// suggestion for sel. Explicit overrides are never second-guessed.
func CheckFocus(sel *Selection, cands []Candidate) error {
	if sel == nil || sel.Selected == nil || sel.Reason == ReasonExplicitOverride {
		return nil
	}
	better := FindBetterFocus(sel.Selected, cands)
	if better == nil {
		return nil
	}
	return &FocusMismatchError{Selected: *sel.Selected, Suggested: *better, FocusTracks: sel.FocusTracks}
}
