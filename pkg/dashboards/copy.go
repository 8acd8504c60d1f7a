package dashboards

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/fulmenhq/exportsync/pkg/bundle"
	"github.com/fulmenhq/exportsync/pkg/siteexport"
)

// Mode is the outcome of a dashboards copy.
type Mode string

const (
	ModeCopied  Mode = "copied"
	ModeMissing Mode = "missing"
	ModeError   Mode = "error"
	ModeSkipped Mode = "skipped"
)

// Selection reasons.
const (
	ReasonBestMatch   = "best_match"
	ReasonNoCandidate = "no_candidate"
)

// maxReportedCandidates bounds the candidate list kept in the result.
const maxReportedCandidates = 5

// CandidateSummary is the per-directory entry recorded in a Result.
type CandidateSummary struct {
	Dir             string   `json:"dir"`
	Score           int      `json:"score"`
	FixedMatches    []string `json:"fixed_matches"`
	OptionalMatches []string `json:"optional_matches"`
}

// Result records what the resolver found and copied.
type Result struct {
	Mode                Mode               `json:"mode"`
	SourceDir           string             `json:"source_dir,omitempty"`
	FilesCopied         []string           `json:"files_copied"`
	FixedFilesCopied    []string           `json:"fixed_files_copied"`
	OptionalFilesCopied []string           `json:"optional_files_copied"`
	FilesMissing        []string           `json:"files_missing"`
	Warnings            []string           `json:"warnings"`
	CandidateCount      int                `json:"candidate_count"`
	SelectedScore       int                `json:"selected_score"`
	SelectedReason      string             `json:"selected_reason"`
	Candidates          []CandidateSummary `json:"candidates"`
}

func baseResult() Result {
	return Result{
		Mode:                ModeMissing,
		FilesCopied:         []string{},
		FixedFilesCopied:    []string{},
		OptionalFilesCopied: []string{},
		FilesMissing:        append([]string(nil), TargetFilenames...),
		Warnings:            []string{},
		SelectedReason:      ReasonNoCandidate,
		Candidates:          []CandidateSummary{},
	}
}

// Skipped is the result for sources where dashboards are not resolved.
func Skipped(reason string) Result {
	r := baseResult()
	r.Mode = ModeSkipped
	r.Warnings = []string{reason}
	return r
}

// CopyToDestination selects the best dashboards directory for exportRoot and
// copies its matched files into <destRoot>/dashboards. A zero score or no
// candidate yields ModeMissing; a copy failure yields ModeError with a warning.
func CopyToDestination(ctx context.Context, exportRoot, destRoot string) (Result, error) {
	evals, err := CollectCandidates(ctx, exportRoot)
	if err != nil {
		return Result{}, err
	}

	res := baseResult()
	res.CandidateCount = len(evals)
	for i, ev := range evals {
		if i == maxReportedCandidates {
			break
		}
		res.Candidates = append(res.Candidates, CandidateSummary{
			Dir:             ev.Dir,
			Score:           ev.Score,
			FixedMatches:    ev.FixedMatches,
			OptionalMatches: ev.OptionalMatches,
		})
	}
	if len(evals) == 0 {
		return res, nil
	}
	selected := evals[0]
	res.SelectedScore = selected.Score
	res.SelectedReason = ReasonBestMatch
	if !selected.Exists || selected.Score == 0 {
		return res, nil
	}

	res.SourceDir = selected.Dir
	res.FilesMissing = selected.FilesMissing
	destDir := filepath.Join(destRoot, siteexport.DashboardsDir)

	fixed := map[string]struct{}{}
	for _, name := range selected.FixedMatches {
		fixed[name] = struct{}{}
	}
	var copied, fixedCopied, optionalCopied []string
	for _, name := range append(append([]string(nil), selected.FixedMatches...), selected.OptionalMatches...) {
		if err := bundle.CopyFile(filepath.Join(selected.Dir, name), filepath.Join(destDir, name)); err != nil {
			res.Mode = ModeError
			res.Warnings = []string{fmt.Sprintf("Failed to copy dashboards: %v", err)}
			return res, nil
		}
		copied = append(copied, name)
		if _, ok := fixed[name]; ok {
			fixedCopied = append(fixedCopied, name)
		} else {
			optionalCopied = append(optionalCopied, name)
		}
	}

	res.Mode = ModeCopied
	res.FilesCopied = sortedOrEmpty(copied)
	res.FixedFilesCopied = sortedOrEmpty(fixedCopied)
	res.OptionalFilesCopied = sortedOrEmpty(optionalCopied)
	return res, nil
}

func sortedOrEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	sort.Strings(s)
	return s
}

// Present lists which fixed dashboard files exist under a bundle's dashboards folder.
func Present(bundleRoot string) (present, missing []string) {
	dir := filepath.Join(bundleRoot, siteexport.DashboardsDir)
	ev := Evaluate(dir)
	return ev.FixedMatches, ev.FilesMissing
}
