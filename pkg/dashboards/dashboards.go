// Package dashboards locates the best dashboards directory near an export
// root and copies its files into the destination bundle.
package dashboards

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/fulmenhq/exportsync/pkg/logger"
	"github.com/fulmenhq/exportsync/pkg/pathfinder"
)

// TargetFilenames are the fixed dashboard files a complete directory holds.
var TargetFilenames = []string{
	"index.dashboards.v1.json",
	"track_counts_from_export.v1.json",
	"static_usage_report_7c.v1.json",
	"tier_a_backlog_bundle_7c.v1.json",
	"deltas_7c.v1.json",
	"wave_engine_state.v1.json",
	"latest.wave_engine.v1.json",
}

// optionalPatterns match per-wave summaries whose names embed a wave id.
var optionalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^quality_lift_wave.*_summary_7c\.v1\.json$`),
}

// RelativeCandidates are checked relative to the export root.
var RelativeCandidates = []string{
	"dashboards",
	"../../04 - Data & Ontology/Ontology/_machine/dashboards",
	"../_machine/dashboards",
	"../../_machine/dashboards",
}

// ExcludedDirNames are never entered by the machine-dashboards scan.
var ExcludedDirNames = []string{
	"node_modules",
	".git",
	".next",
	"dist",
	"build",
	"out",
	"coverage",
	"fixtures",
	"__fixtures__",
	"public",
}

const (
	// DefaultScanDepth bounds the machine-dashboards scan.
	DefaultScanDepth = 6
	// scanAncestorLevels is how far above the export root the scan starts,
	// reaching sibling ontology trees.
	scanAncestorLevels = 3
	machineSuffix      = "/_machine/dashboards"
)

// IsOptional reports whether name matches an optional dashboard pattern.
func IsOptional(name string) bool {
	for _, p := range optionalPatterns {
		if p.MatchString(name) {
			return true
		}
	}
	return false
}

// Evaluation scores one candidate directory.
type Evaluation struct {
	Dir             string
	Exists          bool
	FixedMatches    []string
	OptionalMatches []string
	FilesMissing    []string
	Score           int
}

// Evaluate scores dir as fixed matches plus optional matches.
func Evaluate(dir string) Evaluation {
	ev := Evaluation{
		Dir:             dir,
		FixedMatches:    []string{},
		OptionalMatches: []string{},
		FilesMissing:    append([]string(nil), TargetFilenames...),
	}
	if !pathfinder.IsDir(dir) {
		return ev
	}
	ev.Exists = true

	entries, err := os.ReadDir(dir)
	if err != nil {
		logger.Debug("dashboards directory unreadable", logger.String("dir", dir), logger.Err(err))
		return ev
	}
	present := map[string]struct{}{}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			present[e.Name()] = struct{}{}
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	ev.FilesMissing = []string{}
	for _, name := range TargetFilenames {
		if _, ok := present[name]; ok {
			ev.FixedMatches = append(ev.FixedMatches, name)
		} else {
			ev.FilesMissing = append(ev.FilesMissing, name)
		}
	}
	for _, name := range names {
		if IsOptional(name) {
			ev.OptionalMatches = append(ev.OptionalMatches, name)
		}
	}
	ev.Score = len(ev.FixedMatches) + len(ev.OptionalMatches)
	return ev
}

// DiscoverMachineDashboards returns every directory under root whose path
// ends in _machine/dashboards. Matches are not descended into.
func DiscoverMachineDashboards(ctx context.Context, root string, maxDepth int) ([]string, error) {
	var found []string
	err := pathfinder.Walk(ctx, root, pathfinder.WalkOptions{
		MaxDepth:  maxDepth,
		SkipNames: ExcludedDirNames,
		Exclude:   pathfinder.IsExcludedDiscoveryPath,
	}, func(d pathfinder.Dir) (pathfinder.Visit, error) {
		if strings.HasSuffix(pathfinder.ForMatch(d.Path), machineSuffix) {
			found = append(found, filepath.Clean(d.Path))
			return pathfinder.SkipChildren, nil
		}
		return pathfinder.Descend, nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(found)
	return found, nil
}

// CollectCandidates evaluates the conventional relative locations plus every
// machine-dashboards directory found from an ancestor of exportRoot, sorted
// by score descending then path.
func CollectCandidates(ctx context.Context, exportRoot string) ([]Evaluation, error) {
	abs, err := filepath.Abs(exportRoot)
	if err != nil {
		return nil, err
	}
	set := map[string]struct{}{}
	for _, rel := range RelativeCandidates {
		set[filepath.Join(abs, filepath.FromSlash(rel))] = struct{}{}
	}

	scanStart := abs
	for i := 0; i < scanAncestorLevels; i++ {
		scanStart = filepath.Dir(scanStart)
	}
	if pathfinder.IsDir(scanStart) {
		found, err := DiscoverMachineDashboards(ctx, scanStart, DefaultScanDepth)
		if err != nil {
			return nil, err
		}
		for _, dir := range found {
			set[dir] = struct{}{}
		}
	}

	evals := make([]Evaluation, 0, len(set))
	for dir := range set {
		evals = append(evals, Evaluate(dir))
	}
	sort.Slice(evals, func(i, j int) bool {
		if evals[i].Score != evals[j].Score {
			return evals[i].Score > evals[j].Score
		}
		return evals[i].Dir < evals[j].Dir
	})
	return evals, nil
}
