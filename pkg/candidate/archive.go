package candidate

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/fulmenhq/exportsync/pkg/bundle"
	"github.com/fulmenhq/exportsync/pkg/dashboards"
	"github.com/fulmenhq/exportsync/pkg/logger"
	"github.com/fulmenhq/exportsync/pkg/pathfinder"
	"github.com/fulmenhq/exportsync/pkg/siteexport"
	"github.com/fulmenhq/exportsync/pkg/track"
)

// ArchivePrefixes returns every distinct entry prefix under which a reports
// index appears, skipping excluded locations.
func ArchivePrefixes(names []string, ig *pathfinder.Ignore) []string {
	seen := map[string]struct{}{}
	for _, name := range names {
		var prefix string
		switch {
		case name == siteexport.ReportsIndexRel:
			prefix = ""
		case strings.HasSuffix(name, "/"+siteexport.ReportsIndexRel):
			prefix = strings.TrimSuffix(name, siteexport.ReportsIndexRel)
		default:
			continue
		}
		if prefix != "" && (pathfinder.IsExcludedDiscoveryPath(prefix) || ig.Match(strings.TrimSuffix(prefix, "/"), true)) {
			continue
		}
		seen[prefix] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// ScanArchive opens archivePath and builds a candidate for each bundle prefix.
// Entries are read sequentially from the single archive handle.
func ScanArchive(ctx context.Context, archivePath string, opts ScanOptions) ([]Candidate, error) {
	opts = opts.withDefaults()
	arc, err := bundle.OpenArchive(archivePath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = arc.Close() }()

	names := arc.Names()
	nameSet := make(map[string]struct{}, len(names))
	for _, n := range names {
		nameSet[n] = struct{}{}
	}

	prefixes := ArchivePrefixes(names, opts.Ignore)
	logger.Debug("archive discovery finished", logger.String("archive", archivePath), logger.Int("roots", len(prefixes)))

	out := make([]Candidate, 0, len(prefixes))
	for _, prefix := range prefixes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out = append(out, buildArchiveCandidate(arc, nameSet, prefix, opts.FocusTracks))
	}
	return out, nil
}

func buildArchiveCandidate(arc *bundle.Archive, names map[string]struct{}, prefix string, focus []track.Key) Candidate {
	c := newCandidate(ArchiveRoot(arc.Path, prefix), SourceZip, focus)
	c.ArchivePath = arc.Path
	c.EntryPrefix = prefix
	c.PathPreference = pathPreference(prefix)

	for _, rel := range siteexport.EvidenceIndexRels {
		if _, ok := names[prefix+rel]; ok {
			c.HasEvidenceIndex = true
			c.EvidenceIndex = rel
			break
		}
	}
	for _, name := range dashboards.TargetFilenames {
		if _, ok := names[prefix+siteexport.DashboardsDir+"/"+name]; ok {
			c.DashboardsFound++
		}
	}

	entry := prefix + siteexport.ReportsIndexRel
	if mod, ok := arc.Modified(entry); ok {
		c.IndexMtimeMs = mod.UnixMilli()
	}
	data, err := arc.Read(entry)
	if err != nil {
		c.Reason = fmt.Sprintf("failed to read %s: %v", siteexport.ReportsIndexRel, err)
		return c
	}
	c.fillFromIndex(data, focus)
	return c
}
