package candidate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/fulmenhq/exportsync/pkg/dashboards"
	"github.com/fulmenhq/exportsync/pkg/logger"
	"github.com/fulmenhq/exportsync/pkg/pathfinder"
	"github.com/fulmenhq/exportsync/pkg/siteexport"
	"github.com/fulmenhq/exportsync/pkg/track"
)

// DefaultMaxDepth bounds vault directory discovery.
const DefaultMaxDepth = 8

// ScanOptions configures discovery.
type ScanOptions struct {
	FocusTracks []track.Key
	MaxDepth    int
	Ignore      *pathfinder.Ignore
	Concurrency int
}

func (o ScanOptions) withDefaults() ScanOptions {
	if len(o.FocusTracks) == 0 {
		o.FocusTracks = append([]track.Key(nil), track.DefaultFocus...)
	}
	if o.MaxDepth <= 0 {
		o.MaxDepth = DefaultMaxDepth
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	return o
}

// fastPathRels are checked before the walk so the conventional export is
// found even when it sits deeper than MaxDepth.
var fastPathRels = []string{
	".",
	siteexport.ConventionalExportRel,
	"09 - Publishing/site_export/v1",
	"site_export/v1",
}

// DiscoverRoots returns every directory under root that contains a reports
// index. Matching directories are not descended into.
func DiscoverRoots(ctx context.Context, root string, opts ScanOptions) ([]string, error) {
	opts = opts.withDefaults()
	seen := map[string]struct{}{}
	add := func(dir string) {
		seen[filepath.Clean(dir)] = struct{}{}
	}

	for _, rel := range fastPathRels {
		dir := filepath.Join(root, filepath.FromSlash(rel))
		if pathfinder.IsFile(siteexport.Resolve(dir, siteexport.ReportsIndexRel)) {
			add(dir)
		}
	}

	err := pathfinder.Walk(ctx, root, pathfinder.WalkOptions{
		MaxDepth: opts.MaxDepth,
		Exclude:  pathfinder.IsExcludedDiscoveryPath,
		Ignore:   opts.Ignore,
	}, func(d pathfinder.Dir) (pathfinder.Visit, error) {
		if pathfinder.IsFile(siteexport.Resolve(d.Path, siteexport.ReportsIndexRel)) {
			add(d.Path)
			return pathfinder.SkipChildren, nil
		}
		return pathfinder.Descend, nil
	})
	if err != nil {
		return nil, err
	}

	roots := make([]string, 0, len(seen))
	for r := range seen {
		roots = append(roots, r)
	}
	sort.Strings(roots)
	return roots, nil
}

// ScanVault discovers bundle roots under root and builds a candidate for each.
// Candidates are returned in root order; building runs in parallel but the
// result does not depend on scheduling.
func ScanVault(ctx context.Context, root string, opts ScanOptions) ([]Candidate, error) {
	opts = opts.withDefaults()
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve vault root: %w", err)
	}
	roots, err := DiscoverRoots(ctx, abs, opts)
	if err != nil {
		return nil, fmt.Errorf("discover export roots under %s: %w", abs, err)
	}
	logger.Debug("vault discovery finished", logger.String("vault", abs), logger.Int("roots", len(roots)))

	out := make([]Candidate, len(roots))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Concurrency)
	for i, r := range roots {
		i, r := i, r
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i] = BuildVaultCandidate(r, opts.FocusTracks)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// BuildVaultCandidate reads the reports index under dir. Failures produce an
// invalid candidate with a reason rather than an error.
func BuildVaultCandidate(dir string, focus []track.Key) Candidate {
	c := newCandidate(dir, SourceVault, focus)
	c.Dir = dir
	c.PathPreference = pathPreference(dir)
	if rel, ok := siteexport.FindEvidenceIndex(dir); ok {
		c.HasEvidenceIndex = true
		c.EvidenceIndex = rel
	}
	for _, name := range dashboards.TargetFilenames {
		if pathfinder.IsFile(filepath.Join(dir, siteexport.DashboardsDir, name)) {
			c.DashboardsFound++
		}
	}

	indexPath := siteexport.Resolve(dir, siteexport.ReportsIndexRel)
	st, err := os.Stat(indexPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			c.Reason = "missing " + siteexport.ReportsIndexRel
		} else {
			c.Reason = fmt.Sprintf("failed to stat %s: %v", siteexport.ReportsIndexRel, err)
		}
		return c
	}
	c.IndexMtimeMs = st.ModTime().UnixMilli()

	data, err := os.ReadFile(indexPath) // #nosec G304 -- discovered bundle index
	if err != nil {
		c.Reason = fmt.Sprintf("failed to read %s: %v", siteexport.ReportsIndexRel, err)
		return c
	}
	c.fillFromIndex(data, focus)
	return c
}

// fillFromIndex hashes and parses index bytes. The hash covers content only
// so the same bundle mounted at two paths ties on it.
func (c *Candidate) fillFromIndex(data []byte, focus []track.Key) {
	sum := sha256.Sum256(data)
	c.IndexSHA256 = hex.EncodeToString(sum[:])

	idx, err := siteexport.ParseReportsIndex(data)
	if err != nil {
		if errors.Is(err, siteexport.ErrInvalidShape) {
			c.Reason = fmt.Sprintf("invalid %s: %v", siteexport.ReportsIndexRel, err)
		} else {
			c.Reason = fmt.Sprintf("failed to parse %s: %v", siteexport.ReportsIndexRel, err)
		}
		return
	}
	c.TotalReports = len(idx.Reports)
	c.TrackCounts = track.CountReports(idx.Reports, track.CanonicalKeys)
	c.applyFocus(focus)
	c.Valid = true
	c.Reason = ReasonValid
}

// pathPreference rewards roots at the conventional export location.
func pathPreference(root string) int {
	p := strings.TrimSuffix(pathfinder.ForMatch(root), "/")
	switch {
	case strings.HasSuffix(p, strings.ToLower(siteexport.ConventionalExportRel)):
		return 2
	case strings.HasSuffix(p, "site_export/v1"):
		return 1
	default:
		return 0
	}
}
