// Package syncer runs the sync pipeline: discover candidates, select one,
// copy it into the destination, resolve dashboards, repair the copy, guard
// against regressions and record the outcome in the source stamp.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fulmenhq/exportsync/internal/gitctx"
	"github.com/fulmenhq/exportsync/pkg/bundle"
	"github.com/fulmenhq/exportsync/pkg/candidate"
	"github.com/fulmenhq/exportsync/pkg/config"
	"github.com/fulmenhq/exportsync/pkg/contract"
	"github.com/fulmenhq/exportsync/pkg/dashboards"
	"github.com/fulmenhq/exportsync/pkg/exitcode"
	"github.com/fulmenhq/exportsync/pkg/logger"
	"github.com/fulmenhq/exportsync/pkg/metrics"
	"github.com/fulmenhq/exportsync/pkg/pathfinder"
	"github.com/fulmenhq/exportsync/pkg/repair"
	"github.com/fulmenhq/exportsync/pkg/safeio"
	"github.com/fulmenhq/exportsync/pkg/schema"
	"github.com/fulmenhq/exportsync/pkg/siteexport"
	"github.com/fulmenhq/exportsync/pkg/stamp"
	"github.com/fulmenhq/exportsync/pkg/track"
)

// Source modes recorded in the stamp.
const (
	ModeVaultDir    = "vault_dir"
	ModeZipFallback = "zip_fallback"
	ModeVaultZip    = "vault_zip"
)

// maxSchemaMessages bounds the schema errors kept per file in a warning.
const maxSchemaMessages = 10

// Options configures one run.
type Options struct {
	Config *config.Config
	// DryRun stops after selection and guardrails; the destination is not touched.
	DryRun bool
}

// Result is what a run decided and did.
type Result struct {
	Mode        string
	Destination string
	Candidates  []candidate.Candidate
	Selection   *candidate.Selection
	Stamp       *stamp.Stamp
	DryRun      bool
	// Copied reports that the destination was rewritten.
	Copied bool
}

// Discovery is the outcome of source-mode resolution and scanning.
type Discovery struct {
	Mode       string
	ScanRoot   string
	Candidates []candidate.Candidate
	Warnings   []stamp.Warning
}

// Run executes the pipeline. When metrics_file is configured the outcome is
// written there whether or not the run succeeded.
func Run(ctx context.Context, opts Options) (*Result, error) {
	start := time.Now()
	res, err := run(ctx, opts)
	if opts.Config != nil && opts.Config.MetricsFile != "" && !opts.DryRun {
		m := metrics.New()
		var st *stamp.Stamp
		if res != nil {
			st = res.Stamp
		}
		m.Observe(st, time.Since(start), err)
		if werr := m.WriteTextfile(opts.Config.MetricsFile); werr != nil {
			logger.Warn("failed to write sync metrics", logger.String("file", opts.Config.MetricsFile), logger.Err(werr))
		}
	}
	return res, err
}

func run(ctx context.Context, opts Options) (*Result, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	dest, err := filepath.Abs(cfg.Destination)
	if err != nil {
		return nil, exitcode.WithCode(exitcode.ConfigError, fmt.Errorf("resolve destination: %w", err))
	}
	focus := cfg.FocusTracks()
	minReports := cfg.MinReports()

	disc, err := Discover(ctx, cfg)
	if err != nil {
		return nil, err
	}
	res := &Result{Mode: disc.Mode, Destination: dest, DryRun: opts.DryRun}

	cands := candidate.ApplyMinimum(disc.Candidates, minReports)
	res.Candidates = cands

	sel, err := candidate.Choose(cands, candidate.SelectOptions{
		FocusTracks:  focus,
		ExplicitRoot: ExplicitRoot(cfg.ExportRoot),
		MinReports:   minReports,
	})
	if err != nil {
		return res, exitcode.WithCode(exitcode.SelectionRefused, err)
	}
	res.Selection = sel

	st := stamp.New(disc.Mode)
	st.MinReports = minReports
	st.SetSelection(sel, cands)
	st.Warnings = append(st.Warnings, disc.Warnings...)
	res.Stamp = st

	if sel.Selected == nil {
		return res, exitcode.WithCode(exitcode.NoCandidates,
			fmt.Errorf("%w: %d candidate(s) discovered under %s, none valid with at least %d report(s)",
				candidate.ErrNoValidCandidates, len(cands), disc.ScanRoot, minReports))
	}
	selected := sel.Selected
	logger.Info("selected export root",
		logger.String("root", selected.Root),
		logger.String("reason", string(sel.Reason)),
		logger.String("score", sel.SelectedScore.String()),
		logger.Int("candidates", len(cands)))

	if err := candidate.CheckFocus(sel, cands); err != nil {
		var mismatch *candidate.FocusMismatchError
		if !errors.As(err, &mismatch) || !cfg.AllowFocusMismatch {
			return res, exitcode.WithCode(exitcode.SelectionRefused, err)
		}
		logger.Warn("focus mismatch bypassed", logger.String("selected", mismatch.Selected.Root), logger.String("suggested", mismatch.Suggested.Root))
		st.Warn(stamp.CodeFocusMismatchBypassed, err.Error(), map[string]interface{}{
			"selected":          mismatch.Selected.Root,
			"suggested":         mismatch.Suggested.Root,
			"suggestedFocusSum": mismatch.Suggested.FocusSum,
		})
	}

	if opts.DryRun {
		logger.Info("dry run: destination left untouched", logger.String("destination", dest))
		return res, nil
	}

	if err := checkOverlap(selected, dest); err != nil {
		return res, exitcode.WithCode(exitcode.ConfigError, err)
	}

	lock, err := acquireDestLock(dest)
	if err != nil {
		return res, exitcode.WithCode(exitcode.FileSystemError, err)
	}
	defer lock.release()

	if err := bundle.ResetDestination(dest); err != nil {
		return res, exitcode.WithCode(exitcode.FileSystemError, err)
	}
	copied, err := copySelected(selected, dest)
	if err != nil {
		return res, exitcode.WithCode(exitcode.FileSystemError, err)
	}
	st.FilesCopied = copied
	res.Copied = true
	logger.Info("copied bundle", logger.String("destination", dest), logger.Int("files", copied))

	resolveDashboards(ctx, selected, dest, st)

	if err := repairDestination(dest, st); err != nil {
		return res, err
	}

	idx, _, err := siteexport.ReadReportsIndex(dest)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return res, exitcode.WithCode(exitcode.ValidationError,
				fmt.Errorf("missing destination reports index after sync: %s", siteexport.Resolve(dest, siteexport.ReportsIndexRel)))
		}
		return res, exitcode.WithCode(exitcode.ValidationError, fmt.Errorf("destination reports index: %w", err))
	}
	destCounts := track.CountReports(idx.Reports, track.CanonicalKeys)
	st.Destination = stamp.Counts{TotalReports: len(idx.Reports), TrackCounts: destCounts}

	if err := contract.CheckFocusRegression(st.Source.TrackCounts, destCounts, sel.FocusTracks); err != nil {
		return res, exitcode.WithCode(exitcode.RegressionBlocked, err)
	}
	st.Warnings = append(st.Warnings, contract.ResidualWarnings(dest, idx, destCounts, sel.FocusTracks)...)
	schemaWarnings(dest, st)

	if disc.Mode == ModeVaultDir && selected.SourceType == candidate.SourceVault {
		st.VaultGit = gitctx.Collect(selected.Dir)
	}

	if err := stamp.Write(dest, st); err != nil {
		return res, exitcode.WithCode(exitcode.FileSystemError, fmt.Errorf("write source stamp: %w", err))
	}
	logger.Info("sync complete",
		logger.String("run_id", st.RunID),
		logger.Int("destination_reports", st.Destination.TotalReports),
		logger.Int("warnings", len(st.Warnings)))
	return res, nil
}

// Discover resolves the source mode and scans it:
//   - vault_dir names a directory: scan it; with no valid candidate and
//     allow_zip_fallback set, scan the vault zip instead (zip_fallback).
//   - otherwise export_root names a directory: scan that directory.
//   - otherwise scan the vault zip when it exists.
func Discover(ctx context.Context, cfg *config.Config) (*Discovery, error) {
	focus := cfg.FocusTracks()
	scanOpts := func(root string) (candidate.ScanOptions, error) {
		ig, err := pathfinder.NewIgnore(root, cfg.Discovery.IgnoreFile, cfg.Discovery.Exclude)
		if err != nil {
			return candidate.ScanOptions{}, exitcode.WithCode(exitcode.ConfigError, err)
		}
		return candidate.ScanOptions{
			FocusTracks: focus,
			MaxDepth:    cfg.Discovery.MaxDepth,
			Ignore:      ig,
			Concurrency: cfg.Discovery.Concurrency,
		}, nil
	}
	scanDir := func(dir string) ([]candidate.Candidate, error) {
		o, err := scanOpts(dir)
		if err != nil {
			return nil, err
		}
		cands, err := candidate.ScanVault(ctx, dir, o)
		if err != nil {
			return nil, exitcode.WithCode(exitcode.FileSystemError, err)
		}
		return cands, nil
	}
	scanZip := func(zipPath string) ([]candidate.Candidate, error) {
		o, err := scanOpts(filepath.Dir(zipPath))
		if err != nil {
			return nil, err
		}
		cands, err := candidate.ScanArchive(ctx, zipPath, o)
		if err != nil {
			return nil, exitcode.WithCode(exitcode.FileSystemError, fmt.Errorf("open vault zip: %w", err))
		}
		return cands, nil
	}

	zipPath := cfg.VaultZip
	zipExists := zipPath != "" && pathfinder.IsFile(zipPath)

	var disc *Discovery
	switch {
	case cfg.VaultDir != "" && pathfinder.IsDir(cfg.VaultDir):
		cands, err := scanDir(cfg.VaultDir)
		if err != nil {
			return nil, err
		}
		disc = &Discovery{Mode: ModeVaultDir, ScanRoot: cfg.VaultDir, Candidates: cands}
		if !anyEligible(cands, cfg.MinReports()) && cfg.AllowZipFallback && zipExists {
			zcands, err := scanZip(zipPath)
			if err != nil {
				return nil, err
			}
			logger.Warn("no valid vault candidate; falling back to vault zip", logger.String("zip", zipPath))
			disc = &Discovery{Mode: ModeZipFallback, ScanRoot: zipPath, Candidates: zcands}
			disc.Warnings = append(disc.Warnings, stamp.Warning{
				Code:    stamp.CodeZipFallback,
				Message: fmt.Sprintf("no valid candidate under %s; used %s", cfg.VaultDir, zipPath),
				Details: map[string]interface{}{"vault_dir": cfg.VaultDir, "vault_zip": zipPath, "vault_candidates": len(cands)},
			})
		}
	case cfg.ExportRoot != "" && pathfinder.IsDir(cfg.ExportRoot):
		cands, err := scanDir(cfg.ExportRoot)
		if err != nil {
			return nil, err
		}
		disc = &Discovery{Mode: ModeVaultDir, ScanRoot: cfg.ExportRoot, Candidates: cands}
	case zipExists:
		if cfg.VaultDir != "" {
			logger.Warn("vault directory not found; using vault zip", logger.String("vault_dir", cfg.VaultDir))
		}
		cands, err := scanZip(zipPath)
		if err != nil {
			return nil, err
		}
		disc = &Discovery{Mode: ModeVaultZip, ScanRoot: zipPath, Candidates: cands}
	default:
		return nil, exitcode.WithCode(exitcode.NoCandidates,
			fmt.Errorf("no candidates discovered: vault directory %q not found and vault zip %q missing", cfg.VaultDir, zipPath))
	}

	if len(disc.Candidates) == 0 {
		return nil, exitcode.WithCode(exitcode.NoCandidates,
			fmt.Errorf("no candidates discovered under %s", disc.ScanRoot))
	}
	return disc, nil
}

func anyEligible(cands []candidate.Candidate, minReports int) bool {
	for _, c := range cands {
		if c.Valid && c.TotalReports >= minReports {
			return true
		}
	}
	return false
}

// ExplicitRoot normalizes an override to the absolute form candidates carry.
// For archive roots (path::prefix) only the archive path is made absolute.
func ExplicitRoot(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return raw
	}
	if archive, prefix, ok := strings.Cut(raw, candidate.ArchiveRootSep); ok {
		return candidate.ArchiveRoot(archive, prefix)
	}
	if abs, err := filepath.Abs(raw); err == nil {
		return filepath.Clean(abs)
	}
	return raw
}

// checkOverlap refuses destinations that would delete or recurse into the
// selected source.
func checkOverlap(c *candidate.Candidate, dest string) error {
	if c.SourceType != candidate.SourceVault {
		return nil
	}
	if safeio.Contained(dest, c.Dir) || safeio.Contained(c.Dir, dest) {
		return fmt.Errorf("destination %s overlaps selected source %s", dest, c.Dir)
	}
	return nil
}

func copySelected(c *candidate.Candidate, dest string) (int, error) {
	if c.SourceType == candidate.SourceZip {
		return bundle.ExtractArchivePrefix(c.ArchivePath, c.EntryPrefix, dest)
	}
	return bundle.CopyDirectory(c.Dir, dest)
}

// resolveDashboards copies dashboards for directory sources and records the
// outcome. Archive sources skip dashboards.
func resolveDashboards(ctx context.Context, c *candidate.Candidate, dest string, st *stamp.Stamp) {
	if c.SourceType == candidate.SourceZip {
		reason := "dashboards are not resolved for zip sources"
		st.Dashboards = dashboards.Skipped(reason)
		st.Warn(stamp.CodeDashboardsSkipped, reason, map[string]interface{}{"mode": st.Mode})
		return
	}

	res, err := dashboards.CopyToDestination(ctx, c.Dir, dest)
	if err != nil {
		res = dashboards.Skipped(err.Error())
		res.Mode = dashboards.ModeError
		st.Dashboards = res
		st.Warn(stamp.CodeDashboardsError, fmt.Sprintf("dashboards resolution failed: %v", err), nil)
		return
	}
	st.Dashboards = res

	switch res.Mode {
	case dashboards.ModeMissing:
		st.Warn(stamp.CodeDashboardsMissing, "no dashboards directory matched", map[string]interface{}{
			"candidate_count": res.CandidateCount,
		})
	case dashboards.ModeError:
		st.Warn(stamp.CodeDashboardsError, strings.Join(res.Warnings, "; "), map[string]interface{}{
			"source_dir": res.SourceDir,
		})
	case dashboards.ModeCopied:
		if len(res.FilesMissing) > 0 {
			st.Warn(stamp.CodeDashboardsMissing,
				fmt.Sprintf("%d of %d dashboard files missing", len(res.FilesMissing), len(dashboards.TargetFilenames)),
				map[string]interface{}{"source_dir": res.SourceDir, "files_missing": res.FilesMissing})
		}
		logger.Info("copied dashboards", logger.String("source", res.SourceDir), logger.Int("files", len(res.FilesCopied)))
	}
}

func repairDestination(dest string, st *stamp.Stamp) error {
	aliases, err := repair.BackfillReportIDAliases(dest)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return exitcode.WithCode(exitcode.ValidationError,
				fmt.Errorf("missing destination reports index after sync: %s", siteexport.Resolve(dest, siteexport.ReportsIndexRel)))
		}
		return exitcode.WithCode(exitcode.ValidationError, err)
	}
	st.Repair.ReportIDAliasesAdded = aliases

	payloads, err := repair.BackfillPayloads(dest)
	if err != nil {
		return exitcode.WithCode(exitcode.ValidationError, err)
	}
	st.Repair.Payloads = payloads
	if payloads.Failed > 0 {
		st.Warn(stamp.CodePayloadBackfillFailed,
			fmt.Sprintf("%d payload(s) could not be backfilled", payloads.Failed),
			map[string]interface{}{"failed": payloads.Failed, "failures": payloads.Failures})
	}
	logger.Debug("post-copy repair finished",
		logger.Int("aliases", aliases),
		logger.Int("payloads_created", payloads.Created),
		logger.Int("payloads_failed", payloads.Failed))
	return nil
}

// schemaWarnings validates the destination indexes and records violations
// without failing the sync.
func schemaWarnings(dest string, st *stamp.Stamp) {
	type check struct{ rel, schema string }
	checks := []check{{siteexport.ReportsIndexRel, schema.ReportsIndexV1}}
	if rel, ok := siteexport.FindEvidenceIndex(dest); ok {
		checks = append(checks, check{rel, schema.EvidenceIndexV1})
	}
	for _, c := range checks {
		rel := c.rel
		res, err := schema.ValidateFile(siteexport.Resolve(dest, rel), c.schema)
		if err != nil {
			logger.Debug("schema check skipped", logger.String("file", rel), logger.Err(err))
			continue
		}
		if res.Valid {
			continue
		}
		st.Warn(stamp.CodeSchemaViolations,
			fmt.Sprintf("%s has %d schema violation(s)", rel, len(res.Errors)),
			map[string]interface{}{"file": rel, "errors": res.Messages(maxSchemaMessages)})
	}
}
