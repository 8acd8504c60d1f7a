// Package siteexport describes the on-disk layout of a site_export.v1 bundle
// and parses its reports index.
package siteexport

import (
	"os"
	"path"
	"path/filepath"
	"strings"
)

const (
	// ReportsIndexRel is the bundle-relative path of the reports index.
	ReportsIndexRel = "index/index.reports.v1.json"
	// StampRel is where the sync decision record is written under the destination.
	StampRel = "_meta/source_stamp.json"
	// DashboardsDir is the destination subfolder for dashboard files.
	DashboardsDir = "dashboards"
	// ConventionalExportRel is the export location inside a vault tree.
	ConventionalExportRel = "Clarum/09 - Publishing/site_export/v1"
	// DefaultZipPrefix is the archive prefix of the conventional export.
	DefaultZipPrefix = "13 - Lattice Labs/" + ConventionalExportRel + "/"
)

// EvidenceIndexRels lists accepted evidence index locations; the first existing wins.
var EvidenceIndexRels = []string{
	"evidence/index/index.evidence.v1.json",
	"evidence/evidence_index.v1.json",
	"index/index.evidence.v1.json",
}

// PayloadRel returns the bundle-relative payload path of a report.
func PayloadRel(reportID string) string {
	return path.Join("index", reportID+".payload.v1.json")
}

// EvidenceMarkdownRel returns the bundle-relative markdown path of an evidence item.
func EvidenceMarkdownRel(evidenceID string) string {
	return path.Join("evidence", evidenceID+".md")
}

// NormalizeExportPath strips leading slashes and the public URL prefix that
// some index entries carry, yielding a bundle-relative path.
func NormalizeExportPath(raw string) string {
	trimmed := strings.TrimLeft(filepath.ToSlash(raw), "/")
	return strings.TrimPrefix(trimmed, "data/site_export.v1/")
}

// Resolve joins a bundle-relative (possibly un-normalized) path onto root.
func Resolve(root, rel string) string {
	return filepath.Join(root, filepath.FromSlash(NormalizeExportPath(rel)))
}

// FindEvidenceIndex returns the first accepted evidence index present under
// root as a bundle-relative path.
func FindEvidenceIndex(root string) (string, bool) {
	for _, rel := range EvidenceIndexRels {
		if fileExists(filepath.Join(root, filepath.FromSlash(rel))) {
			return rel, true
		}
	}
	return "", false
}

func fileExists(p string) bool {
	st, err := os.Stat(p)
	return err == nil && !st.IsDir()
}
