// Package pathfinder provides path normalization, exclusion predicates and a
// bounded directory walker used by bundle and dashboards discovery.
package pathfinder

import (
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ToSlash converts separators to forward slashes and composes Unicode to NFC
// so archive entries produced on different platforms compare equal.
func ToSlash(p string) string {
	return norm.NFC.String(strings.ReplaceAll(filepath.ToSlash(p), `\`, "/"))
}

// ForMatch is the lower-cased, slash-normalized form used by exclusion checks.
func ForMatch(p string) string {
	return strings.ToLower(ToSlash(p))
}

// excludedSubstrings prune bundle discovery. Each is tested against the
// "/"-wrapped relative path so a token matches whole segments only.
var excludedSubstrings = []string{
	"/node_modules/",
	"/.next/",
	"/.git/",
	"/dist/",
	"/build/",
	"/coverage/",
	"/out/",
	"/public/data/site_export.v1/",
	"/_machine/fixtures/",
	"/fixtures/",
}

// IsExcludedDiscoveryPath reports whether rel (relative to the scan root)
// lies under a directory that never holds a real export: dependency caches,
// build output, test fixtures, golden files, or a previously synced copy.
func IsExcludedDiscoveryPath(rel string) bool {
	normalized := ForMatch(rel)
	if strings.Contains(normalized, "golden") {
		return true
	}
	wrapped := "/" + strings.Trim(normalized, "/") + "/"
	for _, s := range excludedSubstrings {
		if strings.Contains(wrapped, s) {
			return true
		}
	}
	return false
}

// Rel returns target relative to base in slash form, or target itself when
// no relative path exists.
func Rel(base, target string) string {
	r, err := filepath.Rel(base, target)
	if err != nil {
		return ToSlash(target)
	}
	return ToSlash(r)
}
