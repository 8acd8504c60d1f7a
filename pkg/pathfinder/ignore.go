package pathfinder

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	gitignore "github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

// Ignore combines gitignore-syntax patterns from an ignore file at the scan
// root with user supplied doublestar globs.
type Ignore struct {
	matcher gitignore.Matcher
	globs   []string
}

// NewIgnore loads ignoreFile (relative to root) when it exists and validates
// globs. A missing ignore file is not an error.
func NewIgnore(root, ignoreFile string, globs []string) (*Ignore, error) {
	ig := &Ignore{}
	for _, g := range globs {
		g = strings.TrimSpace(g)
		if g == "" {
			continue
		}
		if !doublestar.ValidatePattern(g) {
			return nil, fmt.Errorf("invalid exclude glob %q", g)
		}
		ig.globs = append(ig.globs, g)
	}

	if ignoreFile == "" {
		return ig, nil
	}
	patterns, err := readPatterns(filepath.Join(root, filepath.Base(ignoreFile)))
	if err != nil {
		if os.IsNotExist(err) {
			return ig, nil
		}
		return nil, err
	}
	if len(patterns) > 0 {
		ig.matcher = gitignore.NewMatcher(patterns)
	}
	return ig, nil
}

func readPatterns(path string) ([]gitignore.Pattern, error) {
	f, err := os.Open(path) // #nosec G304 -- base name only, under the scan root
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var patterns []gitignore.Pattern
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, gitignore.ParsePattern(line, nil))
	}
	return patterns, sc.Err()
}

// Match reports whether rel (slash form, relative to the scan root) is ignored.
func (ig *Ignore) Match(rel string, isDir bool) bool {
	if ig == nil {
		return false
	}
	rel = strings.Trim(ToSlash(rel), "/")
	if rel == "" || rel == "." {
		return false
	}
	for _, g := range ig.globs {
		if ok, _ := doublestar.Match(g, rel); ok {
			return true
		}
	}
	if ig.matcher != nil {
		return ig.matcher.Match(strings.Split(rel, "/"), isDir)
	}
	return false
}
