package pathfinder

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fulmenhq/exportsync/pkg/logger"
)

// Visit tells the walker how to continue after visiting a directory.
type Visit int

const (
	// Descend pushes the directory's children.
	Descend Visit = iota
	// SkipChildren records the directory but does not enter it.
	SkipChildren
)

// Dir is a directory reached by the walker.
type Dir struct {
	Path  string // absolute or root-joined path
	Rel   string // slash form, relative to the walk root ("." for the root)
	Depth int

	chain []string // resolved paths of this directory and its ancestors
}

// VisitFunc is called once per directory in lexical pre-order.
type VisitFunc func(d Dir) (Visit, error)

// WalkOptions bounds and prunes a walk.
type WalkOptions struct {
	// MaxDepth is the deepest level visited; the root is depth 0.
	MaxDepth int
	// SkipNames are directory base names never entered (case-insensitive).
	SkipNames []string
	// Exclude prunes a directory by its root-relative path. The root itself
	// is never excluded.
	Exclude func(rel string) bool
	// Ignore applies ignore-file patterns and exclude globs.
	Ignore *Ignore
}

// Walk traverses directories under root with an explicit stack. Unreadable
// directories are skipped. Symlinked directories are followed unless they
// resolve to a directory already on the current path.
func Walk(ctx context.Context, root string, opts WalkOptions, visit VisitFunc) error {
	skip := make(map[string]struct{}, len(opts.SkipNames))
	for _, n := range opts.SkipNames {
		skip[strings.ToLower(n)] = struct{}{}
	}

	stack := []Dir{{Path: root, Rel: ".", Depth: 0, chain: []string{RealPath(root)}}}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if cur.Depth > opts.MaxDepth {
			continue
		}
		if cur.Depth > 0 && opts.Exclude != nil && opts.Exclude(cur.Rel) {
			continue
		}

		action, err := visit(cur)
		if err != nil {
			return err
		}
		if action == SkipChildren || cur.Depth == opts.MaxDepth {
			continue
		}

		entries, err := os.ReadDir(cur.Path)
		if err != nil {
			logger.Debug("skipping unreadable directory", logger.String("dir", cur.Path), logger.Err(err))
			continue
		}
		children := make([]Dir, 0, len(entries))
		for _, e := range entries {
			if isDir, _ := EntryKind(cur.Path, e); !isDir {
				continue
			}
			if _, ok := skip[strings.ToLower(e.Name())]; ok {
				continue
			}
			rel := e.Name()
			if cur.Rel != "." {
				rel = cur.Rel + "/" + e.Name()
			}
			rel = ToSlash(rel)
			if opts.Ignore.Match(rel, true) {
				continue
			}
			p := filepath.Join(cur.Path, e.Name())
			chain, ok := Descendant(cur.chain, p)
			if !ok {
				logger.Debug("skipping symlink loop", logger.String("dir", p))
				continue
			}
			children = append(children, Dir{Path: p, Rel: rel, Depth: cur.Depth + 1, chain: chain})
		}
		// Reverse lexical push so pops come out in lexical order.
		sort.Slice(children, func(i, j int) bool { return children[i].Rel > children[j].Rel })
		stack = append(stack, children...)
	}
	return nil
}

// EntryKind classifies a directory entry, following a symlink to its target.
// Dangling links and special files are neither a directory nor a file.
func EntryKind(parent string, e fs.DirEntry) (isDir, isFile bool) {
	if e.Type()&fs.ModeSymlink == 0 {
		return e.IsDir(), e.Type().IsRegular()
	}
	st, err := os.Stat(filepath.Join(parent, e.Name()))
	if err != nil {
		return false, false
	}
	return st.IsDir(), st.Mode().IsRegular()
}

// RealPath resolves symlinks in p, returning the cleaned path when it cannot.
func RealPath(p string) string {
	if r, err := filepath.EvalSymlinks(p); err == nil {
		return r
	}
	return filepath.Clean(p)
}

// Descendant extends chain, the resolved paths from the walk root down to a
// parent, with dir. It reports false when dir resolves to a path already in
// chain, which means a symlink points back at an ancestor.
func Descendant(chain []string, dir string) ([]string, bool) {
	resolved := RealPath(dir)
	for _, c := range chain {
		if c == resolved {
			return nil, false
		}
	}
	next := make([]string, len(chain), len(chain)+1)
	copy(next, chain)
	return append(next, resolved), true
}

// IsDir reports whether p exists and is a directory.
func IsDir(p string) bool {
	st, err := os.Stat(p)
	return err == nil && st.IsDir()
}

// IsFile reports whether p exists and is a regular file.
func IsFile(p string) bool {
	st, err := os.Stat(p)
	return err == nil && st.Mode().IsRegular()
}
