// Package bundle materializes a selected export into the destination
// directory, either from a vault directory or from an archive prefix.
package bundle

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/fulmenhq/exportsync/pkg/logger"
	"github.com/fulmenhq/exportsync/pkg/pathfinder"
	"github.com/fulmenhq/exportsync/pkg/safeio"
)

// ResetDestination removes dest and recreates it empty so no stale files
// survive a source change.
func ResetDestination(dest string) error {
	if dest == "" || filepath.Clean(dest) == string(filepath.Separator) {
		return errors.New("refusing to reset an empty or root destination")
	}
	if err := os.RemoveAll(dest); err != nil {
		return fmt.Errorf("remove destination %s: %w", dest, err)
	}
	if err := os.MkdirAll(dest, 0o750); err != nil {
		return fmt.Errorf("create destination %s: %w", dest, err)
	}
	return nil
}

// CopyDirectory mirrors every file under src into dst and returns the number
// of files copied. Traversal uses an explicit stack. Symlinks are followed the
// way discovery follows them: a linked file is copied as a regular file and a
// linked directory is descended unless it loops back to an ancestor or into dst.
func CopyDirectory(src, dst string) (int, error) {
	if safeio.Contained(src, dst) {
		return 0, fmt.Errorf("destination %s is inside source %s", dst, src)
	}
	if err := os.MkdirAll(dst, 0o750); err != nil {
		return 0, fmt.Errorf("create %s: %w", dst, err)
	}
	realDst := pathfinder.RealPath(dst)

	type dirItem struct {
		rel   string
		chain []string
	}
	count := 0
	stack := []dirItem{{rel: ".", chain: []string{pathfinder.RealPath(src)}}}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		srcDir := filepath.Join(src, cur.rel)
		dstDir := filepath.Join(dst, cur.rel)
		if err := os.MkdirAll(dstDir, 0o750); err != nil {
			return count, fmt.Errorf("create %s: %w", dstDir, err)
		}
		entries, err := os.ReadDir(srcDir)
		if err != nil {
			return count, fmt.Errorf("read %s: %w", srcDir, err)
		}
		var subdirs []dirItem
		for _, e := range entries {
			childRel := filepath.Join(cur.rel, e.Name())
			childSrc := filepath.Join(src, childRel)
			isDir, isFile := pathfinder.EntryKind(srcDir, e)
			switch {
			case isDir:
				chain, ok := pathfinder.Descendant(cur.chain, childSrc)
				linked := e.Type()&fs.ModeSymlink != 0
				if !ok || (linked && safeio.Contained(realDst, chain[len(chain)-1])) {
					logger.Warn("skipping symlinked directory that loops", logger.String("path", childSrc))
					continue
				}
				subdirs = append(subdirs, dirItem{rel: childRel, chain: chain})
			case isFile:
				if err := copyFile(childSrc, filepath.Join(dst, childRel)); err != nil {
					return count, err
				}
				count++
			default:
				logger.Warn("skipping entry that is not a regular file", logger.String("path", childSrc))
			}
		}
		sort.Slice(subdirs, func(i, j int) bool { return subdirs[i].rel > subdirs[j].rel })
		stack = append(stack, subdirs...)
	}
	return count, nil
}

func copyFile(src, dst string) error {
	srcFile, err := os.Open(src) // #nosec G304 -- walked from the selected source root
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer func() {
		if cerr := srcFile.Close(); cerr != nil {
			logger.Warn(fmt.Sprintf("Failed to close source file %s: %v", src, cerr))
		}
	}()

	info, err := srcFile.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat source file: %w", err)
	}

	dstFile, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm()|0o600) // #nosec G304 -- mirrored under destination
	if err != nil {
		return fmt.Errorf("failed to create destination file: %w", err)
	}
	if _, err := io.Copy(dstFile, srcFile); err != nil {
		_ = dstFile.Close()
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return dstFile.Close()
}

// CopyFile copies a single file, creating the destination's parent.
func CopyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return err
	}
	return copyFile(src, dst)
}
