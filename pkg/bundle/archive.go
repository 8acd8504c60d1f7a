package bundle

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fulmenhq/exportsync/pkg/pathfinder"
	"github.com/fulmenhq/exportsync/pkg/safeio"
)

// maxEntryBytes caps a single extracted or parsed archive entry.
const maxEntryBytes = 512 << 20

// Archive is an opened zip with entry names normalized to NFC slash form.
type Archive struct {
	Path   string
	reader *zip.ReadCloser
	files  map[string]*zip.File
	names  []string
}

// OpenArchive opens a zip for discovery and extraction.
func OpenArchive(path string) (*Archive, error) {
	reader, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open zip %s: %w", path, err)
	}
	a := &Archive{Path: path, reader: reader, files: make(map[string]*zip.File, len(reader.File))}
	for _, f := range reader.File {
		if f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/") {
			continue
		}
		name := strings.TrimPrefix(pathfinder.ToSlash(f.Name), "./")
		if _, dup := a.files[name]; dup {
			continue
		}
		a.files[name] = f
		a.names = append(a.names, name)
	}
	sort.Strings(a.names)
	return a, nil
}

// Close releases the archive handle.
func (a *Archive) Close() error {
	if a == nil || a.reader == nil {
		return nil
	}
	return a.reader.Close()
}

// Names lists file entries in lexical order.
func (a *Archive) Names() []string {
	return append([]string(nil), a.names...)
}

// Modified returns the recorded modification time of an entry.
func (a *Archive) Modified(name string) (time.Time, bool) {
	f, ok := a.files[name]
	if !ok {
		return time.Time{}, false
	}
	return f.Modified, true
}

// Read returns the content of an entry.
func (a *Archive) Read(name string) ([]byte, error) {
	f, ok := a.files[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, os.ErrNotExist)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(io.LimitReader(rc, maxEntryBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxEntryBytes {
		return nil, fmt.Errorf("%s: zip entry too large", name)
	}
	return data, nil
}

// ExtractPrefix writes every entry under prefix to dest with the prefix
// stripped, creating parent directories lazily. It returns the file count.
func (a *Archive) ExtractPrefix(prefix, dest string) (int, error) {
	count := 0
	for _, name := range a.names {
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		rel := strings.TrimPrefix(name, prefix)
		if rel == "" {
			continue
		}
		clean, err := safeio.CleanUserPath(rel)
		if err != nil || filepath.IsAbs(clean) || strings.HasPrefix(clean, "/") {
			return count, fmt.Errorf("unsafe archive entry %q", name)
		}
		target := filepath.Join(dest, filepath.FromSlash(clean))
		if err := a.extractOne(name, target); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func (a *Archive) extractOne(name, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(target), err)
	}
	rc, err := a.files[name].Open()
	if err != nil {
		return fmt.Errorf("open entry %s: %w", name, err)
	}
	defer func() { _ = rc.Close() }()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644) // #nosec G304 -- target cleaned and joined under dest
	if err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}
	n, copyErr := io.Copy(out, io.LimitReader(rc, maxEntryBytes+1))
	closeErr := out.Close()
	if copyErr != nil {
		return fmt.Errorf("extract %s: %w", name, copyErr)
	}
	if n > maxEntryBytes {
		return fmt.Errorf("%s: zip entry too large", name)
	}
	return closeErr
}

// ExtractArchivePrefix opens archivePath and extracts prefix into dest.
func ExtractArchivePrefix(archivePath, prefix, dest string) (int, error) {
	a, err := OpenArchive(archivePath)
	if err != nil {
		return 0, err
	}
	defer func() { _ = a.Close() }()
	return a.ExtractPrefix(prefix, dest)
}
