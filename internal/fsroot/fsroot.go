// Package fsroot resolves paths under the fix root and writes files atomically.
package fsroot

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

var (
	// ErrEmptyPath is returned for an empty file reference.
	ErrEmptyPath = errors.New("empty path")
	// ErrOutsideRoot is returned when a path escapes the fix root.
	ErrOutsideRoot = errors.New("path outside fix root")
)

// Resolve joins name onto root and rejects results that leave root.
// Absolute names are accepted when they lie under root.
func Resolve(root, name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", ErrEmptyPath
	}
	root = filepath.Clean(root)
	p := name
	if !filepath.IsAbs(p) {
		p = filepath.Join(root, p)
	}
	p = filepath.Clean(p)
	rel, err := filepath.Rel(root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, name)
	}
	return p, nil
}

// WriteFile replaces path with data via a temp file in the same directory
// and a rename, so readers see either the old or the new content.
func WriteFile(fs afero.Fs, path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	tmp, err := afero.TempFile(fs, dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = fs.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := fs.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := fs.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp file to %s: %w", path, err)
	}
	committed = true
	return nil
}
