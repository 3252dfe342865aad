package storage

import (
	"cmp"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/starford/lifeagent/internal/apperr"
	"github.com/starford/lifeagent/internal/checksum"
)

// MaxDocumentBytes caps the size of a single stored document.
const MaxDocumentBytes = 1 << 20

const tempPrefix = ".lifeagent-tmp-"

// FS is a Provider over a local directory. Hidden files and files without
// an accepted extension are invisible to List.
type FS struct {
	root string
	exts []string
}

// NewFS opens root, creating it when missing. exts are the accepted file
// extensions including the dot; none means every file.
func NewFS(root string, exts ...string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create root: %w", err)
	}
	if info, err := os.Stat(abs); err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	} else if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	lower := make([]string, len(exts))
	for i, e := range exts {
		lower[i] = strings.ToLower(e)
	}
	return &FS{root: abs, exts: lower}, nil
}

// Root returns the absolute root directory.
func (f *FS) Root() string { return f.root }

// Matches reports whether name is a visible document name.
func (f *FS) Matches(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	return len(f.exts) == 0 || slices.Contains(f.exts, strings.ToLower(filepath.Ext(base)))
}

// resolve maps a root-relative path to an absolute one inside the root.
func (f *FS) resolve(rel string) (string, error) {
	if rel == "" || rel == "." {
		return f.root, nil
	}
	if filepath.IsAbs(rel) {
		return "", apperr.Validationf("storage: absolute paths not allowed: %s", rel)
	}
	if !filepath.IsLocal(rel) {
		return "", apperr.Validationf("storage: path escapes root: %s", rel)
	}
	return filepath.Join(f.root, rel), nil
}

// List returns the documents under dir sorted by path. Documents above
// MaxDocumentBytes are listed without a checksum; reading them fails.
func (f *FS) List(dir string) ([]FileInfo, error) {
	base, err := f.resolve(dir)
	if err != nil {
		return nil, err
	}
	var out []FileInfo
	walk := func(p string, d fs.DirEntry, walkErr error) error {
		switch {
		case walkErr != nil:
			return walkErr
		case d.IsDir():
			if p != base && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		case !f.Matches(d.Name()):
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(f.root, p)
		if err != nil {
			return err
		}
		fi := FileInfo{Path: filepath.ToSlash(rel), Size: info.Size(), UpdatedAt: info.ModTime()}
		if info.Size() <= MaxDocumentBytes {
			data, err := os.ReadFile(p)
			if err != nil {
				return err
			}
			fi.Checksum = checksum.Sum(data)
		}
		out = append(out, fi)
		return nil
	}
	if err := filepath.WalkDir(base, walk); err != nil {
		return nil, fmt.Errorf("storage: list %q: %w", dir, err)
	}
	slices.SortFunc(out, func(a, b FileInfo) int { return cmp.Compare(a.Path, b.Path) })
	return out, nil
}

// Read returns the bytes of the document at path.
func (f *FS) Read(path string) ([]byte, error) {
	abs, err := f.resolve(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, apperr.NotFoundf("storage: %s", path)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: stat %s: %w", path, err)
	}
	if info.Size() > MaxDocumentBytes {
		return nil, apperr.Validationf("storage: %s exceeds %d bytes", path, MaxDocumentBytes)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", path, err)
	}
	return data, nil
}

// Write replaces the document at path atomically, creating parent
// directories as needed.
func (f *FS) Write(path string, content []byte) error {
	if len(content) > MaxDocumentBytes {
		return apperr.Validationf("storage: %s exceeds %d bytes", path, MaxDocumentBytes)
	}
	abs, err := f.resolve(path)
	if err != nil {
		return err
	}
	if abs == f.root {
		return apperr.Validationf("storage: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("storage: mkdir: %w", err)
	}
	if err := writeAtomic(abs, content); err != nil {
		return fmt.Errorf("storage: write %s: %w", path, err)
	}
	return nil
}

// writeAtomic writes to a sibling temp file, syncs it and renames it over
// dst. The temp file is removed on failure.
func writeAtomic(dst string, content []byte) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(dst), tempPrefix+"*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()
	if _, err = tmp.Write(content); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

// Delete removes the document at path.
func (f *FS) Delete(path string) error {
	abs, err := f.resolve(path)
	if err != nil {
		return err
	}
	if abs == f.root {
		return apperr.Validationf("storage: empty path")
	}
	err = os.Remove(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return apperr.NotFoundf("storage: %s", path)
	}
	if err != nil {
		return fmt.Errorf("storage: delete %s: %w", path, err)
	}
	return nil
}
