package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/natefinch/atomic"

	"github.com/starford/carta/internal/apperr"
)

// FS implements Provider backed by the local file system.
type FS struct {
	root string // absolute, symlink-free path to the workspace
}

// NewFS creates a new FS provider rooted at the given directory.
// The directory must already exist.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	eval, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: evaluate root symlinks: %w", err)
	}
	return &FS{root: eval}, nil
}

// Root returns the absolute workspace root.
func (f *FS) Root() string { return f.root }

// Resolve resolves a path against the workspace root and rejects any result
// that escapes it, lexically or through a symlink. Absolute paths are
// accepted when they land inside the root.
func (f *FS) Resolve(rel string) (string, error) {
	if rel == "" {
		return f.root, nil
	}
	var abs string
	if filepath.IsAbs(rel) {
		abs = filepath.Clean(rel)
	} else {
		abs = filepath.Join(f.root, filepath.FromSlash(rel))
	}
	if !f.contains(abs) {
		return "", escapeError(rel, f.root)
	}
	if eval, ok := evalExisting(abs); ok && !f.contains(eval) {
		return "", escapeError(rel, f.root)
	}
	return abs, nil
}

// evalExisting follows symlinks on the longest existing prefix of abs, so a
// not-yet-created file under a symlinked directory is still checked.
func evalExisting(abs string) (string, bool) {
	suffix := ""
	for p := abs; ; p = filepath.Dir(p) {
		if eval, err := filepath.EvalSymlinks(p); err == nil {
			return filepath.Join(eval, suffix), true
		}
		if filepath.Dir(p) == p {
			return "", false
		}
		suffix = filepath.Join(filepath.Base(p), suffix)
	}
}

// Rel converts an absolute path under the root to a forward-slash path.
func (f *FS) Rel(abs string) (string, error) {
	if !f.contains(abs) {
		return "", escapeError(abs, f.root)
	}
	rel, err := filepath.Rel(f.root, abs)
	if err != nil {
		return "", apperr.Internal(err, "storage: relative path")
	}
	if rel == "." {
		return "", nil
	}
	return filepath.ToSlash(rel), nil
}

func (f *FS) contains(abs string) bool {
	return abs == f.root || strings.HasPrefix(abs, f.root+string(os.PathSeparator))
}

func escapeError(path, root string) error {
	return apperr.New(apperr.KindPathEscape,
		fmt.Sprintf("path %s escapes workspace root %s", path, root),
		map[string]any{"path": path})
}

// Enumerate walks dir (relative to root) and returns the root-relative
// paths of regular files accepted by a Matcher built from include and
// exclude. Patterns are relative to dir. Symlinks are not followed.
func (f *FS) Enumerate(dir string, include, exclude []string) ([]string, error) {
	base, err := f.Resolve(dir)
	if err != nil {
		return nil, err
	}
	m, err := NewMatcher(include, exclude)
	if err != nil {
		return nil, err
	}

	var out []string
	err = filepath.WalkDir(base, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if p == base {
			return nil
		}
		rel := filepath.ToSlash(strings.TrimPrefix(p, base+string(os.PathSeparator)))
		if d.IsDir() {
			if !m.Dir(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !m.File(rel) {
			return nil
		}
		rootRel, err := f.Rel(p)
		if err != nil {
			return err
		}
		out = append(out, rootRel)
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperr.Newf(apperr.KindNotFound, "directory not found: %s", dir)
		}
		return nil, apperr.Internal(err, "storage: enumerate")
	}
	sort.Strings(out)
	return out, nil
}

// Read returns the raw bytes of a workspace file.
func (f *FS) Read(path string) ([]byte, error) {
	abs, err := f.Resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperr.New(apperr.KindNotFound,
				fmt.Sprintf("file not found: %s", path), map[string]any{"path": path})
		}
		return nil, apperr.Internal(err, fmt.Sprintf("storage: read %s", path))
	}
	return data, nil
}

// Write replaces the file through a hidden temp file and rename, then
// restores the previous permissions (0644 for new files). A symlink inside
// the root is written through to its target.
func (f *FS) Write(path string, content []byte) error {
	abs, err := f.Resolve(path)
	if err != nil {
		return err
	}
	if eval, evalErr := filepath.EvalSymlinks(abs); evalErr == nil {
		if !f.contains(eval) {
			return escapeError(path, f.root)
		}
		abs = eval
	}
	mode := fs.FileMode(0o644)
	if info, statErr := os.Stat(abs); statErr == nil {
		mode = info.Mode().Perm()
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperr.Internal(err, "storage: mkdir")
	}

	// Dot-prefixed so matchers and the watcher never see it as a card file.
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(abs)+".tmp*")
	if err != nil {
		return apperr.Internal(err, fmt.Sprintf("storage: temp file for %s", path))
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return apperr.Internal(err, fmt.Sprintf("storage: write %s", path))
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return apperr.Internal(err, fmt.Sprintf("storage: sync %s", path))
	}
	if err := tmp.Close(); err != nil {
		return apperr.Internal(err, fmt.Sprintf("storage: close %s", path))
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		return apperr.Internal(err, fmt.Sprintf("storage: chmod %s", path))
	}
	if err := atomic.ReplaceFile(tmpName, abs); err != nil {
		return apperr.Internal(err, fmt.Sprintf("storage: replace %s", path))
	}
	return nil
}
