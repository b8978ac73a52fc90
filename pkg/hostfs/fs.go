// Package hostfs performs file operations on the host being provisioned.
//
// Every path handed to FS is a host path such as /etc/nginx/sites-enabled.
// FS resolves it under Root, which is "/" in production and a temporary
// directory in tests.
package hostfs

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// FS is a host filesystem rooted at Root.
type FS struct {
	Root string
}

// New returns an FS rooted at root. An empty root means "/".
func New(root string) *FS {
	if root == "" {
		root = "/"
	}
	return &FS{Root: root}
}

// Path resolves a host path to the real path on disk.
func (f *FS) Path(p string) string {
	if f.Root == "/" || f.Root == "" {
		return filepath.Clean(p)
	}
	return filepath.Join(f.Root, p)
}

// Exists reports whether p exists. A dangling symlink counts as existing.
func (f *FS) Exists(p string) (bool, error) {
	_, err := os.Lstat(f.Path(p))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// IsDir reports whether p is an existing directory.
func (f *FS) IsDir(p string) bool {
	info, err := os.Stat(f.Path(p))
	return err == nil && info.IsDir()
}

// ReadFile returns the contents of p.
func (f *FS) ReadFile(p string) ([]byte, error) {
	return os.ReadFile(f.Path(p))
}

// WriteFile atomically replaces p with data, creating parent directories.
func (f *FS) WriteFile(p string, data []byte, mode os.FileMode) error {
	dst := f.Path(p)
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set mode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return fmt.Errorf("failed to replace file: %w", err)
	}
	return nil
}

// CopyFile copies src to dst, replacing dst if it exists.
func (f *FS) CopyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(f.Path(src))
	if err != nil {
		return err
	}
	defer in.Close()

	data, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", src, err)
	}
	return f.WriteFile(dst, data, mode)
}

// Chmod changes the permission bits of p.
func (f *FS) Chmod(p string, mode os.FileMode) error {
	return os.Chmod(f.Path(p), mode)
}

// Mode returns the permission bits of p.
func (f *FS) Mode(p string) (os.FileMode, error) {
	info, err := os.Stat(f.Path(p))
	if err != nil {
		return 0, err
	}
	return info.Mode().Perm(), nil
}

// Remove deletes a single file or link. It reports whether anything was removed.
func (f *FS) Remove(p string) (bool, error) {
	err := os.Remove(f.Path(p))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// RemoveAll deletes p and everything below it.
func (f *FS) RemoveAll(p string) error {
	return os.RemoveAll(f.Path(p))
}

// MkdirAll creates p and any missing parents.
func (f *FS) MkdirAll(p string, mode os.FileMode) error {
	return os.MkdirAll(f.Path(p), mode)
}

// Rename moves src to dst.
func (f *FS) Rename(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(f.Path(dst)), 0755); err != nil {
		return err
	}
	return os.Rename(f.Path(src), f.Path(dst))
}

// Readlink returns the destination of the symlink at p.
func (f *FS) Readlink(p string) (string, error) {
	return os.Readlink(f.Path(p))
}

// EnsureSymlink makes link point at target. The link's destination is the
// resolved path of target. It reports whether the link was created or
// replaced; an existing identical link is left alone.
func (f *FS) EnsureSymlink(target, link string) (bool, error) {
	want := f.Path(target)
	linkPath := f.Path(link)

	info, err := os.Lstat(linkPath)
	switch {
	case err == nil && info.Mode()&os.ModeSymlink != 0:
		current, err := os.Readlink(linkPath)
		if err != nil {
			return false, err
		}
		if current == want {
			return false, nil
		}
		if err := os.Remove(linkPath); err != nil {
			return false, err
		}
	case err == nil:
		if err := os.Remove(linkPath); err != nil {
			return false, fmt.Errorf("failed to replace non-link %s: %w", link, err)
		}
	case !errors.Is(err, fs.ErrNotExist):
		return false, err
	}

	if err := os.MkdirAll(filepath.Dir(linkPath), 0755); err != nil {
		return false, err
	}
	if err := os.Symlink(want, linkPath); err != nil {
		return false, err
	}
	return true, nil
}

// Snapshot captures the state of a single path so it can be restored.
type Snapshot struct {
	path    string
	exists  bool
	link    string
	data    []byte
	mode    os.FileMode
	symlink bool
}

// Snapshot records the current contents of p (regular file or symlink).
func (f *FS) Snapshot(p string) (*Snapshot, error) {
	s := &Snapshot{path: p}
	info, err := os.Lstat(f.Path(p))
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	s.exists = true
	s.mode = info.Mode().Perm()
	if info.Mode()&os.ModeSymlink != 0 {
		s.symlink = true
		s.link, err = os.Readlink(f.Path(p))
		return s, err
	}
	s.data, err = os.ReadFile(f.Path(p))
	return s, err
}

// Restore puts p back to the state recorded by Snapshot.
func (f *FS) Restore(s *Snapshot) error {
	dst := f.Path(s.path)
	if err := os.Remove(dst); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if !s.exists {
		return nil
	}
	if s.symlink {
		return os.Symlink(s.link, dst)
	}
	return f.WriteFile(s.path, s.data, s.mode)
}
