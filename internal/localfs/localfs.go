// Package localfs provides the file operations a download needs: creating its
// staging file, deleting leftovers and promoting the finished file.
package localfs

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

// Storage performs file operations against an afero filesystem.
type Storage struct {
	fs afero.Fs
}

// New returns a Storage over fs, or over the OS filesystem when fs is nil.
func New(fs afero.Fs) *Storage {
	if fs == nil {
		fs = afero.NewOsFs()
	}

	return &Storage{fs: fs}
}

// CreateFile creates (or truncates) a zero-length file at path, creating
// parent directories as needed, and returns it open for writing.
func (s *Storage) CreateFile(path string) (io.WriteCloser, error) {
	if err := s.fs.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	f, err := s.fs.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, filePerm)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}

	return f, nil
}

// DeleteFile removes path. A missing file is not an error.
func (s *Storage) DeleteFile(path string) error {
	if err := s.fs.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}

	return nil
}

// ReplaceFile moves src to dst, deleting any existing dst first. The delete
// and the rename are two steps; src is left in place when either fails.
func (s *Storage) ReplaceFile(src, dst string) error {
	if err := s.DeleteFile(dst); err != nil {
		return err
	}

	if err := s.fs.Rename(src, dst); err != nil {
		return fmt.Errorf("failed to rename %s to %s: %w", src, dst, err)
	}

	return nil
}

// Exists reports whether path exists.
func (s *Storage) Exists(path string) (bool, error) {
	return afero.Exists(s.fs, path)
}
