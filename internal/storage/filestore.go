package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"bitwise74/attachment-api/internal/metrics"

	"go.uber.org/zap"
)

const (
	dirPerm  = 0o750
	filePerm = 0o640
)

// FileStore wraps the file operations used by the service. Every operation
// that fails part way removes what it created before returning.
type FileStore struct {
	// Swappable so tests can force the fallback paths
	rename func(src, dst string) error
	copy   func(dst io.Writer, src io.Reader) (int64, error)
	remove func(path string) error
}

func NewFileStore() *FileStore {
	return &FileStore{
		rename: os.Rename,
		copy:   io.Copy,
		remove: os.Remove,
	}
}

// Write streams src into target, creating parent directories as needed
func (s *FileStore) Write(src io.Reader, target string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(target), dirPerm); err != nil {
		return 0, fmt.Errorf("failed to create parent directory, %w", err)
	}

	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, filePerm)
	if err != nil {
		return 0, fmt.Errorf("failed to create file, %w", err)
	}

	n, err := s.copy(f, src)
	if err == nil {
		err = f.Sync()
	}

	if cerr := f.Close(); err == nil {
		err = cerr
	}

	if err != nil {
		s.cleanup(target)
		return 0, fmt.Errorf("failed to write file, %w", err)
	}

	return n, nil
}

// Move renames src to target. If that isn't possible (e.g. across devices)
// the file is copied and the source removed. On error the source is left
// where it was and the target doesn't exist.
func (s *FileStore) Move(src, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), dirPerm); err != nil {
		return fmt.Errorf("failed to create parent directory, %w", err)
	}

	renameErr := s.rename(src, target)
	if renameErr == nil {
		return nil
	}

	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("failed to move file, %w", renameErr)
	}

	zap.L().Warn("Rename failed, falling back to copy",
		zap.String("src", src),
		zap.String("target", target),
		zap.Error(renameErr))
	metrics.FileMoveFallbacks.Inc()

	if err := s.copyFile(src, target); err != nil {
		s.cleanup(target)
		return fmt.Errorf("failed to move file, %w", err)
	}

	if err := s.remove(src); err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.cleanup(target)
		return fmt.Errorf("failed to remove source after copy, %w", err)
	}

	return nil
}

// Delete removes a single file. Missing files are not an error.
func (s *FileStore) Delete(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete file, %w", err)
	}

	return nil
}

// DeleteDirectoryRecursive removes a directory tree, deepest entries first.
// A missing directory is not an error.
func (s *FileStore) DeleteDirectoryRecursive(path string) error {
	var paths []string

	err := filepath.WalkDir(path, func(p string, _ fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}

		paths = append(paths, p)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk directory, %w", err)
	}

	sort.Slice(paths, func(i, j int) bool {
		return strings.Count(paths[i], string(filepath.Separator)) > strings.Count(paths[j], string(filepath.Separator))
	})

	var errs []error
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("failed to delete directory, %w", errors.Join(errs...))
	}

	return nil
}

func (s *FileStore) Open(path string) (*os.File, error) {
	return os.Open(path)
}

func (s *FileStore) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (s *FileStore) copyFile(src, target string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, filePerm)
	if err != nil {
		return err
	}

	if _, err = s.copy(out, in); err == nil {
		err = out.Sync()
	}

	if cerr := out.Close(); err == nil {
		err = cerr
	}

	return err
}

func (s *FileStore) cleanup(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		zap.L().Error("Failed to clean up partial file", zap.String("path", path), zap.Error(err))
	}
}
