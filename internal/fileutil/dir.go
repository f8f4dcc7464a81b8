package fileutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// EnsureDir creates path and any missing parents with mode 0755.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", path, err)
	}
	return nil
}

// EnsureDirForFile creates the parent directory of filePath.
func EnsureDirForFile(filePath string) error {
	if err := EnsureDir(filepath.Dir(filePath)); err != nil {
		return fmt.Errorf("ensure dir for %s: %w", filePath, err)
	}
	return nil
}

// Exists reports whether path names an existing file or directory.
// Stat failures other than "not exist" are reported as absent.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// RegularFileSize returns the size of the regular file at path. It returns
// os.ErrNotExist (wrapped) when path is missing and an error when path is a
// directory or another non-regular file.
func RegularFileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return 0, errors.New(path + " is not a regular file")
	}
	return info.Size(), nil
}
