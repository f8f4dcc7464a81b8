package fileutil

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/korrosivesec/yarals/internal/sentinel"
)

// ErrEmptySrc is returned when a source path is empty.
const ErrEmptySrc = sentinel.Error("source path must not be empty")

// ErrEmptyDst is returned when a destination path is empty.
const ErrEmptyDst = sentinel.Error("destination path must not be empty")

// Digest describes the bytes written by CopyFile.
type Digest struct {
	SHA256 string // lowercase hex
	Size   int64
}

// CopyFile copies src to dst through a temp file in dst's directory that is
// fsynced and renamed over dst, so readers never observe a partial file. The
// parent directory of dst is created if needed. A zero mode defaults to 0644.
func CopyFile(src, dst string, mode os.FileMode) (_ Digest, retErr error) {
	if src == "" {
		return Digest{}, ErrEmptySrc
	}
	if dst == "" {
		return Digest{}, ErrEmptyDst
	}
	if mode == 0 {
		mode = 0o644
	}

	if err := EnsureDirForFile(dst); err != nil {
		return Digest{}, fmt.Errorf("prepare destination: %w", err)
	}

	srcFile, err := os.Open(src) //nolint:gosec // G304: paths come from the install bundle walk
	if err != nil {
		return Digest{}, fmt.Errorf("open source: %w", err)
	}
	defer func() {
		if closeErr := srcFile.Close(); closeErr != nil && retErr == nil {
			retErr = fmt.Errorf("close source: %w", closeErr)
		}
	}()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".tmp-copy-*")
	if err != nil {
		return Digest{}, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if retErr != nil {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := tmp.Chmod(mode); err != nil {
		_ = tmp.Close()
		return Digest{}, fmt.Errorf("chmod temp file: %w", err)
	}

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), srcFile)
	if err != nil {
		_ = tmp.Close()
		return Digest{}, fmt.Errorf("copy: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return Digest{}, fmt.Errorf("sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return Digest{}, fmt.Errorf("close destination: %w", err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return Digest{}, fmt.Errorf("rename temp file to destination: %w", err)
	}

	return Digest{SHA256: hex.EncodeToString(h.Sum(nil)), Size: n}, nil
}
