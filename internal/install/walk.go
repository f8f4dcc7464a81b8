package install

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"strings"
)

// bundleFile is one regular file of the bundle.
type bundleFile struct {
	rel  string // slash-separated path relative to the bundle dir
	mode fs.FileMode
}

// walkBundle returns every regular file below dir, sorted by relative path.
// Symlinks and other special files are skipped.
func walkBundle(dir string) ([]bundleFile, error) {
	var files []bundleFile
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files = append(files, bundleFile{rel: filepath.ToSlash(rel), mode: info.Mode().Perm()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk bundle %s: %w", dir, err)
	}
	slices.SortFunc(files, func(a, b bundleFile) int {
		return strings.Compare(a.rel, b.rel)
	})
	return files, nil
}

// bundleHash derives a content hash for the whole bundle from the per-file
// digests. Entries must be sorted by path.
func bundleHash(entries []Entry) string {
	h := sha256.New()
	for _, e := range entries {
		h.Write([]byte(e.Path + "\x00")) // hash.Hash.Write never returns an error
		h.Write([]byte(e.SHA256))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
