package install

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"slices"
	"time"

	"github.com/korrosivesec/yarals/internal/fileutil"
	"github.com/korrosivesec/yarals/internal/sentinel"
)

const (
	// ErrInstall wraps every installation failure.
	ErrInstall = sentinel.Error("install failed")

	// ErrNoBundle is returned when the bundle directory does not exist.
	ErrNoBundle = sentinel.Error("server bundle not found")

	// ErrNoEntryScript is returned when the bundle lacks the entry script.
	ErrNoEntryScript = sentinel.Error("bundle does not contain the entry script")
)

// StateDirName is the directory under the server root holding the manifest
// and the server logs.
const StateDirName = ".yarals"

// ManifestName is the manifest file name inside StateDirName.
const ManifestName = "manifest.db"

// DefaultEntryScript is the artifact that must exist for the root to count
// as installed.
const DefaultEntryScript = "languageServer.py"

// Config describes where the bundle comes from and where it goes.
type Config struct {
	BundleDir   string // Source directory shipped with the extension
	Root        string // Server root the bundle is copied into
	EntryScript string // Required artifact, relative to Root (default DefaultEntryScript)

	// Logger (optional, defaults to slog.Default())
	Logger *slog.Logger
}

func (c Config) validate() error {
	var errs []error
	if c.BundleDir == "" {
		errs = append(errs, errors.New("bundle dir must not be empty"))
	}
	if c.Root == "" {
		errs = append(errs, errors.New("server root must not be empty"))
	}
	if c.EntryScript != "" && (path.IsAbs(c.EntryScript) || !filepath.IsLocal(filepath.FromSlash(c.EntryScript))) {
		errs = append(errs, fmt.Errorf("entry script %q must be a relative path inside the root", c.EntryScript))
	}
	return errors.Join(errs...)
}

// Result reports what Install did.
type Result struct {
	Root       string `json:"root"`
	BundleHash string `json:"bundleHash"`
	Files      int    `json:"files"`
	Copied     bool   `json:"copied"` // false if another installer finished first
}

// Gate checks and performs the installation of one server root.
type Gate struct {
	bundleDir string
	root      string
	entry     string
	log       *slog.Logger
}

// New validates cfg and returns a Gate.
func New(cfg Config) (*Gate, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid install config: %w", err)
	}
	entry := cfg.EntryScript
	if entry == "" {
		entry = DefaultEntryScript
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Gate{
		bundleDir: cfg.BundleDir,
		root:      cfg.Root,
		entry:     filepath.ToSlash(entry),
		log:       log,
	}, nil
}

// Root returns the server root.
func (g *Gate) Root() string {
	return g.root
}

// ManifestPath returns the manifest location for root.
func ManifestPath(root string) string {
	return filepath.Join(root, StateDirName, ManifestName)
}

func (g *Gate) lockPath() string {
	return filepath.Clean(g.root) + ".lock"
}

// IsInstalled reports whether the root holds a complete installation: a
// manifest exists and every file it lists, including the entry script, is
// on disk with the recorded size. It only reads.
func (g *Gate) IsInstalled(ctx context.Context) bool {
	err := g.verify(ctx)
	if err != nil {
		g.log.Debug("server not installed", "root", g.root, "reason", err)
		return false
	}
	return true
}

func (g *Gate) verify(ctx context.Context) error {
	m, err := readManifest(ctx, ManifestPath(g.root))
	if err != nil {
		return err
	}
	if m.EntryScript != g.entry {
		return fmt.Errorf("installed for entry script %s, want %s", m.EntryScript, g.entry)
	}
	if !slices.ContainsFunc(m.Files, func(e Entry) bool { return e.Path == m.EntryScript }) {
		return fmt.Errorf("manifest does not list entry script %s", m.EntryScript)
	}
	for _, e := range m.Files {
		size, err := fileutil.RegularFileSize(filepath.Join(g.root, filepath.FromSlash(e.Path)))
		if err != nil {
			return err
		}
		if size != e.Size {
			return fmt.Errorf("%s: size %d, manifest says %d", e.Path, size, e.Size)
		}
	}
	return nil
}

// Install copies the bundle into the root and records the manifest. It is
// serialised by a file lock and is safe to retry after a failure. Every
// error wraps ErrInstall.
func (g *Gate) Install(ctx context.Context) (*Result, error) {
	res, err := g.install(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInstall, err)
	}
	return res, nil
}

func (g *Gate) install(ctx context.Context) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	info, err := os.Stat(g.bundleDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNoBundle, g.bundleDir)
	}
	if err != nil {
		return nil, fmt.Errorf("stat bundle: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrNoBundle, g.bundleDir)
	}

	if err := fileutil.EnsureDirForFile(g.lockPath()); err != nil {
		return nil, err
	}
	lock, err := lockRoot(ctx, g.lockPath(), g.log)
	if err != nil {
		return nil, err
	}
	defer lock.unlock()

	// Another window may have finished while we waited for the lock.
	if g.verify(ctx) == nil {
		m, err := readManifest(ctx, ManifestPath(g.root))
		if err != nil {
			return nil, err
		}
		g.log.Info("server already installed", "root", g.root, "hash", m.BundleHash)
		return &Result{Root: g.root, BundleHash: m.BundleHash, Files: len(m.Files)}, nil
	}

	// Drop a stale manifest first so a failure below leaves the root
	// reported as not installed.
	manifestPath := ManifestPath(g.root)
	if err := os.Remove(manifestPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove stale manifest: %w", err)
	}

	files, err := walkBundle(g.bundleDir)
	if err != nil {
		return nil, err
	}
	if !slices.ContainsFunc(files, func(f bundleFile) bool { return f.rel == g.entry }) {
		return nil, fmt.Errorf("%w: %s", ErrNoEntryScript, g.entry)
	}

	start := time.Now()
	g.log.Info("installing server components", "bundle", g.bundleDir, "root", g.root, "files", len(files))

	entries := make([]Entry, 0, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		src := filepath.Join(g.bundleDir, filepath.FromSlash(f.rel))
		dst := filepath.Join(g.root, filepath.FromSlash(f.rel))
		digest, err := fileutil.CopyFile(src, dst, f.mode)
		if err != nil {
			return nil, fmt.Errorf("copy %s: %w", f.rel, err)
		}
		entries = append(entries, Entry{Path: f.rel, SHA256: digest.SHA256, Size: digest.Size})
	}

	m := Manifest{
		BundleHash:  bundleHash(entries),
		EntryScript: g.entry,
		InstalledAt: time.Now(),
		Files:       entries,
	}
	if err := writeManifest(ctx, manifestPath, m, g.log); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}

	g.log.Info("server components installed",
		"root", g.root, "hash", m.BundleHash, "files", len(entries),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return &Result{Root: g.root, BundleHash: m.BundleHash, Files: len(entries), Copied: true}, nil
}

// ReadManifest returns the manifest of root, or an error if root is not
// installed.
func ReadManifest(ctx context.Context, root string) (*Manifest, error) {
	return readManifest(ctx, ManifestPath(root))
}
