package core

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/korrosivesec/yarals/internal/install"
)

// DefaultBundleDir is the bundle location relative to the extension root.
const DefaultBundleDir = "server-bundle"

// Installer checks for and installs the server components.
type Installer interface {
	// IsInstalled reports whether serverRoot holds the server components.
	// It must not modify anything.
	IsInstalled(ctx context.Context, extensionRoot, serverRoot string) bool
	// Install places the server components into serverRoot.
	Install(ctx context.Context, extensionRoot, serverRoot string) error
}

// DirInstaller copies a bundle directory shipped with the extension into the
// server root.
type DirInstaller struct {
	// BundleDir is the source directory. A relative path is resolved against
	// the extension root. Empty means DefaultBundleDir.
	BundleDir string
	// EntryScript must exist for the root to count as installed.
	// Empty means install.DefaultEntryScript.
	EntryScript string

	Logger *slog.Logger
}

var _ Installer = DirInstaller{}

func (d DirInstaller) gate(extensionRoot, serverRoot string) (*install.Gate, error) {
	bundle := d.BundleDir
	if bundle == "" {
		bundle = DefaultBundleDir
	}
	if !filepath.IsAbs(bundle) {
		bundle = filepath.Join(extensionRoot, bundle)
	}
	log := d.Logger
	if log == nil {
		log = Logger()
	}
	return install.New(install.Config{
		BundleDir:   bundle,
		Root:        serverRoot,
		EntryScript: d.EntryScript,
		Logger:      log,
	})
}

// IsInstalled implements Installer.
func (d DirInstaller) IsInstalled(ctx context.Context, extensionRoot, serverRoot string) bool {
	g, err := d.gate(extensionRoot, serverRoot)
	if err != nil {
		return false
	}
	return g.IsInstalled(ctx)
}

// Install implements Installer.
func (d DirInstaller) Install(ctx context.Context, extensionRoot, serverRoot string) error {
	g, err := d.gate(extensionRoot, serverRoot)
	if err != nil {
		return err
	}
	_, err = g.Install(ctx)
	return err
}
