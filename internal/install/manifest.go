package install

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/korrosivesec/yarals/internal/fileutil"
	"github.com/korrosivesec/yarals/internal/sentinel"

	// Register the pure-Go SQLite driver (no CGO required).
	_ "modernc.org/sqlite"
)

// Entry is one installed file as recorded in the manifest.
type Entry struct {
	Path   string // slash-separated, relative to the server root
	SHA256 string
	Size   int64
}

// Manifest describes a completed installation.
type Manifest struct {
	BundleHash  string
	EntryScript string
	InstalledAt time.Time
	Files       []Entry
}

const schema = `
CREATE TABLE install (
	id           INTEGER PRIMARY KEY CHECK (id = 1),
	bundle_hash  TEXT NOT NULL,
	entry_script TEXT NOT NULL,
	installed_at TEXT NOT NULL
);
CREATE TABLE files (
	path   TEXT PRIMARY KEY,
	sha256 TEXT NOT NULL,
	size   INTEGER NOT NULL
);
`

// writeManifest builds the manifest database next to path and renames it
// into place, so the manifest either exists complete or not at all.
func writeManifest(ctx context.Context, path string, m Manifest, log *slog.Logger) (retErr error) {
	if err := fileutil.EnsureDirForFile(path); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".manifest-*.db")
	if err != nil {
		return fmt.Errorf("create temp manifest: %w", err)
	}
	tmpPath := tmp.Name()
	_ = tmp.Close()
	defer func() {
		if retErr != nil {
			_ = os.Remove(tmpPath)
		}
	}()

	// Rollback journal keeps the database a single file that can be renamed.
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(DELETE)&_pragma=synchronous(FULL)", tmpPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("open manifest %s: %w", tmpPath, err)
	}
	db.SetMaxOpenConns(1)

	if err := fillManifest(ctx, db, m); err != nil {
		_ = db.Close()
		return err
	}
	if err := db.Close(); err != nil {
		return fmt.Errorf("close manifest: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename manifest into place: %w", err)
	}
	log.Debug("manifest written", "path", path, "files", len(m.Files))
	return nil
}

func fillManifest(ctx context.Context, db *sql.DB, m Manifest) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin manifest transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if _, err := tx.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create manifest schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO install (id, bundle_hash, entry_script, installed_at) VALUES (1, ?, ?, ?)",
		m.BundleHash, m.EntryScript, m.InstalledAt.UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("insert install row: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO files (path, sha256, size) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare file insert: %w", err)
	}
	defer stmt.Close() //nolint:errcheck // closed with the transaction
	for _, f := range m.Files {
		if _, err := stmt.ExecContext(ctx, f.Path, f.SHA256, f.Size); err != nil {
			return fmt.Errorf("insert file %s: %w", f.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit manifest: %w", err)
	}
	return nil
}

// errNoManifest reports that no manifest file exists.
const errNoManifest = sentinel.Error("no manifest")

// readManifest opens the manifest read-only. It never creates or modifies
// the database file.
func readManifest(ctx context.Context, path string) (_ *Manifest, retErr error) {
	if !fileutil.Exists(path) {
		return nil, errNoManifest
	}
	dsn := fmt.Sprintf("file:%s?mode=ro&_pragma=query_only(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open manifest %s: %w", path, err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil && retErr == nil {
			retErr = fmt.Errorf("close manifest: %w", closeErr)
		}
	}()
	db.SetMaxOpenConns(1)

	var m Manifest
	var installedAt string
	err = db.QueryRowContext(ctx,
		"SELECT bundle_hash, entry_script, installed_at FROM install WHERE id = 1",
	).Scan(&m.BundleHash, &m.EntryScript, &installedAt)
	if err != nil {
		return nil, fmt.Errorf("read install row: %w", err)
	}
	if m.InstalledAt, err = time.Parse(time.RFC3339Nano, installedAt); err != nil {
		return nil, fmt.Errorf("parse install time: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT path, sha256, size FROM files ORDER BY path")
	if err != nil {
		return nil, fmt.Errorf("query files: %w", err)
	}
	defer rows.Close() //nolint:errcheck // rows.Err() below catches read errors
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Path, &e.SHA256, &e.Size); err != nil {
			return nil, fmt.Errorf("scan file row: %w", err)
		}
		m.Files = append(m.Files, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate file rows: %w", err)
	}
	return &m, nil
}
