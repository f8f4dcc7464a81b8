package yarals

import (
	"log/slog"

	"github.com/korrosivesec/yarals/internal/core"
)

// SetLogger replaces the package-level logger used by yarals. The provided
// logger should already carry any attributes the caller wants; yarals adds
// per-server attributes (host, port, pid) on top.
//
// If l is nil, the logger resets to slog.Default() with a "component"
// attribute. Call SetLogger(nil) after slog.SetDefault() to pick up the
// change.
//
// SetLogger is safe to call concurrently with other yarals operations.
func SetLogger(l *slog.Logger) {
	core.SetLogger(l)
}
