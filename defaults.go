package yarals

import (
	"time"

	"github.com/korrosivesec/yarals/internal/broker"
	"github.com/korrosivesec/yarals/internal/core"
	"github.com/korrosivesec/yarals/internal/install"
)

// Default configuration values for Bootstrap.
const (
	// DefaultHost is the loopback address the server listens on.
	DefaultHost = "127.0.0.1"

	// DefaultExecutable is the interpreter used to run the server,
	// located through PATH.
	DefaultExecutable = "python3"

	// DefaultEntryScript is the server script, relative to the server root.
	// It is the default argument to the executable and the artifact that
	// must be present for the server to count as installed.
	DefaultEntryScript = install.DefaultEntryScript

	// DefaultBundleDir is where the bundled server components live,
	// relative to the extension root.
	DefaultBundleDir = core.DefaultBundleDir

	// DefaultServerDirName is the server root directory name under the
	// extension root.
	DefaultServerDirName = "server"

	// DefaultDialTimeout bounds a single connection attempt.
	DefaultDialTimeout = broker.DefaultDialTimeout

	// DefaultStopTimeout bounds how long Dispose waits for the server to
	// exit after SIGTERM before it is killed and reaped.
	DefaultStopTimeout = core.DefaultStopTimeout

	// DefaultReadyTimeout is a reasonable WaitReady bound for a Python
	// server starting cold.
	DefaultReadyTimeout = 30 * time.Second
)
