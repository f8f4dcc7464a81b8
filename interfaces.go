package yarals

import (
	"context"
	"io"
	"time"
)

// Supervisor owns one launched language server and at most one open
// channel to it.
//
// Callers must follow this lifecycle ordering:
//
//	Bootstrap → [WaitReady] → Connect (repeatable after the channel closes) → Dispose
//
// All methods are safe for concurrent use.
type Supervisor interface {
	// Server returns the process id and listen address of the server.
	Server() ServerInfo

	// Connect makes a single connection attempt. It does not retry.
	// A refused connection returns a *ConnectError with Kind ConnectRefused
	// (see IsRefused); any other transport error is returned with its
	// original message. Failures are also shown through the Reporter.
	//
	// Returns ErrAlreadyConnected while a previous channel is open, and
	// ErrDisposed after Dispose.
	Connect(ctx context.Context) (Channel, error)

	// Channel returns the currently open channel or ErrNotConnected.
	Channel() (Channel, error)

	// WaitReady polls until the server accepts connections, the server
	// exits, or timeout expires.
	WaitReady(ctx context.Context, timeout time.Duration) error

	// Dispose closes the channel, stops the server and releases its port.
	// Only the first call does the work; later calls return the same result.
	Dispose() error

	// Done is closed once disposal has finished.
	Done() <-chan struct{}

	// ServerExited is closed when the server process exits for any reason.
	ServerExited() <-chan struct{}

	// State reports Active, Disposing or Disposed.
	State() State
}

// Channel is a duplex byte stream to the server. The protocol layer frames
// its messages over it.
type Channel interface {
	io.ReadWriteCloser

	// Faults delivers at most one transport error that occurred after the
	// connection was established. It is closed when the channel is closed.
	Faults() <-chan error

	// Closed is closed once Close has been called.
	Closed() <-chan struct{}
}

// Installer checks for and installs the server components. The default
// copies <extensionRoot>/server-bundle into the server root.
type Installer interface {
	// IsInstalled reports whether serverRoot holds the server components.
	// It must not modify anything.
	IsInstalled(ctx context.Context, extensionRoot, serverRoot string) bool

	// Install places the server components into serverRoot.
	Install(ctx context.Context, extensionRoot, serverRoot string) error
}

// Reporter shows messages to the user, for example in an editor's
// notification area and status bar. Implementations must be safe for
// concurrent use. The default writes to the package logger.
type Reporter interface {
	Info(msg string)
	Error(msg string)
	Status(msg string)
}
