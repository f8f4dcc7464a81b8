package yarals

import (
	"github.com/korrosivesec/yarals/internal/broker"
	"github.com/korrosivesec/yarals/internal/core"
)

// Sentinel errors for error inspection with errors.Is.
const (
	// ErrInstall is returned by Bootstrap in strict mode when the server
	// components could not be installed.
	ErrInstall = core.ErrInstall

	// ErrNoBundle is wrapped by ErrInstall when the bundled server
	// directory does not exist.
	ErrNoBundle = core.ErrNoBundle

	// ErrPortAllocation is returned by Bootstrap when no listen port could
	// be allocated.
	ErrPortAllocation = core.ErrPortAllocation

	// ErrLaunch is returned by Bootstrap when the server process could not
	// be started. The OS error is wrapped alongside it.
	ErrLaunch = core.ErrLaunch

	// ErrDisposed is returned by Connect and WaitReady after Dispose.
	ErrDisposed = core.ErrDisposed

	// ErrAlreadyConnected is returned by Connect while a channel is open.
	ErrAlreadyConnected = core.ErrAlreadyConnected

	// ErrNotConnected is returned by Channel when no channel is open.
	ErrNotConnected = core.ErrNotConnected

	// ErrServerExited is returned by WaitReady when the server exits
	// before it listens.
	ErrServerExited = broker.ErrServerExited
)
