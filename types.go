package yarals

import (
	"github.com/korrosivesec/yarals/internal/broker"
	"github.com/korrosivesec/yarals/internal/core"
)

// ServerInfo identifies the running server: its process id and the
// address it was told to listen on.
type ServerInfo = core.ServerInfo

// State is the lifecycle state of a Supervisor.
type State = core.State

// Supervisor states. Transitions only go forward.
const (
	StateActive    = core.StateActive
	StateDisposing = core.StateDisposing
	StateDisposed  = core.StateDisposed
)

// ConnectError is returned by Connect when the connection cannot be
// established. Use errors.As to inspect Kind.
type ConnectError = broker.ConnectError

// ConnectKind classifies a ConnectError.
type ConnectKind = broker.ConnectKind

// Connect error kinds.
const (
	ConnectRefused = broker.ConnectRefused
	ConnectOther   = broker.ConnectOther
)

// IsRefused reports whether err means nothing was listening on the server
// port.
func IsRefused(err error) bool {
	return broker.IsRefused(err)
}
