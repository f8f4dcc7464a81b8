package core

import (
	"github.com/korrosivesec/yarals/internal/install"
	"github.com/korrosivesec/yarals/internal/sentinel"
)

const (
	// ErrInstall wraps installation failures.
	ErrInstall = install.ErrInstall

	// ErrNoBundle is returned when the server bundle directory is missing.
	ErrNoBundle = install.ErrNoBundle

	// ErrPortAllocation is returned when no listen port could be allocated.
	ErrPortAllocation = sentinel.Error("port allocation failed")

	// ErrLaunch is returned when the server process could not be spawned.
	ErrLaunch = sentinel.Error("server launch failed")

	// ErrDisposed is returned by operations on a disposed Supervisor.
	ErrDisposed = sentinel.Error("supervisor disposed")

	// ErrAlreadyConnected is returned by Connect while a previous channel
	// is still open.
	ErrAlreadyConnected = sentinel.Error("channel already open")

	// ErrNotConnected is returned by Channel when no channel is open.
	ErrNotConnected = sentinel.Error("not connected")
)
