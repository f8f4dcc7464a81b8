package yarals

import (
	"context"
	"time"

	"github.com/korrosivesec/yarals/internal/core"
)

var _ Supervisor = (*supervisorWrapper)(nil)

// supervisorWrapper adapts core.Supervisor to the Supervisor interface. The
// core value is a named field so type assertions cannot reach internals.
type supervisorWrapper struct {
	sup *core.Supervisor
}

// Bootstrap installs the server components if needed, allocates a port and
// launches the server. It does not connect.
//
// ctx owns the activation: canceling it at any time disposes the
// Supervisor, so no server outlives it. If Bootstrap fails after the server
// was launched, the server is stopped before Bootstrap returns.
//
// Errors wrap ErrPortAllocation or ErrLaunch, and ErrInstall when
// WithStrictInstall is set.
//
// Panics if any option receives an invalid value.
//
//nolint:ireturn // Returns Supervisor interface by design for testability (mockable).
func Bootstrap(ctx context.Context, opts ...Option) (Supervisor, error) {
	cfg := defaultBootstrapConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	coreCfg, err := cfg.resolve()
	if err != nil {
		return nil, err
	}

	sup, err := core.Bootstrap(ctx, coreCfg)
	if err != nil {
		return nil, err
	}
	return &supervisorWrapper{sup: sup}, nil
}

func (w *supervisorWrapper) Server() ServerInfo {
	return w.sup.Server()
}

//nolint:ireturn // Channel is an interface by design.
func (w *supervisorWrapper) Connect(ctx context.Context) (Channel, error) {
	ch, err := w.sup.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return ch, nil
}

//nolint:ireturn // Channel is an interface by design.
func (w *supervisorWrapper) Channel() (Channel, error) {
	ch, err := w.sup.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func (w *supervisorWrapper) WaitReady(ctx context.Context, timeout time.Duration) error {
	return w.sup.WaitReady(ctx, timeout)
}

func (w *supervisorWrapper) Dispose() error {
	return w.sup.Dispose()
}

func (w *supervisorWrapper) Done() <-chan struct{} {
	return w.sup.Done()
}

func (w *supervisorWrapper) ServerExited() <-chan struct{} {
	return w.sup.ServerExited()
}

func (w *supervisorWrapper) State() State {
	return w.sup.State()
}
