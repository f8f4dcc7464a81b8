package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/korrosivesec/yarals/internal/broker"
	"github.com/korrosivesec/yarals/internal/install"
	"github.com/korrosivesec/yarals/internal/metrics"
	"github.com/korrosivesec/yarals/internal/netutil"
	"github.com/korrosivesec/yarals/internal/process"
)

// State is the lifecycle state of a Supervisor.
type State uint32

const (
	StateActive    State = iota // Process launched, resources owned
	StateDisposing              // Dispose in progress
	StateDisposed               // Terminal
)

// String returns the name of the state.
func (s State) String() string {
	switch s {
	case StateActive:
		return "Active"
	case StateDisposing:
		return "Disposing"
	case StateDisposed:
		return "Disposed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ServerInfo identifies the running server.
type ServerInfo struct {
	PID  int    `json:"pid"`
	Host string `json:"host"`
	Port int    `json:"port"`
}

// ports is shared by every Supervisor in the process that has no explicit
// registry, so two activations never get the same port.
var ports = netutil.NewPortRegistry(nil)

// Supervisor owns one launched server and at most one open channel to it.
// It is safe for concurrent use.
//
// Synchronization strategy:
//   - state is an atomic State; Dispose moves it Active -> Disposing -> Disposed.
//   - handle and port are set before Bootstrap returns and never change.
//   - mu guards channel and stopHook.
//   - connectMu serialises Connect so only one dial is in flight.
type Supervisor struct {
	cfg     SupervisorConfig
	log     *slog.Logger
	metrics metrics.Collector
	ports   *netutil.PortRegistry
	dialer  broker.Dialer

	state atomic.Uint32

	handle *process.Handle
	port   int

	connectMu sync.Mutex

	mu       sync.Mutex
	channel  *broker.Channel
	stopHook func() bool

	disposeOnce sync.Once
	disposeErr  error
	done        chan struct{}
}

// Bootstrap runs the activation sequence: installation gate, port
// allocation and process launch. It does not connect; call Connect once the
// server is expected to listen.
//
// Cancelling ctx disposes the Supervisor at any point, including after
// Bootstrap has returned. A Bootstrap that fails after launching the server
// disposes it before returning.
func Bootstrap(ctx context.Context, cfg SupervisorConfig) (*Supervisor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	s := &Supervisor{
		cfg:     cfg,
		log:     Logger(),
		metrics: cfg.Metrics,
		ports:   cfg.Ports,
		done:    make(chan struct{}),
	}
	if s.metrics == nil {
		s.metrics = metrics.Noop()
	}
	if s.ports == nil {
		s.ports = ports
	}

	if err := s.bootstrap(ctx); err != nil {
		if disposeErr := s.Dispose(); disposeErr != nil {
			s.log.Warn("dispose after failed bootstrap", "error", disposeErr)
		}
		return nil, err
	}

	// AfterFunc runs immediately if ctx is already done.
	s.mu.Lock()
	s.stopHook = context.AfterFunc(ctx, func() {
		s.log.Debug("owning context done; disposing", "cause", context.Cause(ctx))
		_ = s.Dispose()
	})
	s.mu.Unlock()

	return s, nil
}

func (s *Supervisor) bootstrap(ctx context.Context) error {
	if err := s.ensureInstalled(ctx); err != nil {
		return err
	}

	start := time.Now()
	port, err := s.ports.AllocatePort(s.cfg.Host)
	s.metrics.StepDuration(metrics.StepPort, time.Since(start), err)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPortAllocation, err)
	}
	s.port = port
	s.log = s.log.With("host", s.cfg.Host, "port", port)

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("bootstrap canceled: %w", err)
	}

	start = time.Now()
	h, err := process.Launch(ctx, process.Config{
		Executable: s.cfg.Executable,
		Args:       s.cfg.Args,
		Host:       s.cfg.Host,
		Port:       port,
		Dir:        s.cfg.ServerRoot,
		LogDir:     s.logDir(),
		Env:        s.cfg.Env,
		Logger:     s.log,
	})
	s.metrics.StepDuration(metrics.StepLaunch, time.Since(start), err)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLaunch, err)
	}
	s.handle = h
	s.metrics.ServerStarted()
	s.log = s.log.With("pid", h.PID())

	s.dialer = broker.Dialer{
		Host:    s.cfg.Host,
		Port:    port,
		Timeout: s.cfg.DialTimeout,
		Logger:  s.log,
		OnFault: func(err error) {
			s.metrics.ChannelFault()
			s.log.Warn("channel fault", "error", err)
		},
	}

	s.log.Info("language server started", "executable", s.cfg.Executable)
	s.cfg.Reporter.Info(MsgStartedWithPID + strconv.Itoa(h.PID()))
	return nil
}

// ensureInstalled runs the installation gate. A failed install is reported
// and only aborts the bootstrap in strict mode.
func (s *Supervisor) ensureInstalled(ctx context.Context) error {
	root := s.cfg.ServerRoot
	if s.cfg.Installer.IsInstalled(ctx, s.cfg.ExtensionRoot, root) {
		s.metrics.InstallOutcome(metrics.InstallPresent)
		return nil
	}

	s.cfg.Reporter.Info(MsgInstalling + root)
	start := time.Now()
	err := s.cfg.Installer.Install(ctx, s.cfg.ExtensionRoot, root)
	s.metrics.StepDuration(metrics.StepInstall, time.Since(start), err)
	if err == nil {
		s.metrics.InstallOutcome(metrics.InstallCompleted)
		s.cfg.Reporter.Info(MsgInstalled)
		return nil
	}

	s.metrics.InstallOutcome(metrics.InstallFailed)
	s.log.Error("install failed", "root", root, "error", err)
	s.cfg.Reporter.Error(userErrorPrefix + MsgInstallFailed)
	if !errors.Is(err, ErrInstall) {
		err = fmt.Errorf("%w: %w", ErrInstall, err)
	}
	if s.cfg.StrictInstall || ctx.Err() != nil {
		return err
	}
	return nil
}

func (s *Supervisor) logDir() string {
	if s.cfg.LogDir != "" {
		return s.cfg.LogDir
	}
	return filepath.Join(s.cfg.ServerRoot, install.StateDirName, "logs")
}

// Server returns the identity of the launched server.
func (s *Supervisor) Server() ServerInfo {
	return ServerInfo{PID: s.handle.PID(), Host: s.cfg.Host, Port: s.port}
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

// Done returns a channel that is closed once disposal has finished.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// ServerExited returns a channel that is closed when the server process
// exits for any reason.
func (s *Supervisor) ServerExited() <-chan struct{} {
	return s.handle.Exited()
}

// WaitReady polls until the server accepts connections, the server exits,
// or timeout expires. It is an optional retry policy for callers that want
// to connect right after Bootstrap.
func (s *Supervisor) WaitReady(ctx context.Context, timeout time.Duration) error {
	if s.State() != StateActive {
		return ErrDisposed
	}
	return s.dialer.WaitListening(ctx, broker.WaitConfig{
		Timeout: timeout,
		Exited:  s.handle.Exited(),
	})
}

// Connect makes one connection attempt to the server. Connection failures
// are reported to the user and returned as *broker.ConnectError. Connect
// returns ErrAlreadyConnected while the channel from a previous Connect is
// open and without fault.
func (s *Supervisor) Connect(ctx context.Context) (*broker.Channel, error) {
	s.connectMu.Lock()
	defer s.connectMu.Unlock()

	if s.State() != StateActive {
		return nil, ErrDisposed
	}
	if _, err := s.Channel(); err == nil {
		return nil, ErrAlreadyConnected
	}
	s.dropChannel()

	start := time.Now()
	ch, err := s.dialer.Dial(ctx)
	s.metrics.StepDuration(metrics.StepConnect, time.Since(start), err)
	if err != nil {
		s.reportConnectError(err)
		return nil, fmt.Errorf("connect to language server: %w", err)
	}
	s.metrics.ConnectOutcome(metrics.ConnectOK)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State() != StateActive {
		_ = ch.Close()
		return nil, ErrDisposed
	}
	s.channel = ch
	return ch, nil
}

func (s *Supervisor) reportConnectError(err error) {
	var ce *broker.ConnectError
	if !errors.As(err, &ce) {
		return
	}
	switch ce.Kind {
	case broker.ConnectRefused:
		s.metrics.ConnectOutcome(metrics.ConnectRefused)
		s.log.Warn("language server refused connection", "error", err)
		s.cfg.Reporter.Error(MsgRefused)
		s.cfg.Reporter.Status(MsgNotConnected)
	default:
		s.metrics.ConnectOutcome(metrics.ConnectOther)
		s.log.Warn("language server connection failed", "error", err)
		s.cfg.Reporter.Error(userErrorPrefix + ce.Error())
	}
}

// dropChannel closes and forgets a channel that was closed or has faulted,
// so a reconnect never leaves an old socket behind.
func (s *Supervisor) dropChannel() {
	s.mu.Lock()
	stale := s.channel
	s.channel = nil
	s.mu.Unlock()
	if stale != nil {
		_ = stale.Close()
	}
}

// Channel returns the open channel, or ErrNotConnected if there is none or
// it has been closed or has faulted.
func (s *Supervisor) Channel() (*broker.Channel, error) {
	s.mu.Lock()
	ch := s.channel
	s.mu.Unlock()
	if ch == nil || ch.Fault() != nil {
		return nil, ErrNotConnected
	}
	select {
	case <-ch.Closed():
		return nil, ErrNotConnected
	default:
		return ch, nil
	}
}

// Dispose closes the channel, stops the server process, releases the port
// and detaches from the owning context, in that order. Only the first call
// does the work; every call returns its result. Failures are best effort:
// a server that already exited or a channel that is already closed are not
// errors.
func (s *Supervisor) Dispose() error {
	s.disposeOnce.Do(func() {
		s.state.CompareAndSwap(uint32(StateActive), uint32(StateDisposing))
		start := time.Now()

		s.mu.Lock()
		ch := s.channel
		s.channel = nil
		hook := s.stopHook
		s.mu.Unlock()

		var errs []error
		if ch != nil {
			// Close is idempotent; an already-closed channel returns the first result.
			_ = ch.Close()
		}

		if s.handle != nil {
			if err := s.stopServer(); err != nil {
				errs = append(errs, err)
			}
		}

		if s.port != 0 {
			s.ports.Release(s.port)
		}

		if hook != nil {
			hook()
		}

		s.disposeErr = errors.Join(errs...)
		s.state.Store(uint32(StateDisposed))
		if s.handle != nil {
			s.metrics.ServerDisposed(time.Since(start), s.disposeErr)
		}
		s.log.Debug("disposed", "elapsed", time.Since(start).Round(time.Millisecond), "error", s.disposeErr)
		close(s.done)
	})
	return s.disposeErr
}

// stopServer stops the process. A server that exited on its own before
// Dispose is logged, not treated as a dispose failure.
func (s *Supervisor) stopServer() error {
	if state, waitErr, exited := s.handle.ExitStatus(); exited {
		s.log.Info("language server had already exited", "state", state.String(), "error", waitErr)
		_ = s.handle.Stop(s.cfg.StopTimeout)
		return nil
	}
	if err := s.handle.Stop(s.cfg.StopTimeout); err != nil {
		if _, _, exited := s.handle.ExitStatus(); exited {
			s.log.Warn("language server exited uncleanly", "error", err)
			return nil
		}
		return fmt.Errorf("stop language server: %w", err)
	}
	return nil
}
