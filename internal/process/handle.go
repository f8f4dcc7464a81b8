package process

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// termGracePeriod is how long Stop waits after SIGTERM before sending
// SIGKILL. It is capped at the timeout passed to Stop.
const termGracePeriod = 5 * time.Second

// killDrainTimeout bounds the wait for the exit status after SIGKILL.
const killDrainTimeout = 10 * time.Second

// Handle is a launched server process. All methods are safe for concurrent
// use.
type Handle struct {
	cmd  *exec.Cmd
	name string
	host string
	port int
	log  *slog.Logger

	// exited is closed by the single wait goroutine after waitErr is set.
	exited  chan struct{}
	waitErr error

	logFiles LogFiles

	// sigterm delivers the termination signal. Platforms without SIGTERM
	// make it fail, and stop falls back to Kill.
	sigterm  func() error
	termOnce sync.Once
	termErr  error

	stopOnce sync.Once
	stopErr  error
}

func newHandle(cmd *exec.Cmd, name, host string, port int, logFiles LogFiles, log *slog.Logger) *Handle {
	h := &Handle{
		cmd:      cmd,
		name:     name,
		host:     host,
		port:     port,
		log:      log,
		exited:   make(chan struct{}),
		logFiles: logFiles,
	}
	h.sigterm = func() error { return cmd.Process.Signal(syscall.SIGTERM) }
	// cmd.Wait must be called exactly once per started process.
	go func() {
		h.waitErr = cmd.Wait()
		close(h.exited)
	}()
	return h
}

// PID returns the OS process identifier.
func (h *Handle) PID() int {
	return h.cmd.Process.Pid
}

// Host returns the listen host the server was started with.
func (h *Handle) Host() string {
	return h.host
}

// Port returns the listen port the server was started with.
func (h *Handle) Port() int {
	return h.port
}

// Exited returns a channel that is closed once the process has exited and
// been reaped.
func (h *Handle) Exited() <-chan struct{} {
	return h.exited
}

// ExitStatus returns the process state and the error from cmd.Wait.
// exited is false while the process is still running.
func (h *Handle) ExitStatus() (state *os.ProcessState, waitErr error, exited bool) {
	select {
	case <-h.exited:
		return h.cmd.ProcessState, h.waitErr, true
	default:
		return nil, nil, false
	}
}

// Terminate sends SIGTERM without waiting for the process to exit. Only the
// first call signals; later calls return the first result. A process that has
// already exited is not an error.
func (h *Handle) Terminate() error {
	h.termOnce.Do(func() {
		err := h.sigterm()
		if err != nil && !errors.Is(err, os.ErrProcessDone) {
			h.termErr = fmt.Errorf("%s: signal: %w", h.name, err)
		}
	})
	return h.termErr
}

// Stop terminates the process and waits for it to be reaped: SIGTERM first,
// SIGKILL after min(termGracePeriod, timeout), giving up after timeout plus
// killDrainTimeout. Log files are closed afterwards. Stop runs once; later
// calls return the first result.
func (h *Handle) Stop(timeout time.Duration) error {
	h.stopOnce.Do(func() {
		h.stopErr = h.stop(timeout)
		if h.stopErr != nil {
			h.log.Warn("process stop failed; process may be orphaned",
				"process", h.name, "pid", h.PID(), "error", h.stopErr)
		}
		h.logFiles.Close()
	})
	return h.stopErr
}

func (h *Handle) stop(timeout time.Duration) error {
	if timeout <= 0 {
		return fmt.Errorf("%s: stop timeout must be positive, got %s", h.name, timeout)
	}

	select {
	case <-h.exited:
		return h.exitResult()
	default:
	}

	if err := h.Terminate(); err != nil {
		h.log.Debug("terminate failed, killing", "process", h.name, "error", err)
		_ = h.cmd.Process.Kill()
		if !drain(h.exited, killDrainTimeout) {
			return fmt.Errorf("%s: timed out draining process after signal failure", h.name)
		}
		return h.exitResult()
	}

	grace := min(termGracePeriod, timeout)
	killTimer := time.AfterFunc(grace, func() {
		// Kill after exit returns os.ErrProcessDone, which is harmless.
		_ = h.cmd.Process.Kill()
	})
	defer killTimer.Stop()

	totalTimer := time.NewTimer(timeout)
	defer totalTimer.Stop()

	select {
	case <-h.exited:
		return h.exitResult()
	case <-totalTimer.C:
		_ = h.cmd.Process.Kill()
		if !drain(h.exited, killDrainTimeout) {
			return fmt.Errorf("%s: timed out waiting for process to exit after SIGKILL", h.name)
		}
		if err := h.exitResult(); err != nil {
			return fmt.Errorf("%s stop timeout: %w", h.name, err)
		}
		return nil
	}
}

// exitResult interprets the wait error after a stop. Must be called only
// after exited is closed.
func (h *Handle) exitResult() error {
	return expectSignalExit(h.waitErr, h.name)
}

// drain waits up to timeout for ch to close and reports whether it did.
func drain(ch <-chan struct{}, timeout time.Duration) bool {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-ch:
		return true
	case <-t.C:
		return false
	}
}

// expectSignalExit treats exits caused by SIGTERM or SIGKILL as a clean stop.
// A server that exits 0 on SIGTERM is also clean.
func expectSignalExit(err error, name string) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			sig := status.Signal()
			if sig == syscall.SIGTERM || sig == syscall.SIGKILL {
				return nil
			}
		}
	}
	return fmt.Errorf("%s: %w", name, err)
}
