package testutil

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// fakeServerEnv selects the fake server mode in a re-executed test binary.
const fakeServerEnv = "YARALS_FAKE_SERVER_MODE"

// Fake server behaviours.
const (
	// ModeEcho listens on host:port and echoes every byte back.
	ModeEcho = "echo"
	// ModeDelayedEcho waits EchoDelay before listening, then behaves like ModeEcho.
	ModeDelayedEcho = "delayed-echo"
	// ModeSilent never listens and sleeps until killed.
	ModeSilent = "silent"
	// ModeStubborn ignores SIGTERM and sleeps until SIGKILLed.
	ModeStubborn = "stubborn"
	// ModeExit exits immediately with ExitCode.
	ModeExit = "exit"
)

// EchoDelay is how long ModeDelayedEcho waits before binding.
const EchoDelay = 300 * time.Millisecond

// ExitCode is the status ModeExit exits with.
const ExitCode = 3

// FakeServer returns the executable, leading arguments and extra environment
// that start the current test binary as a fake server in the given mode. The
// launcher appends host and port to the arguments.
func FakeServer(mode string) (executable string, args, env []string) {
	return os.Args[0], []string{"-test.run=^$", "--"}, []string{fakeServerEnv + "=" + mode}
}

// RunFakeServerIfRequested turns the process into a fake server when it was
// started through FakeServer. Call it first thing in TestMain; it never
// returns in that case.
func RunFakeServerIfRequested() {
	mode := os.Getenv(fakeServerEnv)
	if mode == "" {
		return
	}
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "fake server: missing host and port arguments")
		os.Exit(2)
	}
	host, port := os.Args[len(os.Args)-2], os.Args[len(os.Args)-1]

	switch mode {
	case ModeEcho:
		serveEcho(net.JoinHostPort(host, port))
	case ModeDelayedEcho:
		time.Sleep(EchoDelay)
		serveEcho(net.JoinHostPort(host, port))
	case ModeSilent:
		sleepForever()
	case ModeStubborn:
		signal.Ignore(syscall.SIGTERM)
		sleepForever()
	case ModeExit:
		os.Exit(ExitCode)
	default:
		fmt.Fprintf(os.Stderr, "fake server: unknown mode %q\n", mode)
		os.Exit(2)
	}
}

// sleepForever blocks on a timer so the runtime does not report a deadlock.
func sleepForever() {
	for {
		time.Sleep(time.Hour)
	}
}

func serveEcho(addr string) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fake server: listen %s: %v\n", addr, err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stdout, "fake server listening on %s\n", addr)
	for {
		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				os.Exit(0)
			}
			continue
		}
		go func() {
			defer conn.Close()
			_, _ = io.Copy(conn, conn)
		}()
	}
}

// ProcessAlive reports whether a process with pid exists, using signal 0.
// A reaped child reports false.
func ProcessAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}
