package core

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/korrosivesec/yarals/internal/broker"
	"github.com/korrosivesec/yarals/internal/install"
	"github.com/korrosivesec/yarals/internal/netutil"
	"github.com/korrosivesec/yarals/internal/testutil"
)

const testHost = "127.0.0.1"

// recordingReporter keeps every user message.
type recordingReporter struct {
	mu       sync.Mutex
	infos    []string
	errors   []string
	statuses []string
}

func (r *recordingReporter) Info(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.infos = append(r.infos, msg)
}

func (r *recordingReporter) Error(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, msg)
}

func (r *recordingReporter) Status(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, msg)
}

func (r *recordingReporter) snapshot() (infos, errs, statuses []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.infos), slices.Clone(r.errors), slices.Clone(r.statuses)
}

// fakeInstaller reports a fixed state and counts calls.
type fakeInstaller struct {
	installed  bool
	installErr error

	mu       sync.Mutex
	installs int
}

func (f *fakeInstaller) IsInstalled(context.Context, string, string) bool {
	return f.installed
}

func (f *fakeInstaller) Install(context.Context, string, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.installs++
	return f.installErr
}

// newTestConfig builds a config whose extension root ships a bundle and
// whose server is the fake server in mode.
func newTestConfig(t *testing.T, mode string) (SupervisorConfig, *recordingReporter) {
	t.Helper()

	ext := t.TempDir()
	bundle := filepath.Join(ext, DefaultBundleDir)
	if err := os.MkdirAll(bundle, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(bundle, install.DefaultEntryScript), []byte("# server\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	exe, args, env := testutil.FakeServer(mode)
	rep := &recordingReporter{}
	return SupervisorConfig{
		Host:          testHost,
		ExtensionRoot: ext,
		ServerRoot:    filepath.Join(ext, "server"),
		Executable:    exe,
		Args:          args,
		Env:           env,
		DialTimeout:   2 * time.Second,
		StopTimeout:   5 * time.Second,
		Installer:     DirInstaller{},
		Reporter:      rep,
		Ports:         netutil.NewPortRegistry(nil),
	}, rep
}

func bootstrap(t *testing.T, ctx context.Context, cfg SupervisorConfig) *Supervisor {
	t.Helper()

	s, err := Bootstrap(ctx, cfg)
	if err != nil {
		t.Fatalf("Bootstrap() error: %v", err)
	}
	t.Cleanup(func() { _ = s.Dispose() })
	return s
}

func waitDone(t *testing.T, s *Supervisor) {
	t.Helper()

	select {
	case <-s.Done():
	case <-time.After(20 * time.Second):
		t.Fatal("supervisor was not disposed")
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()

	tests := map[State]string{
		StateActive:    "Active",
		StateDisposing: "Disposing",
		StateDisposed:  "Disposed",
		State(9):       "State(9)",
	}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(state), got, want)
		}
	}
}

func TestBootstrap_InstallLaunchConnect(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfg, rep := newTestConfig(t, testutil.ModeDelayedEcho)

	if cfg.Installer.IsInstalled(ctx, cfg.ExtensionRoot, cfg.ServerRoot) {
		t.Fatal("fresh server root reported as installed")
	}

	s := bootstrap(t, ctx, cfg)

	if !cfg.Installer.IsInstalled(ctx, cfg.ExtensionRoot, cfg.ServerRoot) {
		t.Error("server root not installed after bootstrap")
	}

	info := s.Server()
	if info.Host != testHost || info.Port <= 0 || info.PID <= 0 {
		t.Fatalf("Server() = %+v", info)
	}
	if !cfg.Ports.Held(info.Port) {
		t.Error("allocated port is not reserved while active")
	}
	if s.State() != StateActive {
		t.Errorf("State() = %v, want Active", s.State())
	}

	infos, errs, _ := rep.snapshot()
	wantInfos := []string{
		MsgInstalling + cfg.ServerRoot,
		MsgInstalled,
		MsgStartedWithPID + strconv.Itoa(info.PID),
	}
	if !slices.Equal(infos, wantInfos) {
		t.Errorf("info messages = %q, want %q", infos, wantInfos)
	}
	if len(errs) != 0 {
		t.Errorf("unexpected error messages %q", errs)
	}

	// The server was started with host and port as its last arguments.
	logs, err := os.ReadFile(filepath.Join(cfg.ServerRoot, install.StateDirName, "logs", "yara-server-stdout.log"))
	if err == nil && len(logs) > 0 && !strings.Contains(string(logs), testHost+":"+strconv.Itoa(info.Port)) {
		t.Errorf("server log %q does not mention %s:%d", logs, testHost, info.Port)
	}

	if err := s.WaitReady(ctx, 10*time.Second); err != nil {
		t.Fatalf("WaitReady() error: %v", err)
	}
	ch, err := s.Connect(ctx)
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	if _, err := ch.Write([]byte("rule")); err != nil {
		t.Fatalf("write: %v", err)
	}
	buf := make([]byte, 4)
	if _, err := io.ReadFull(ch, buf); err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf) != "rule" {
		t.Errorf("echo = %q", buf)
	}

	if _, err := s.Connect(ctx); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("second Connect() = %v, want ErrAlreadyConnected", err)
	}
	got, err := s.Channel()
	if err != nil || got != ch {
		t.Errorf("Channel() = %p, %v; want the open channel", got, err)
	}

	// After the consumer closes the channel a retry may connect again.
	_ = ch.Close()
	if _, err := s.Channel(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Channel() after close = %v, want ErrNotConnected", err)
	}
	again, err := s.Connect(ctx)
	if err != nil {
		t.Fatalf("reconnect: %v", err)
	}

	pid := info.PID
	if err := s.Dispose(); err != nil {
		t.Fatalf("Dispose() error: %v", err)
	}
	waitDone(t, s)

	if testutil.ProcessAlive(pid) {
		t.Errorf("server %d still alive after Dispose", pid)
	}
	if cfg.Ports.Held(info.Port) {
		t.Error("port still reserved after Dispose")
	}
	select {
	case <-again.Closed():
	default:
		t.Error("Dispose did not close the channel")
	}
}

func TestBootstrap_SkipsInstallWhenPresent(t *testing.T) {
	t.Parallel()

	cfg, rep := newTestConfig(t, testutil.ModeSilent)
	inst := &fakeInstaller{installed: true}
	cfg.Installer = inst
	if err := os.MkdirAll(cfg.ServerRoot, 0o755); err != nil {
		t.Fatal(err)
	}

	bootstrap(t, context.Background(), cfg)

	if inst.installs != 0 {
		t.Errorf("Install called %d times for an installed root", inst.installs)
	}
	infos, _, _ := rep.snapshot()
	if len(infos) != 1 || !strings.HasPrefix(infos[0], MsgStartedWithPID) {
		t.Errorf("info messages = %q, want only the started message", infos)
	}
}

func TestBootstrap_InstallFailure(t *testing.T) {
	t.Parallel()

	installErr := errors.New("disk full")

	t.Run("reported and continues", func(t *testing.T) {
		t.Parallel()

		cfg, rep := newTestConfig(t, testutil.ModeSilent)
		cfg.Installer = &fakeInstaller{installErr: installErr}
		if err := os.MkdirAll(cfg.ServerRoot, 0o755); err != nil {
			t.Fatal(err)
		}

		s := bootstrap(t, context.Background(), cfg)
		if s.Server().PID <= 0 {
			t.Fatal("server not launched after non-strict install failure")
		}
		_, errs, _ := rep.snapshot()
		if !slices.Contains(errs, "YARA: "+MsgInstallFailed) {
			t.Errorf("error messages = %q, want install failure", errs)
		}
	})

	t.Run("strict aborts", func(t *testing.T) {
		t.Parallel()

		cfg, _ := newTestConfig(t, testutil.ModeSilent)
		cfg.Installer = &fakeInstaller{installErr: installErr}
		cfg.StrictInstall = true

		_, err := Bootstrap(context.Background(), cfg)
		if !errors.Is(err, ErrInstall) || !errors.Is(err, installErr) {
			t.Fatalf("err = %v, want ErrInstall wrapping the install error", err)
		}
	})

	t.Run("missing bundle", func(t *testing.T) {
		t.Parallel()

		cfg, _ := newTestConfig(t, testutil.ModeSilent)
		cfg.Installer = DirInstaller{BundleDir: "no-such-bundle"}
		cfg.StrictInstall = true

		_, err := Bootstrap(context.Background(), cfg)
		if !errors.Is(err, ErrNoBundle) {
			t.Fatalf("err = %v, want ErrNoBundle", err)
		}
	})
}

func TestBootstrap_LaunchFailureReleasesPort(t *testing.T) {
	t.Parallel()

	cfg, _ := newTestConfig(t, testutil.ModeSilent)
	cfg.Executable = filepath.Join(t.TempDir(), "missing-python")

	_, err := Bootstrap(context.Background(), cfg)
	if !errors.Is(err, ErrLaunch) {
		t.Fatalf("err = %v, want ErrLaunch", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want the underlying OS error", err)
	}
}

func TestBootstrap_InvalidConfig(t *testing.T) {
	t.Parallel()

	_, err := Bootstrap(context.Background(), SupervisorConfig{})
	if err == nil || !strings.Contains(err.Error(), "invalid config") {
		t.Fatalf("err = %v, want invalid config", err)
	}
}

func TestBootstrap_CanceledBeforeStart(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg, _ := newTestConfig(t, testutil.ModeSilent)
	_, err := Bootstrap(ctx, cfg)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestConnect_RefusedWhenNotListening(t *testing.T) {
	t.Parallel()

	cfg, rep := newTestConfig(t, testutil.ModeSilent)
	s := bootstrap(t, context.Background(), cfg)

	_, err := s.Connect(context.Background())
	if !broker.IsRefused(err) {
		t.Fatalf("Connect() = %v, want refused", err)
	}

	_, errs, statuses := rep.snapshot()
	if !slices.Contains(errs, MsgRefused) {
		t.Errorf("error messages = %q, want %q", errs, MsgRefused)
	}
	if !slices.Contains(statuses, MsgNotConnected) {
		t.Errorf("status messages = %q, want %q", statuses, MsgNotConnected)
	}

	// A refused connect leaves the activation usable.
	if s.State() != StateActive {
		t.Errorf("State() = %v after refused connect, want Active", s.State())
	}
	if !testutil.ProcessAlive(s.Server().PID) {
		t.Error("refused connect killed the server")
	}
}

func TestDispose_TwiceTerminatesOnce(t *testing.T) {
	t.Parallel()

	cfg, _ := newTestConfig(t, testutil.ModeSilent)
	s := bootstrap(t, context.Background(), cfg)
	pid := s.Server().PID

	if err := s.Dispose(); err != nil {
		t.Fatalf("first Dispose() error: %v", err)
	}
	if err := s.Dispose(); err != nil {
		t.Fatalf("second Dispose() error: %v", err)
	}
	if s.State() != StateDisposed {
		t.Errorf("State() = %v, want Disposed", s.State())
	}
	if testutil.ProcessAlive(pid) {
		t.Errorf("server %d alive after Dispose", pid)
	}

	if _, err := s.Connect(context.Background()); !errors.Is(err, ErrDisposed) {
		t.Errorf("Connect() after Dispose = %v, want ErrDisposed", err)
	}
	if err := s.WaitReady(context.Background(), time.Second); !errors.Is(err, ErrDisposed) {
		t.Errorf("WaitReady() after Dispose = %v, want ErrDisposed", err)
	}
}

func TestDispose_ConcurrentCalls(t *testing.T) {
	t.Parallel()

	cfg, _ := newTestConfig(t, testutil.ModeSilent)
	s := bootstrap(t, context.Background(), cfg)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Go(func() { errs[i] = s.Dispose() })
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("Dispose #%d = %v", i, err)
		}
	}
}

func TestDispose_ServerAlreadyExited(t *testing.T) {
	t.Parallel()

	cfg, _ := newTestConfig(t, testutil.ModeExit)
	s := bootstrap(t, context.Background(), cfg)

	select {
	case <-s.ServerExited():
	case <-time.After(10 * time.Second):
		t.Fatal("server did not exit")
	}
	if err := s.WaitReady(context.Background(), 5*time.Second); !errors.Is(err, broker.ErrServerExited) {
		t.Errorf("WaitReady() = %v, want ErrServerExited", err)
	}
	if err := s.Dispose(); err != nil {
		t.Errorf("Dispose() = %v, want nil for a server that exited on its own", err)
	}
}

func TestConnect_ReplacesFaultedChannel(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfg, _ := newTestConfig(t, testutil.ModeEcho)
	s := bootstrap(t, ctx, cfg)

	if err := s.WaitReady(ctx, 10*time.Second); err != nil {
		t.Fatalf("WaitReady() error: %v", err)
	}
	first, err := s.Connect(ctx)
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}

	// Kill the server under the open channel; writes then fail with a reset.
	if err := s.handle.Stop(5 * time.Second); err != nil {
		t.Logf("stop server: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for first.Fault() == nil && time.Now().Before(deadline) {
		_, _ = first.Write([]byte("ping"))
		time.Sleep(10 * time.Millisecond)
	}
	if first.Fault() == nil {
		t.Skip("reset not observed on the first channel")
	}
	if _, err := s.Channel(); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Channel() after fault = %v, want ErrNotConnected", err)
	}

	// Stand in for a restarted server on the same port.
	l, err := net.Listen("tcp", net.JoinHostPort(testHost, strconv.Itoa(s.Server().Port)))
	if err != nil {
		t.Fatalf("listen on server port: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				_, _ = io.Copy(conn, conn)
			}()
		}
	}()

	second, err := s.Connect(ctx)
	if err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	select {
	case <-first.Closed():
	default:
		t.Error("faulted channel still open after reconnect")
	}

	if err := s.Dispose(); err != nil {
		t.Logf("Dispose() = %v", err)
	}
	select {
	case <-second.Closed():
	default:
		t.Error("channel still open after Dispose")
	}
}

func TestContextCancel_DisposesLaunchedServer(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, _ := newTestConfig(t, testutil.ModeSilent)
	s := bootstrap(t, ctx, cfg)
	pid := s.Server().PID
	port := s.Server().Port

	// The owning context is torn down before any connect succeeded.
	cancel()
	waitDone(t, s)

	if s.State() != StateDisposed {
		t.Errorf("State() = %v, want Disposed", s.State())
	}
	if testutil.ProcessAlive(pid) {
		t.Errorf("server %d alive after context teardown", pid)
	}
	if cfg.Ports.Held(port) {
		t.Error("port still reserved after context teardown")
	}
}

func TestDispose_DetachesFromContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, _ := newTestConfig(t, testutil.ModeSilent)
	s := bootstrap(t, ctx, cfg)
	if err := s.Dispose(); err != nil {
		t.Fatalf("Dispose() error: %v", err)
	}
	cancel()

	if err := s.Dispose(); err != nil {
		t.Errorf("Dispose() after cancel = %v", err)
	}
}

func TestBootstrap_ConcurrentActivationsGetDistinctPorts(t *testing.T) {
	t.Parallel()

	const activations = 3
	registry := netutil.NewPortRegistry(nil)
	supervisors := make([]*Supervisor, activations)
	for i := range supervisors {
		cfg, _ := newTestConfig(t, testutil.ModeSilent)
		cfg.Ports = registry
		supervisors[i] = bootstrap(t, context.Background(), cfg)
	}

	seen := make(map[int]bool)
	for _, s := range supervisors {
		port := s.Server().Port
		if seen[port] {
			t.Fatalf("port %d handed out twice", port)
		}
		seen[port] = true
	}
}
