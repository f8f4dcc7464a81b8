package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/korrosivesec/yarals"
	"github.com/korrosivesec/yarals/internal/testutil"
)

// extensionWithBundle creates an extension root shipping a one-file bundle.
func extensionWithBundle(t *testing.T) string {
	t.Helper()

	ext := t.TempDir()
	bundle := filepath.Join(ext, yarals.DefaultBundleDir)
	if err := os.MkdirAll(bundle, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(bundle, yarals.DefaultEntryScript), []byte("# server\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return ext
}

// execute runs the root command with args against the given stdio.
func execute(t *testing.T, ctx context.Context, stdin io.Reader, stdout io.Writer, args ...string) error {
	t.Helper()

	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetIn(stdin)
	cmd.SetOut(stdout)
	cmd.SetErr(io.Discard)
	return cmd.ExecuteContext(ctx)
}

func fakeServerArgs(mode string) []string {
	exe, args, env := testutil.FakeServer(mode)
	out := []string{"--executable", exe, "--stop-timeout", "5s"}
	for _, a := range args {
		out = append(out, "--args="+a)
	}
	for _, e := range env {
		out = append(out, "--env="+e)
	}
	return out
}

func TestInstallCommandFromConfigFile(t *testing.T) {
	t.Parallel()

	ext := extensionWithBundle(t)
	cfgFile := filepath.Join(t.TempDir(), "yarals.yaml")
	if err := os.WriteFile(cfgFile, []byte("extension-root: "+ext+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := execute(t, t.Context(), nil, &out, "install", "--config", cfgFile); err != nil {
		t.Fatalf("install: %v", err)
	}

	var res struct {
		Root   string `json:"root"`
		Files  int    `json:"files"`
		Copied bool   `json:"copied"`
	}
	if err := json.Unmarshal(out.Bytes(), &res); err != nil {
		t.Fatalf("decode %q: %v", out.String(), err)
	}
	if want := filepath.Join(ext, yarals.DefaultServerDirName); res.Root != want {
		t.Errorf("root = %q, want %q", res.Root, want)
	}
	if res.Files != 1 || !res.Copied {
		t.Errorf("files = %d, copied = %v, want 1, true", res.Files, res.Copied)
	}

	// Already installed: nothing is printed.
	out.Reset()
	if err := execute(t, t.Context(), nil, &out, "install", "--config", cfgFile); err != nil {
		t.Fatalf("second install: %v", err)
	}
	if out.Len() != 0 {
		t.Errorf("second install printed %q, want nothing", out.String())
	}
}

func TestInstallCommandFlagOverridesEnv(t *testing.T) {
	ext := extensionWithBundle(t)
	envRoot := filepath.Join(t.TempDir(), "from-env")
	flagRoot := filepath.Join(t.TempDir(), "from-flag")
	t.Setenv("YARALS_EXTENSION_ROOT", ext)
	t.Setenv("YARALS_SERVER_ROOT", envRoot)

	if err := execute(t, t.Context(), nil, io.Discard, "install", "--server-root", flagRoot); err != nil {
		t.Fatalf("install: %v", err)
	}

	if _, err := os.Stat(filepath.Join(flagRoot, yarals.DefaultEntryScript)); err != nil {
		t.Errorf("entry script not installed into flag root: %v", err)
	}
	if _, err := os.Stat(envRoot); !os.IsNotExist(err) {
		t.Errorf("env root was used: stat error = %v", err)
	}
}

func TestInstallCommandMissingBundle(t *testing.T) {
	t.Parallel()

	err := execute(t, t.Context(), nil, io.Discard, "install", "--extension-root", t.TempDir())
	if err == nil {
		t.Fatal("install without bundle succeeded")
	}
	if !strings.Contains(err.Error(), "bundle") {
		t.Errorf("error = %v, want it to mention the bundle", err)
	}
}

func TestInvalidSettingsRejected(t *testing.T) {
	t.Parallel()

	err := execute(t, t.Context(), nil, io.Discard, "info", "--host", "localhost")
	if err == nil || !strings.Contains(err.Error(), "host must be an IP address") {
		t.Fatalf("error = %v, want host validation error", err)
	}
}

func TestInfoCommand(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	pr, pw := io.Pipe()
	errc := make(chan error, 1)
	args := append([]string{"info", "--extension-root", extensionWithBundle(t)}, fakeServerArgs(testutil.ModeEcho)...)
	go func() {
		errc <- execute(t, ctx, nil, pw, args...)
		pw.Close()
	}()

	line, err := bufio.NewReader(pr).ReadBytes('\n')
	if err != nil {
		t.Fatalf("read info: %v", err)
	}
	var info yarals.ServerInfo
	if err := json.Unmarshal(line, &info); err != nil {
		t.Fatalf("decode %q: %v", line, err)
	}
	if info.PID <= 0 || info.Port <= 0 || info.Host != yarals.DefaultHost {
		t.Errorf("info = %+v", info)
	}

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("info returned %v after cancel", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("info did not return after cancel")
	}
	if testutil.ProcessAlive(info.PID) {
		t.Error("server still alive after info returned")
	}
}

func TestInfoCommandServerExits(t *testing.T) {
	t.Parallel()

	args := append([]string{"info", "--extension-root", extensionWithBundle(t)}, fakeServerArgs(testutil.ModeExit)...)
	err := execute(t, t.Context(), nil, io.Discard, args...)
	if err == nil || !strings.Contains(err.Error(), yarals.ErrServerExited.Error()) {
		t.Fatalf("error = %v, want %v", err, yarals.ErrServerExited)
	}
}

func TestConnectCommandRelays(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	pr, pw := io.Pipe()
	errc := make(chan error, 1)
	args := append([]string{"connect", "--extension-root", extensionWithBundle(t)}, fakeServerArgs(testutil.ModeDelayedEcho)...)
	go func() {
		errc <- execute(t, ctx, strings.NewReader("Content-Length: 2\r\n\r\n{}"), pw, args...)
		pw.Close()
	}()

	want := "Content-Length: 2\r\n\r\n{}"
	got := make([]byte, len(want))
	if _, err := io.ReadFull(pr, got); err != nil {
		t.Fatalf("read relayed bytes: %v", err)
	}
	if string(got) != want {
		t.Errorf("relayed %q, want %q", got, want)
	}

	cancel()
	go func() { _, _ = io.Copy(io.Discard, pr) }()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("connect returned %v after cancel", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("connect did not return after cancel")
	}
}
