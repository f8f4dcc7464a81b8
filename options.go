package yarals

import (
	"fmt"
	"net"
	"slices"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// requirePositive panics if v <= 0 with a descriptive message.
func requirePositive[T int | time.Duration](name string, v T) {
	if v <= 0 {
		panic(fmt.Sprintf("yarals: %s must be greater than 0, got %v", name, v))
	}
}

// requireNonEmpty panics if s is empty with a descriptive message.
func requireNonEmpty(name, s string) {
	if s == "" {
		panic(fmt.Sprintf("yarals: %s must not be empty", name))
	}
}

// Option configures Bootstrap.
//
// With* functions panic on invalid input (empty paths, non-positive
// durations, nil collaborators). Option values are normally constants or
// come from validated configuration, so an invalid value is a programmer
// error, in the manner of regexp.MustCompile.
type Option func(*bootstrapConfig)

// WithHost sets the loopback address the server listens on and the client
// dials. Default: 127.0.0.1.
//
// Panics if host is not an IP address.
func WithHost(host string) Option {
	if net.ParseIP(host) == nil {
		panic(fmt.Sprintf("yarals: host must be an IP address, got %q", host))
	}
	return func(c *bootstrapConfig) {
		c.Host = host
	}
}

// WithExtensionRoot sets the directory the client is installed in. The
// bundle and the default server root are resolved against it.
// Default: the working directory.
//
// Panics if dir is empty.
func WithExtensionRoot(dir string) Option {
	requireNonEmpty("extension root", dir)
	return func(c *bootstrapConfig) {
		c.ExtensionRoot = dir
	}
}

// WithServerRoot sets where the server components are installed and where
// the server runs. Default: <extension root>/server.
//
// Panics if dir is empty.
func WithServerRoot(dir string) Option {
	requireNonEmpty("server root", dir)
	return func(c *bootstrapConfig) {
		c.ServerRoot = dir
	}
}

// WithBundleDir sets the directory the default installer copies from. A
// relative path is resolved against the extension root.
// Default: server-bundle.
//
// Panics if dir is empty.
func WithBundleDir(dir string) Option {
	requireNonEmpty("bundle directory", dir)
	return func(c *bootstrapConfig) {
		c.bundleDir = dir
	}
}

// WithEntryScript sets the server script relative to the server root. It
// is passed to the executable (unless WithArgs is used) and must exist for
// the server to count as installed. Default: languageServer.py.
//
// Panics if script is empty or not a relative path.
func WithEntryScript(script string) Option {
	requireNonEmpty("entry script", script)
	if strings.HasPrefix(script, "/") || strings.HasPrefix(script, "..") {
		panic(fmt.Sprintf("yarals: entry script must be relative to the server root, got %q", script))
	}
	return func(c *bootstrapConfig) {
		c.entryScript = script
	}
}

// WithExecutable sets the program that runs the server, resolved through
// PATH. Default: python3.
//
// Panics if exe is empty.
func WithExecutable(exe string) Option {
	requireNonEmpty("executable", exe)
	return func(c *bootstrapConfig) {
		c.Executable = exe
	}
}

// WithArgs replaces the arguments placed before host and port on the
// server command line. Default: the entry script.
func WithArgs(args ...string) Option {
	args = slices.Clone(args)
	return func(c *bootstrapConfig) {
		c.Args = args
		c.argsSet = true
	}
}

// WithEnv adds KEY=VALUE entries to the server environment.
//
// Panics if an entry has no '='.
func WithEnv(env ...string) Option {
	for _, kv := range env {
		if !strings.Contains(kv, "=") {
			panic(fmt.Sprintf("yarals: environment entry must be KEY=VALUE, got %q", kv))
		}
	}
	env = slices.Clone(env)
	return func(c *bootstrapConfig) {
		c.Env = append(c.Env, env...)
	}
}

// WithLogDir sets the directory for the server's stdout and stderr logs.
// Default: <server root>/.yarals/logs.
//
// Panics if dir is empty.
func WithLogDir(dir string) Option {
	requireNonEmpty("log directory", dir)
	return func(c *bootstrapConfig) {
		c.LogDir = dir
	}
}

// WithDialTimeout bounds a single connection attempt.
// Default: 5 seconds.
//
// Panics if d <= 0.
func WithDialTimeout(d time.Duration) Option {
	requirePositive("dial timeout", d)
	return func(c *bootstrapConfig) {
		c.DialTimeout = d
	}
}

// WithStopTimeout bounds the SIGTERM then SIGKILL sequence in Dispose.
// Default: 10 seconds.
//
// Panics if d <= 0.
func WithStopTimeout(d time.Duration) Option {
	requirePositive("stop timeout", d)
	return func(c *bootstrapConfig) {
		c.StopTimeout = d
	}
}

// WithStrictInstall makes Bootstrap fail with ErrInstall when the server
// components cannot be installed. By default the failure is reported and
// the server is launched anyway.
func WithStrictInstall(strict bool) Option {
	return func(c *bootstrapConfig) {
		c.StrictInstall = strict
	}
}

// WithInstaller replaces the default bundle installer.
//
// Panics if inst is nil.
func WithInstaller(inst Installer) Option {
	if inst == nil {
		panic("yarals: installer must not be nil")
	}
	return func(c *bootstrapConfig) {
		c.Installer = inst
	}
}

// WithReporter sets where user-facing messages go.
// Default: the package logger.
//
// Panics if r is nil.
func WithReporter(r Reporter) Option {
	if r == nil {
		panic("yarals: reporter must not be nil")
	}
	return func(c *bootstrapConfig) {
		c.Reporter = r
	}
}

// WithPrometheusRegisterer exports bootstrap, connection and disposal
// metrics through reg. The metrics are registered once per registerer and
// shared by every Supervisor using it; reg must be comparable, which a
// *prometheus.Registry is.
//
// Panics if reg is nil.
func WithPrometheusRegisterer(reg prometheus.Registerer) Option {
	if reg == nil {
		panic("yarals: prometheus registerer must not be nil")
	}
	return func(c *bootstrapConfig) {
		c.registerer = reg
	}
}
