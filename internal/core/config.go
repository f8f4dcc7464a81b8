package core

import (
	"errors"
	"fmt"
	"time"

	"github.com/korrosivesec/yarals/internal/metrics"
	"github.com/korrosivesec/yarals/internal/netutil"
)

// DefaultStopTimeout bounds how long Dispose waits for the server to exit.
const DefaultStopTimeout = 10 * time.Second

// SupervisorConfig holds everything Bootstrap needs. All fields are
// immutable once Bootstrap has been called.
type SupervisorConfig struct {
	// Host is the loopback address the server listens on and the client dials.
	Host string

	// ExtensionRoot is the directory the client is installed in.
	ExtensionRoot string
	// ServerRoot is where the server components live once installed. It is
	// also the server's working directory.
	ServerRoot string

	// Executable and Args start the server: Executable Args... Host Port.
	Executable string
	Args       []string
	// Env holds extra KEY=VALUE entries for the server environment.
	Env []string
	// LogDir receives the server stdout/stderr logs.
	LogDir string

	// DialTimeout bounds a single connection attempt.
	DialTimeout time.Duration
	// StopTimeout bounds the SIGTERM/SIGKILL sequence during Dispose.
	StopTimeout time.Duration

	// StrictInstall aborts the bootstrap when installation fails. When false
	// the failure is reported and the bootstrap continues.
	StrictInstall bool

	Installer Installer
	Reporter  Reporter
	Metrics   metrics.Collector

	// Ports coordinates ports between supervisors of this process. Nil uses
	// the process-wide registry.
	Ports *netutil.PortRegistry
}

// Validate reports every invalid field at once.
func (c SupervisorConfig) Validate() error {
	var errs []error

	if c.Host == "" {
		errs = append(errs, errors.New("host must not be empty"))
	}
	if c.ServerRoot == "" {
		errs = append(errs, errors.New("server root must not be empty"))
	}
	if c.Executable == "" {
		errs = append(errs, errors.New("server executable must not be empty"))
	}
	if c.DialTimeout <= 0 {
		errs = append(errs, fmt.Errorf("dial timeout must be greater than 0, got %s", c.DialTimeout))
	}
	if c.StopTimeout <= 0 {
		errs = append(errs, fmt.Errorf("stop timeout must be greater than 0, got %s", c.StopTimeout))
	}
	if c.Installer == nil {
		errs = append(errs, errors.New("installer must not be nil"))
	}
	if c.Reporter == nil {
		errs = append(errs, errors.New("reporter must not be nil"))
	}

	return errors.Join(errs...)
}
