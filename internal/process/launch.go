package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"slices"
	"strconv"

	"github.com/korrosivesec/yarals/internal/sentinel"
)

// ErrEmptyExecutable is returned by Launch when Config.Executable is empty.
const ErrEmptyExecutable = sentinel.Error("executable must not be empty")

// DefaultName is the process name used for log files and log records when
// Config.Name is empty.
const DefaultName = "yara-server"

// Config describes how to start the language server.
type Config struct {
	Executable string   // Interpreter or server binary, resolved through PATH
	Args       []string // Arguments placed before the host and port
	Host       string   // Listen host passed to the server
	Port       int      // Listen port passed to the server
	Dir        string   // Working directory (the server root)
	LogDir     string   // Directory for stdout/stderr logs; empty discards output
	Env        []string // Extra KEY=VALUE entries appended to the parent environment
	Name       string   // Name for logs (default DefaultName)

	// Logger (optional, defaults to slog.Default())
	Logger *slog.Logger
}

// validate reports every missing or invalid field at once.
func (c Config) validate() error {
	var errs []error
	if c.Executable == "" {
		errs = append(errs, ErrEmptyExecutable)
	}
	if c.Host == "" {
		errs = append(errs, errors.New("host must not be empty"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port must be in 1..65535, got %d", c.Port))
	}
	if c.Dir == "" {
		errs = append(errs, errors.New("working directory must not be empty"))
	}
	return errors.Join(errs...)
}

// Argv returns the argument vector (without the executable) the server is
// started with: Args followed by host and port.
func (c Config) Argv() []string {
	return append(slices.Clone(c.Args), c.Host, strconv.Itoa(c.Port))
}

// Launch starts the server and returns as soon as the OS has created the
// process; it does not wait for the server to bind its port. The returned
// Handle is the only owner of the child: callers must eventually call Stop.
//
// ctx is consulted only before spawning. The child is deliberately not tied
// to ctx through exec.CommandContext so that termination has a single path
// (Handle.Terminate / Handle.Stop).
func Launch(ctx context.Context, cfg Config) (*Handle, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid launch config: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("launch canceled: %w", err)
	}

	name := cfg.Name
	if name == "" {
		name = DefaultName
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	//nolint:gosec // G204: the executable is operator configuration
	cmd := exec.Command(cfg.Executable, cfg.Argv()...)
	cmd.Dir = cfg.Dir
	if len(cfg.Env) > 0 {
		cmd.Env = append(cmd.Environ(), cfg.Env...)
	}
	configureSysProcAttr(cmd)

	var logFiles LogFiles
	if cfg.LogDir != "" {
		lf, err := NewLogFiles(cfg.LogDir, name)
		if err != nil {
			return nil, fmt.Errorf("create %s logs: %w", name, err)
		}
		logFiles = lf
		cmd.Stdout = logFiles.stdoutFile
		cmd.Stderr = logFiles.stderrFile
	}

	if err := cmd.Start(); err != nil {
		logFiles.Close()
		return nil, fmt.Errorf("start %s: %w", name, err)
	}

	h := newHandle(cmd, name, cfg.Host, cfg.Port, logFiles, log)
	log.Debug("process launched",
		"process", name, "pid", h.PID(), "executable", cfg.Executable,
		"host", cfg.Host, "port", cfg.Port)
	return h, nil
}
