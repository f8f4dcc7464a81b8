package main

import (
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/korrosivesec/yarals"
)

// settings is the resolved CLI configuration.
type settings struct {
	Host          string
	ExtensionRoot string
	ServerRoot    string
	BundleDir     string
	EntryScript   string
	Executable    string
	Args          []string
	Env           []string
	LogDir        string
	DialTimeout   time.Duration
	StopTimeout   time.Duration
	ReadyTimeout  time.Duration
	StrictInstall bool
	MetricsAddr   string
}

// loadSettings reads every key from v and validates the values that the
// library options would otherwise panic on.
func loadSettings(v *viper.Viper) (settings, error) {
	s := settings{
		Host:          v.GetString("host"),
		ExtensionRoot: v.GetString("extension-root"),
		ServerRoot:    v.GetString("server-root"),
		BundleDir:     v.GetString("bundle-dir"),
		EntryScript:   v.GetString("entry-script"),
		Executable:    v.GetString("executable"),
		Args:          v.GetStringSlice("args"),
		Env:           v.GetStringSlice("env"),
		LogDir:        v.GetString("log-dir"),
		DialTimeout:   v.GetDuration("dial-timeout"),
		StopTimeout:   v.GetDuration("stop-timeout"),
		ReadyTimeout:  v.GetDuration("ready-timeout"),
		StrictInstall: v.GetBool("strict-install"),
		MetricsAddr:   v.GetString("metrics-addr"),
	}
	if err := s.validate(); err != nil {
		return settings{}, err
	}
	return s, nil
}

func (s settings) validate() error {
	var errs []error
	if net.ParseIP(s.Host) == nil {
		errs = append(errs, fmt.Errorf("host must be an IP address, got %q", s.Host))
	}
	if s.BundleDir == "" {
		errs = append(errs, errors.New("bundle-dir must not be empty"))
	}
	if s.EntryScript == "" || filepath.IsAbs(s.EntryScript) || strings.HasPrefix(s.EntryScript, "..") {
		errs = append(errs, fmt.Errorf("entry-script must be a relative path, got %q", s.EntryScript))
	}
	if s.Executable == "" {
		errs = append(errs, errors.New("executable must not be empty"))
	}
	for _, kv := range s.Env {
		if !strings.Contains(kv, "=") {
			errs = append(errs, fmt.Errorf("env entry must be KEY=VALUE, got %q", kv))
		}
	}
	for name, d := range map[string]time.Duration{
		"dial-timeout":  s.DialTimeout,
		"stop-timeout":  s.StopTimeout,
		"ready-timeout": s.ReadyTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be greater than 0, got %v", name, d))
		}
	}
	return errors.Join(errs...)
}

// options converts s to Bootstrap options. Empty paths keep the library
// defaults.
func (s settings) options() []yarals.Option {
	opts := []yarals.Option{
		yarals.WithHost(s.Host),
		yarals.WithBundleDir(s.BundleDir),
		yarals.WithEntryScript(s.EntryScript),
		yarals.WithExecutable(s.Executable),
		yarals.WithDialTimeout(s.DialTimeout),
		yarals.WithStopTimeout(s.StopTimeout),
		yarals.WithStrictInstall(s.StrictInstall),
	}
	if s.ExtensionRoot != "" {
		opts = append(opts, yarals.WithExtensionRoot(s.ExtensionRoot))
	}
	if s.ServerRoot != "" {
		opts = append(opts, yarals.WithServerRoot(s.ServerRoot))
	}
	if len(s.Args) > 0 {
		opts = append(opts, yarals.WithArgs(s.Args...))
	}
	if len(s.Env) > 0 {
		opts = append(opts, yarals.WithEnv(s.Env...))
	}
	if s.LogDir != "" {
		opts = append(opts, yarals.WithLogDir(s.LogDir))
	}
	return opts
}

// roots returns the absolute extension and server roots, applying the
// same defaults as Bootstrap.
func (s settings) roots() (ext, server string, err error) {
	ext = s.ExtensionRoot
	if ext == "" {
		ext = "."
	}
	if ext, err = filepath.Abs(ext); err != nil {
		return "", "", fmt.Errorf("resolve extension root: %w", err)
	}
	server = s.ServerRoot
	if server == "" {
		server = filepath.Join(ext, yarals.DefaultServerDirName)
	}
	return ext, server, nil
}
