package yarals

import (
	"time"
)

// ConfigSnapshot holds a copy of the resolved configuration for test
// assertions. Exported only via export_test.go so that the _test package
// can verify option closures without accessing internals.
type ConfigSnapshot struct {
	Host          string
	ExtensionRoot string
	ServerRoot    string
	Executable    string
	Args          []string
	Env           []string
	LogDir        string
	DialTimeout   time.Duration
	StopTimeout   time.Duration
	StrictInstall bool
	HasInstaller  bool
	HasReporter   bool
	HasMetrics    bool
}

// ApplyOptionsForTesting applies opts to the default configuration,
// resolves it and returns a ConfigSnapshot of the result.
func ApplyOptionsForTesting(opts ...Option) (ConfigSnapshot, error) {
	cfg := defaultBootstrapConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	out, err := cfg.resolve()
	if err != nil {
		return ConfigSnapshot{}, err
	}

	return ConfigSnapshot{
		Host:          out.Host,
		ExtensionRoot: out.ExtensionRoot,
		ServerRoot:    out.ServerRoot,
		Executable:    out.Executable,
		Args:          out.Args,
		Env:           out.Env,
		LogDir:        out.LogDir,
		DialTimeout:   out.DialTimeout,
		StopTimeout:   out.StopTimeout,
		StrictInstall: out.StrictInstall,
		HasInstaller:  out.Installer != nil,
		HasReporter:   out.Reporter != nil,
		HasMetrics:    out.Metrics != nil,
	}, nil
}
