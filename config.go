package yarals

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/korrosivesec/yarals/internal/core"
	"github.com/korrosivesec/yarals/internal/metrics"
)

// bootstrapConfig wraps core.SupervisorConfig with the settings that only
// exist at the API surface and are resolved into it by resolve.
type bootstrapConfig struct {
	core.SupervisorConfig

	bundleDir   string
	entryScript string
	argsSet     bool
	registerer  prometheus.Registerer
}

func defaultBootstrapConfig() bootstrapConfig {
	return bootstrapConfig{
		SupervisorConfig: core.SupervisorConfig{
			Host:        DefaultHost,
			Executable:  DefaultExecutable,
			DialTimeout: DefaultDialTimeout,
			StopTimeout: DefaultStopTimeout,
		},
		bundleDir:   DefaultBundleDir,
		entryScript: DefaultEntryScript,
	}
}

// resolve fills in every value derived from other settings and returns the
// final core configuration.
func (c bootstrapConfig) resolve() (core.SupervisorConfig, error) {
	out := c.SupervisorConfig

	if out.ExtensionRoot == "" {
		wd, err := os.Getwd()
		if err != nil {
			return core.SupervisorConfig{}, fmt.Errorf("resolve extension root: %w", err)
		}
		out.ExtensionRoot = wd
	}
	if out.ServerRoot == "" {
		out.ServerRoot = filepath.Join(out.ExtensionRoot, DefaultServerDirName)
	}
	if !c.argsSet {
		out.Args = []string{c.entryScript}
	} else {
		out.Args = slices.Clone(out.Args)
	}
	out.Env = slices.Clone(out.Env)

	if out.Installer == nil {
		out.Installer = core.DirInstaller{BundleDir: c.bundleDir, EntryScript: c.entryScript}
	}
	if out.Reporter == nil {
		out.Reporter = core.LogReporter{}
	}
	if c.registerer != nil {
		m, err := prometheusCollector(c.registerer)
		if err != nil {
			return core.SupervisorConfig{}, err
		}
		out.Metrics = m
	}

	return out, nil
}

// collectors keeps one Prometheus collector per registerer so repeated
// Bootstrap calls share the registered metrics.
var (
	collectorsMu sync.Mutex
	collectors   = map[prometheus.Registerer]*metrics.Prometheus{}
)

func prometheusCollector(reg prometheus.Registerer) (*metrics.Prometheus, error) {
	collectorsMu.Lock()
	defer collectorsMu.Unlock()

	if m, ok := collectors[reg]; ok {
		return m, nil
	}
	m, err := metrics.NewPrometheus(metrics.DefaultNamespace, reg)
	if err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			return nil, fmt.Errorf("metrics already registered by another component: %w", err)
		}
		return nil, err
	}
	collectors[reg] = m
	return m, nil
}
