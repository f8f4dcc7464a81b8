package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/korrosivesec/yarals"
)

// bootstrap launches a server with the loaded settings. The returned
// cleanup disposes the server and stops the metrics endpoint.
func (a *app) bootstrap(ctx context.Context) (yarals.Supervisor, func(), error) {
	opts := append(a.cfg.options(), yarals.WithReporter(logReporter{log: a.logger}))

	stopMetrics := func() {}
	if a.cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		stop, err := serveMetrics(a.cfg.MetricsAddr, reg, a.logger)
		if err != nil {
			return nil, nil, fmt.Errorf("metrics endpoint: %w", err)
		}
		stopMetrics = stop
		opts = append(opts, yarals.WithPrometheusRegisterer(reg))
	}

	sup, err := yarals.Bootstrap(ctx, opts...)
	if err != nil {
		stopMetrics()
		return nil, nil, err
	}

	cleanup := func() {
		if err := sup.Dispose(); err != nil {
			a.logger.Warn("dispose", "error", err)
		}
		stopMetrics()
	}
	return sup, cleanup, nil
}
