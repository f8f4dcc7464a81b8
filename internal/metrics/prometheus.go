package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "yarals"

// Prometheus implements Collector with Prometheus metrics.
type Prometheus struct {
	stepDuration    *prometheus.HistogramVec
	installOutcomes *prometheus.CounterVec
	connectOutcomes *prometheus.CounterVec
	channelFaults   prometheus.Counter
	activeServers   prometheus.Gauge
	disposeDuration *prometheus.HistogramVec
}

// NewPrometheus creates the metrics and registers them with reg. An empty
// namespace uses DefaultNamespace.
func NewPrometheus(namespace string, reg prometheus.Registerer) (*Prometheus, error) {
	if reg == nil {
		return nil, errors.New("prometheus registerer must not be nil")
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}

	p := &Prometheus{
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "bootstrap_step_duration_seconds",
				Help:      "Duration of bootstrap steps",
				Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			},
			[]string{"step", "status"},
		),
		installOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "install_outcomes_total",
				Help:      "Installation gate results",
			},
			[]string{"outcome"},
		),
		connectOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connect_attempts_total",
				Help:      "Connection attempts by outcome",
			},
			[]string{"outcome"},
		),
		channelFaults: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "channel_faults_total",
				Help:      "Transport faults on established channels",
			},
		),
		activeServers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_servers",
				Help:      "Language server processes launched and not yet disposed",
			},
		),
		disposeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dispose_duration_seconds",
				Help:      "Duration of supervisor disposal",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"status"},
		),
	}

	for _, c := range []prometheus.Collector{
		p.stepDuration,
		p.installOutcomes,
		p.connectOutcomes,
		p.channelFaults,
		p.activeServers,
		p.disposeDuration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	return p, nil
}

// StepDuration implements Collector.
func (p *Prometheus) StepDuration(step Step, d time.Duration, err error) {
	p.stepDuration.WithLabelValues(string(step), status(err)).Observe(d.Seconds())
}

// InstallOutcome implements Collector.
func (p *Prometheus) InstallOutcome(outcome string) {
	p.installOutcomes.WithLabelValues(outcome).Inc()
}

// ConnectOutcome implements Collector.
func (p *Prometheus) ConnectOutcome(outcome string) {
	p.connectOutcomes.WithLabelValues(outcome).Inc()
}

// ChannelFault implements Collector.
func (p *Prometheus) ChannelFault() {
	p.channelFaults.Inc()
}

// ServerStarted implements Collector.
func (p *Prometheus) ServerStarted() {
	p.activeServers.Inc()
}

// ServerDisposed implements Collector.
func (p *Prometheus) ServerDisposed(d time.Duration, err error) {
	p.activeServers.Dec()
	p.disposeDuration.WithLabelValues(status(err)).Observe(d.Seconds())
}
