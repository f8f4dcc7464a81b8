package metrics

import "time"

// Step names one stage of the bootstrap sequence.
type Step string

// Bootstrap steps in execution order.
const (
	StepInstall Step = "install"
	StepPort    Step = "port"
	StepLaunch  Step = "launch"
	StepConnect Step = "connect"
)

// Install outcomes.
const (
	InstallPresent   = "present"   // already installed, nothing to do
	InstallCompleted = "completed" // copied by this activation
	InstallFailed    = "failed"
)

// Connect outcomes. Refused and other match the connect error classes.
const (
	ConnectOK      = "ok"
	ConnectRefused = "refused"
	ConnectOther   = "other"
)

// Collector receives supervisor measurements. Implementations must be safe
// for concurrent use.
type Collector interface {
	// StepDuration records how long a bootstrap step took and whether it failed.
	StepDuration(step Step, d time.Duration, err error)

	// InstallOutcome records the result of the installation gate.
	InstallOutcome(outcome string)

	// ConnectOutcome records one connection attempt.
	ConnectOutcome(outcome string)

	// ChannelFault records a transport fault after a successful connect.
	ChannelFault()

	// ServerStarted records a launched server.
	ServerStarted()

	// ServerDisposed records a finished disposal.
	ServerDisposed(d time.Duration, err error)
}

type noop struct{}

func (noop) StepDuration(Step, time.Duration, error) {}
func (noop) InstallOutcome(string)                   {}
func (noop) ConnectOutcome(string)                   {}
func (noop) ChannelFault()                           {}
func (noop) ServerStarted()                          {}
func (noop) ServerDisposed(time.Duration, error)     {}

// Noop returns a collector that discards everything.
func Noop() Collector {
	return noop{}
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
