package core

import "log/slog"

// Reporter shows bootstrap and connection messages to the user.
// Implementations must be safe for concurrent use.
type Reporter interface {
	// Info shows an informational message.
	Info(msg string)
	// Error shows an error message.
	Error(msg string)
	// Status replaces the persistent connection status line.
	Status(msg string)
}

// User-facing messages.
const (
	MsgInstalling     = "Installing YARA Language Server components into "
	MsgInstalled      = "Successfully installed server components"
	MsgInstallFailed  = "Failed to install server components"
	MsgRefused        = "Could not connect to YARA Language Server. Is it running?"
	MsgNotConnected   = "Not connected to YARA Language Server"
	MsgStartedWithPID = "Language Server started with PID: "
	userErrorPrefix   = "YARA: "
)

// LogReporter writes user messages to a slog.Logger.
type LogReporter struct {
	Logger *slog.Logger // nil uses Logger()
}

func (r LogReporter) log() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return Logger()
}

// Info implements Reporter.
func (r LogReporter) Info(msg string) { r.log().Info(msg) }

// Error implements Reporter.
func (r LogReporter) Error(msg string) { r.log().Error(msg) }

// Status implements Reporter.
func (r LogReporter) Status(msg string) { r.log().Info("status", "text", msg) }
