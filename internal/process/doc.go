// Package process launches the language server as a background child process
// and owns its lifecycle: one cmd.Wait goroutine per process, an Exited
// broadcast channel, idempotent fire-and-forget termination, and a bounded
// SIGTERM-then-SIGKILL stop that reaps the child. Child stdout and stderr are
// written to log files and never read.
package process
