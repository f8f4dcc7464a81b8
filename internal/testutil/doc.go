// Package testutil provides a fake language server for tests. Test binaries
// re-execute themselves as the server (the os/exec helper-process pattern),
// so launch, connect, and teardown are exercised against a real child process
// without any interpreter installed.
package testutil
