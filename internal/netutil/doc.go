// Package netutil allocates ephemeral TCP ports for language server launches.
// PortRegistry asks the kernel for a free port on the listen host and records
// every port it hands out, so two activations in the same process never get
// the same port even though the kernel may recycle it once the scratch listener
// is closed.
package netutil
