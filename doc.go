// Package yarals starts the YARA language server for an editor client and
// hands back a byte channel to it.
//
// Bootstrap runs the activation sequence once: it installs the server
// components if they are missing, picks a free loopback port, launches the
// server bound to that port and returns a Supervisor that owns the process.
// The channel is opened lazily with Connect, because the server needs a
// moment to start listening.
//
// # Basic Usage
//
//	import "github.com/korrosivesec/yarals"
//
//	sup, err := yarals.Bootstrap(ctx, yarals.WithExtensionRoot(extDir))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer sup.Dispose()
//
//	if err := sup.WaitReady(ctx, yarals.DefaultReadyTimeout); err != nil {
//	    log.Fatal(err)
//	}
//	ch, err := sup.Connect(ctx)
//	if yarals.IsRefused(err) {
//	    // nothing is listening on sup.Server().Port yet; retry later
//	}
//
// # Lifecycle
//
// The Supervisor is tied to the context passed to Bootstrap: when that
// context is canceled the channel is closed, the server is stopped and its
// port is released. Dispose does the same explicitly and is safe to call
// more than once.
package yarals
