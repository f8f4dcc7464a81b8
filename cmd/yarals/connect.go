package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/korrosivesec/yarals"
)

func newConnectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "connect",
		Short: "Launch the server and relay stdin and stdout over its socket",
		Long: `connect bootstraps the server, waits until it listens and then copies
stdin to the server and the server's output to stdout. Editors that only
speak the language server protocol over stdio can run it as their server
command.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			sup, cleanup, err := a.bootstrap(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := sup.WaitReady(ctx, a.cfg.ReadyTimeout); err != nil {
				return err
			}
			ch, err := sup.Connect(ctx)
			if err != nil {
				return err
			}
			a.logger.Info("connected", "pid", sup.Server().PID, "port", sup.Server().Port)

			return pump(ctx, ch, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

// pump copies in to ch and ch to out. It returns when the server side ends
// or ctx is done, and closes ch either way. End of in stops sending but
// keeps relaying the server's output.
func pump(ctx context.Context, ch yarals.Channel, in io.Reader, out io.Writer) error {
	// A read from in cannot be interrupted, so the copy to the server is not
	// part of the group.
	inDone := make(chan error, 1)
	go func() {
		_, err := io.Copy(ch, in)
		inDone <- err
	}()

	g, ctx := errgroup.WithContext(ctx)
	serverDone := make(chan struct{})

	g.Go(func() error {
		defer close(serverDone)
		_, err := io.Copy(out, ch)
		if err == nil || closed(ch) {
			return nil
		}
		return fmt.Errorf("copy from server: %w", err)
	})

	g.Go(func() error {
		defer ch.Close()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-serverDone:
				return nil
			case err := <-inDone:
				if err != nil && !closed(ch) {
					return fmt.Errorf("copy to server: %w", err)
				}
				inDone = nil
			}
		}
	})

	return g.Wait()
}

// closed reports whether ch has been closed locally. Transfer errors after
// that are the expected result of the close.
func closed(ch yarals.Channel) bool {
	select {
	case <-ch.Closed():
		return true
	default:
		return false
	}
}
