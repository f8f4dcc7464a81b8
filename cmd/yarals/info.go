package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/korrosivesec/yarals"
)

func newInfoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Launch the server, print its pid and address, and keep it running",
		Long: `info bootstraps the server and prints {"pid","host","port"} as one JSON
line on stdout. The server runs until yarals receives SIGINT or SIGTERM or
the server exits on its own.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			sup, cleanup, err := a.bootstrap(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := json.NewEncoder(cmd.OutOrStdout()).Encode(sup.Server()); err != nil {
				return fmt.Errorf("write server info: %w", err)
			}

			select {
			case <-ctx.Done():
				return nil
			case <-sup.ServerExited():
				return yarals.ErrServerExited
			}
		},
	}
}
