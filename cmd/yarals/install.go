package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/korrosivesec/yarals/internal/install"
)

func newInstallCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Install the server components without launching the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ext, root, err := a.cfg.roots()
			if err != nil {
				return err
			}
			bundle := a.cfg.BundleDir
			if !filepath.IsAbs(bundle) {
				bundle = filepath.Join(ext, bundle)
			}

			g, err := install.New(install.Config{
				BundleDir:   bundle,
				Root:        root,
				EntryScript: a.cfg.EntryScript,
				Logger:      slog.New(a.logger),
			})
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if g.IsInstalled(ctx) {
				a.logger.Info("server components already installed", "root", root)
				return nil
			}
			a.logger.Info("installing server components", "root", root)
			res, err := g.Install(ctx)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(res); err != nil {
				return fmt.Errorf("write result: %w", err)
			}
			return nil
		},
	}
}
