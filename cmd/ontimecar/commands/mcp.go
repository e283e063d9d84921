package commands

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func newMCPCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the lookup tools over MCP stdio.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			// stdout carries the protocol, logs go to stderr.
			logger := newLogger(cfg.Server, os.Stderr)

			if _, _, err := cfg.Session.Credentials(); err != nil {
				return err
			}

			a, err := newApp(cfg, nil, logger)
			if err != nil {
				return err
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				a.shutdown(ctx)
			}()

			srv, err := a.mcpServer()
			if err != nil {
				return err
			}
			logger.Info("mcp stdio server starting", "views", a.registry.Names())
			if err := srv.Start(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}
