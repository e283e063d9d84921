package commands

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"ontimecar-scraper/internal/httpapi"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"
)

func newServeCmd(load configLoader) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the lookup API over HTTP.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Server.Listen = listen
			}
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

			var mounts []func(chi.Router)
			if cfg.MCP.SSEEnabled {
				srv, err := a.mcpServer()
				if err != nil {
					return err
				}
				mounts = append(mounts, srv.Mount)
			}

			router := httpapi.NewRouter(&httpapi.Handler{
				Name:        cfg.Server.Name,
				Version:     cfg.Server.Version,
				DefaultView: cfg.DefaultView,
				Lookups:     a.service,
				Registry:    a.registry,
				Browser:     a.manager,
				Journal:     a.engine,
				Logger:      logger,
			}, mounts...)

			return listenAndServe(cmd.Context(), &http.Server{
				Addr:              cfg.Server.Listen,
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
			}, a)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Listen address override (e.g. :3000)")
	return cmd
}

// listenAndServe runs srv until ctx ends, then drains in-flight lookups.
func listenAndServe(ctx context.Context, srv *http.Server, a *app) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening",
			"addr", srv.Addr, "views", a.registry.Names(), "gate_wait", a.cfg.Gate.Wait(), "sse", a.cfg.MCP.SSEEnabled)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.RequestDeadline())
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
