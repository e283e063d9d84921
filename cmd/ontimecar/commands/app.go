package commands

import (
	"context"
	"fmt"
	"log/slog"

	"ontimecar-scraper/internal/browser"
	"ontimecar-scraper/internal/config"
	"ontimecar-scraper/internal/extraction"
	"ontimecar-scraper/internal/mangle"
	"ontimecar-scraper/internal/mcp"
	"ontimecar-scraper/internal/recorder"
	"ontimecar-scraper/internal/schema"
)

// app is the wired lookup stack shared by serve and mcp.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	engine   *mangle.Engine
	registry *schema.Registry
	manager  *browser.SessionManager
	service  *extraction.Service
}

func newApp(cfg config.Config, factory browser.ContextFactory, logger *slog.Logger) (*app, error) {
	engine, err := mangle.NewEngine(cfg.Mangle)
	if err != nil {
		return nil, fmt.Errorf("initialize journal: %w", err)
	}
	registry, err := schema.NewRegistry(cfg.Views)
	if err != nil {
		return nil, fmt.Errorf("load views: %w", err)
	}

	var rec *recorder.Recorder
	if cfg.Server.TraceDir != "" {
		rec, err = recorder.NewRecorder(cfg.Server.TraceDir, cfg.Server.TraceKeep)
		if err != nil {
			return nil, fmt.Errorf("initialize traces: %w", err)
		}
	}

	manager := browser.NewSessionManager(cfg, factory, engine, logger)
	return &app{
		cfg:      cfg,
		logger:   logger,
		engine:   engine,
		registry: registry,
		manager:  manager,
		service:  extraction.NewService(cfg, registry, manager, engine, rec, logger),
	}, nil
}

func (a *app) mcpServer() (*mcp.Server, error) {
	return mcp.NewServer(a.cfg, a.service, a.registry, a.manager, a.engine, a.logger)
}

func (a *app) shutdown(ctx context.Context) {
	if err := a.manager.Shutdown(ctx); err != nil {
		a.logger.Warn("browser shutdown", "error", err)
	}
}
