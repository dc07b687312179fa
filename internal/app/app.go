// Package app provides the main application setup and dependency injection.
package app

import (
	"context"
	"errors"
	"fmt"

	"course-portal-go/pkg/appctx"
	"course-portal-go/pkg/cache"
	"course-portal-go/pkg/config"
	"course-portal-go/pkg/handlers/api"
	"course-portal-go/pkg/handlers/streams"
	"course-portal-go/pkg/httpclient"
	"course-portal-go/pkg/logging"
	"course-portal-go/pkg/portal"
	"course-portal-go/pkg/server"
	"course-portal-go/pkg/services"
)

// App is the main application container.
type App struct {
	Ctx        *appctx.Context
	HTTPClient *httpclient.Client
	Cache      *cache.Cache
	Client     *portal.Client
	Remuxer    *services.Remuxer
}

// New wires every component from cfg. It does not contact the portal.
func New(cfg *config.Config, log *logging.Logger) (*App, error) {
	log.Info("initializing course portal client", "portal", cfg.PortalBaseURL, "log_level", cfg.LogLevel)

	ctx := appctx.New(cfg, log)

	httpClient := httpclient.New(cfg, log)

	c, err := cache.New(cfg.CacheDir, log)
	if err != nil {
		return nil, fmt.Errorf("init cache: %w", err)
	}

	remuxer := services.NewRemuxer(cfg, log)

	dm, err := services.NewDownloadManager(cfg, log, remuxer)
	if err != nil {
		log.Warn("failed to initialize download manager", "error", err)
	} else {
		ctx.WithDownloads(dm)
	}

	return &App{
		Ctx:        ctx,
		HTTPClient: httpClient,
		Cache:      c,
		Client:     portal.New(cfg, httpClient, c, log),
		Remuxer:    remuxer,
	}, nil
}

// Login signs in with the configured account and stores the session.
func (a *App) Login(ctx context.Context) (*portal.Blackboard, error) {
	cfg := a.Ctx.Config
	if !cfg.HasCredentials() {
		return nil, errors.New("no portal account configured: set PORTAL_USERNAME and PORTAL_PASSWORD")
	}
	bb, err := a.Client.Login(ctx, cfg.Username, cfg.Password)
	if err != nil {
		return nil, err
	}
	a.Ctx.WithPortal(bb)
	a.Ctx.Log.Info("logged in", "username", cfg.Username)
	return bb, nil
}

// Server builds the HTTP server with the API and stream routes.
func (a *App) Server() *server.Server {
	srv := server.New(a.Ctx.Config, a.Ctx.Log)

	api.NewHandlers(a.Ctx).RegisterRoutes(srv.Router())

	hlsHandler := streams.NewHLSHandler(a.openVideo, a.Ctx.Config.CacheTTL, a.Ctx.Log)
	hlsHandler.RegisterRoutes(srv.Router())

	return srv
}

// Serve logs in and runs the server until ctx is done.
func (a *App) Serve(ctx context.Context) error {
	if _, err := a.Login(ctx); err != nil {
		return err
	}
	a.Ctx.Log.Info("starting course portal server", "port", a.Ctx.Config.Port)
	return a.Server().Start(ctx)
}

func (a *App) openVideo(ctx context.Context, courseID string, index int) (streams.Video, error) {
	if a.Ctx.Portal == nil {
		return nil, errors.New("not logged in to the portal")
	}
	handle, err := a.Ctx.Portal.VideoAt(ctx, courseID, index)
	if err != nil {
		return nil, err
	}
	v, err := handle.Get(ctx)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown() {
	a.Ctx.Log.Info("shutting down application")

	if a.Ctx.Downloads != nil {
		a.Ctx.Downloads.Close()
	}
}
