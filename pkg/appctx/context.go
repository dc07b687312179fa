// Package appctx provides the application context that holds all runtime dependencies.
package appctx

import (
	"fmt"

	"course-portal-go/pkg/config"
	"course-portal-go/pkg/logging"
	"course-portal-go/pkg/portal"
	"course-portal-go/pkg/services"
)

// Context holds all application runtime dependencies.
// Pass this single struct to components instead of individual parameters.
type Context struct {
	Config    *config.Config
	Log       *logging.Logger
	Portal    *portal.Blackboard
	Downloads *services.DownloadManager
	BaseURL   string
}

// New creates a new application context.
func New(cfg *config.Config, log *logging.Logger) *Context {
	return &Context{
		Config:  cfg,
		Log:     log,
		BaseURL: fmt.Sprintf("http://localhost:%d", cfg.Port),
	}
}

// WithPortal sets the logged-in portal session.
func (c *Context) WithPortal(bb *portal.Blackboard) *Context {
	c.Portal = bb
	return c
}

// WithDownloads sets the download manager.
func (c *Context) WithDownloads(dm *services.DownloadManager) *Context {
	c.Downloads = dm
	return c
}
