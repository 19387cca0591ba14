// Package httpapi serves the admin API of a running log pipeline: token
// issue, provider management, log views, dead letter inspection and stats.
package httpapi

import (
	"context"
	"net/http"

	"logpipe/internal/app"
	"logpipe/internal/auth"
	"logpipe/internal/config"
	"logpipe/internal/dispatch"
	"logpipe/internal/middleware"
	"logpipe/internal/models"
	"logpipe/internal/providers"
	"logpipe/internal/queue"
	"logpipe/internal/storage"
	"logpipe/internal/utils"
)

// Pipeline is the part of app.Pipeline the admin API drives.
type Pipeline interface {
	Providers() []app.ProviderStatus
	Catalog() *config.Catalog
	Enable(ctx context.Context, d providers.Descriptor) error
	Disable(ctx context.Context, d providers.Descriptor) error
	Reload(ctx context.Context) error
	View(ctx context.Context, d providers.Descriptor, limit int) ([]*models.LogMessage, error)
	Stats() dispatch.Stats
	DatabaseStats() (storage.DBStats, bool)
	Failures(ctx context.Context, limit int) ([]queue.DeadLetterItem, error)
	Redeliver(ctx context.Context, id string) error
	Health(ctx context.Context) error
}

// Dependencies aggregates the services the HTTP layer needs.
type Dependencies struct {
	Pipeline Pipeline
	Auth     *auth.Authenticator
	Logger   *utils.Logger
}

// NewRouter creates the admin API router.
func NewRouter(deps *Dependencies) *http.ServeMux {
	if deps.Logger == nil {
		deps.Logger = utils.NewLogger("httpapi")
	}

	mux := http.NewServeMux()
	registerRoutes(mux, deps)
	return mux
}

func registerRoutes(mux *http.ServeMux, deps *Dependencies) {
	// Public
	mux.HandleFunc("GET /health", deps.handleHealth)

	authHandler := NewAdminAuthHandler(deps.Auth, deps.Logger)
	mux.HandleFunc("POST /admin/auth/token", authHandler.Token)

	viewer := middleware.RequireRole(deps.Auth, auth.RoleViewer)
	admin := middleware.RequireRole(deps.Auth, auth.RoleAdmin)

	providersHandler := NewAdminProvidersHandler(deps.Pipeline, deps.Logger)
	mux.Handle("GET /admin/providers", viewer(http.HandlerFunc(providersHandler.List)))
	mux.Handle("POST /admin/providers", admin(http.HandlerFunc(providersHandler.Enable)))
	mux.Handle("DELETE /admin/providers", admin(http.HandlerFunc(providersHandler.Disable)))
	mux.Handle("POST /admin/catalog/reload", admin(http.HandlerFunc(providersHandler.Reload)))

	logsHandler := NewAdminLogsHandler(deps.Pipeline, deps.Logger)
	mux.Handle("GET /admin/logs", viewer(http.HandlerFunc(logsHandler.View)))
	mux.Handle("GET /admin/failures", viewer(http.HandlerFunc(logsHandler.Failures)))
	mux.Handle("POST /admin/failures/{id}/retry", admin(http.HandlerFunc(logsHandler.Retry)))
	mux.Handle("GET /admin/stats", viewer(http.HandlerFunc(logsHandler.Stats)))
}

func (d *Dependencies) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := d.Pipeline.Health(r.Context()); err != nil {
		d.Logger.Warn("Health check failed", "error", err)
		utils.RespondWithJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
