package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spec-kit/ticket-agent/internal/api/http/handlers"
	"github.com/spec-kit/ticket-agent/internal/auth"
	"github.com/spec-kit/ticket-agent/internal/domain"
	"github.com/spec-kit/ticket-agent/internal/observability"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Auth           *handlers.AuthHandler
	Runs           *handlers.RunsHandler
	AuthMiddleware *auth.AuthMiddleware
	Metrics        *observability.Metrics
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil && cfg.Metrics.Registry != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(cfg.Metrics.Registry, promhttp.HandlerOpts{})))
	}

	app.Post("/auth/token", cfg.Auth.Token)

	v1 := app.Group("/v1", cfg.AuthMiddleware.Handle)
	v1.Post("/runs", auth.RequireRole(domain.ClientRoleOperator), cfg.Runs.StartRun)
	v1.Get("/runs/:id", auth.RequireRole(domain.ClientRoleViewer), cfg.Runs.GetRun)
	v1.Get("/runs/:id/history", auth.RequireRole(domain.ClientRoleViewer), cfg.Runs.ListHistory)
	v1.Post("/runs/:id/reply", auth.RequireRole(domain.ClientRoleOperator), cfg.Runs.Reply)
	v1.Get("/tickets/:id/runs", auth.RequireRole(domain.ClientRoleViewer), cfg.Runs.ListTicketRuns)
}
