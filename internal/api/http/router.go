package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/supportdesk/triage-service/internal/api/http/handlers"
	"github.com/supportdesk/triage-service/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Queries        *handlers.QueriesHandler
	Assignment     *handlers.AssignmentHandler
	Escalation     *handlers.EscalationHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes. Engine-wide passes and roster changes
// need the admin role; everything else under /api accepts any operator.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	app.Get("/metrics", cfg.Health.Metrics)

	api := app.Group("/api", cfg.AuthMiddleware.Handle, auth.RequireRole(auth.RoleAgent))
	admin := auth.RequireRole(auth.RoleAdmin)

	queries := api.Group("/queries")
	queries.Post("/", cfg.Queries.Create)
	queries.Get("/", cfg.Queries.List)
	queries.Get("/:id", cfg.Queries.Get)
	queries.Put("/:id/assign", cfg.Queries.Assign)
	queries.Get("/:id/activity", cfg.Queries.Activity)
	queries.Patch("/:id/status", cfg.Queries.UpdateStatus)
	queries.Post("/:id/first-response", cfg.Queries.FirstResponse)

	assignment := api.Group("/assignment")
	assignment.Get("/stats", cfg.Assignment.Stats)
	assignment.Get("/agents/:id/load", cfg.Assignment.AgentLoad)
	assignment.Post("/batch", admin, cfg.Assignment.Batch)
	assignment.Post("/manual-assign", cfg.Assignment.ManualAssign)
	assignment.Post("/:id/recategorize", cfg.Assignment.Recategorize)
	assignment.Post("/:id", cfg.Assignment.Assign)

	api.Post("/agents", admin, cfg.Assignment.CreateAgent)

	escalation := api.Group("/escalation")
	escalation.Post("/sweep", admin, cfg.Escalation.Sweep)
	escalation.Get("/at-risk", cfg.Escalation.AtRisk)
	escalation.Get("/stale", cfg.Escalation.Stale)
	escalation.Post("/escalate", cfg.Escalation.Escalate)
}
