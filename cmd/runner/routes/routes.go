package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/simstudio/runner/cmd/runner/handlers"
	"github.com/simstudio/runner/cmd/runner/middleware"
	"github.com/simstudio/runner/common/bootstrap"
	"github.com/simstudio/runner/common/ratelimit"
	"github.com/simstudio/runner/common/repository"
)

// Deps bundles what route registration needs beyond the handlers.
type Deps struct {
	Components *bootstrap.Components
	Users      *repository.UserRepository
	Limiter    *ratelimit.RateLimiter
	Execute    *handlers.ExecuteHandler
	Workflows  *handlers.WorkflowHandler
	Env        *handlers.EnvironmentHandler
}

// Register wires all routes onto the echo instance. Everything under
// /api/v1 requires auth; only execution starts pass the rate limiter.
func Register(e *echo.Echo, deps Deps) {
	e.GET("/health", healthHandler(deps.Components))

	api := e.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(deps.Users, deps.Components.Logger))

	api.POST("/execute/:workflowID", deps.Execute.Execute,
		middleware.RateLimitMiddleware(deps.Limiter, deps.Users, deps.Components.Logger))

	api.GET("/workflows/:id", deps.Workflows.GetWorkflow)
	api.PATCH("/workflows/:id", deps.Workflows.PatchWorkflow)

	api.GET("/environment", deps.Env.ListVariables)
	api.PUT("/environment/:name", deps.Env.SetVariable)
}

func healthHandler(components *bootstrap.Components) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := components.Health(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]any{
				"status": "unhealthy",
				"error":  err.Error(),
			})
		}
		return c.JSON(http.StatusOK, map[string]any{"status": "ok"})
	}
}
