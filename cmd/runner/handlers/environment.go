package handlers

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/simstudio/runner/cmd/runner/middleware"
	"github.com/simstudio/runner/common/logger"
	"github.com/simstudio/runner/common/repository"
)

// EnvironmentHandler serves the caller's environment variables. Values
// are masked on the way out; plaintext only ever flows into the engine.
type EnvironmentHandler struct {
	envvars *repository.EnvVarRepository
	log     *logger.Logger
}

// NewEnvironmentHandler creates an environment-variable handler.
func NewEnvironmentHandler(envvars *repository.EnvVarRepository, log *logger.Logger) *EnvironmentHandler {
	return &EnvironmentHandler{envvars: envvars, log: log}
}

// ListVariables returns the caller's variables with masked values.
// GET /api/v1/environment
func (h *EnvironmentHandler) ListVariables(c echo.Context) error {
	userID, _ := c.Get(middleware.ContextUserID).(string)

	vars, err := h.envvars.LoadEnvironmentVariables(c.Request().Context(), userID)
	if err != nil {
		return c.JSON(statusFor(err), errorBody(err))
	}

	masked := make(map[string]string, len(vars))
	for name, value := range vars {
		masked[name] = repository.MaskValue(value)
	}
	return c.JSON(http.StatusOK, map[string]any{"variables": masked})
}

// SetVariable upserts one variable for the caller.
// PUT /api/v1/environment/:name
func (h *EnvironmentHandler) SetVariable(c echo.Context) error {
	userID, _ := c.Get(middleware.ContextUserID).(string)
	name := c.Param("name")

	var req struct {
		Value string `json:"value"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]any{
			"error": fmt.Sprintf("invalid request body: %v", err),
		})
	}

	if err := h.envvars.SaveEnvironmentVariable(c.Request().Context(), userID, name, req.Value); err != nil {
		return c.JSON(statusFor(err), errorBody(err))
	}

	h.log.Info("environment variable saved", "user_id", userID, "name", name)
	return c.JSON(http.StatusOK, map[string]any{
		"name":  name,
		"value": repository.MaskValue(req.Value),
	})
}
