package middleware

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/simstudio/runner/common/logger"
	"github.com/simstudio/runner/common/repository"
)

// Context keys set by the auth middleware.
const (
	ContextUserID   = "userID"
	ContextAuthMode = "authMode"
)

// Auth modes.
const (
	AuthModeSession = "session"
	AuthModeAPIKey  = "api-key"
)

// AuthMiddleware authenticates requests by session cookie or x-api-key
// header. Requests carrying neither get a 401.
func AuthMiddleware(users *repository.UserRepository, log *logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()

			if apiKey := c.Request().Header.Get("x-api-key"); apiKey != "" {
				userID, err := users.LookupUserByAPIKey(ctx, apiKey)
				if err != nil {
					if errors.Is(err, repository.ErrNotFound) {
						return c.JSON(http.StatusUnauthorized, map[string]any{
							"error": "invalid API key",
						})
					}
					log.Error("api key lookup failed", "error", err)
					return c.JSON(http.StatusInternalServerError, map[string]any{
						"error": "authentication unavailable",
					})
				}
				c.Set(ContextUserID, userID)
				c.Set(ContextAuthMode, AuthModeAPIKey)
				return next(c)
			}

			if cookie, err := c.Cookie("session"); err == nil && cookie.Value != "" {
				userID, err := users.LookupUserBySession(ctx, cookie.Value)
				if err != nil {
					if errors.Is(err, repository.ErrNotFound) {
						return c.JSON(http.StatusUnauthorized, map[string]any{
							"error": "session expired or unknown",
						})
					}
					log.Error("session lookup failed", "error", err)
					return c.JSON(http.StatusInternalServerError, map[string]any{
						"error": "authentication unavailable",
					})
				}
				c.Set(ContextUserID, userID)
				c.Set(ContextAuthMode, AuthModeSession)
				return next(c)
			}

			return c.JSON(http.StatusUnauthorized, map[string]any{
				"error": "authentication required: session cookie or x-api-key header",
			})
		}
	}
}
