package middleware

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/simstudio/runner/common/logger"
	"github.com/simstudio/runner/common/ratelimit"
	"github.com/simstudio/runner/common/repository"
)

// RateLimitMiddleware applies per-user admission control before a run
// starts. Only execution starts are limited; advancement of a running
// workflow never passes through here.
func RateLimitMiddleware(limiter *ratelimit.RateLimiter, users *repository.UserRepository, log *logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			userID, _ := c.Get(ContextUserID).(string)
			if userID == "" {
				return c.JSON(http.StatusUnauthorized, map[string]any{
					"error": "authentication required",
				})
			}

			plan, err := users.LookupPlan(ctx, userID)
			if err != nil {
				log.Error("plan lookup failed", "user_id", userID, "error", err)
				plan = ratelimit.PlanFree
			}

			trigger := triggerFor(c)
			isAsync := c.QueryParam("async") == "true"

			result, err := limiter.Check(ctx, userID, plan, trigger, isAsync)
			if err != nil {
				// Admission control must not take the engine down with it.
				log.Error("rate limit check failed", "user_id", userID, "error", err)
				return next(c)
			}

			c.Response().Header().Set("X-RateLimit-Limit", strconv.FormatInt(result.Limit, 10))
			c.Response().Header().Set("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))

			if !result.Allowed {
				c.Response().Header().Set("Retry-After", strconv.FormatInt(result.RetryAfterSeconds, 10))
				return c.JSON(http.StatusTooManyRequests, map[string]any{
					"error":      "rate limit exceeded",
					"retryAfter": result.RetryAfterSeconds,
				})
			}

			return next(c)
		}
	}
}

// triggerFor derives the trigger type: API-key requests are API triggers,
// session requests are manual, unless the request names a specific trigger.
func triggerFor(c echo.Context) ratelimit.TriggerType {
	if t := c.QueryParam("trigger"); t != "" {
		switch tt := ratelimit.TriggerType(t); tt {
		case ratelimit.TriggerManual, ratelimit.TriggerAPI, ratelimit.TriggerWebhook,
			ratelimit.TriggerSchedule, ratelimit.TriggerChat:
			return tt
		}
	}
	if mode, _ := c.Get(ContextAuthMode).(string); mode == AuthModeAPIKey {
		return ratelimit.TriggerAPI
	}
	return ratelimit.TriggerManual
}
