package middleware

import (
	"fmt"
	"math"

	"github.com/labstack/echo/v4"

	"sharebox/internal/infrastructure/ratelimit"
	"sharebox/pkg/errors"
	"sharebox/pkg/logger"
	"sharebox/pkg/response"
)

// RateLimit throttles requests per authenticated user, or per client IP
// before authentication has run.
func RateLimit(limiter *ratelimit.RateLimiter, action string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := UserID(c)
			if key == "" {
				key = c.RealIP()
			}

			allowed, wait := limiter.Allow(key, action)
			if !allowed {
				retryAfter := int(math.Ceil(wait.Seconds()))
				logger.Warn("RATE LIMIT: %s on %s blocked, retry in %ds", key, action, retryAfter)
				c.Response().Header().Set("Retry-After", fmt.Sprint(retryAfter))
				return response.Error(c, errors.TooManyRequests("Rate limit exceeded"))
			}

			return next(c)
		}
	}
}
