package middleware

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/bilal-89/wissahickon-backend/internal/apperr"
	"github.com/bilal-89/wissahickon-backend/pkg/logger"
	"github.com/bilal-89/wissahickon-backend/pkg/metrics"
	"github.com/bilal-89/wissahickon-backend/pkg/ratelimit"
)

// Rate limit response headers, set on every response the limiter saw so
// clients can self-throttle before hitting the wall.
const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
	HeaderRetryAfter         = "Retry-After"
)

// RateLimit admission-controls requests against a fixed window keyed by the
// client address and, when tenant resolution has already run, the tenant id,
// so the same client gets an independent budget per tenant. The limiter fails
// open: if Redis cannot be consulted the request proceeds without headers,
// because serving traffic outranks enforcing limits.
func RateLimit(limiter *ratelimit.Limiter, rec *metrics.Recorder, scope string, limit int, window time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if limiter == nil {
				return next(c)
			}

			tenantID := ""
			if tenant := TenantFromEcho(c); tenant != nil {
				tenantID = tenant.ID
			}

			decision, err := limiter.Allow(c.Request().Context(), scope, c.RealIP(), tenantID, limit, window)
			if err != nil {
				logger.FromEcho(c).Warn("rate limiter unavailable, allowing request",
					zap.Error(err),
					zap.String("scope", scope))
				return next(c)
			}

			h := c.Response().Header()
			h.Set(HeaderRateLimitLimit, strconv.Itoa(decision.Limit))
			h.Set(HeaderRateLimitRemaining, strconv.Itoa(decision.Remaining))
			h.Set(HeaderRateLimitReset, strconv.Itoa(int(decision.Reset.Seconds())))

			if !decision.Allowed {
				h.Set(HeaderRetryAfter, strconv.Itoa(int(decision.RetryAfter.Seconds())))
				if rec != nil {
					rec.RecordRateLimitRejection(scope)
				}
				return apperr.New(apperr.KindRateLimited, "rate limit exceeded")
			}

			return next(c)
		}
	}
}
