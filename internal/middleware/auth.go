package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/bilal-89/wissahickon-backend/internal/apperr"
	"github.com/bilal-89/wissahickon-backend/pkg/jwtutil"
	"github.com/bilal-89/wissahickon-backend/pkg/logger"
	"github.com/bilal-89/wissahickon-backend/pkg/metrics"
)

// Auth validates the bearer token and stores the caller's claims in the
// context. It proves who the caller is; whether they may do anything in the
// resolved tenant is the permission guard's job.
func Auth(jwt *jwtutil.JWTUtil, rec *metrics.Recorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			log := logger.FromEcho(c)

			authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
			if authHeader == "" {
				rec.RecordAuthError("missing_token")
				return apperr.New(apperr.KindAuthentication, "missing authorization token")
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				rec.RecordAuthError("invalid_auth_format")
				return apperr.New(apperr.KindAuthentication, "invalid authorization format, expected Bearer token")
			}

			claims, err := jwt.ValidateToken(parts[1])
			if err != nil {
				log.Warn("rejected invalid token", zap.Error(err))
				rec.RecordAuthError("invalid_token")
				return apperr.New(apperr.KindAuthentication, "invalid or expired token")
			}

			c.Set(UserKey, claims)
			return next(c)
		}
	}
}
