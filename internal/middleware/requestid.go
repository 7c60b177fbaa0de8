package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/bilal-89/wissahickon-backend/pkg/logger"
)

// RequestIDHeader carries the request id on requests and responses. The id
// doubles as the correlation id returned in 500 bodies.
const RequestIDHeader = "X-Request-ID"

// RequestID tags each request with a unique id and injects a request-scoped
// logger carrying it, into both the echo context and the request context.
func RequestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			requestID := c.Request().Header.Get(RequestIDHeader)
			if requestID == "" {
				requestID = uuid.New().String()
				c.Request().Header.Set(RequestIDHeader, requestID)
			}

			// Echo the id back so clients can quote it in support requests.
			c.Response().Header().Set(RequestIDHeader, requestID)

			ctxLogger := logger.GetLogger().With(zap.String("request_id", requestID))
			c.Set("logger", ctxLogger)

			ctx := logger.WithContext(c.Request().Context(), ctxLogger)
			c.SetRequest(c.Request().WithContext(ctx))

			return next(c)
		}
	}
}
