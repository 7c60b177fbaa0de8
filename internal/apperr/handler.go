package apperr

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/bilal-89/wissahickon-backend/pkg/logger"
)

// NewHTTPErrorHandler returns the echo error handler that translates errors
// into the JSON error contract. Handlers and middleware return errors; this
// is the single place failed requests are turned into responses, so the body
// shape stays identical no matter which stage rejected the request.
func NewHTTPErrorHandler() echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		log := logger.FromEcho(c)

		kind := KindInternal
		message := "an unexpected error occurred"
		status := http.StatusInternalServerError

		var appErr *Error
		var httpErr *echo.HTTPError
		switch {
		case errors.As(err, &appErr):
			kind = appErr.Kind
			message = appErr.Message
			status = kind.Status()
		case errors.As(err, &httpErr):
			// Errors raised by echo itself: unknown routes, method
			// mismatches, the body limit middleware.
			status = httpErr.Code
			kind = kindForStatus(status)
			if msg, ok := httpErr.Message.(string); ok {
				message = msg
			}
		}

		body := echo.Map{
			"error":   string(kind),
			"message": message,
		}

		if status >= http.StatusInternalServerError {
			errorID := c.Response().Header().Get("X-Request-ID")
			body["error_id"] = errorID
			log.Error("request failed",
				zap.Error(err),
				zap.String("error_id", errorID),
				zap.String("path", c.Request().URL.Path),
			)
		} else {
			log.Warn("request rejected",
				zap.String("kind", string(kind)),
				zap.String("message", message),
				zap.Int("status", status),
			)
		}

		var writeErr error
		if c.Request().Method == http.MethodHead {
			writeErr = c.NoContent(status)
		} else {
			writeErr = c.JSON(status, body)
		}
		if writeErr != nil {
			log.Error("failed to write error response", zap.Error(writeErr))
		}
	}
}

func kindForStatus(status int) Kind {
	switch status {
	case http.StatusBadRequest:
		return KindValidation
	case http.StatusUnauthorized:
		return KindAuthentication
	case http.StatusForbidden:
		return KindPermission
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusRequestEntityTooLarge:
		return KindPayloadTooLarge
	case http.StatusUnsupportedMediaType:
		return KindUnsupportedMedia
	case http.StatusTooManyRequests:
		return KindRateLimited
	default:
		if status >= http.StatusInternalServerError {
			return KindInternal
		}
		return KindValidation
	}
}
