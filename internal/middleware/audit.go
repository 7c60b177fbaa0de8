package middleware

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/bilal-89/wissahickon-backend/internal/audit"
)

// AuditRecorder records audit entries. Satisfied by *audit.Recorder.
type AuditRecorder interface {
	Record(ctx context.Context, entry audit.Entry)
}

// EntityIDFunc extracts the id of the entity a request acted on. It runs
// after the handler, so ids assigned during the request are visible.
type EntityIDFunc func(c echo.Context) *string

// AuditEntityFromParam reads the entity id from a path parameter.
func AuditEntityFromParam(name string) EntityIDFunc {
	return func(c echo.Context) *string {
		if value := c.Param(name); value != "" {
			return &value
		}
		return nil
	}
}

// AuditEntityFromContext reads the entity id a handler stashed with
// SetAuditEntity, for create routes where the id exists only after the
// handler ran.
func AuditEntityFromContext() EntityIDFunc {
	return func(c echo.Context) *string {
		if value, ok := c.Get(AuditEntityKey).(string); ok && value != "" {
			return &value
		}
		return nil
	}
}

// Audited records the request in the audit log after the handler succeeds.
// By then the handler's transaction has committed, and the recorder writes in
// its own transaction, so an audit failure can neither roll back nor fail the
// business operation. Failed requests (any error, or a 4xx/5xx response) are
// not recorded.
func Audited(recorder AuditRecorder, action, entityType string, entityID EntityIDFunc) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if err := next(c); err != nil {
				return err
			}
			if c.Response().Status >= http.StatusBadRequest {
				return nil
			}

			entry := audit.Entry{
				Action:     action,
				EntityType: entityType,
				IPAddress:  c.RealIP(),
				UserAgent:  c.Request().UserAgent(),
				Endpoint:   c.Request().URL.Path,
				Method:     c.Request().Method,
			}

			if tenant := TenantFromEcho(c); tenant != nil {
				entry.TenantID = &tenant.ID
			}
			if claims := ClaimsFromEcho(c); claims != nil {
				entry.UserID = &claims.UserID
			}
			if entityID != nil {
				entry.EntityID = entityID(c)
			}
			if body := SanitizedBody(c); body != nil {
				entry.Changes = body
			}

			recorder.Record(c.Request().Context(), entry)
			return nil
		}
	}
}
