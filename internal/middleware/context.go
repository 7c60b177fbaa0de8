package middleware

import (
	"context"

	"github.com/labstack/echo/v4"

	"github.com/bilal-89/wissahickon-backend/internal/model"
	"github.com/bilal-89/wissahickon-backend/pkg/jwtutil"
)

// Echo context keys shared between the middleware chain and the handlers.
const (
	// TenantKey holds the *model.Tenant resolved for the request.
	TenantKey = "tenant"
	// UserKey holds the *jwtutil.UserClaims of the authenticated caller.
	UserKey = "user"
	// RoleKey holds the *model.Role resolved by the permission guard.
	RoleKey = "role"
	// SanitizedBodyKey holds the sanitized request body as a map, stashed by
	// the sanitize middleware for the audit wrapper.
	SanitizedBodyKey = "sanitized_body"
	// AuditEntityKey holds the id of the entity a handler created or changed,
	// for routes where the id is only known after the handler ran.
	AuditEntityKey = "audit_entity_id"
)

type contextKey int

const tenantContextKey contextKey = iota

// TenantFromEcho returns the tenant resolved for this request, or nil when
// tenant resolution has not run.
func TenantFromEcho(c echo.Context) *model.Tenant {
	tenant, ok := c.Get(TenantKey).(*model.Tenant)
	if !ok {
		return nil
	}
	return tenant
}

// ClaimsFromEcho returns the authenticated caller's claims, or nil when the
// request carries no validated credential.
func ClaimsFromEcho(c echo.Context) *jwtutil.UserClaims {
	claims, ok := c.Get(UserKey).(*jwtutil.UserClaims)
	if !ok {
		return nil
	}
	return claims
}

// RoleFromEcho returns the caller's role within the resolved tenant, set by
// the permission guard.
func RoleFromEcho(c echo.Context) *model.Role {
	role, ok := c.Get(RoleKey).(*model.Role)
	if !ok {
		return nil
	}
	return role
}

// TenantToContext stores the tenant in a plain context, so code that only
// receives a context.Context (the audit recorder, background work) can still
// see the request's tenant.
func TenantToContext(ctx context.Context, tenant *model.Tenant) context.Context {
	return context.WithValue(ctx, tenantContextKey, tenant)
}

// TenantFromContext returns the tenant stored by TenantToContext, or nil.
func TenantFromContext(ctx context.Context) *model.Tenant {
	tenant, ok := ctx.Value(tenantContextKey).(*model.Tenant)
	if !ok {
		return nil
	}
	return tenant
}

// SetAuditEntity records the id of the entity this request created or
// changed, so the audit wrapper can attach it to the entry.
func SetAuditEntity(c echo.Context, id string) {
	c.Set(AuditEntityKey, id)
}
