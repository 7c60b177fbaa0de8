package middleware

import (
	"errors"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/bilal-89/wissahickon-backend/internal/apperr"
	"github.com/bilal-89/wissahickon-backend/internal/model"
	"github.com/bilal-89/wissahickon-backend/internal/permission"
	"github.com/bilal-89/wissahickon-backend/pkg/logger"
)

// RequirePermission gates a route on the caller holding the permission within
// the resolved tenant. It must run after ResolveTenant and Auth; a missing
// tenant means the chain is wired in the wrong order and fails as a server
// error, never as a client one.
//
// A caller with no role in the tenant and a caller whose role lacks the
// permission get the same answer, so a 403 can never be used to probe who
// belongs to a tenant.
func RequirePermission(db *gorm.DB, perm permission.Permission) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			log := logger.FromEcho(c)

			tenant := TenantFromEcho(c)
			if tenant == nil {
				log.Error("permission guard invoked without tenant context",
					zap.String("permission", perm.String()),
					zap.String("path", c.Path()))
				return apperr.New(apperr.KindInternal, "an unexpected error occurred")
			}

			claims := ClaimsFromEcho(c)
			if claims == nil {
				return apperr.New(apperr.KindAuthentication, "missing authorization token")
			}

			var utr model.UserTenantRole
			err := db.WithContext(c.Request().Context()).
				Preload("Role").
				Where("user_id = ? AND tenant_id = ? AND is_active = ?", claims.UserID, tenant.ID, true).
				First(&utr).Error
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return permissionDenied(perm)
				}
				return apperr.Internal(err)
			}

			if !utr.Role.HasPermission(perm) {
				return permissionDenied(perm)
			}

			c.Set(RoleKey, &utr.Role)
			return next(c)
		}
	}
}

func permissionDenied(perm permission.Permission) error {
	return apperr.Newf(apperr.KindPermission, "missing required permission: %s", perm)
}
