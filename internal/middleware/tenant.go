package middleware

import (
	"errors"
	"net"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/bilal-89/wissahickon-backend/internal/apperr"
	"github.com/bilal-89/wissahickon-backend/internal/model"
	"github.com/bilal-89/wissahickon-backend/pkg/logger"
)

// TenantIDHeader selects a tenant explicitly. Honored only in development;
// production routing goes through the Host subdomain.
const TenantIDHeader = "X-Tenant-ID"

// reservedSubdomains never resolve to a tenant.
var reservedSubdomains = map[string]struct{}{
	"localhost": {},
	"www":       {},
	"api":       {},
}

// ResolveTenant establishes the tenant context every downstream stage depends
// on. Production resolves strictly by subdomain. Development adds two
// conveniences: an explicit X-Tenant-ID header, and when the database has no
// tenants at all, a synthesized "Development Tenant". The auto-create must
// never run in a deployed environment, which is why it hangs off the
// development flag rather than a setting of its own.
//
// A missing tenant and a deactivated tenant fail differently (404 vs 403):
// clients are told when a workspace exists but has been switched off.
func ResolveTenant(db *gorm.DB, development bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tenant, err := resolveTenant(c, db, development)
			if err != nil {
				return err
			}

			if !tenant.IsActive {
				return apperr.New(apperr.KindPermission, "tenant is inactive")
			}

			c.Set(TenantKey, tenant)
			ctx := TenantToContext(c.Request().Context(), tenant)
			c.SetRequest(c.Request().WithContext(ctx))

			return next(c)
		}
	}
}

func resolveTenant(c echo.Context, db *gorm.DB, development bool) (*model.Tenant, error) {
	ctx := c.Request().Context()

	if development {
		if id := c.Request().Header.Get(TenantIDHeader); id != "" {
			var tenant model.Tenant
			err := db.WithContext(ctx).First(&tenant, "id = ?", id).Error
			if err == nil {
				return &tenant, nil
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, apperr.Internal(err)
			}
			// Fall through: an unknown header id behaves like no header.
		}

		var tenant model.Tenant
		err := db.WithContext(ctx).Where("is_active = ?", true).Order("created_at").First(&tenant).Error
		if err == nil {
			return &tenant, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.Internal(err)
		}

		return createDevelopmentTenant(c, db)
	}

	subdomain := SubdomainFromHost(c.Request().Host)
	if subdomain == "" {
		return nil, apperr.New(apperr.KindNotFound, "tenant not found")
	}
	if _, reserved := reservedSubdomains[subdomain]; reserved {
		return nil, apperr.New(apperr.KindNotFound, "tenant not found")
	}

	var tenant model.Tenant
	err := db.WithContext(ctx).Where("subdomain = ?", subdomain).First(&tenant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "tenant not found")
		}
		return nil, apperr.Internal(err)
	}
	return &tenant, nil
}

// createDevelopmentTenant persists a default tenant with its standard role
// set, so a fresh local database is usable without seeding. Only reachable in
// development mode.
func createDevelopmentTenant(c echo.Context, db *gorm.DB) (*model.Tenant, error) {
	tenant := model.Tenant{
		Name:      "Development Tenant",
		Subdomain: "development",
		IsActive:  true,
	}

	err := db.WithContext(c.Request().Context()).Transaction(func(tx *gorm.DB) error {
		// Another request may have created it between our lookup and now.
		var existing model.Tenant
		if err := tx.Where("subdomain = ?", tenant.Subdomain).First(&existing).Error; err == nil {
			tenant = existing
			return nil
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		if err := tx.Create(&tenant).Error; err != nil {
			return err
		}
		roles := model.DefaultRoles(tenant.ID)
		return tx.Create(&roles).Error
	})
	if err != nil {
		return nil, apperr.Internal(err)
	}

	logger.FromEcho(c).Info("created development tenant",
		zap.String("tenant_id", tenant.ID),
		zap.String("subdomain", tenant.Subdomain))

	return &tenant, nil
}

// SubdomainFromHost extracts the leftmost DNS label of the Host header,
// stripping any port suffix. An empty host yields an empty subdomain.
func SubdomainFromHost(host string) string {
	if host == "" {
		return ""
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.ToLower(strings.SplitN(host, ".", 2)[0])
}
