package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/bilal-89/wissahickon-backend/internal/apperr"
	"github.com/bilal-89/wissahickon-backend/internal/middleware"
	"github.com/bilal-89/wissahickon-backend/internal/model"
	"github.com/bilal-89/wissahickon-backend/internal/permission"
	"github.com/bilal-89/wissahickon-backend/pkg/logger"
	"github.com/bilal-89/wissahickon-backend/pkg/metrics"
)

// TenantHandler serves workspace management routes.
type TenantHandler struct {
	db  *gorm.DB
	rec *metrics.Recorder
}

// NewTenantHandler creates the handler with its dependencies.
func NewTenantHandler(db *gorm.DB, rec *metrics.Recorder) *TenantHandler {
	return &TenantHandler{db: db, rec: rec}
}

// Create provisions a workspace: the tenant row, its default role set, and
// the creator bound to the new admin role, all in one transaction. The new
// tenant becomes the creator's primary only when they have none yet.
func (h *TenantHandler) Create(c echo.Context) error {
	log := logger.FromEcho(c)
	claims := middleware.ClaimsFromEcho(c)
	if claims == nil {
		return apperr.New(apperr.KindAuthentication, "missing authorization token")
	}

	var req struct {
		Name      string                 `json:"name"`
		Subdomain string                 `json:"subdomain"`
		Settings  map[string]interface{} `json:"settings"`
	}
	if err := c.Bind(&req); err != nil {
		return apperr.New(apperr.KindValidation, "invalid request")
	}
	if req.Name == "" {
		return apperr.New(apperr.KindValidation, "name is required")
	}
	// Subdomains are matched lowercase against the Host header, so they are
	// stored lowercase.
	req.Subdomain = strings.ToLower(strings.TrimSpace(req.Subdomain))
	if req.Subdomain == "" {
		return apperr.New(apperr.KindValidation, "subdomain is required")
	}

	tenant := model.Tenant{
		Name:      req.Name,
		Subdomain: req.Subdomain,
		Settings:  datatypes.JSONMap(req.Settings),
		IsActive:  true,
	}

	defer h.rec.TrackDBOperation("insert")(time.Now())
	err := h.db.WithContext(c.Request().Context()).Transaction(func(tx *gorm.DB) error {
		var existing model.Tenant
		err := tx.Where("subdomain = ?", req.Subdomain).First(&existing).Error
		if err == nil {
			return apperr.New(apperr.KindValidation, "subdomain already in use")
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		if err := tx.Create(&tenant).Error; err != nil {
			return err
		}

		roles := model.DefaultRoles(tenant.ID)
		if err := tx.Create(&roles).Error; err != nil {
			return err
		}

		var adminRole *model.Role
		for i := range roles {
			if roles[i].Name == "admin" {
				adminRole = &roles[i]
				break
			}
		}
		if adminRole == nil {
			return errors.New("default role set has no admin role")
		}

		var primaryCount int64
		if err := tx.Model(&model.UserTenantRole{}).
			Where("user_id = ? AND is_primary = ?", claims.UserID, true).
			Count(&primaryCount).Error; err != nil {
			return err
		}

		_, err = model.AssignTenantRole(tx, claims.UserID, tenant.ID, adminRole.ID, primaryCount == 0)
		return err
	})
	if err != nil {
		var appErr *apperr.Error
		if errors.As(err, &appErr) {
			return appErr
		}
		return apperr.Internal(err)
	}

	middleware.SetAuditEntity(c, tenant.ID)
	h.rec.RecordTenantOperation("create")

	log.Info("tenant created",
		zap.String("tenant_id", tenant.ID),
		zap.String("subdomain", tenant.Subdomain),
		zap.String("created_by", claims.UserID))

	return c.JSON(http.StatusCreated, tenant)
}

// List returns the tenants the caller can see: memberships whose role grants
// tenant visibility, with the primary tenant called out (and filtered by the
// same rule).
func (h *TenantHandler) List(c echo.Context) error {
	claims := middleware.ClaimsFromEcho(c)
	if claims == nil {
		return apperr.New(apperr.KindAuthentication, "missing authorization token")
	}

	defer h.rec.TrackDBOperation("query")(time.Now())
	var user model.User
	err := h.db.WithContext(c.Request().Context()).
		Preload("TenantRoles.Tenant").
		Preload("TenantRoles.Role").
		First(&user, "id = ?", claims.UserID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.New(apperr.KindNotFound, "user not found")
		}
		return apperr.Internal(err)
	}

	tenants := make([]model.Tenant, 0)
	var primary *model.Tenant
	for i := range user.TenantRoles {
		utr := &user.TenantRoles[i]
		if !utr.IsActive || !utr.Role.HasPermission(permission.ViewTenant) {
			continue
		}
		tenants = append(tenants, utr.Tenant)
		if utr.IsPrimary {
			primary = &utr.Tenant
		}
	}

	h.rec.RecordTenantOperation("list")
	return c.JSON(http.StatusOK, echo.Map{
		"tenants":        tenants,
		"primary_tenant": primary,
	})
}

// Get returns one tenant's details. The caller sees only the request's
// resolved tenant or tenants they belong to; anything else reads as missing.
func (h *TenantHandler) Get(c echo.Context) error {
	claims := middleware.ClaimsFromEcho(c)
	if claims == nil {
		return apperr.New(apperr.KindAuthentication, "missing authorization token")
	}

	id := c.Param("id")

	defer h.rec.TrackDBOperation("query")(time.Now())
	var tenant model.Tenant
	err := h.db.WithContext(c.Request().Context()).First(&tenant, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.New(apperr.KindNotFound, "tenant not found")
		}
		return apperr.Internal(err)
	}

	if resolved := middleware.TenantFromEcho(c); resolved == nil || resolved.ID != tenant.ID {
		var membership model.UserTenantRole
		err := h.db.WithContext(c.Request().Context()).
			Where("user_id = ? AND tenant_id = ? AND is_active = ?", claims.UserID, tenant.ID, true).
			First(&membership).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.New(apperr.KindNotFound, "tenant not found")
			}
			return apperr.Internal(err)
		}
	}

	h.rec.RecordTenantOperation("view")
	return c.JSON(http.StatusOK, tenant)
}

// ListRoles returns the roles of the request's tenant.
func (h *TenantHandler) ListRoles(c echo.Context) error {
	tenant, err := h.pathTenant(c)
	if err != nil {
		return err
	}

	defer h.rec.TrackDBOperation("query")(time.Now())
	var roles []model.Role
	if err := h.db.WithContext(c.Request().Context()).
		Where("tenant_id = ?", tenant.ID).
		Order("name").
		Find(&roles).Error; err != nil {
		return apperr.Internal(err)
	}

	return c.JSON(http.StatusOK, echo.Map{"roles": roles})
}

// CreateRole adds a role to the request's tenant. Role names are unique per
// tenant and the permission set may only reference known permissions.
func (h *TenantHandler) CreateRole(c echo.Context) error {
	tenant, err := h.pathTenant(c)
	if err != nil {
		return err
	}

	var req struct {
		Name        string                 `json:"name"`
		Description string                 `json:"description"`
		Permissions map[string]interface{} `json:"permissions"`
	}
	if err := c.Bind(&req); err != nil {
		return apperr.New(apperr.KindValidation, "invalid request")
	}
	if req.Name == "" {
		return apperr.New(apperr.KindValidation, "role name is required")
	}

	perms := datatypes.JSONMap{}
	for key, value := range req.Permissions {
		if key != permission.Admin {
			if _, err := permission.Parse(key); err != nil {
				return apperr.Newf(apperr.KindValidation, "unknown permission: %s", key)
			}
		}
		granted, ok := value.(bool)
		if !ok {
			return apperr.Newf(apperr.KindValidation, "permission %s must be a boolean", key)
		}
		perms[key] = granted
	}

	role := model.Role{
		TenantID:    tenant.ID,
		Name:        req.Name,
		Description: req.Description,
		Permissions: perms,
	}

	defer h.rec.TrackDBOperation("insert")(time.Now())
	err = h.db.WithContext(c.Request().Context()).Transaction(func(tx *gorm.DB) error {
		var existing model.Role
		err := tx.Where("tenant_id = ? AND name = ?", tenant.ID, req.Name).First(&existing).Error
		if err == nil {
			return apperr.New(apperr.KindValidation, "role with this name already exists")
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		return tx.Create(&role).Error
	})
	if err != nil {
		var appErr *apperr.Error
		if errors.As(err, &appErr) {
			return appErr
		}
		return apperr.Internal(err)
	}

	h.rec.RecordTenantOperation("create_role")

	logger.FromEcho(c).Info("role created",
		zap.String("tenant_id", tenant.ID),
		zap.String("role", role.Name))

	return c.JSON(http.StatusCreated, role)
}

// ListUsers returns the members of the request's tenant with their profiles.
func (h *TenantHandler) ListUsers(c echo.Context) error {
	tenant, err := h.pathTenant(c)
	if err != nil {
		return err
	}

	defer h.rec.TrackDBOperation("query")(time.Now())
	var memberships []model.UserTenantRole
	if err := h.db.WithContext(c.Request().Context()).
		Preload("User.TenantRoles.Tenant").
		Preload("User.TenantRoles.Role").
		Where("tenant_id = ?", tenant.ID).
		Find(&memberships).Error; err != nil {
		return apperr.Internal(err)
	}

	users := make([]map[string]interface{}, 0, len(memberships))
	for i := range memberships {
		users = append(users, memberships[i].User.Profile())
	}

	return c.JSON(http.StatusOK, echo.Map{"users": users})
}

// pathTenant checks that the :id path parameter names the request's resolved
// tenant. Subresource routes never operate across tenants; a foreign id reads
// as missing.
func (h *TenantHandler) pathTenant(c echo.Context) (*model.Tenant, error) {
	tenant, err := requestTenant(c)
	if err != nil {
		return nil, err
	}
	if c.Param("id") != tenant.ID {
		return nil, apperr.New(apperr.KindNotFound, "tenant not found")
	}
	return tenant, nil
}
