package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/bilal-89/wissahickon-backend/internal/apperr"
	"github.com/bilal-89/wissahickon-backend/internal/middleware"
	"github.com/bilal-89/wissahickon-backend/internal/model"
	"github.com/bilal-89/wissahickon-backend/pkg/logger"
	"github.com/bilal-89/wissahickon-backend/pkg/metrics"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// UserHandler serves member management routes. Every route operates through
// the membership in the request's tenant: a user with no association there
// does not exist as far as these routes are concerned.
type UserHandler struct {
	db  *gorm.DB
	rec *metrics.Recorder
}

// NewUserHandler creates the handler with its dependencies.
func NewUserHandler(db *gorm.DB, rec *metrics.Recorder) *UserHandler {
	return &UserHandler{db: db, rec: rec}
}

// List returns the tenant's members, filterable by role and paginated.
func (h *UserHandler) List(c echo.Context) error {
	tenant, err := requestTenant(c)
	if err != nil {
		return err
	}

	page, perPage := pagination(c)

	query := h.db.WithContext(c.Request().Context()).
		Model(&model.UserTenantRole{}).
		Where("tenant_id = ?", tenant.ID)
	if roleID := c.QueryParam("role"); roleID != "" {
		query = query.Where("role_id = ?", roleID)
	}

	defer h.rec.TrackDBOperation("query")(time.Now())
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return apperr.Internal(err)
	}

	var memberships []model.UserTenantRole
	if err := query.
		Preload("User.TenantRoles.Tenant").
		Preload("User.TenantRoles.Role").
		Order("created_at").
		Offset((page - 1) * perPage).
		Limit(perPage).
		Find(&memberships).Error; err != nil {
		return apperr.Internal(err)
	}

	users := make([]map[string]interface{}, 0, len(memberships))
	for i := range memberships {
		users = append(users, memberships[i].User.Profile())
	}

	pages := int((total + int64(perPage) - 1) / int64(perPage))

	return c.JSON(http.StatusOK, echo.Map{
		"users":        users,
		"total":        total,
		"pages":        pages,
		"current_page": page,
	})
}

// Create adds a member to the tenant. Without a password a random temporary
// one is set; delivering it is outside this service.
func (h *UserHandler) Create(c echo.Context) error {
	log := logger.FromEcho(c)

	tenant, err := requestTenant(c)
	if err != nil {
		return err
	}

	var req struct {
		Email     string `json:"email"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		RoleID    string `json:"role_id"`
		Password  string `json:"password"`
	}
	if err := c.Bind(&req); err != nil {
		return apperr.New(apperr.KindValidation, "invalid request")
	}
	for field, value := range map[string]string{
		"email":      req.Email,
		"first_name": req.FirstName,
		"last_name":  req.LastName,
		"role_id":    req.RoleID,
	} {
		if value == "" {
			return apperr.Newf(apperr.KindValidation, "missing required field: %s", field)
		}
	}

	var role model.Role
	err = h.db.WithContext(c.Request().Context()).
		Where("id = ? AND tenant_id = ?", req.RoleID, tenant.ID).
		First(&role).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return apperr.New(apperr.KindValidation, "role_id does not name a role in this tenant")
		}
		return apperr.Internal(err)
	}

	user := model.User{
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		IsActive:  true,
	}
	password := req.Password
	if password == "" {
		// Temporary credential; the account is unusable until it is reset
		// through a channel outside this service.
		password = uuid.NewString()
	}
	if err := user.SetPassword(password); err != nil {
		return apperr.Internal(err)
	}

	defer h.rec.TrackDBOperation("insert")(time.Now())
	err = h.db.WithContext(c.Request().Context()).Transaction(func(tx *gorm.DB) error {
		var existing model.User
		err := tx.Where("email = ?", req.Email).First(&existing).Error
		if err == nil {
			return apperr.New(apperr.KindValidation, "email already exists")
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		if err := tx.Create(&user).Error; err != nil {
			return err
		}

		// The creating tenant is the new user's first and primary workspace.
		_, err = model.AssignTenantRole(tx, user.ID, tenant.ID, role.ID, true)
		return err
	})
	if err != nil {
		var appErr *apperr.Error
		if errors.As(err, &appErr) {
			return appErr
		}
		return apperr.Internal(err)
	}

	middleware.SetAuditEntity(c, user.ID)

	log.Info("user created",
		zap.String("user_id", user.ID),
		zap.String("email", user.Email),
		zap.String("tenant_id", tenant.ID))

	profile, err := h.memberProfile(c, user.ID, tenant.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, profile)
}

// Get returns one member's profile.
func (h *UserHandler) Get(c echo.Context) error {
	tenant, err := requestTenant(c)
	if err != nil {
		return err
	}

	defer h.rec.TrackDBOperation("query")(time.Now())
	profile, err := h.memberProfile(c, c.Param("id"), tenant.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, profile)
}

// Update changes a member's mutable fields. Email and credentials are not
// editable here.
func (h *UserHandler) Update(c echo.Context) error {
	tenant, err := requestTenant(c)
	if err != nil {
		return err
	}

	var req struct {
		FirstName *string `json:"first_name"`
		LastName  *string `json:"last_name"`
		IsActive  *bool   `json:"is_active"`
	}
	if err := c.Bind(&req); err != nil {
		return apperr.New(apperr.KindValidation, "invalid request")
	}

	membership, err := h.membership(c, c.Param("id"), tenant.ID)
	if err != nil {
		return err
	}

	updates := map[string]interface{}{}
	if req.FirstName != nil {
		updates["first_name"] = *req.FirstName
	}
	if req.LastName != nil {
		updates["last_name"] = *req.LastName
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}

	if len(updates) > 0 {
		defer h.rec.TrackDBOperation("update")(time.Now())
		if err := h.db.WithContext(c.Request().Context()).
			Model(&model.User{}).
			Where("id = ?", membership.UserID).
			Updates(updates).Error; err != nil {
			return apperr.Internal(err)
		}
	}

	profile, err := h.memberProfile(c, membership.UserID, tenant.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, profile)
}

// UpdateRole moves a member to another of the tenant's roles.
func (h *UserHandler) UpdateRole(c echo.Context) error {
	log := logger.FromEcho(c)

	tenant, err := requestTenant(c)
	if err != nil {
		return err
	}

	var req struct {
		RoleID string `json:"role_id"`
	}
	if err := c.Bind(&req); err != nil || req.RoleID == "" {
		return apperr.New(apperr.KindValidation, "role_id is required")
	}

	membership, err := h.membership(c, c.Param("id"), tenant.ID)
	if err != nil {
		return err
	}

	var role model.Role
	err = h.db.WithContext(c.Request().Context()).
		Where("id = ? AND tenant_id = ?", req.RoleID, tenant.ID).
		First(&role).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn("role change to foreign role",
				zap.String("role_id", req.RoleID),
				zap.String("tenant_id", tenant.ID))
			return apperr.New(apperr.KindNotFound, "role not found in current tenant")
		}
		return apperr.Internal(err)
	}

	defer h.rec.TrackDBOperation("update")(time.Now())
	if err := h.db.WithContext(c.Request().Context()).
		Model(membership).
		Update("role_id", role.ID).Error; err != nil {
		return apperr.Internal(err)
	}

	log.Info("user role changed",
		zap.String("user_id", membership.UserID),
		zap.String("tenant_id", tenant.ID),
		zap.String("role", role.Name))

	profile, err := h.memberProfile(c, membership.UserID, tenant.ID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, profile)
}

// membership loads the user's association in the tenant; a user without one
// is reported missing.
func (h *UserHandler) membership(c echo.Context, userID, tenantID string) (*model.UserTenantRole, error) {
	var utr model.UserTenantRole
	err := h.db.WithContext(c.Request().Context()).
		Where("user_id = ? AND tenant_id = ?", userID, tenantID).
		First(&utr).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "user not found in current tenant")
		}
		return nil, apperr.Internal(err)
	}
	return &utr, nil
}

// memberProfile loads the member with full membership context and serializes
// the profile.
func (h *UserHandler) memberProfile(c echo.Context, userID, tenantID string) (map[string]interface{}, error) {
	if _, err := h.membership(c, userID, tenantID); err != nil {
		return nil, err
	}

	var user model.User
	err := h.db.WithContext(c.Request().Context()).
		Preload("TenantRoles.Tenant").
		Preload("TenantRoles.Role").
		First(&user, "id = ?", userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "user not found in current tenant")
		}
		return nil, apperr.Internal(err)
	}
	return user.Profile(), nil
}

// pagination reads page and per_page with the documented defaults and cap.
func pagination(c echo.Context) (page, perPage int) {
	page = 1
	if v, err := strconv.Atoi(c.QueryParam("page")); err == nil && v > 0 {
		page = v
	}
	perPage = defaultPageSize
	if v, err := strconv.Atoi(c.QueryParam("per_page")); err == nil && v > 0 {
		perPage = v
	}
	if perPage > maxPageSize {
		perPage = maxPageSize
	}
	return page, perPage
}
