package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/bilal-89/wissahickon-backend/internal/apperr"
	"github.com/bilal-89/wissahickon-backend/internal/middleware"
	"github.com/bilal-89/wissahickon-backend/internal/model"
	"github.com/bilal-89/wissahickon-backend/internal/permission"
	"github.com/bilal-89/wissahickon-backend/pkg/googleauth"
	"github.com/bilal-89/wissahickon-backend/pkg/jwtutil"
	"github.com/bilal-89/wissahickon-backend/pkg/logger"
	"github.com/bilal-89/wissahickon-backend/pkg/metrics"
)

// AuthHandler serves credential verification and session routes.
type AuthHandler struct {
	db       *gorm.DB
	jwt      *jwtutil.JWTUtil
	verifier googleauth.TokenVerifier
	rec      *metrics.Recorder
}

// NewAuthHandler creates the handler with its dependencies.
func NewAuthHandler(db *gorm.DB, jwt *jwtutil.JWTUtil, verifier googleauth.TokenVerifier, rec *metrics.Recorder) *AuthHandler {
	return &AuthHandler{
		db:       db,
		jwt:      jwt,
		verifier: verifier,
		rec:      rec,
	}
}

// Login verifies local credentials and issues a token scoped to the resolved
// tenant. Unknown email and wrong password are indistinguishable to the
// caller; a deactivated account and a missing tenant role are not, because
// the credential was valid.
func (h *AuthHandler) Login(c echo.Context) error {
	log := logger.FromEcho(c)

	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.Bind(&req); err != nil {
		h.rec.RecordAuthError("invalid_request")
		return apperr.New(apperr.KindValidation, "invalid request")
	}
	if req.Email == "" || req.Password == "" {
		h.rec.RecordAuthError("incomplete_login")
		return apperr.New(apperr.KindValidation, "email and password are required")
	}

	tenant := middleware.TenantFromEcho(c)
	if tenant == nil {
		log.Error("login reached without tenant context")
		return apperr.New(apperr.KindInternal, "an unexpected error occurred")
	}

	defer h.rec.TrackDBOperation("query")(time.Now())
	var user model.User
	err := h.db.WithContext(c.Request().Context()).
		Preload("TenantRoles.Tenant").
		Preload("TenantRoles.Role").
		Where("email = ?", req.Email).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn("login for unknown email", zap.String("email", req.Email))
			h.rec.RecordAuthError("user_not_found")
			return apperr.New(apperr.KindAuthentication, "invalid email or password")
		}
		return apperr.Internal(err)
	}

	if !user.CheckPassword(req.Password) {
		log.Warn("login with wrong password", zap.String("email", req.Email))
		h.rec.RecordAuthError("invalid_password")
		return apperr.New(apperr.KindAuthentication, "invalid email or password")
	}

	if !user.IsActive {
		h.rec.RecordAuthError("account_deactivated")
		return apperr.New(apperr.KindPermission, "account is deactivated")
	}

	utr := user.RoleForTenant(tenant.ID)
	if utr == nil {
		log.Warn("login without tenant access",
			zap.String("email", req.Email),
			zap.String("tenant_id", tenant.ID))
		h.rec.RecordAuthError("tenant_access_denied")
		return apperr.New(apperr.KindPermission, "no access to this tenant")
	}

	token, err := h.jwt.GenerateTokenWithTenant(user.Email, user.ID, tenant.ID, tenant.Name, utr.Role.Name)
	if err != nil {
		h.rec.RecordAuthError("token_generation_failed")
		return apperr.Internal(err)
	}

	h.touchLastLogin(c, &user)
	h.rec.IncreaseActiveTokens()
	h.rec.RecordAuthOperation("login")

	log.Info("user logged in",
		zap.String("email", user.Email),
		zap.String("tenant_id", tenant.ID),
		zap.String("role", utr.Role.Name))

	return c.JSON(http.StatusOK, echo.Map{
		"token": token,
		"user":  user.Profile(),
	})
}

// ExternalLogin verifies a provider identity token and signs the subject in,
// creating the account on first contact. Repeat logins with the same subject
// reuse the account; an email collision links the external id to the
// existing account instead of duplicating it.
func (h *AuthHandler) ExternalLogin(c echo.Context) error {
	log := logger.FromEcho(c)

	var req struct {
		Token string `json:"token"`
	}
	if err := c.Bind(&req); err != nil || req.Token == "" {
		h.rec.RecordAuthError("incomplete_external_login")
		return apperr.New(apperr.KindValidation, "token is required")
	}

	tenant := middleware.TenantFromEcho(c)
	if tenant == nil {
		log.Error("external login reached without tenant context")
		return apperr.New(apperr.KindInternal, "an unexpected error occurred")
	}

	identity, err := h.verifier.Verify(c.Request().Context(), req.Token)
	if err != nil {
		if errors.Is(err, googleauth.ErrNotConfigured) {
			log.Error("external login attempted without provider configuration")
			return apperr.Wrap(err, apperr.KindInternal, "external sign-in is not configured")
		}
		log.Warn("rejected external token", zap.Error(err))
		h.rec.RecordAuthError("invalid_external_token")
		return apperr.New(apperr.KindAuthentication, "invalid external token")
	}

	user, err := h.findOrCreateExternalUser(c, identity)
	if err != nil {
		return err
	}

	if !user.IsActive {
		h.rec.RecordAuthError("account_deactivated")
		return apperr.New(apperr.KindPermission, "account is deactivated")
	}

	if err := h.ensureTenantRole(c, user, tenant); err != nil {
		return err
	}

	// Reload with membership context for the token and the profile.
	if err := h.db.WithContext(c.Request().Context()).
		Preload("TenantRoles.Tenant").
		Preload("TenantRoles.Role").
		First(user, "id = ?", user.ID).Error; err != nil {
		return apperr.Internal(err)
	}

	utr := user.RoleForTenant(tenant.ID)
	if utr == nil {
		return apperr.New(apperr.KindInternal, "an unexpected error occurred")
	}

	token, err := h.jwt.GenerateTokenWithTenant(user.Email, user.ID, tenant.ID, tenant.Name, utr.Role.Name)
	if err != nil {
		h.rec.RecordAuthError("token_generation_failed")
		return apperr.Internal(err)
	}

	h.touchLastLogin(c, user)
	h.rec.IncreaseActiveTokens()
	h.rec.RecordAuthOperation("external_login")

	log.Info("user signed in externally",
		zap.String("email", user.Email),
		zap.String("tenant_id", tenant.ID))

	return c.JSON(http.StatusOK, echo.Map{
		"token": token,
		"user":  user.Profile(),
	})
}

// Me returns the caller's profile with all tenant memberships.
func (h *AuthHandler) Me(c echo.Context) error {
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

	return c.JSON(http.StatusOK, user.Profile())
}

// SwitchTenant re-points the caller's primary tenant and reissues the token
// scoped to it. The flag move is a single locked transaction, so two
// concurrent switches cannot leave two primaries.
func (h *AuthHandler) SwitchTenant(c echo.Context) error {
	log := logger.FromEcho(c)

	claims := middleware.ClaimsFromEcho(c)
	if claims == nil {
		return apperr.New(apperr.KindAuthentication, "missing authorization token")
	}

	var req struct {
		TenantID string `json:"tenant_id"`
	}
	if err := c.Bind(&req); err != nil || req.TenantID == "" {
		return apperr.New(apperr.KindValidation, "tenant_id is required")
	}

	utr, err := model.SwitchPrimaryTenant(h.db.WithContext(c.Request().Context()), claims.UserID, req.TenantID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn("switch to inaccessible tenant",
				zap.String("user_id", claims.UserID),
				zap.String("tenant_id", req.TenantID))
			return apperr.New(apperr.KindValidation, "no role in the requested tenant")
		}
		return apperr.Internal(err)
	}

	var tenant model.Tenant
	if err := h.db.First(&tenant, "id = ?", utr.TenantID).Error; err != nil {
		return apperr.Internal(err)
	}
	var role model.Role
	if err := h.db.First(&role, "id = ?", utr.RoleID).Error; err != nil {
		return apperr.Internal(err)
	}

	token, err := h.jwt.GenerateTokenWithTenant(claims.Email, claims.UserID, tenant.ID, tenant.Name, role.Name)
	if err != nil {
		h.rec.RecordAuthError("token_generation_failed")
		return apperr.Internal(err)
	}

	h.rec.IncreaseActiveTokens()
	h.rec.RecordTenantOperation("switch")

	log.Info("user switched primary tenant",
		zap.String("user_id", claims.UserID),
		zap.String("tenant_id", tenant.ID))

	return c.JSON(http.StatusOK, echo.Map{
		"token": token,
		"tenant": map[string]interface{}{
			"id":        tenant.ID,
			"name":      tenant.Name,
			"subdomain": tenant.Subdomain,
			"role":      role.Name,
		},
	})
}

// findOrCreateExternalUser resolves the provider subject to a local account.
// Lookup order: subject id, then email (linking the subject to an account
// that signed up locally), then a fresh account.
func (h *AuthHandler) findOrCreateExternalUser(c echo.Context, identity *googleauth.Identity) (*model.User, error) {
	ctx := c.Request().Context()
	log := logger.FromEcho(c)

	var user model.User
	err := h.db.WithContext(ctx).Where("google_id = ?", identity.Subject).First(&user).Error
	if err == nil {
		return &user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.Internal(err)
	}

	err = h.db.WithContext(ctx).Where("email = ?", identity.Email).First(&user).Error
	if err == nil {
		if updateErr := h.db.WithContext(ctx).Model(&user).Update("google_id", identity.Subject).Error; updateErr != nil {
			return nil, apperr.Internal(updateErr)
		}
		log.Info("linked external identity to existing account",
			zap.String("email", user.Email))
		return &user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.Internal(err)
	}

	subject := identity.Subject
	user = model.User{
		Email:     identity.Email,
		GoogleID:  &subject,
		FirstName: identity.FirstName,
		LastName:  identity.LastName,
		IsActive:  true,
	}
	if err := h.db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, apperr.Internal(err)
	}

	log.Info("created account from external sign-in", zap.String("email", user.Email))
	h.rec.RecordAuthOperation("external_signup")
	return &user, nil
}

// ensureTenantRole guarantees the user holds a role in the tenant,
// auto-assigning the tenant's configured default role on first sign-in. The
// association is primary when the user has no primary tenant yet.
func (h *AuthHandler) ensureTenantRole(c echo.Context, user *model.User, tenant *model.Tenant) error {
	ctx := c.Request().Context()

	var existing model.UserTenantRole
	err := h.db.WithContext(ctx).
		Where("user_id = ? AND tenant_id = ? AND is_active = ?", user.ID, tenant.ID, true).
		First(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.Internal(err)
	}

	roleName := tenant.DefaultRoleName()

	err = h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var role model.Role
		err := tx.Where("tenant_id = ? AND name = ?", tenant.ID, roleName).First(&role).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			role = model.Role{
				TenantID:    tenant.ID,
				Name:        roleName,
				Description: "Default member role",
				Permissions: datatypes.JSONMap{string(permission.UseFeatureX): true},
			}
			err = tx.Create(&role).Error
		}
		if err != nil {
			return err
		}

		var primaryCount int64
		if err := tx.Model(&model.UserTenantRole{}).
			Where("user_id = ? AND is_primary = ?", user.ID, true).
			Count(&primaryCount).Error; err != nil {
			return err
		}

		_, err = model.AssignTenantRole(tx, user.ID, tenant.ID, role.ID, primaryCount == 0)
		return err
	})
	if err != nil {
		return apperr.Internal(err)
	}

	logger.FromEcho(c).Info("assigned default role",
		zap.String("user_id", user.ID),
		zap.String("tenant_id", tenant.ID),
		zap.String("role", roleName))
	return nil
}

// touchLastLogin stamps the login time. A failed stamp is not worth failing
// the login over.
func (h *AuthHandler) touchLastLogin(c echo.Context, user *model.User) {
	now := time.Now().UTC()
	err := h.db.WithContext(c.Request().Context()).
		Model(user).
		Update("last_login", now).Error
	if err != nil {
		logger.FromEcho(c).Warn("failed to update last login",
			zap.Error(err),
			zap.String("user_id", user.ID))
	}
}
