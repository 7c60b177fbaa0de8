package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/bilal-89/wissahickon-backend/internal/apperr"
	"github.com/bilal-89/wissahickon-backend/internal/model"
	"github.com/bilal-89/wissahickon-backend/internal/permission"
	"github.com/bilal-89/wissahickon-backend/internal/testutil"
	"github.com/bilal-89/wissahickon-backend/pkg/jwtutil"
)

func runGuard(t *testing.T, db *gorm.DB, perm permission.Permission, tenant *model.Tenant, claims *jwtutil.UserClaims) (echo.Context, error) {
	t.Helper()

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/guarded", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	if tenant != nil {
		c.Set(TenantKey, tenant)
	}
	if claims != nil {
		c.Set(UserKey, claims)
	}

	err := RequirePermission(db, perm)(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})(c)
	return c, err
}

func TestRequirePermissionWithoutTenantIsServerError(t *testing.T) {
	t.Parallel()

	// A guard reached without tenant context means the chain is mis-wired;
	// that must never surface as a client-side 4xx.
	_, err := runGuard(t, nil, permission.ManageUsers, nil, &jwtutil.UserClaims{UserID: "user-1"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
}

func TestRequirePermissionWithoutClaims(t *testing.T) {
	t.Parallel()

	_, err := runGuard(t, nil, permission.ManageUsers, &model.Tenant{ID: "tenant-1"}, nil)
	require.Error(t, err)
	assert.Equal(t, apperr.KindAuthentication, apperr.KindOf(err))
}

func TestRequirePermissionAgainstDatabase(t *testing.T) {
	db := testutil.DB(t)

	tenant := testutil.CreateTenant(t, db, "Acme", "acme")

	admin := testutil.CreateUser(t, db, "admin@acme.test", "pw-admin-1")
	testutil.Grant(t, db, admin, tenant, "admin", true)

	member := testutil.CreateUser(t, db, "member@acme.test", "pw-member-1")
	testutil.Grant(t, db, member, tenant, "user", true)

	suspended := testutil.CreateUser(t, db, "suspended@acme.test", "pw-susp-1")
	utr := testutil.Grant(t, db, suspended, tenant, "admin", true)
	require.NoError(t, db.Model(utr).Update("is_active", false).Error)

	outsider := testutil.CreateUser(t, db, "outsider@other.test", "pw-out-1")

	t.Run("admin role passes every permission", func(t *testing.T) {
		for _, perm := range permission.All() {
			c, err := runGuard(t, db, perm, tenant, &jwtutil.UserClaims{UserID: admin.ID})
			require.NoError(t, err, "permission %s", perm)

			role := RoleFromEcho(c)
			require.NotNil(t, role)
			assert.Equal(t, "admin", role.Name)
		}
	})

	t.Run("member passes what the role grants", func(t *testing.T) {
		_, err := runGuard(t, db, permission.UseFeatureX, tenant, &jwtutil.UserClaims{UserID: member.ID})
		assert.NoError(t, err)
	})

	t.Run("member is denied what the role lacks", func(t *testing.T) {
		_, err := runGuard(t, db, permission.ManageUsers, tenant, &jwtutil.UserClaims{UserID: member.ID})
		require.Error(t, err)
		assert.Equal(t, apperr.KindPermission, apperr.KindOf(err))
	})

	t.Run("denials do not reveal membership", func(t *testing.T) {
		_, memberErr := runGuard(t, db, permission.ManageUsers, tenant, &jwtutil.UserClaims{UserID: member.ID})
		_, outsiderErr := runGuard(t, db, permission.ManageUsers, tenant, &jwtutil.UserClaims{UserID: outsider.ID})

		require.Error(t, memberErr)
		require.Error(t, outsiderErr)
		assert.Equal(t, memberErr.Error(), outsiderErr.Error())
	})

	t.Run("deactivated association is denied", func(t *testing.T) {
		_, err := runGuard(t, db, permission.ViewUsers, tenant, &jwtutil.UserClaims{UserID: suspended.ID})
		require.Error(t, err)
		assert.Equal(t, apperr.KindPermission, apperr.KindOf(err))
	})

	t.Run("membership elsewhere grants nothing here", func(t *testing.T) {
		other := testutil.CreateTenant(t, db, "Duskworks", "duskworks")
		testutil.Grant(t, db, outsider, other, "admin", true)

		_, err := runGuard(t, db, permission.ViewTenant, tenant, &jwtutil.UserClaims{UserID: outsider.ID})
		require.Error(t, err)
		assert.Equal(t, apperr.KindPermission, apperr.KindOf(err))
	})
}
