package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bilal-89/wissahickon-backend/internal/apperr"
	"github.com/bilal-89/wissahickon-backend/pkg/jwtutil"
	"github.com/bilal-89/wissahickon-backend/pkg/metrics"
)

func newTestJWT() *jwtutil.JWTUtil {
	return jwtutil.NewJWTUtil(&jwtutil.JWTConfig{
		SigningKey:      "test-signing-key",
		ExpirationHours: 1,
	})
}

func runAuth(t *testing.T, jwt *jwtutil.JWTUtil, rec *metrics.Recorder, authorization string) (echo.Context, error) {
	t.Helper()

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if authorization != "" {
		req.Header.Set(echo.HeaderAuthorization, authorization)
	}
	c := e.NewContext(req, httptest.NewRecorder())

	err := Auth(jwt, rec)(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})(c)
	return c, err
}

func TestAuthMissingToken(t *testing.T) {
	t.Parallel()

	rec := metrics.NewRecorder("test", "test", "dev")
	_, err := runAuth(t, newTestJWT(), rec, "")

	require.Error(t, err)
	assert.Equal(t, apperr.KindAuthentication, apperr.KindOf(err))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.AuthErrorCounter.WithLabelValues("missing_token")))
}

func TestAuthRejectsNonBearer(t *testing.T) {
	t.Parallel()

	rec := metrics.NewRecorder("test", "test", "dev")
	_, err := runAuth(t, newTestJWT(), rec, "Basic dXNlcjpwYXNz")

	require.Error(t, err)
	assert.Equal(t, apperr.KindAuthentication, apperr.KindOf(err))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.AuthErrorCounter.WithLabelValues("invalid_auth_format")))
}

func TestAuthRejectsInvalidToken(t *testing.T) {
	t.Parallel()

	rec := metrics.NewRecorder("test", "test", "dev")
	_, err := runAuth(t, newTestJWT(), rec, "Bearer not.a.token")

	require.Error(t, err)
	assert.Equal(t, apperr.KindAuthentication, apperr.KindOf(err))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.AuthErrorCounter.WithLabelValues("invalid_token")))
}

func TestAuthRejectsExpiredToken(t *testing.T) {
	t.Parallel()

	expired := jwtutil.NewJWTUtil(&jwtutil.JWTConfig{
		SigningKey:      "test-signing-key",
		ExpirationHours: -1,
	})
	token, err := expired.GenerateToken("ada@example.com", "user-1")
	require.NoError(t, err)

	rec := metrics.NewRecorder("test", "test", "dev")
	_, authErr := runAuth(t, newTestJWT(), rec, "Bearer "+token)

	require.Error(t, authErr)
	assert.Equal(t, apperr.KindAuthentication, apperr.KindOf(authErr))
}

func TestAuthRejectsWrongKey(t *testing.T) {
	t.Parallel()

	other := jwtutil.NewJWTUtil(&jwtutil.JWTConfig{
		SigningKey:      "a-different-key",
		ExpirationHours: 1,
	})
	token, err := other.GenerateToken("ada@example.com", "user-1")
	require.NoError(t, err)

	rec := metrics.NewRecorder("test", "test", "dev")
	_, authErr := runAuth(t, newTestJWT(), rec, "Bearer "+token)
	require.Error(t, authErr)
	assert.Equal(t, apperr.KindAuthentication, apperr.KindOf(authErr))
}

func TestAuthStoresClaims(t *testing.T) {
	t.Parallel()

	jwt := newTestJWT()
	token, err := jwt.GenerateTokenWithTenant("ada@example.com", "user-1", "tenant-1", "Acme", "admin")
	require.NoError(t, err)

	rec := metrics.NewRecorder("test", "test", "dev")
	c, authErr := runAuth(t, jwt, rec, "Bearer "+token)
	require.NoError(t, authErr)

	claims := ClaimsFromEcho(c)
	require.NotNil(t, claims)
	assert.Equal(t, "ada@example.com", claims.Email)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "tenant-1", claims.TenantID)
	assert.Equal(t, "admin", claims.Role)
}

func TestAuthAcceptsLowercaseBearer(t *testing.T) {
	t.Parallel()

	jwt := newTestJWT()
	token, err := jwt.GenerateToken("ada@example.com", "user-1")
	require.NoError(t, err)

	rec := metrics.NewRecorder("test", "test", "dev")
	_, authErr := runAuth(t, jwt, rec, "bearer "+token)
	assert.NoError(t, authErr)
}
