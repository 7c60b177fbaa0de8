package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bilal-89/wissahickon-backend/internal/apperr"
	"github.com/bilal-89/wissahickon-backend/internal/model"
	"github.com/bilal-89/wissahickon-backend/pkg/metrics"
	"github.com/bilal-89/wissahickon-backend/pkg/ratelimit"
)

func newTestRateLimiter(t *testing.T) (*ratelimit.Limiter, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return ratelimit.NewLimiter(client, "test"), mr
}

func TestRateLimitSetsHeaders(t *testing.T) {
	t.Parallel()

	limiter, _ := newTestRateLimiter(t)
	rec := metrics.NewRecorder("test", "test", "dev")

	e := echo.New()
	e.HTTPErrorHandler = apperr.NewHTTPErrorHandler()
	e.Use(RateLimit(limiter, rec, "global", 5, time.Minute))
	e.GET("/ping", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	for i := 1; i <= 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		w := httptest.NewRecorder()
		e.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "5", w.Header().Get(HeaderRateLimitLimit))
		assert.Equal(t, strconv.Itoa(5-i), w.Header().Get(HeaderRateLimitRemaining))
		assert.NotEmpty(t, w.Header().Get(HeaderRateLimitReset))
	}
}

func TestRateLimitRejectsOverLimit(t *testing.T) {
	t.Parallel()

	limiter, _ := newTestRateLimiter(t)
	rec := metrics.NewRecorder("test", "test", "dev")

	e := echo.New()
	e.HTTPErrorHandler = apperr.NewHTTPErrorHandler()
	e.Use(RateLimit(limiter, rec, "login", 2, time.Minute))
	e.GET("/ping", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		e.ServeHTTP(httptest.NewRecorder(), req)
	}

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	w := httptest.NewRecorder()
	e.ServeHTTP(w, req)

	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get(HeaderRateLimitRemaining))
	assert.NotEmpty(t, w.Header().Get(HeaderRetryAfter))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "rate_limit_exceeded", body["error"])

	assert.Equal(t, 1.0, testutil.ToFloat64(rec.RateLimitRejectionCounter.WithLabelValues("login")))
}

func TestRateLimitFailsOpenWhenRedisDown(t *testing.T) {
	t.Parallel()

	limiter, mr := newTestRateLimiter(t)
	mr.Close()

	e := echo.New()
	e.HTTPErrorHandler = apperr.NewHTTPErrorHandler()
	e.Use(RateLimit(limiter, nil, "global", 1, time.Minute))
	e.GET("/ping", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	// Well past the limit; every request still lands, without limit headers.
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		w := httptest.NewRecorder()
		e.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get(HeaderRateLimitLimit))
	}
}

func TestRateLimitKeysByTenant(t *testing.T) {
	t.Parallel()

	limiter, _ := newTestRateLimiter(t)

	handler := func(c echo.Context) error { return c.NoContent(http.StatusOK) }
	withTenant := func(tenant *model.Tenant) echo.HandlerFunc {
		return func(c echo.Context) error {
			if tenant != nil {
				c.Set(TenantKey, tenant)
			}
			return RateLimit(limiter, nil, "global", 1, time.Minute)(handler)(c)
		}
	}

	e := echo.New()

	// Exhaust the anonymous budget for this address.
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	require.NoError(t, withTenant(nil)(e.NewContext(req, httptest.NewRecorder())))

	req = httptest.NewRequest(http.MethodGet, "/ping", nil)
	err := withTenant(nil)(e.NewContext(req, httptest.NewRecorder()))
	require.Error(t, err)
	assert.Equal(t, apperr.KindRateLimited, apperr.KindOf(err))

	// The same address inside a tenant draws from a separate budget.
	req = httptest.NewRequest(http.MethodGet, "/ping", nil)
	err = withTenant(&model.Tenant{ID: "tenant-1"})(e.NewContext(req, httptest.NewRecorder()))
	assert.NoError(t, err)
}

func TestRateLimitNilLimiterPassesThrough(t *testing.T) {
	t.Parallel()

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	w := httptest.NewRecorder()
	c := e.NewContext(req, w)

	called := false
	err := RateLimit(nil, nil, "global", 1, time.Minute)(func(c echo.Context) error {
		called = true
		return c.NoContent(http.StatusOK)
	})(c)

	require.NoError(t, err)
	assert.True(t, called)
}
