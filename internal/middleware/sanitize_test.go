package middleware

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bilal-89/wissahickon-backend/internal/apperr"
)

func newTestSanitizer(t *testing.T, exempt ...string) *Sanitizer {
	t.Helper()

	s, err := NewSanitizer(exempt)
	require.NoError(t, err)
	return s
}

// runSanitized pushes a request through the middleware and returns the body
// the handler would bind, plus the middleware's error.
func runSanitized(t *testing.T, s *Sanitizer, req *http.Request) (echo.Context, []byte, error) {
	t.Helper()

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var seen []byte
	err := s.Middleware()(func(c echo.Context) error {
		var readErr error
		seen, readErr = io.ReadAll(c.Request().Body)
		require.NoError(t, readErr)
		return c.NoContent(http.StatusOK)
	})(c)

	return c, seen, err
}

func jsonRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/tenants", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func TestSanitizeStripsScriptTags(t *testing.T) {
	t.Parallel()

	s := newTestSanitizer(t)
	_, body, err := runSanitized(t, s, jsonRequest(`{"name":"<script>alert('x')</script>Acme"}`))
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, "Acme", decoded["name"])
}

func TestSanitizeKeepsFormattingAllowList(t *testing.T) {
	t.Parallel()

	s := newTestSanitizer(t)
	_, body, err := runSanitized(t, s, jsonRequest(`{"bio":"<p>hello <strong>world</strong></p><img src=x>"}`))
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, "<p>hello <strong>world</strong></p>", decoded["bio"])
}

func TestSanitizeStripsControlCharacters(t *testing.T) {
	t.Parallel()

	s := newTestSanitizer(t)
	_, body, err := runSanitized(t, s, jsonRequest(`{"note":"a\u0000b\u0007c\nd\te"}`))
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, "abc\nd\te", decoded["note"])
}

func TestSanitizeWalksNestedStructures(t *testing.T) {
	t.Parallel()

	s := newTestSanitizer(t)
	payload := `{
		"profile": {"first_name": "<script>x</script>Ada"},
		"tags": ["<b>one</b>", {"label": "<script>y</script>two"}]
	}`
	_, body, err := runSanitized(t, s, jsonRequest(payload))
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &decoded))

	profile := decoded["profile"].(map[string]interface{})
	assert.Equal(t, "Ada", profile["first_name"])

	tags := decoded["tags"].([]interface{})
	assert.Equal(t, "one", tags[0])
	assert.Equal(t, "two", tags[1].(map[string]interface{})["label"])
}

func TestSanitizeIsIdempotent(t *testing.T) {
	t.Parallel()

	s := newTestSanitizer(t)
	dirty := `{"name":"<script>alert(1)</script><p>ok</p>","n":3,"flag":true}`

	_, once, err := runSanitized(t, s, jsonRequest(dirty))
	require.NoError(t, err)

	_, twice, err := runSanitized(t, s, jsonRequest(string(once)))
	require.NoError(t, err)

	assert.JSONEq(t, string(once), string(twice))
}

func TestSanitizePreservesNonStringValues(t *testing.T) {
	t.Parallel()

	s := newTestSanitizer(t)
	_, body, err := runSanitized(t, s, jsonRequest(`{"count":42,"ratio":0.5,"ok":true,"none":null}`))
	require.NoError(t, err)

	assert.JSONEq(t, `{"count":42,"ratio":0.5,"ok":true,"none":null}`, string(body))
}

func TestSanitizeExemptPathPassesThrough(t *testing.T) {
	t.Parallel()

	s := newTestSanitizer(t, `^/webhooks/`)
	raw := `{"payload":"<script>keep me</script>"}`

	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", strings.NewReader(raw))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)

	_, body, err := runSanitized(t, s, req)
	require.NoError(t, err)
	assert.Equal(t, raw, string(body))
}

func TestSanitizeRejectsInvalidJSON(t *testing.T) {
	t.Parallel()

	s := newTestSanitizer(t)
	_, _, err := runSanitized(t, s, jsonRequest(`{"name": not json`))
	require.Error(t, err)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestSanitizeSkipsReads(t *testing.T) {
	t.Parallel()

	s := newTestSanitizer(t)
	req := httptest.NewRequest(http.MethodGet, "/tenants", strings.NewReader(`{"name":"<script>x</script>"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)

	_, body, err := runSanitized(t, s, req)
	require.NoError(t, err)
	assert.Contains(t, string(body), "<script>")
}

func TestSanitizeStashesBodyForAudit(t *testing.T) {
	t.Parallel()

	s := newTestSanitizer(t)
	c, _, err := runSanitized(t, s, jsonRequest(`{"name":"<script>x</script>Acme"}`))
	require.NoError(t, err)

	stashed := SanitizedBody(c)
	require.NotNil(t, stashed)
	assert.Equal(t, "Acme", stashed["name"])
}

func TestSanitizeFormBody(t *testing.T) {
	t.Parallel()

	s := newTestSanitizer(t)
	form := url.Values{"name": {"<script>x</script>Acme"}, "plan": {"pro"}}

	req := httptest.NewRequest(http.MethodPost, "/tenants", strings.NewReader(form.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)

	c, body, err := runSanitized(t, s, req)
	require.NoError(t, err)

	parsed, parseErr := url.ParseQuery(string(body))
	require.NoError(t, parseErr)
	assert.Equal(t, "Acme", parsed.Get("name"))
	assert.Equal(t, "pro", parsed.Get("plan"))

	stashed := SanitizedBody(c)
	require.NotNil(t, stashed)
	assert.Equal(t, "Acme", stashed["name"])
}

func TestSanitizeEmptyBody(t *testing.T) {
	t.Parallel()

	s := newTestSanitizer(t)
	_, body, err := runSanitized(t, s, jsonRequest(""))
	require.NoError(t, err)
	assert.Empty(t, body)
}

func TestNewSanitizerRejectsBadPattern(t *testing.T) {
	t.Parallel()

	_, err := NewSanitizer([]string{`[unclosed`})
	assert.Error(t, err)
}
