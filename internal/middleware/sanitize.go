package middleware

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/microcosm-cc/bluemonday"

	"github.com/bilal-89/wissahickon-backend/internal/apperr"
)

// Sanitizer strips dangerous content from request bodies: NUL and control
// characters (newline and tab survive) and HTML outside a small formatting
// allow-list. Sanitization is idempotent, so a body that passes through twice
// comes out unchanged.
type Sanitizer struct {
	policy *bluemonday.Policy
	exempt []*regexp.Regexp
}

// NewSanitizer compiles the exempt path patterns. Requests whose path matches
// one of them pass through byte-for-byte, for webhook and upload receivers
// whose payloads must not be rewritten.
func NewSanitizer(exemptPatterns []string) (*Sanitizer, error) {
	policy := bluemonday.NewPolicy()
	policy.AllowElements("p", "br", "strong", "em", "u", "ul", "ol", "li")

	exempt := make([]*regexp.Regexp, 0, len(exemptPatterns))
	for _, pattern := range exemptPatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid exempt path pattern %q: %w", pattern, err)
		}
		exempt = append(exempt, re)
	}

	return &Sanitizer{policy: policy, exempt: exempt}, nil
}

// SanitizeString cleans one string value.
func (s *Sanitizer) SanitizeString(value string) string {
	value = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, value)
	return s.policy.Sanitize(value)
}

// sanitizeValue walks a decoded JSON value, cleaning every string it finds.
func (s *Sanitizer) sanitizeValue(value interface{}) interface{} {
	switch v := value.(type) {
	case string:
		return s.SanitizeString(v)
	case map[string]interface{}:
		for key, item := range v {
			v[key] = s.sanitizeValue(item)
		}
		return v
	case []interface{}:
		for i, item := range v {
			v[i] = s.sanitizeValue(item)
		}
		return v
	default:
		return v
	}
}

func (s *Sanitizer) isExempt(path string) bool {
	for _, re := range s.exempt {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}

// Middleware rewrites JSON and form bodies of write requests with their
// sanitized form before the handler binds them. The sanitized JSON object is
// also stashed in the echo context for the audit wrapper, which needs the body
// after the handler has consumed it.
func (s *Sanitizer) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()

			switch req.Method {
			case http.MethodPost, http.MethodPut, http.MethodPatch:
			default:
				return next(c)
			}

			if s.isExempt(req.URL.Path) || req.Body == nil {
				return next(c)
			}

			contentType := strings.ToLower(strings.TrimSpace(strings.SplitN(req.Header.Get(echo.HeaderContentType), ";", 2)[0]))
			switch contentType {
			case "application/json":
				if err := s.sanitizeJSONBody(c); err != nil {
					return err
				}
			case "application/x-www-form-urlencoded":
				if err := s.sanitizeFormBody(c); err != nil {
					return err
				}
			}

			return next(c)
		}
	}
}

func (s *Sanitizer) sanitizeJSONBody(c echo.Context) error {
	req := c.Request()

	raw, err := io.ReadAll(req.Body)
	if err != nil {
		return apperr.Wrap(err, apperr.KindValidation, "unable to read request body")
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		replaceBody(c, raw)
		return nil
	}

	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return apperr.New(apperr.KindValidation, "invalid JSON body")
	}

	decoded = s.sanitizeValue(decoded)

	clean, err := json.Marshal(decoded)
	if err != nil {
		return apperr.Wrap(err, apperr.KindInternal, "an unexpected error occurred")
	}
	replaceBody(c, clean)

	if body, ok := decoded.(map[string]interface{}); ok {
		c.Set(SanitizedBodyKey, body)
	}
	return nil
}

func (s *Sanitizer) sanitizeFormBody(c echo.Context) error {
	req := c.Request()

	raw, err := io.ReadAll(req.Body)
	if err != nil {
		return apperr.Wrap(err, apperr.KindValidation, "unable to read request body")
	}

	form, err := url.ParseQuery(string(raw))
	if err != nil {
		return apperr.New(apperr.KindValidation, "invalid form body")
	}

	clean := url.Values{}
	body := map[string]interface{}{}
	for key, values := range form {
		for _, value := range values {
			sanitized := s.SanitizeString(value)
			clean.Add(key, sanitized)
			body[key] = sanitized
		}
	}

	replaceBody(c, []byte(clean.Encode()))
	c.Set(SanitizedBodyKey, body)
	return nil
}

// replaceBody swaps the request body for the sanitized bytes so downstream
// binding reads the cleaned form.
func replaceBody(c echo.Context, body []byte) {
	req := c.Request()
	req.Body = io.NopCloser(bytes.NewReader(body))
	req.ContentLength = int64(len(body))
	req.Header.Set(echo.HeaderContentLength, strconv.Itoa(len(body)))
}

// SanitizedBody returns the sanitized request body stashed by the sanitize
// middleware, or nil when the request had none.
func SanitizedBody(c echo.Context) map[string]interface{} {
	body, ok := c.Get(SanitizedBodyKey).(map[string]interface{})
	if !ok {
		return nil
	}
	return body
}
