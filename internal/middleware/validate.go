package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/bilal-89/wissahickon-backend/internal/apperr"
)

// allowedContentTypes lists the media types write requests may carry. The
// comparison ignores parameters such as charset and boundary.
var allowedContentTypes = map[string]struct{}{
	"application/json":                  {},
	"multipart/form-data":               {},
	"application/x-www-form-urlencoded": {},
	"text/plain":                        {},
}

// ValidateRequest rejects malformed requests before any business logic runs:
// control bytes in the URL path (400), bodies over the size limit (413), and
// write requests with a content type outside the allow-list (415). A missing
// content type passes; binding will fail later if the body matters.
func ValidateRequest(maxBodyBytes int64) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if hasControlBytes(c.Request().RequestURI) {
				return apperr.New(apperr.KindValidation, "invalid characters in request path")
			}

			switch c.Request().Method {
			case http.MethodPost, http.MethodPut, http.MethodPatch:
				if maxBodyBytes > 0 && c.Request().ContentLength > maxBodyBytes {
					return apperr.New(apperr.KindPayloadTooLarge, "request entity too large")
				}

				contentType := c.Request().Header.Get(echo.HeaderContentType)
				if !contentTypeAllowed(contentType) {
					return apperr.Newf(apperr.KindUnsupportedMedia, "unsupported content type: %s", contentType)
				}
			}

			return next(c)
		}
	}
}

func contentTypeAllowed(contentType string) bool {
	if contentType == "" {
		return true
	}
	base := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	_, ok := allowedContentTypes[base]
	return ok
}

func hasControlBytes(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] == 0x7f {
			return true
		}
	}
	return false
}
