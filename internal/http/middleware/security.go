package middleware

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// HeaderAdminKey carries the shared secret for the admin API.
const HeaderAdminKey = "X-Admin-Key"

// SecurityOptions tunes SecurityHeaders. HSTS is only ever sent on HTTPS
// requests (directly or via X-Forwarded-Proto); HSTSMaxAge defaults to 180
// days. NoStore marks responses uncacheable.
type SecurityOptions struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
	NoStore    bool
}

// SecurityHeaders sets the hardening headers for a JSON-only API.
func SecurityHeaders(opt SecurityOptions) gin.HandlerFunc {
	maxAge := int64(opt.HSTSMaxAge / time.Second)
	if maxAge <= 0 {
		maxAge = int64(180 * 24 * time.Hour / time.Second)
	}
	hsts := "max-age=" + strconv.FormatInt(maxAge, 10) + "; includeSubDomains"

	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Cross-Origin-Resource-Policy", "same-origin")

		if opt.NoStore {
			h.Set("Cache-Control", "no-store")
		}
		if opt.EnableHSTS && isHTTPS(c.Request) {
			h.Set("Strict-Transport-Security", hsts)
		}
		if h.Get(requestIDHeader) != "" {
			const expose = "Access-Control-Expose-Headers"
			switch cur := h.Get(expose); {
			case cur == "":
				h.Set(expose, requestIDHeader)
			case !strings.Contains(cur, requestIDHeader):
				h.Set(expose, cur+", "+requestIDHeader)
			}
		}
		c.Next()
	}
}

func isHTTPS(r *http.Request) bool {
	return r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

// AdminKey guards the admin API with a shared secret in X-Admin-Key. An
// empty key locks the group: every request gets 403.
func AdminKey(key string) gin.HandlerFunc {
	want := []byte(key)
	return func(c *gin.Context) {
		if len(want) == 0 {
			abortJSON(c, http.StatusForbidden, "forbidden", "admin API disabled")
			return
		}
		got := []byte(c.GetHeader(HeaderAdminKey))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			abortJSON(c, http.StatusUnauthorized, "unauthorized", "missing or invalid admin key")
			return
		}
		c.Next()
	}
}

func abortJSON(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"request_id": c.Writer.Header().Get(requestIDHeader),
		"code":       code,
		"message":    msg,
	})
}
