package middleware

import (
	"crypto/tls"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestSecurityHeaders_Baseline_And_ExposeHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := []struct {
		name, preset, want string
	}{
		{"adds expose header", "", "X-Request-ID"},
		{"appends to existing", "Foo", "Foo, X-Request-ID"},
		{"no duplicate", "X-Request-ID, Foo", "X-Request-ID, Foo"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := gin.New()
			r.Use(func(c *gin.Context) {
				c.Header(requestIDHeader, "rid-123")
				if tc.preset != "" {
					c.Header("Access-Control-Expose-Headers", tc.preset)
				}
				c.Next()
			})
			r.Use(SecurityHeaders(SecurityOptions{}))
			r.GET("/ok", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))

			h := w.Header()
			if h.Get("X-Content-Type-Options") != "nosniff" || h.Get("X-Frame-Options") != "DENY" ||
				h.Get("Referrer-Policy") != "no-referrer" {
				t.Fatalf("baseline headers missing: %#v", h)
			}
			if h.Get("Cache-Control") != "" || h.Get("Strict-Transport-Security") != "" {
				t.Fatalf("unexpected optional headers: %#v", h)
			}
			if got := h.Get("Access-Control-Expose-Headers"); got != tc.want {
				t.Fatalf("expose = %q; want %q", got, tc.want)
			}
		})
	}
}

func TestSecurityHeaders_NoStoreAndHSTS(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(SecurityHeaders(SecurityOptions{EnableHSTS: true, HSTSMaxAge: 24 * time.Hour, NoStore: true}))
	r.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })

	tlsReq := httptest.NewRequest(http.MethodGet, "/ok", nil)
	tlsReq.TLS = &tls.ConnectionState{}
	proxied := httptest.NewRequest(http.MethodGet, "/ok", nil)
	proxied.Header.Set("X-Forwarded-Proto", "https")

	for _, req := range []*http.Request{tlsReq, proxied} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if got := w.Header().Get("Strict-Transport-Security"); got != "max-age=86400; includeSubDomains" {
			t.Fatalf("HSTS = %q", got)
		}
		if w.Header().Get("Cache-Control") != "no-store" {
			t.Fatalf("expected no-store")
		}
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
	if got := w.Header().Get("Strict-Transport-Security"); got != "" {
		t.Fatalf("HSTS must not be sent over plain HTTP, got %q", got)
	}
}

func TestAdminKey(t *testing.T) {
	gin.SetMode(gin.TestMode)

	build := func(key string) *gin.Engine {
		r := gin.New()
		r.Use(AdminKey(key))
		r.GET("/stats", func(c *gin.Context) { c.Status(http.StatusOK) })
		return r
	}

	cases := []struct {
		name, key, header string
		want              int
		code              string
	}{
		{"valid key", "k3y", "k3y", http.StatusOK, ""},
		{"wrong key", "k3y", "nope", http.StatusUnauthorized, "unauthorized"},
		{"missing key", "k3y", "", http.StatusUnauthorized, "unauthorized"},
		{"disabled", "", "anything", http.StatusForbidden, "forbidden"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/stats", nil)
			if tc.header != "" {
				req.Header.Set(HeaderAdminKey, tc.header)
			}
			w := httptest.NewRecorder()
			build(tc.key).ServeHTTP(w, req)
			if w.Code != tc.want {
				t.Fatalf("status = %d; want %d", w.Code, tc.want)
			}
			if tc.code == "" {
				return
			}
			var body map[string]any
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("invalid JSON: %v", err)
			}
			if body["code"] != tc.code {
				t.Fatalf("code = %v; want %s", body["code"], tc.code)
			}
		})
	}
}
