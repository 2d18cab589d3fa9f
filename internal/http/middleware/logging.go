// Package middleware contains the Gin middleware shared by the bot's HTTP
// surface: the Telegram webhook, health and metrics endpoints, and the admin
// API.
//
// Recommended order: RequestID, AccessLog, Recovery. That way panics and
// access lines carry the correlation id.
package middleware

import (
	"net/http"
	"regexp"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	requestIDKey    = "requestID"
	requestIDHeader = "X-Request-ID"
	loggerKey       = "logger"

	// maxQueryLogLength caps the raw query bytes written to access logs.
	maxQueryLogLength = 1024

	redacted = "[REDACTED]"
)

// RequestID reuses the inbound X-Request-ID or generates a UUIDv4, echoes it
// on the response and stores it in the Gin context.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

// RedactOptions lists what AccessLog must never write verbatim.
//
// MaskHeaders are header names (case-insensitive) whose values are replaced
// entirely; Authorization, Cookie and the Telegram secret-token header are
// always masked. MaskParams are route parameters (e.g. the webhook "secret")
// whose values are replaced in the logged path.
type RedactOptions struct {
	MaskHeaders []string
	MaskParams  []string
}

// botTokenRE matches Telegram bot tokens ("123456789:AA...") wherever they
// show up in a path or query string.
var botTokenRE = regexp.MustCompile(`\b\d{6,12}:[A-Za-z0-9_-]{30,}\b`)

// AccessLog writes one structured line per request with secrets scrubbed and
// attaches a request-scoped logger that handlers retrieve via LoggerFrom.
// 5xx (or requests with Gin errors) log at error, 4xx at warn.
func AccessLog(opts RedactOptions) gin.HandlerFunc {
	masked := map[string]struct{}{
		"authorization":                   {},
		"cookie":                          {},
		"set-cookie":                      {},
		"x-telegram-bot-api-secret-token": {},
	}
	for _, h := range opts.MaskHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			masked[h] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		start := time.Now()

		rid, _ := c.Get(requestIDKey)
		l := log.With().
			Str("request_id", asString(rid)).
			Str("method", c.Request.Method).
			Str("remote_ip", c.ClientIP()).
			Logger()
		c.Set(loggerKey, &l)

		c.Next()

		path := redactPath(c, opts.MaskParams)
		query := botTokenRE.ReplaceAllString(truncate(c.Request.URL.RawQuery, maxQueryLogLength), redacted)

		headers := make(map[string]string, len(c.Request.Header))
		for k, vv := range c.Request.Header {
			if _, ok := masked[strings.ToLower(k)]; ok {
				headers[k] = redacted
				continue
			}
			headers[k] = strings.Join(vv, ", ")
		}

		status := c.Writer.Status()
		var ev *zerolog.Event
		switch {
		case len(c.Errors) > 0 || status >= http.StatusInternalServerError:
			ev = l.Error()
			if len(c.Errors) > 0 {
				ev = ev.Str("errors", c.Errors.String())
			}
		case status >= http.StatusBadRequest:
			ev = l.Warn()
		default:
			ev = l.Info()
		}
		ev.Str("path", path).
			Str("query", query).
			Int("status", status).
			Int("bytes_out", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Interface("headers", headers).
			Msg("http_request")
	}
}

// redactPath prefers the raw URL path (so health and metrics lines stay
// readable) and replaces masked route parameters and bot tokens.
func redactPath(c *gin.Context, params []string) string {
	path := c.Request.URL.Path
	for _, name := range params {
		if v := c.Param(name); v != "" {
			path = strings.ReplaceAll(path, v, redacted)
		}
	}
	return botTokenRE.ReplaceAllString(path, redacted)
}

// Recovery turns a panic into a JSON 500 envelope carrying the request id
// and logs the stack. If the handler already wrote a response only the
// status is forced.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			rid, _ := c.Get(requestIDKey)
			LoggerFrom(c).Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Msg("panic recovered")

			if c.Writer.Written() {
				c.AbortWithStatus(http.StatusInternalServerError)
				return
			}
			c.Header(requestIDHeader, asString(rid))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"request_id": asString(rid),
				"code":       "internal_error",
				"message":    "internal server error",
			})
		}()
		c.Next()
	}
}

// LoggerFrom returns the request-scoped logger installed by AccessLog, or
// the global logger when none is attached.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	l := log.With().Logger()
	return &l
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

// truncate cuts s to max bytes and appends an ellipsis; max <= 0 disables it.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
