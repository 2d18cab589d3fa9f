// Package httpapi assembles the bot's HTTP surface on a Gin engine: the
// Telegram webhook, liveness and Prometheus endpoints, optional Swagger UI,
// and the key-protected admin API.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/tbourn/instagram-relay-bot/internal/config"
	"github.com/tbourn/instagram-relay-bot/internal/http/docs"
	"github.com/tbourn/instagram-relay-bot/internal/http/handlers"
	"github.com/tbourn/instagram-relay-bot/internal/http/middleware"
)

const (
	// WebhookRoute receives Telegram updates in webhook mode. The trailing
	// segment is the shared secret.
	WebhookRoute = "/telegram/webhook/:secret"

	webhookPrefix = "/telegram/"
	maxBodyBytes  = 1 << 20
)

// Deps are the collaborators the routes dispatch to.
type Deps struct {
	Users       handlers.UserDirectory
	Stats       handlers.DownloadStats
	Broadcaster handlers.Broadcaster
	// Webhook is mounted at WebhookRoute when non-nil (webhook mode).
	Webhook gin.HandlerFunc
}

// RegisterRoutes installs middleware and routes on r.
//
// Middleware order:
//  1. OpenTelemetry
//  2. RequestID
//  3. AccessLog (secrets redacted)
//  4. Recovery
//  5. Body size limit
//  6. Metrics
//  7. Rate limiter (webhook exempt)
//  8. CORS and security headers
func RegisterRoutes(r *gin.Engine, cfg config.Config, deps Deps) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.AccessLog(middleware.RedactOptions{
		MaskHeaders: []string{middleware.HeaderAdminKey},
		MaskParams:  []string{"secret"},
	}))
	r.Use(middleware.Recovery())
	r.Use(limitBody(maxBodyBytes))
	r.Use(middleware.Metrics())
	r.Use(middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByClientIP(), webhookPrefix).Handler())
	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins))
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS: cfg.Security.EnableHSTS,
		HSTSMaxAge: cfg.Security.HSTSMaxAge,
	}))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if deps.Webhook != nil {
		r.POST(WebhookRoute, deps.Webhook)
	}

	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = cfg.APIBasePath
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	h := handlers.New(deps.Users, deps.Stats, deps.Broadcaster, cfg.Bot.AdminID)
	api := groupWithPrefix(r, cfg.APIBasePath)
	api.Use(middleware.AdminKey(cfg.AdminAPIKey))
	api.Use(middleware.SecurityHeaders(middleware.SecurityOptions{NoStore: true}))
	api.Use(gzip.Gzip(gzip.DefaultCompression))
	{
		api.GET("/stats", h.Stats)
		api.GET("/users", h.ListUsers)
		api.GET("/users/export", h.ExportUsers)
		api.POST("/broadcast", h.Broadcast)
	}
}

// corsMiddleware allows any origin (without credentials) when no allowlist
// is configured; otherwise only the listed origins.
func corsMiddleware(origins []string) gin.HandlerFunc {
	cc := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", middleware.HeaderAdminKey},
		ExposeHeaders:    []string{"X-Request-ID", "ETag", "Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 {
		cc.AllowAllOrigins = true
	} else {
		cc.AllowOrigins = origins
	}
	return cors.New(cc)
}

// limitBody caps request bodies; reads past maxBytes fail.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
