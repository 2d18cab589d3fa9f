// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes settings for the
// Telegram transport, the extraction and media clients, the download queue,
// user storage and backup, the admin HTTP surface, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Bot transport modes.
const (
	ModePolling = "polling"
	ModeWebhook = "webhook"
)

// User store kinds.
const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// BotConfig holds Telegram settings.
type BotConfig struct {
	Token          string // BOT_TOKEN
	Mode           string // polling|webhook
	WebhookURL     string // public base URL; the secret path segment is appended
	WebhookSecret  string
	AdminID        int64
	PollTimeoutSec int
}

// ExtractConfig holds the extraction API client settings.
type ExtractConfig struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// FetchConfig holds the media download settings.
type FetchConfig struct {
	Timeout  time.Duration
	MaxBytes int64
}

// GitHubConfig holds the optional registry backup target. Backup is enabled
// when Token, Owner and Repo are all set.
type GitHubConfig struct {
	Token  string
	Owner  string
	Repo   string
	Path   string
	Branch string
	APIURL string
}

// Enabled reports whether the backup target is fully configured.
func (g GitHubConfig) Enabled() bool {
	return g.Token != "" && g.Owner != "" && g.Repo != ""
}

// BroadcastConfig tunes the admin fan-out.
type BroadcastConfig struct {
	RPS         float64 // sends per second across all workers; 0 = unpaced
	Concurrency int
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for admin API routes

	// Bot
	Bot         BotConfig
	AdminAPIKey string // X-Admin-Key; empty disables the admin API

	// Downloads
	Extract       ExtractConfig
	Fetch         FetchConfig
	QueueCapacity int // 0 = unbounded

	// Users
	UserStore   string // file|sqlite
	UserIDsFile string
	DBPath      string
	GitHub      GitHubConfig
	Broadcast   BroadcastConfig

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
//
// BOT_TOKEN is not required here so offline commands can run without it;
// see RequireBot.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// Bot
		Bot: BotConfig{
			Token:          strings.TrimSpace(getenv("BOT_TOKEN", "")),
			Mode:           strings.ToLower(getenv("BOT_MODE", ModePolling)),
			WebhookURL:     strings.TrimRight(getenv("WEBHOOK_URL", ""), "/"),
			WebhookSecret:  getenv("WEBHOOK_SECRET", ""),
			AdminID:        getint64("ADMIN_ID", 0),
			PollTimeoutSec: getint("POLL_TIMEOUT", 30),
		},
		AdminAPIKey: getenv("ADMIN_API_KEY", ""),

		// Downloads
		Extract: ExtractConfig{
			Endpoint: getenv("EXTRACT_API_ENDPOINT", "https://apihut.in/api/download/videos"),
			APIKey:   getenv("EXTRACT_API_KEY", ""),
			Timeout:  getdur("EXTRACT_TIMEOUT", 60*time.Second),
		},
		Fetch: FetchConfig{
			Timeout:  getdur("FETCH_TIMEOUT", 5*time.Minute),
			MaxBytes: getint64("FETCH_MAX_BYTES", 50<<20),
		},
		QueueCapacity: getint("QUEUE_CAPACITY", 0),

		// Users
		UserStore:   strings.ToLower(getenv("USER_STORE", StoreFile)),
		UserIDsFile: getenv("USER_IDS_FILE", "user_ids.txt"),
		DBPath:      getenv("DB_PATH", "relaybot.db"),
		GitHub: GitHubConfig{
			Token:  getenv("GITHUB_TOKEN", ""),
			Owner:  getenv("GITHUB_OWNER", ""),
			Repo:   getenv("GITHUB_REPO", ""),
			Path:   getenv("GITHUB_PATH", "user_ids.txt"),
			Branch: getenv("GITHUB_BRANCH", ""),
			APIURL: getenv("GITHUB_API_URL", "https://api.github.com"),
		},
		Broadcast: BroadcastConfig{
			RPS:         getfloat("BROADCAST_RPS", 25),
			Concurrency: getint("BROADCAST_CONCURRENCY", 8),
		},

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "instagram-relay-bot"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	switch cfg.Bot.Mode {
	case ModePolling:
	case ModeWebhook:
		if cfg.Bot.WebhookURL == "" {
			return cfg, errors.New("WEBHOOK_URL is required when BOT_MODE=webhook")
		}
		if len(cfg.Bot.WebhookSecret) < 16 {
			return cfg, errors.New("WEBHOOK_SECRET must be at least 16 characters when BOT_MODE=webhook")
		}
	default:
		return cfg, errors.New("BOT_MODE must be one of: polling, webhook")
	}
	if cfg.Bot.AdminID < 0 {
		return cfg, errors.New("ADMIN_ID must be >= 0")
	}
	if cfg.Bot.PollTimeoutSec < 0 {
		return cfg, errors.New("POLL_TIMEOUT must be >= 0")
	}
	if strings.TrimSpace(cfg.Extract.Endpoint) == "" {
		return cfg, errors.New("EXTRACT_API_ENDPOINT must not be empty")
	}
	if cfg.Extract.Timeout <= 0 || cfg.Fetch.Timeout <= 0 {
		return cfg, errors.New("EXTRACT_TIMEOUT and FETCH_TIMEOUT must be positive durations")
	}
	if cfg.Fetch.MaxBytes <= 0 {
		return cfg, errors.New("FETCH_MAX_BYTES must be > 0")
	}
	if cfg.QueueCapacity < 0 {
		return cfg, errors.New("QUEUE_CAPACITY must be >= 0")
	}
	switch cfg.UserStore {
	case StoreFile:
		if strings.TrimSpace(cfg.UserIDsFile) == "" {
			return cfg, errors.New("USER_IDS_FILE must not be empty")
		}
	case StoreSQLite:
		if strings.TrimSpace(cfg.DBPath) == "" {
			return cfg, errors.New("DB_PATH must not be empty")
		}
	default:
		return cfg, errors.New("USER_STORE must be one of: file, sqlite")
	}
	if cfg.Broadcast.RPS < 0 {
		return cfg, errors.New("BROADCAST_RPS must be >= 0")
	}
	if cfg.Broadcast.Concurrency < 1 {
		return cfg, errors.New("BROADCAST_CONCURRENCY must be >= 1")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// RequireBot reports an error when settings needed to talk to Telegram are
// missing.
func (c Config) RequireBot() error {
	if c.Bot.Token == "" {
		return errors.New("BOT_TOKEN is required")
	}
	if c.Bot.AdminID == 0 {
		return errors.New("ADMIN_ID is required")
	}
	return nil
}

// WebhookEndpoint is the full URL Telegram should deliver updates to.
func (c Config) WebhookEndpoint() string {
	return c.Bot.WebhookURL + "/telegram/webhook/" + c.Bot.WebhookSecret
}

// env reads k and parses it; unset, empty or unparsable values yield def.
func env[T any](k string, def T, parse func(string) (T, error)) T {
	v, ok := os.LookupEnv(k)
	if !ok || v == "" {
		return def
	}
	out, err := parse(v)
	if err != nil {
		return def
	}
	return out
}

func getenv(k, def string) string {
	return env(k, def, func(s string) (string, error) { return s, nil })
}

func getfloat(k string, def float64) float64 {
	return env(k, def, func(s string) (float64, error) { return strconv.ParseFloat(s, 64) })
}

func getint(k string, def int) int {
	return env(k, def, strconv.Atoi)
}

func getint64(k string, def int64) int64 {
	return env(k, def, func(s string) (int64, error) {
		return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	})
}

func getdur(k string, def time.Duration) time.Duration {
	return env(k, def, time.ParseDuration)
}

var errNotBool = errors.New("not a boolean")

func getbool(k string, def bool) bool {
	return env(k, def, func(s string) (bool, error) {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "1", "true", "yes", "y", "on":
			return true, nil
		case "0", "false", "no", "n", "off":
			return false, nil
		}
		return false, errNotBool
	})
}

// splitCSV splits a comma list, dropping blanks.
func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
