// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server settings,
// logging, persistence paths, rate limiting, observability, and the sync
// policy constants (history windows, result limits, cache bounds, debounce).
//
// The history window/limit values are deliberately exposed as tunables rather
// than hard-coded invariants: the public feed uses a wider window with a
// smaller result cap than the private kinds, and deployments may want to
// revisit those numbers.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
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

// SyncConfig holds the policy constants of the synchronization engine.
type SyncConfig struct {
	// DefaultRelays seeds the relay set on first run or when the persisted
	// relay slice is missing or invalid.
	DefaultRelays []string

	// DMSinceWindow / GroupSinceWindow set the `since` floor for the live
	// direct-message and group subscriptions.
	DMSinceWindow    time.Duration
	GroupSinceWindow time.Duration

	// Historical query bounds. The public feed historically uses a wider
	// window with a smaller limit than the private kinds.
	PublicHistoryWindow  time.Duration
	PublicHistoryLimit   int
	PrivateHistoryWindow time.Duration
	PrivateHistoryLimit  int

	// MessageWindow caps how many messages are retained per thought.
	MessageWindow int

	// SeenCacheCap / SeenCacheLow bound the processed-event-id cache: once
	// the cap is exceeded the oldest ids are evicted down to the low mark.
	SeenCacheCap int
	SeenCacheLow int

	// DebounceWindow coalesces bursts of state mutations into a single
	// state-updated notification.
	DebounceWindow time.Duration

	// EventBuffer sizes the inbound event channel between the gateway and
	// the processor loop.
	EventBuffer int

	// ProfileFetchRPS / ProfileFetchBurst bound best-effort profile fetches.
	ProfileFetchRPS   float64
	ProfileFetchBurst int

	// PublishTimeout / QueryTimeout bound the network suspension points.
	PublishTimeout time.Duration
	QueryTimeout   time.Duration
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	GinMode           string // debug|release|test

	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool   // pretty console logs in dev

	// API
	APIBasePath string

	// Persistence
	DBPath string // SQLite path

	// Rate limiting (HTTP)
	RateRPS   float64
	RateBurst int

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Publish idempotency
	IdempotencyTTL time.Duration

	// Observability
	OTEL OTELConfig

	// Sync engine policy
	Sync SyncConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from the environment (after a best-effort .env
// load), applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	// A missing .env file is the normal production case.
	_ = godotenv.Load()

	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),

		// API
		APIBasePath: normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// Persistence
		DBPath: getenv("DB_PATH", "thoughtsync.db"),

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

		// Publish idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "thoughtsync"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},

		// Sync engine policy
		Sync: SyncConfig{
			DefaultRelays:        splitCSV(getenv("RELAYS", "")),
			DMSinceWindow:        getdur("DM_SINCE_WINDOW", 7*24*time.Hour),
			GroupSinceWindow:     getdur("GROUP_SINCE_WINDOW", 7*24*time.Hour),
			PublicHistoryWindow:  getdur("PUBLIC_HISTORY_WINDOW", 30*24*time.Hour),
			PublicHistoryLimit:   getint("PUBLIC_HISTORY_LIMIT", 50),
			PrivateHistoryWindow: getdur("PRIVATE_HISTORY_WINDOW", 7*24*time.Hour),
			PrivateHistoryLimit:  getint("PRIVATE_HISTORY_LIMIT", 100),
			MessageWindow:        getint("MESSAGE_WINDOW", 200),
			SeenCacheCap:         getint("SEEN_CACHE_CAP", 2000),
			SeenCacheLow:         getint("SEEN_CACHE_LOW", 1500),
			DebounceWindow:       getdur("DEBOUNCE_WINDOW", 100*time.Millisecond),
			EventBuffer:          getint("EVENT_BUFFER", 256),
			ProfileFetchRPS:      getfloat("PROFILE_FETCH_RPS", 2.0),
			ProfileFetchBurst:    getint("PROFILE_FETCH_BURST", 5),
			PublishTimeout:       getdur("PUBLISH_TIMEOUT", 10*time.Second),
			QueryTimeout:         getdur("QUERY_TIMEOUT", 15*time.Second),
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
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
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
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}
	if err := validateSync(cfg.Sync); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func validateSync(s SyncConfig) error {
	if s.PublicHistoryLimit <= 0 || s.PrivateHistoryLimit <= 0 {
		return errors.New("history limits must be > 0")
	}
	if s.PublicHistoryWindow <= 0 || s.PrivateHistoryWindow <= 0 {
		return errors.New("history windows must be > 0")
	}
	if s.MessageWindow <= 0 {
		return errors.New("MESSAGE_WINDOW must be > 0")
	}
	if s.SeenCacheLow <= 0 || s.SeenCacheCap <= s.SeenCacheLow {
		return errors.New("SEEN_CACHE_CAP must exceed SEEN_CACHE_LOW (> 0)")
	}
	if s.DebounceWindow <= 0 {
		return errors.New("DEBOUNCE_WINDOW must be > 0")
	}
	if s.EventBuffer <= 0 {
		return errors.New("EVENT_BUFFER must be > 0")
	}
	if s.ProfileFetchRPS <= 0 || s.ProfileFetchBurst < 1 {
		return errors.New("profile fetch rate must be positive")
	}
	if s.PublishTimeout <= 0 || s.QueryTimeout <= 0 {
		return errors.New("network timeouts must be > 0")
	}
	return nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if b, err := strconv.ParseBool(strings.ToLower(v)); err == nil {
			return b
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// normalizeBasePath ensures the base path begins with "/" and carries no
// trailing slash; "/" collapses to the root group.
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" || p == "/" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return strings.TrimRight(p, "/")
}
