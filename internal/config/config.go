package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ListenPort      string        // ex: ":8080"
	ShutdownTimeout time.Duration // ex: 5s
	RequestTimeout  time.Duration // per-request timeout, ex: 10s (SSE streams are exempt)

	LogLevel  string // "debug" | "info" | "warn" | "error"
	PrettyLog bool   // true => zap dev (color), false => zap prod (JSON)

	// Public origin the browser reaches us on, used to build the OAuth callback URL.
	BaseURL string // ex: https://marks.domain.ext

	// OAuth identity provider
	OAuthProvider     string        // only "google" is supported
	OAuthClientID     string        // required
	OAuthClientSecret string        // required
	OAuthUserInfoURL  string        // OpenID userinfo endpoint
	OAuthStateTTL     time.Duration // how long a sign-in attempt stays valid (default: 10m)

	// Sessions
	SessionTTL    time.Duration // session lifetime in redis (default: 7d)
	SessionCookie string        // cookie carrying the session token
	SecureCookie  bool          // set the Secure flag on the session cookie

	// Views (one reconciliation engine per signed-in session)
	ResyncInterval time.Duration // full refetch of every open view (default: 5m)
	ReapInterval   time.Duration // how often idle views are swept (default: 1m)
	ViewIdleTTL    time.Duration // idle time before a view is closed (default: 30m)

	// Write routes rate limiting
	RateLimitBurst     int // tokens per client
	RateLimitPerMinute int // refill per client per minute

	// Redis
	RedisAddr             string        // ex: "localhost:6379"
	RedisUser             string        // optional
	RedisPassword         string        // optional
	RedisPasswordRequired bool          // true => require password, false => allow empty password
	RedisDB               int           // Redis DB number
	RedisDT               time.Duration // Redis dial timeout (ex: 5s)
	RedisRT               time.Duration // Redis read timeout (ex: 3s)
	RedisWT               time.Duration // Redis write timeout (ex: 3s)
	RedisMaxWait          time.Duration // max wait between retries (ex: 10s)
	RedisPingTimeout      time.Duration // timeout for each ping attempt (ex: 5s)
	RedisPoolSize         int           // Redis connection pool size
	RedisConnectTimeout   time.Duration // Total time to retry connecting (ex: 30s)
	RedisRetryInterval    time.Duration // Initial wait between retries (ex: 2s, grows exponentially)
	RedisWarnThreshold    int           // warn after this many attempts

	AllowedHosts []string // optional, restrict access to specific Host headers
	AllowedCIDRS []string // optional, restrict infra endpoints to specific IPs/CIDRs
	TrustProxy   bool     // true => trust X-Forwarded-For headers (e.g. cloudflared)
}

func Load() *Config {
	cfg := &Config{
		// Server settings
		ListenPort:      getenv("SMARTMARKS_LISTEN_PORT", ":8080"),
		ShutdownTimeout: mustDuration("SMARTMARKS_SHUTDOWN_TIMEOUT", 5*time.Second),
		RequestTimeout:  mustDuration("SMARTMARKS_REQUEST_TIMEOUT", 10*time.Second),

		// Logging
		LogLevel:  getenv("SMARTMARKS_LOG_LEVEL", "info"),
		PrettyLog: mustBool("SMARTMARKS_PRETTY_LOG", true),

		BaseURL: strings.TrimRight(requireEnv("SMARTMARKS_BASE_URL"), "/"),

		// OAuth
		OAuthProvider:     getenv("SMARTMARKS_OAUTH_PROVIDER", "google"),
		OAuthClientID:     requireEnv("SMARTMARKS_OAUTH_CLIENT_ID"),
		OAuthClientSecret: requireEnv("SMARTMARKS_OAUTH_CLIENT_SECRET"),
		OAuthUserInfoURL:  getenv("SMARTMARKS_OAUTH_USERINFO_URL", "https://openidconnect.googleapis.com/v1/userinfo"),
		OAuthStateTTL:     mustDuration("SMARTMARKS_OAUTH_STATE_TTL", 10*time.Minute),

		// Sessions
		SessionTTL:    mustDuration("SMARTMARKS_SESSION_TTL", 7*24*time.Hour),
		SessionCookie: getenv("SMARTMARKS_SESSION_COOKIE", "smartmarks_session"),
		SecureCookie:  mustBool("SMARTMARKS_SECURE_COOKIE", true),

		// Views
		ResyncInterval: mustDuration("SMARTMARKS_RESYNC_INTERVAL", 5*time.Minute),
		ReapInterval:   mustDuration("SMARTMARKS_REAP_INTERVAL", time.Minute),
		ViewIdleTTL:    mustDuration("SMARTMARKS_VIEW_IDLE_TTL", 30*time.Minute),

		RateLimitBurst:     getenvInt("SMARTMARKS_RATE_LIMIT_BURST", 30),
		RateLimitPerMinute: getenvInt("SMARTMARKS_RATE_LIMIT_PER_MINUTE", 60),

		// Redis settings
		RedisAddr:             requireEnv("SMARTMARKS_REDIS_ADDR"),
		RedisUser:             getenv("SMARTMARKS_REDIS_USERNAME", "default"),
		RedisPasswordRequired: mustBool("SMARTMARKS_REDIS_PASSWORD_REQUIRED", true),
		RedisPassword:         getenv("SMARTMARKS_REDIS_PASSWORD", ""),
		RedisDB:               requireEnvInt("SMARTMARKS_REDIS_DB"),
		RedisDT:               mustDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		RedisRT:               mustDuration("REDIS_READ_TIMEOUT", 3*time.Second),
		RedisWT:               mustDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		RedisMaxWait:          mustDuration("REDIS_MAX_WAIT", 10*time.Second),
		RedisPingTimeout:      mustDuration("REDIS_PING_TIMEOUT", 5*time.Second),
		RedisPoolSize:         getenvInt("REDIS_POOL_SIZE", 10),
		RedisConnectTimeout:   mustDuration("REDIS_CONNECT_TIMEOUT", 30*time.Second),
		RedisRetryInterval:    mustDuration("REDIS_RETRY_INTERVAL", 2*time.Second),
		RedisWarnThreshold:    getenvInt("REDIS_WARN_THRESHOLD", 3),

		// Access restrictions
		AllowedHosts: splitAndTrim(getenv("SMARTMARKS_ALLOWED_HOSTS", "")),
		AllowedCIDRS: splitAndTrim(getenv("SMARTMARKS_ALLOWED_CIDRS", "")),
		TrustProxy:   mustBool("SMARTMARKS_TRUST_PROXY", true),
	}

	// Validate Redis password configuration
	if cfg.RedisPasswordRequired && cfg.RedisPassword == "" {
		panic("❌ FATAL: SMARTMARKS_REDIS_PASSWORD is required when SMARTMARKS_REDIS_PASSWORD_REQUIRED=true")
	}

	if cfg.OAuthProvider != "google" {
		panic(fmt.Sprintf("❌ FATAL: unsupported SMARTMARKS_OAUTH_PROVIDER %q", cfg.OAuthProvider))
	}

	// Log config only in debug mode with redacted sensitive fields
	if cfg.LogLevel == "debug" {
		log.Printf("[DEBUG] cfg: %+v\n", cfg.Redacted())
	}

	return cfg
}

// Redacted returns a copy safe to print.
func (c *Config) Redacted() Config {
	cp := *c
	cp.RedisPassword = "***REDACTED***"
	if c.RedisUser != "" {
		cp.RedisUser = "***REDACTED***"
	}
	cp.OAuthClientSecret = "***REDACTED***"
	return cp
}

// CallbackURL is the OAuth redirect target registered with the provider.
func (c *Config) CallbackURL() string {
	return c.BaseURL + "/auth/callback"
}

// helpers
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func requireEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		panic(fmt.Sprintf("❌ FATAL: Required environment variable %s is not set", key))
	}
	return v
}

func requireEnvInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		panic(fmt.Sprintf("❌ FATAL: Required environment variable %s is not set", key))
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		panic(fmt.Sprintf("❌ FATAL: Invalid integer value for %s: %s", key, v))
	}
	return i
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func mustBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func mustDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	raw := strings.Split(s, ",")
	parts := make([]string, 0, len(raw))
	for _, part := range raw {
		trimmed := strings.TrimSpace(part)
		// Remove surrounding quotes if present
		trimmed = strings.Trim(trimmed, `"'`)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
