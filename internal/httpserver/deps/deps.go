package deps

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/smartmarks/internal/domain"
	"github.com/MrSnakeDoc/smartmarks/internal/logger"
	"github.com/MrSnakeDoc/smartmarks/internal/reconcile"
)

// Sessions is the sign-in side used by the auth handlers.
type Sessions interface {
	SignInURL(ctx context.Context, provider, redirectTarget string) (string, error)
	Complete(ctx context.Context, state, code string) (string, domain.Identity, string, error)
	CurrentUser(ctx context.Context, token string) (domain.Identity, bool, error)
	SignOut(ctx context.Context, token string) error
}

// Views hands out the reconciliation engine of a session.
type Views interface {
	Acquire(ctx context.Context, token string) (*reconcile.Engine, error)
	Touch(token string)
	Release(token string)
	Count() int
}

type Deps struct {
	Logger         logger.Logger
	StartTime      time.Time
	Version        string
	Commit         string
	BuildDate      string
	GoVersion      string
	TimeNow        func() time.Time // for testing, defaults to time.Now
	AllowedHosts   []string         // Host headers allowed to access the server
	AllowedCIDRS   []string         // IPs allowed to access infra endpoints
	TrustProxy     bool             // true if running behind a trusted reverse proxy (e.g., cloudflared)
	RequestTimeout time.Duration    // per-request timeout, streams excluded
	RedisClient    *redis.Client    // Redis client connection
	Sessions       Sessions         // OAuth sign-in and session lookup
	Views          Views            // one reconciliation engine per session
	Provider       string           // default identity provider for /login
	SessionCookie  string           // cookie carrying the session token
	SessionTTL     time.Duration    // cookie lifetime, matches the redis session TTL
	SecureCookie   bool             // set Secure on the session cookie
	RateLimitBurst int              // write routes: tokens per client
	RateLimitRate  int              // write routes: refill per client per minute
	ReloadTrigger  chan struct{}    // Channel to trigger a manual resync of every view
	LastResync     func() time.Time // when views were last resynced, nil if unknown
}
