package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/smartmarks/internal/config"
	"github.com/MrSnakeDoc/smartmarks/internal/feed"
	"github.com/MrSnakeDoc/smartmarks/internal/httpserver"
	"github.com/MrSnakeDoc/smartmarks/internal/httpserver/deps"
	"github.com/MrSnakeDoc/smartmarks/internal/logger"
	"github.com/MrSnakeDoc/smartmarks/internal/reconcile"
	"github.com/MrSnakeDoc/smartmarks/internal/redis"
	"github.com/MrSnakeDoc/smartmarks/internal/scheduler"
	"github.com/MrSnakeDoc/smartmarks/internal/session"
	redisstore "github.com/MrSnakeDoc/smartmarks/internal/store/redis"
	"github.com/MrSnakeDoc/smartmarks/internal/utils"
	"github.com/MrSnakeDoc/smartmarks/internal/version"
	"github.com/MrSnakeDoc/smartmarks/internal/views"
)

type App struct {
	cfg         *config.Config
	logger      logger.Logger
	server      *httpserver.Server
	redisClient *goredis.Client
	views       *views.Registry
	resyncer    *scheduler.Resyncer
	reaper      *scheduler.Reaper
}

func New() *App {
	cfg := config.Load()

	loggerClient := logger.New(cfg.LogLevel, cfg.PrettyLog)

	// Initialize Redis early - fail fast if unavailable
	loggerClient.Infof("Connecting to Redis at %s", cfg.RedisAddr)
	redisClient, err := redis.New(context.Background(), redis.ConnectOptions{
		Addr:           cfg.RedisAddr,
		User:           cfg.RedisUser,
		Password:       cfg.RedisPassword,
		RedisDB:        cfg.RedisDB,
		DialTimeout:    cfg.RedisDT,
		ReadTimeout:    cfg.RedisRT,
		WriteTimeout:   cfg.RedisWT,
		PoolSize:       cfg.RedisPoolSize,
		ConnectTimeout: cfg.RedisConnectTimeout,
		RetryInterval:  cfg.RedisRetryInterval,
		MaxWait:        cfg.RedisMaxWait,
		PingTimeout:    cfg.RedisPingTimeout,
		WarnThreshold:  cfg.RedisWarnThreshold,
	}, loggerClient)
	if err != nil {
		loggerClient.Errorf("Failed to connect to Redis: %v", err)
		os.Exit(1)
	}
	loggerClient.Info("Redis initialized successfully")

	// Identity provider and sessions
	provider, err := session.NewOAuthProvider(session.ProviderOptions{
		Name:         cfg.OAuthProvider,
		ClientID:     cfg.OAuthClientID,
		ClientSecret: cfg.OAuthClientSecret,
		RedirectURL:  cfg.CallbackURL(),
		UserInfoURL:  cfg.OAuthUserInfoURL,
	})
	if err != nil {
		loggerClient.Errorf("Failed to configure identity provider: %v", err)
		os.Exit(1)
	}
	sessions := session.NewManager(redisClient, session.Options{
		SessionTTL: cfg.SessionTTL,
		StateTTL:   cfg.OAuthStateTTL,
	}, loggerClient, provider)

	// Bookmark store publishes every committed write on the owner's change-feed
	store := redisstore.NewStore(redisClient, feed.NewPublisher(redisClient), loggerClient)
	subscriber := feed.NewSubscriber(redisClient, loggerClient)

	engineDeps := reconcile.Deps{
		Store:     store,
		Subscribe: reconcile.Subscriber(subscriber.Subscribe),
		Sessions:  sessions,
		Logger:    loggerClient,
	}
	registry := views.NewRegistry(func(ctx context.Context, token string) (*reconcile.Engine, error) {
		return reconcile.Open(ctx, engineDeps, token)
	}, loggerClient)

	// Create manual resync trigger channel
	reloadTrigger := make(chan struct{}, 1)

	resyncer := scheduler.NewResyncer(registry, loggerClient, cfg.ResyncInterval, reloadTrigger)
	reaper := scheduler.NewReaper(registry, loggerClient, cfg.ReapInterval, cfg.ViewIdleTTL)

	// Dependencies passed to routes (extend as needed).
	d := deps.Deps{
		Logger:         loggerClient,
		StartTime:      time.Now(),
		Version:        version.Version,
		Commit:         version.Commit,
		BuildDate:      version.BuildDate,
		GoVersion:      version.GoVersion,
		TimeNow:        time.Now,
		AllowedHosts:   cfg.AllowedHosts,
		AllowedCIDRS:   cfg.AllowedCIDRS,
		TrustProxy:     cfg.TrustProxy,
		RequestTimeout: cfg.RequestTimeout,
		RedisClient:    redisClient,
		Sessions:       sessions,
		Views:          registry,
		Provider:       cfg.OAuthProvider,
		SessionCookie:  cfg.SessionCookie,
		SessionTTL:     cfg.SessionTTL,
		SecureCookie:   cfg.SecureCookie,
		RateLimitBurst: cfg.RateLimitBurst,
		RateLimitRate:  cfg.RateLimitPerMinute,
		ReloadTrigger:  reloadTrigger,
		LastResync:     resyncer.LastRun,
	}

	server := httpserver.New(cfg, loggerClient, d)

	return &App{
		cfg:         cfg,
		logger:      loggerClient,
		server:      server,
		redisClient: redisClient,
		views:       registry,
		resyncer:    resyncer,
		reaper:      reaper,
	}
}

func (a *App) Run() error {
	a.logger.Infof("🚀 Starting smartmarks %s on %s", version.Version, a.cfg.ListenPort)
	a.logger.Info(version.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.resyncer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start resyncer: %w", err)
	}
	a.logger.Info("resyncer started",
		logger.Duration("interval", a.cfg.ResyncInterval))

	if err := a.reaper.Start(ctx); err != nil {
		return fmt.Errorf("failed to start reaper: %w", err)
	}
	a.logger.Info("reaper started",
		logger.Duration("interval", a.cfg.ReapInterval),
		logger.Duration("idle_ttl", a.cfg.ViewIdleTTL))

	errCh := make(chan error, 1)
	go func() {
		if err := a.server.Start(); err != nil {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("⏳ Shutting down gracefully...")
	case err := <-errCh:
		return err
	}

	a.resyncer.Stop()
	a.reaper.Stop()

	// Closing the views ends open event streams, which would otherwise hold Shutdown.
	a.views.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := a.server.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("failed to stop server: %w", err)
	}

	// Views opened by requests that raced the shutdown
	a.views.CloseAll()

	if a.redisClient != nil {
		utils.MustClose(a.redisClient, "redis", a.logger)
	}

	a.logger.Info("✅ smartmarks stopped cleanly")
	_ = a.logger.Sync()
	return nil
}
