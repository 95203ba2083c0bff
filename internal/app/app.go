package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/vortixworld/bypassgate/internal/chain"
	"github.com/vortixworld/bypassgate/internal/config"
	"github.com/vortixworld/bypassgate/internal/db"
	internaladmin "github.com/vortixworld/bypassgate/internal/http/api/admin"
	"github.com/vortixworld/bypassgate/internal/http/api/admin/handlers"
	"github.com/vortixworld/bypassgate/internal/http/api/bypass"
	"github.com/vortixworld/bypassgate/internal/http/middleware"
	"github.com/vortixworld/bypassgate/internal/keys"
	"github.com/vortixworld/bypassgate/internal/kv"
	"github.com/vortixworld/bypassgate/internal/provider"
	"github.com/vortixworld/bypassgate/internal/ratelimit"
	"github.com/vortixworld/bypassgate/internal/router"
	"github.com/vortixworld/bypassgate/internal/store"
	"github.com/vortixworld/bypassgate/internal/usage"
)

// Services holds the long-lived components shared by every request.
type Services struct {
	KeyStore   *store.KeyStore
	Keys       *keys.Manager
	Limiter    *ratelimit.Manager
	Routes     *router.Table
	Chain      bypass.ChainRunner
	Recorder   usage.Recorder
	Summarizer handlers.UsageSummarizer

	closers []func()
}

// Close releases backend connections.
func (s *Services) Close() {
	if s == nil {
		return
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// BuildServices opens the configured backends and wires the request pipeline.
func BuildServices(ctx context.Context, cfg config.Config) (*Services, error) {
	svc := &Services{Recorder: usage.NopRecorder{}}

	backend, errBackend := openBackend(ctx, cfg.Store, svc)
	if errBackend != nil {
		svc.Close()
		return nil, errBackend
	}
	svc.KeyStore = store.NewKeyStore(backend)
	svc.Keys = keys.NewManager(svc.KeyStore)

	svc.Limiter = ratelimit.NewManager(ratelimit.StaticSettings(ratelimit.SettingsFromConfig(cfg.RateLimit)), nil, nil)
	svc.closers = append(svc.closers, svc.Limiter.Close)

	routes, errRoutes := router.TableFromConfig(cfg.HostRules)
	if errRoutes != nil {
		svc.Close()
		return nil, errRoutes
	}
	svc.Routes = routes

	registry := provider.NewRegistry(provider.NewAbysmPaid(provider.AbysmPaidOptions{
		BaseURL:   cfg.Providers.AbysmPaid.BaseURL,
		APIKey:    cfg.Providers.AbysmPaid.APIKey,
		UserAgent: cfg.Bypass.UserAgent,
		Timeout:   cfg.Bypass.UpstreamTimeout,
	}))
	svc.Chain = chain.NewExecutor(registry, cfg.Bypass.RedirectBase)
	return svc, nil
}

func openBackend(ctx context.Context, cfg config.StoreConfig, svc *Services) (kv.Store, error) {
	switch cfg.Driver {
	case config.StoreDriverDatabase:
		target, errDescribe := db.Describe(cfg.DatabaseDSN)
		if errDescribe != nil {
			return nil, errDescribe
		}
		conn, errOpen := db.Open(cfg.DatabaseDSN)
		if errOpen != nil {
			return nil, errOpen
		}
		if sqlDB, errDB := conn.DB(); errDB == nil {
			svc.closers = append(svc.closers, func() { _ = sqlDB.Close() })
		}
		if errMigrate := db.Migrate(conn); errMigrate != nil {
			return nil, errMigrate
		}
		recorder := usage.NewGormRecorder(conn)
		svc.Recorder = recorder
		svc.Summarizer = recorder
		log.Infof("key store: database (%s)", target)
		return kv.NewGormStore(conn), nil
	case config.StoreDriverRedis:
		options, errParse := redis.ParseURL(cfg.RedisURL)
		if errParse != nil {
			return nil, fmt.Errorf("key store: parse redis url: %w", errParse)
		}
		client := redis.NewClient(options)
		svc.closers = append(svc.closers, func() { _ = client.Close() })
		ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if errPing := client.Ping(ctxPing).Err(); errPing != nil {
			return nil, fmt.Errorf("key store: redis ping: %w", errPing)
		}
		log.Infof("key store: redis (%s)", options.Addr)
		return kv.NewRedisStore(client, cfg.RedisPrefix), nil
	default:
		log.Warn("key store: in-memory, keys are lost on restart")
		return kv.NewMemoryStore(), nil
	}
}

// NewEngine builds the gin engine serving every route.
func NewEngine(cfg config.Config, svc *Services) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.Timing())
	engine.Use(middleware.RequestLogger())
	engine.Use(middleware.CORS(cfg.AllowedOrigins))

	internaladmin.RegisterAdminRoutes(engine, internaladmin.Options{
		AdminIP: cfg.AdminIP,
		Keys:    svc.Keys,
		Health:  svc.KeyStore,
		Usage:   svc.Summarizer,
	})

	bypassHandler := bypass.NewHandler(bypass.Options{
		Keys:          svc.Keys,
		Limiter:       svc.Limiter,
		Routes:        svc.Routes,
		Chain:         svc.Chain,
		Recorder:      svc.Recorder,
		RequireAPIKey: cfg.Bypass.APIKeyRequired(),
	})
	bypass.RegisterRoutes(engine, bypassHandler)

	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "result": "Not found"})
	})
	return engine
}

// RunServer boots the HTTP server and blocks until ctx is cancelled.
func RunServer(ctx context.Context, cfg config.Config) error {
	gin.SetMode(gin.ReleaseMode)

	svc, errBuild := BuildServices(ctx, cfg)
	if errBuild != nil {
		return errBuild
	}
	defer svc.Close()

	limiterCtx, stopLimiter := context.WithCancel(ctx)
	defer stopLimiter()
	go svc.Limiter.Run(limiterCtx)

	if !cfg.Bypass.APIKeyRequired() {
		log.Warn("bypass: api keys are not required, endpoint is unmetered")
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewEngine(cfg, svc),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if errShutdown := srv.Shutdown(shutdownCtx); errShutdown != nil {
			log.Errorf("server shutdown error: %v", errShutdown)
		}
	}()

	log.Infof("starting bypass gate on %s (%d host rules)", addr, len(svc.Routes.Hosts()))
	if errListen := srv.ListenAndServe(); errListen != nil && !errors.Is(errListen, http.ErrServerClosed) {
		return errListen
	}
	return nil
}

// Migrate opens the configured database and runs migrations.
func Migrate(cfg config.Config) error {
	if cfg.Store.Driver != config.StoreDriverDatabase {
		return fmt.Errorf("migrate: store driver %q has no schema", cfg.Store.Driver)
	}
	conn, errOpen := db.Open(cfg.Store.DatabaseDSN)
	if errOpen != nil {
		return errOpen
	}
	if sqlDB, errDB := conn.DB(); errDB == nil {
		defer func() { _ = sqlDB.Close() }()
	}
	return db.Migrate(conn)
}
