package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/spott-app/spott-backend/internal/assistant"
	"github.com/spott-app/spott-backend/internal/auth"
	"github.com/spott-app/spott-backend/internal/bus"
	"github.com/spott-app/spott-backend/internal/cities"
	"github.com/spott-app/spott-backend/internal/config"
	"github.com/spott-app/spott-backend/internal/engagement"
	"github.com/spott-app/spott-backend/internal/events"
	"github.com/spott-app/spott-backend/internal/gateway"
	"github.com/spott-app/spott-backend/internal/health"
	"github.com/spott-app/spott-backend/internal/locations"
	"github.com/spott-app/spott-backend/internal/logger"
	"github.com/spott-app/spott-backend/internal/metrics"
	authmw "github.com/spott-app/spott-backend/internal/middleware"
	"github.com/spott-app/spott-backend/internal/notifications"
	"github.com/spott-app/spott-backend/internal/repository"
	"github.com/spott-app/spott-backend/internal/sanitizer"
	"github.com/spott-app/spott-backend/internal/shares"
	"github.com/spott-app/spott-backend/internal/sse"
	"github.com/spott-app/spott-backend/internal/storage"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// realtimeProbe exposes change feed and SSE gauges to the health endpoint.
type realtimeProbe struct {
	listener *gateway.Listener
	connMgr  *sse.ConnectionManager
}

func (p realtimeProbe) SubscriberCount() int  { return p.listener.SubscriberCount() }
func (p realtimeProbe) TotalConnections() int { return p.connMgr.TotalConnections() }

func main() {
	cfg := config.Load()

	if cfg.JWT.AccessSecret == "" {
		log.Fatal("JWT_ACCESS_SECRET environment variable is required")
	}
	if cfg.JWT.RefreshSecret == "" {
		log.Fatal("JWT_REFRESH_SECRET environment variable is required")
	}

	slogger := logger.New(logger.DefaultConfig())

	// appCtx cancels every background consumer on shutdown
	appCtx, cancelApp := context.WithCancel(context.Background())
	defer cancelApp()

	dbPool, err := setupDatabase(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer dbPool.Close()

	sqlxDB, err := sqlx.Connect("pgx", cfg.Database.DSN())
	if err != nil {
		log.Fatalf("Failed to open sqlx connection: %v", err)
	}
	defer sqlxDB.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	// Repositories
	profileRepo := repository.NewProfileRepo(sqlxDB)
	postRepo := repository.NewPostRepo(sqlxDB)
	locationRepo := repository.NewLocationRepo(sqlxDB)
	notificationRepo := repository.NewNotificationRepo(sqlxDB)
	socialRepo := repository.NewSocialRepo(sqlxDB)

	// Auth
	tokenService := auth.NewTokenService(auth.TokenServiceConfig{
		AccessSecret:       cfg.JWT.AccessSecret,
		RefreshSecret:      cfg.JWT.RefreshSecret,
		AccessTokenExpiry:  cfg.JWT.AccessTokenExpiry,
		RefreshTokenExpiry: cfg.JWT.RefreshTokenExpiry,
		Issuer:             cfg.JWT.Issuer,
	})
	passwordValidator := auth.NewPasswordValidator()
	authService := auth.NewService(profileRepo, tokenService, passwordValidator, slogger)
	authHandler := auth.NewHandler(authService, slogger)
	authMiddleware := authmw.NewAuthMiddleware(tokenService)
	rateLimiter := authmw.NewRateLimiter(300)

	// Realtime pipeline: LISTEN/NOTIFY gateway, replay buffer, fan-out bus
	listener := gateway.NewListener(cfg.Database.DSN(), socialRepo.FetchRowJSON, slogger)
	go func() {
		if err := listener.Run(appCtx); err != nil && appCtx.Err() == nil {
			slogger.Error("change feed listener exited", "error", err)
		}
	}()

	replay := events.NewReplayBuffer(cfg.Realtime.ReplayLimit * 10)
	fanout := bus.New(listener, replay, slogger)

	// Domain services
	contentSanitizer := sanitizer.NewContentSanitizer()
	engagementService := engagement.NewService(appCtx, fanout, postRepo, locationRepo, contentSanitizer, slogger)
	engagementHandler := engagement.NewHandler(engagementService, slogger)

	notificationManager := notifications.NewManager(fanout, notificationRepo, 0, slogger)
	notificationHandler := notifications.NewHandler(notificationManager, slogger)

	cityManager := cities.NewManager(fanout, locationRepo, 0, slogger)
	recentSearches := cities.NewRecentSearches(redisClient)
	cityHandler := cities.NewHandler(cityManager, recentSearches, slogger)

	shareManager := shares.NewManager(fanout, socialRepo, 0, slogger)
	shareHandler := shares.NewHandler(shareManager, slogger)

	locationService := locations.NewService(locationRepo, slogger)
	locationHandler := locations.NewHandler(locationService, slogger)

	assistantService := assistant.NewService(assistant.Config{
		APIKey:    cfg.Assistant.APIKey,
		BaseURL:   cfg.Assistant.BaseURL,
		Model:     cfg.Assistant.Model,
		RateLimit: cfg.Assistant.RateLimit,
		Timeout:   cfg.Assistant.Timeout,
	}, locationRepo, socialRepo, slogger)
	assistantHandler := assistant.NewHandler(assistantService, slogger)

	// Media storage and orphan cleanup
	mediaStore, err := storage.NewMediaStore(&cfg.Storage)
	if err != nil {
		log.Fatalf("Failed to create media store: %v", err)
	}
	cleanupJob := storage.NewOrphanCleanupJob(mediaStore, postRepo, storage.DefaultOrphanCleanupConfig(), slogger)
	if err := cleanupJob.Start(); err != nil {
		log.Fatalf("Failed to start orphan cleanup job: %v", err)
	}
	defer cleanupJob.Stop()

	// SSE delivery
	sseConfig := sse.Config{
		HeartbeatInterval:          cfg.Realtime.HeartbeatInterval,
		ConnectionTimeout:          cfg.Realtime.ConnectionTimeout,
		MaxConnectionsPerPrincipal: cfg.Realtime.MaxConnectionsPerPrincipal,
		ReplayLimit:                cfg.Realtime.ReplayLimit,
	}
	connManager := sse.NewConnectionManager(sseConfig)
	eventRouter := sse.NewEventRouter(connManager, fanout)
	defer eventRouter.Stop()
	stopCleanup := connManager.StartCleanupRoutine(sseConfig.HeartbeatInterval)
	defer stopCleanup()
	sseHandler := sse.NewHandler(sseConfig, connManager, fanout, replay, tokenService)

	healthHandler := health.NewHandler(health.Config{
		DBPool:      dbPool,
		RedisClient: redisClient,
		Realtime:    realtimeProbe{listener: listener, connMgr: connManager},
		Version:     version,
	})

	// Router
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(authmw.StructuredLogger(slogger))
	r.Use(metrics.Middleware)

	r.Get("/health", healthHandler.Health)
	r.Get("/health/ready", healthHandler.Readiness)
	r.Get("/health/live", healthHandler.Liveness)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	// The limiter keys by principal, so it must run inside the
	// authenticated chain. Routes without bearer auth fall back to the
	// remote address key.
	protected := func(next http.Handler) http.Handler {
		return authMiddleware.Authenticate(rateLimiter.Handler(next))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(cors.Handler(cors.Options{
				AllowedOrigins:   []string{"https://spott.app", "http://localhost:3000"},
				AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
				AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Last-Event-ID"},
				ExposedHeaders:   []string{"Link"},
				AllowCredentials: true,
				MaxAge:           300,
			}))

			r.Group(func(r chi.Router) {
				r.Use(rateLimiter.Handler)
				auth.RegisterRoutes(r, authHandler)
				sse.RegisterRoutes(r, sseHandler)
			})

			engagement.RegisterRoutes(r, engagementHandler, protected)
			notifications.RegisterRoutes(r, notificationHandler, protected)
			cities.RegisterRoutes(r, cityHandler, protected)
			shares.RegisterRoutes(r, shareHandler, protected)
			locations.RegisterRoutes(r, locationHandler, protected)
		})

		// The assistant endpoint serves arbitrary origins and emits its
		// own wildcard CORS headers; the credentialed origin-echoing
		// policy above would refuse foreign preflights and duplicate the
		// allow-origin header on responses.
		assistant.RegisterRoutes(r, assistantHandler, protected)
	})

	addr := cfg.Server.Host + ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:        addr,
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		// WriteTimeout stays zero, SSE connections are long-lived
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		slogger.Info("starting server", "addr", addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slogger.Info("shutting down server")
	healthHandler.SetReady(false)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slogger.Error("server forced to shutdown", "error", err)
	}

	cancelApp()
	engagementService.CloseAll()
	notificationManager.CloseAll()
	cityManager.CloseAll()
	shareManager.CloseAll()

	slogger.Info("server exited")
}

// setupDatabase creates and configures the database connection pool
func setupDatabase(cfg *config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 5 * time.Minute
	poolConfig.MaxConnIdleTime = 1 * time.Minute
	poolConfig.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}
