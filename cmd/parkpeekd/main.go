package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/joho/godotenv"
	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"parkpeek-guard/config"
	"parkpeek-guard/internal/api"
	"parkpeek-guard/internal/auth"
	"parkpeek-guard/internal/db"
	"parkpeek-guard/internal/events"
	"parkpeek-guard/internal/lock"
	"parkpeek-guard/internal/metrics"
	"parkpeek-guard/internal/mw"
	"parkpeek-guard/internal/notification"
	"parkpeek-guard/internal/occupancy"
	"parkpeek-guard/internal/retry"
	"parkpeek-guard/internal/scanner"
	"parkpeek-guard/internal/store"
	"parkpeek-guard/internal/workflow"
)

const (
	pruneInterval   = 5 * time.Minute
	screenMaxIdle   = 30 * time.Minute
	visitorMaxIdle  = 10 * time.Minute
	shutdownTimeout = 5 * time.Second
)

func main() {
	// Setup logger
	logger := log.New(os.Stdout, "parkpeek-guard ", log.LstdFlags)

	// Optional .env for local development
	if err := godotenv.Load(); err == nil {
		logger.Println("loaded environment from .env")
	}

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}
	logger.Printf("configuration loaded successfully from %s", configPath)

	// Initialize database
	gormDB, err := db.Init(&cfg.Database, cfg.Occupancy.ListenChannel)
	if err != nil {
		logger.Fatalf("failed to initialize database: %v", err)
	}
	logger.Println("database initialized successfully")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appStore := store.NewGormStore(gormDB)
	appMetrics := metrics.New()

	// Dashboard cache
	occ := occupancy.New(appStore,
		retry.Policy{Attempts: cfg.Occupancy.RetryAttempts, Base: cfg.Occupancy.RetryBase, Max: cfg.Occupancy.RefreshInterval},
		occupancy.WithBreaker(config.NewCircuitBreaker("PostgreSQL-Refresh", 10*time.Second)),
		occupancy.WithObserver(func(e occupancy.Entry) {
			appMetrics.ObserveLocation(e.Name, e.Current, e.Total, e.Stale)
		}),
		occupancy.WithFailureHook(func(error) { appMetrics.RefreshFailures.Inc() }),
	)
	go occ.Run(ctx, cfg.Occupancy.RefreshInterval)
	if cfg.Occupancy.ListenEnabled {
		feed := occupancy.NewPGListener(cfg.Database.DSN, cfg.Occupancy.ListenChannel)
		go func() {
			if err := occ.SubscribeToChanges(ctx, feed); err != nil && !errors.Is(err, context.Canceled) {
				logger.Printf("occupancy change feed stopped: %v", err)
			}
		}()
	}

	checks := make(map[string]api.Pinger)

	// Scan lock
	var locker lock.Locker = lock.NewLocalLocker()
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		locker = lock.NewRedisLocker(rdb, cfg.Redis.LockTTL)
		checks["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		logger.Printf("scan lock backed by redis at %s", cfg.Redis.Addr)
	} else {
		logger.Println("redis is not configured; scan locks are local to this process")
	}

	// Session events
	var publisher events.Publisher = events.Noop{}
	if cfg.RabbitMQ.URL != "" {
		rmq, err := events.NewRabbitMQPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Queue)
		if err != nil {
			logger.Fatalf("failed to connect to rabbitmq: %v", err)
		}
		publisher = rmq
		logger.Printf("publishing session events to queue %q", cfg.RabbitMQ.Queue)
	}
	defer publisher.Close()

	// Push notifications
	webpushOptions := webpush.Options{
		VAPIDPublicKey:  cfg.Push.PublicKey,
		VAPIDPrivateKey: cfg.Push.PrivateKey,
		Subscriber:      cfg.Push.Subject,
		TTL:             cfg.Push.TTL,
	}
	var notifier workflow.Notifier
	if cfg.Push.PublicKey != "" && cfg.Push.PrivateKey != "" {
		pool := notification.NewWorkerPool(cfg.WorkerPool.Size, gormDB, &webpushOptions)
		pool.SetThrottle(cfg.WorkerPool.Throttle)
		pool.OnSent(func(result string) { appMetrics.PushesSent.WithLabelValues(result).Inc() })
		pool.Start(ctx)
		notifier = pool
	} else {
		logger.Println("VAPID keys are not configured; space-available pushes are disabled")
	}

	// Guard accounts
	secret := cfg.Auth.JWTSecret
	if secret == "" {
		secret = randomSecret()
		logger.Println("WARNING: auth.jwt_secret is empty; using a random secret, tokens will not survive a restart")
	}
	authSvc, err := auth.NewService(appStore, secret, cfg.Auth.TokenTTL, cfg.Auth.EmailDomain)
	if err != nil {
		logger.Fatalf("failed to create auth service: %v", err)
	}
	if cfg.Auth.BootstrapUsername != "" && cfg.Auth.BootstrapPassword != "" {
		guard, created, err := authSvc.EnsureGuard(ctx, cfg.Auth.BootstrapUsername, cfg.Auth.BootstrapPassword)
		if err != nil {
			logger.Fatalf("failed to create bootstrap guard: %v", err)
		}
		if created {
			logger.Printf("created guard account %s", guard.Email)
		}
	}

	// Scanner views
	slots, err := appStore.ListLocations(ctx)
	if err != nil {
		logger.Fatalf("failed to list parking locations: %v", err)
	}
	locations := make([]string, 0, len(slots))
	for _, slot := range slots {
		locations = append(locations, slot.Name)
	}
	registry := scanner.NewRegistry(workflow.Deps{
		Store:     appStore,
		Occupancy: occ,
		Locker:    locker,
		Events:    publisher,
		Notifier:  notifier,
		Metrics:   appMetrics,
	}, cfg.Scan.Cooldown, locations, scanner.WithMetrics(appMetrics))
	go registry.Run(ctx, pruneInterval, screenMaxIdle)
	logger.Printf("scanner ready for %v (cooldown %s)", locations, cfg.Scan.Cooldown)

	limiter := mw.NewIPRateLimiter(rate.Limit(cfg.Server.RateLimitPerSec), cfg.Server.RateLimitBurst)
	go cleanupVisitors(ctx, limiter)

	// Initialize router
	handler := api.NewHandler(appStore, occ, registry, authSvc, &webpushOptions, cache.New(5*time.Minute, 10*time.Minute))
	for name, ping := range checks {
		handler.AddReadinessCheck(name, ping)
	}
	router := api.NewRouter(handler, &cfg.Server, limiter, appMetrics.Handler())
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start the server in a goroutine
	go func() {
		logger.Printf("HTTP server starting on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("HTTP server ListenAndServe: %v", err)
		}
	}()

	// Setup signal handling for graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Println("Shutdown signal received, stopping services...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("HTTP server Shutdown: %v", err)
	}
	cancel()

	logger.Println("Server gracefully stopped")
}

func cleanupVisitors(ctx context.Context, limiter *mw.IPRateLimiter) {
	ticker := time.NewTicker(visitorMaxIdle)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := limiter.Cleanup(visitorMaxIdle); n > 0 {
				log.Printf("Dropped %d idle rate limiters", n)
			}
		}
	}
}

func randomSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		log.Fatalf("failed to generate jwt secret: %v", err)
	}
	return hex.EncodeToString(b)
}
