/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the payroll engine HTTP server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load PAYROLL_* configuration
  2. Initialize logger and SQLite store
  3. Connect the Redis period mutex when PAYROLL_REDIS_ADDR is set
  4. Create API handler, router and deadline scheduler
  5. Start server with graceful shutdown

ENVIRONMENT (see config/config.go for defaults):
  PAYROLL_ADDR                 Listen address (default :8080)
  PAYROLL_DB_PATH              SQLite database path, ":memory:" for tests
  PAYROLL_LOG_MODE             dev or prod
  PAYROLL_REDIS_ADDR           Redis address for the cross-instance mutex
  PAYROLL_AUTO_LOCK_ENABLED    Lock periods once their deadline has passed
  PAYROLL_SEED_DEMO            Load the locked-period example on start

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the deadline scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close Redis and database connections

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/warp/payroll-engine/api"
	"github.com/warp/payroll-engine/config"
	"github.com/warp/payroll-engine/logger"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/store/redislock"
	"github.com/warp/payroll-engine/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		stdlog.Fatalf("Invalid configuration: %v", err)
	}

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		stdlog.Fatalf("Failed to initialize logger: %v", err)
	}
	defer log.Sync()

	if cfg.DBPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			log.Fatal("failed to create data directory", "path", cfg.DBPath, "error", err)
		}
	}

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		log.Fatal("failed to initialize database", "path", cfg.DBPath, "error", err)
	}
	defer store.Close()

	var lockOpts []payroll.LockOption
	if cfg.RedisAddr != "" {
		client, err := redislock.Connect(context.Background(), cfg.RedisAddr)
		if err != nil {
			log.Fatal("failed to connect to redis", "addr", cfg.RedisAddr, "error", err)
		}
		defer client.Close()
		lockOpts = append(lockOpts, payroll.WithMutex(redislock.New(client, cfg.LockTTL, log.Zap())))
		log.Info("period mutex enabled", "redis", cfg.RedisAddr, "ttl", cfg.LockTTL.String())
	}

	// Initialize handler
	handler := api.NewHandler(store, log, lockOpts...)

	if cfg.SeedDemo {
		if err := handler.LoadScenarioByID(context.Background(), "locked-period-example"); err != nil {
			log.Warn("failed to seed demo data", "error", err)
		}
	}

	scheduler := api.NewDeadlineScheduler(store, handler.Locks, log)
	scheduler.Enabled = cfg.AutoLockEnabled
	scheduler.CheckInterval = cfg.AutoLockInterval
	scheduler.Start()

	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.CORSOrigins,
		RateLimit:      cfg.RateLimit,
	})

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server starting", "addr", cfg.Addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", "error", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")
	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", "error", err)
		return
	}

	log.Info("server stopped")
}
