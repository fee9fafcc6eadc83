/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the fiscal engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (env, optional .env), apply flag overrides
  2. Build the logger
  3. Initialize SQLite store
  4. Choose the memo cache (Redis when REDIS_ADDR is set, else in process)
  5. Create API handler
  6. Run the fiscal self-test; a failure engages the fiscal lock
  7. Start the background reseal scheduler
  8. Create router, start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides PORT)
  -db      SQLite database path (overrides DB_PATH)
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the reseal scheduler
  4. Close cache and database connections
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/fiscal.db"

  # Run with in-memory database
  ./server -db=":memory:"

  # Share report memoization between registers
  REDIS_ADDR=localhost:6379 ./server

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fenixpos/fiscal-engine/api"
	"github.com/fenixpos/fiscal-engine/config"
	"github.com/fenixpos/fiscal-engine/fiscal"
	"github.com/fenixpos/fiscal-engine/logging"
	"github.com/fenixpos/fiscal-engine/store/redis"
	"github.com/fenixpos/fiscal-engine/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Flags
	port := flag.Int("port", cfg.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	flag.Parse()

	logger, err := logging.New("fiscal-engine", cfg.Env)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// Engaged until the self-test below passes
	lock := fiscal.NewLock()

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.String("path", *dbPath), zap.Error(err))
	}
	defer store.Close()

	// Memo cache
	var cache fiscal.Cache = fiscal.NewMemoryCache()
	if cfg.RedisAddr != "" {
		rc := redis.NewCache(cfg.RedisAddr)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := rc.Ping(ctx); err != nil {
			logger.Warn("redis unavailable, using in-process cache", zap.String("addr", cfg.RedisAddr), zap.Error(err))
			rc.Close()
		} else {
			cache = rc
			defer rc.Close()
			logger.Info("redis memo cache enabled", zap.String("addr", cfg.RedisAddr))
		}
		cancel()
	}

	// Initialize handler
	handler := api.NewHandler(store, api.Options{
		Config:          cfg.Fiscal(),
		RegisterID:      cfg.RegisterID,
		Memo:            fiscal.NewMemo(cache, cfg.CacheTTL, logger.Named("memo")),
		Lock:            lock,
		StreamThreshold: cfg.StreamThreshold,
		Logger:          logger,
	})

	if res := handler.RunSelfTest(); !res.Passed {
		logger.Error("FISCAL LOCK ENGAGED: financial figures will not be served",
			zap.Strings("failures", res.Failures))
	}

	// Reseal sales a close could not seal
	scheduler := api.NewResealScheduler(handler, logger.Named("reseal"))
	scheduler.Enabled = cfg.ResealInterval > 0
	if scheduler.Enabled {
		scheduler.CheckInterval = cfg.ResealInterval
	}
	scheduler.Start()

	// Create router
	router := api.NewRouter(handler)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("server starting", zap.Int("port", *port), zap.String("db", *dbPath), zap.String("env", cfg.Env))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	scheduler.Stop()

	logger.Info("server stopped")
}
