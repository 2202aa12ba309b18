/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the invoicing engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present) and parse command-line flags
  2. Initialize SQLite store
  3. Wire the operation appender and invoice builder
  4. Configure HTTP router (and optional generation scheduler)
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port      HTTP server port (default: 8080, env PORT)
  -db        SQLite database path (default: invoicing.db, env DB_PATH)
             Use ":memory:" for an in-memory database
  -schedule  Interval for automatic previous-month invoice generation
             (default: off, env GENERATION_SCHEDULE, e.g. "1h")

ENVIRONMENT:
  PORT, DB_PATH, GENERATION_SCHEDULE mirror the flags; LOG_LEVEL sets the
  zap level (debug/info/warn/error, default info). A .env file in the
  working directory is loaded when present.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler (if running)
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/invoicing.db"

  # Run with in-memory database
  ./server -db=":memory:"

  # Generate last month's invoices every hour
  ./server -schedule=1h

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/warp/invoicing-engine/api"
	"github.com/warp/invoicing-engine/billing"
	"github.com/warp/invoicing-engine/store/sqlite"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	port := flag.Int("port", envInt("PORT", 8080), "HTTP server port")
	dbPath := flag.String("db", envString("DB_PATH", "invoicing.db"), "SQLite database path")
	schedule := flag.Duration("schedule", envDuration("GENERATION_SCHEDULE", 0), "interval for automatic invoice generation (0 disables)")
	flag.Parse()

	logger, err := newLogger(envString("LOG_LEVEL", "info"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	log := logger.Sugar()

	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalw("failed to initialize database", "path", *dbPath, "error", err)
	}
	defer store.Close()

	appender := billing.NewAppender(store, log)
	builder := billing.NewBuilder(store, log)
	handler := api.NewHandler(appender, builder, store, log)
	router := api.NewRouter(handler)

	var scheduler *api.Scheduler
	if *schedule > 0 {
		scheduler = api.NewScheduler(builder, *schedule, log)
		scheduler.Start()
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infow("server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Infow("shutting down")

	if scheduler != nil {
		scheduler.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Fatalw("forced shutdown", "error", err)
	}

	log.Infow("server stopped")
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
