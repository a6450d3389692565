/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the payroll engine server. Handles configuration,
  dependency injection, crash recovery, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present) and parse command-line flags
  2. Initialize SQLite store
  3. Wire the calculation stack (tax engine, deductions, calculator)
  4. Settle runs interrupted by a previous crash
  5. Start the pay-period maintenance scheduler
  6. Start server with graceful shutdown

CONFIGURATION:
  Flags take precedence over environment variables.

  -port / PORT                HTTP server port (default: 8080)
  -db / DATABASE_PATH         SQLite database path (default: payroll.db)
                              Use ":memory:" for in-memory database
  -payment-lag / PAYMENT_LAG  Days between period end and payment (default: 3)
  LOG_LEVEL                   slog level: debug, info, warn, error

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the maintenance scheduler
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/payroll.db"

  # Run with in-memory database
  ./server -db=":memory:"

  # Run on different port
  ./server -port=3000

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
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/warp/payroll-engine/api"
	"github.com/warp/payroll-engine/payroll"
	"github.com/warp/payroll-engine/reporting"
	"github.com/warp/payroll-engine/store/sqlite"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	// Flags, with environment defaults
	port := flag.Int("port", envInt("PORT", 8080), "HTTP server port")
	dbPath := flag.String("db", envStr("DATABASE_PATH", "payroll.db"), "SQLite database path")
	paymentLag := flag.Int("payment-lag", envInt("PAYMENT_LAG", 3), "days between period end and payment date")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: envLogLevel("LOG_LEVEL", slog.LevelInfo),
	}))

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Wire the calculation stack
	taxes := payroll.NewTaxRuleEngine(store)
	deductions := payroll.NewDeductionCalculator(store)
	calculator := payroll.NewPayrollCalculator(taxes, deductions, store)
	processor := payroll.NewBatchPayrollProcessor(store, store, calculator, payroll.NopEventSink{})
	periods := payroll.NewPayPeriodScheduler(*paymentLag)
	reporter := reporting.NewReporter(store, reporting.DefaultTTL)

	// Settle anything a previous crash left mid-flight
	if err := processor.Recover(context.Background()); err != nil {
		log.Printf("Warning: Failed to recover interrupted runs: %v", err)
	}

	// Initialize handler and router
	handler := api.NewHandler(store, processor, periods, reporter)
	router := api.NewRouter(handler, logger)

	// Start the pay-period maintenance scheduler
	maintenance := api.NewMaintenanceScheduler(store, periods)
	maintenance.Start()
	defer maintenance.Stop()

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("🚀 Server starting on http://localhost:%d", *port)
		log.Printf("📊 API available at http://localhost:%d/api", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envLogLevel(key string, fallback slog.Level) slog.Level {
	switch strings.ToLower(os.Getenv(key)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return fallback
}
