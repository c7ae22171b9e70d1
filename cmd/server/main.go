/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the hours/tickets bank server. Handles
  configuration, dependency wiring, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (development convenience) and environment config
  2. Initialize SQLite store
  3. Wire the engine (resolver, calculator, cascade, adjustments)
  4. Configure HTTP router and background refresher
  5. Start server with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (configurable timeout)
  3. Stop the background refresher
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  BANK_DB_PATH=./data/bank.db ./server

  # Run on a different port
  BANK_PORT=3000 ./server

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
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

	"github.com/joho/godotenv"

	"github.com/warp/hoursbank/api"
	"github.com/warp/hoursbank/bank"
	"github.com/warp/hoursbank/config"
	"github.com/warp/hoursbank/store/sqlite"
)

func main() {
	// A missing .env is fine; environment variables win either way.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Wire the engine. The SQLite store backs every persistence
	// interface plus the consumption, billed and rate sources.
	resolver := bank.NewContractResolver(store)
	recorder := bank.NewVersionRecorder(store, store)
	biller := bank.NewOverageBiller(store)
	calc := bank.NewCalculator(resolver, store, store, store, store, biller, recorder, bank.NopNotifier{})
	cascade := bank.NewCascadeRecalculator(calc, store, resolver, store, bank.NopNotifier{})
	adjustments := bank.NewAdjustmentService(store, resolver, cascade, store, bank.NopNotifier{})
	svc := bank.NewService(resolver, calc, cascade, adjustments, store, store, store, store)

	// Create router
	handler := api.NewHandler(svc, adjustments, store)
	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.AllowedOrigins,
		WriteRateLimit: cfg.WriteRateLimit,
	})

	// Background horizon refresher
	refresher := api.NewHorizonRefresher(store, svc)
	refresher.CheckInterval = cfg.RefreshInterval
	refresher.Parallelism = cfg.RefreshWorkers
	refresher.Enabled = cfg.RefreshEnabled
	refresher.Start()
	defer refresher.Stop()

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on http://localhost:%d", cfg.Port)
		log.Printf("API available at http://localhost:%d/api", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
