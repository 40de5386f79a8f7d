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

	"github.com/postlinehq/postline/internal/api"
	"github.com/postlinehq/postline/internal/config"
	"github.com/postlinehq/postline/internal/database"
	"github.com/postlinehq/postline/internal/engine"
	"github.com/postlinehq/postline/internal/events"
	"github.com/postlinehq/postline/internal/jobs"
	"github.com/postlinehq/postline/internal/provider"
	"github.com/postlinehq/postline/internal/secrets"
	"github.com/postlinehq/postline/internal/store"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize database
	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	// Get underlying SQL database for cleanup
	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("Failed to get database connection: %v", err)
	}
	defer sqlDB.Close()

	// Run migrations
	if err := database.RunMigrations(cfg.Database); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Token encryption; a bad key is fatal before anything touches storage
	encryptor, err := secrets.NewEncryptor(cfg.EncryptionKey)
	if err != nil {
		log.Fatalf("Failed to initialize token encryption: %v", err)
	}

	// Register an adapter for every provider with configured credentials
	provider.Bootstrap(cfg)

	// Stores
	users := store.NewUsers(db)
	connections := store.NewConnections(db)

	// Initialize WebSocket event hub
	hub := events.NewHub(cfg.JWTSecret, cfg.CORSOrigins)
	go hub.Run()

	// OAuth engine
	eng := engine.New(connections, encryptor, engine.Options{
		AppURL:        cfg.AppURL,
		SecureCookies: cfg.Environment == "production",
		Notifier:      hub,
	})

	// Initialize job scheduler with the token refresh sweeper
	sweeper := jobs.NewRefreshSweeper(connections, eng, time.Duration(cfg.RefreshWindowMinutes)*time.Minute)
	scheduler := jobs.NewScheduler(sweeper, cfg.RefreshSweepSchedule)
	if err := scheduler.Start(); err != nil {
		log.Fatalf("Failed to start job scheduler: %v", err)
	}
	defer scheduler.Stop()

	// Setup API router
	router := api.NewRouter(cfg, users, eng, hub)

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on port %d", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
