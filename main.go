package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/busdash/bus-dashboard-service/internal/config"
	"github.com/busdash/bus-dashboard-service/internal/ingestion"
	"github.com/busdash/bus-dashboard-service/internal/scheduler"
	"github.com/busdash/bus-dashboard-service/internal/server"
	"github.com/busdash/bus-dashboard-service/internal/storage"
)

func main() {
	log.SetFormatter(&log.JSONFormatter{})

	log.Info("Starting up bus-dashboard-service ...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize storage
	store, err := storage.NewStorage(cfg.Storage)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()

	// Initialize the fetch pipeline
	orchestrator := ingestion.NewService(cfg.Scrape, store, ingestion.DefaultSessionFactory(cfg.Scrape))
	fetchScheduler := scheduler.New(cfg.Schedule, orchestrator)

	// Initialize HTTP server for the read API
	httpServer := server.NewServer(cfg.Server, store, cfg.Scrape.Destinations)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start HTTP server
	go func() {
		log.Infof("Starting HTTP server on port %d", cfg.Server.Port)
		if err := httpServer.Start(); err != nil && err != http.ErrServerClosed {
			log.Errorf("HTTP server error: %v", err)
		}
	}()

	// Start the fetch scheduler (includes one immediate run)
	if err := fetchScheduler.Start(ctx); err != nil {
		log.Fatalf("Failed to start fetch scheduler: %v", err)
	}

	// Wait for shutdown signal
	<-sigChan
	log.Info("Shutdown signal received, gracefully shutting down...")

	// Stop future fetch triggers; an in-flight run observes the cancelled
	// context and winds down on its own.
	fetchScheduler.Stop()
	cancel()

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Errorf("HTTP server shutdown error: %v", err)
	}

	log.Info("Shutdown complete")
}
