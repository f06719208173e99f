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
	"github.com/speechloop/speechloop/internal/api"
	"github.com/speechloop/speechloop/internal/archiver"
	"github.com/speechloop/speechloop/internal/blob"
	"github.com/speechloop/speechloop/internal/config"
	"github.com/speechloop/speechloop/internal/pipeline"
	"github.com/speechloop/speechloop/internal/pipeline/staging"
	"github.com/speechloop/speechloop/internal/storage/sqlite"
	"github.com/speechloop/speechloop/internal/transcriber"
	"github.com/speechloop/speechloop/internal/websocket"
	"github.com/speechloop/speechloop/pkg/logger"
)

var (
	// Version is injected at build time
	Version = "dev"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to configuration file (optional - will search in configs/ and root directory)")
	flag.Parse()

	// Credentials come from the environment; a .env file is a convenience
	_ = godotenv.Load()

	// Load configuration with fallback logic
	cfg, err := config.LoadWithFallback(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Create logger
	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting SpeechLoop server",
		logger.String("version", Version),
		logger.String("config_path", *configPath),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Create SQLite record store
	store, err := sqlite.New(cfg.Storage.SQLitePath, log)
	if err != nil {
		log.Error("Failed to create SQLite store", logger.Error(err))
		os.Exit(1)
	}
	defer store.Close()
	log.Info("Using SQLite storage", logger.String("path", cfg.Storage.SQLitePath))

	// Create blob store
	blobStore, err := blob.NewMinioStore(ctx, cfg.Blob, log)
	if err != nil {
		log.Error("Failed to create blob store", logger.Error(err))
		os.Exit(1)
	}

	// Create durable staging store
	stagingStore, err := staging.New(cfg.Storage.StagingPath, log)
	if err != nil {
		log.Error("Failed to create staging store", logger.Error(err))
		os.Exit(1)
	}

	// Create transcriber backend
	trans, err := transcriber.New(cfg.Transcriber, log)
	if err != nil {
		log.Error("Failed to create transcriber", logger.Error(err))
		os.Exit(1)
	}
	log.Info("Using transcriber backend", logger.String("backend", trans.Name()))

	// Create WebSocket server
	wsServer := websocket.NewServer(log)
	go wsServer.Run()

	// Create pipeline service
	pipelineService := pipeline.NewService(store, stagingStore, trans, wsServer, cfg.Pipeline, cfg.Transcriber, log)

	// Create and start archival sweeper
	sweeper := archiver.NewSweeper(ctx, store, blobStore, stagingStore, wsServer, cfg.Archiver, log)
	if err := sweeper.Start(); err != nil {
		log.Error("Failed to start archival sweeper", logger.Error(err))
		os.Exit(1)
	}

	// Create pending submission cache
	pendingCache := api.NewPendingCache(time.Duration(cfg.Pipeline.PendingTTLSeconds) * time.Second)

	// Create API router
	handler := api.NewHandler(pipelineService, pendingCache, wsServer, cfg, log)
	router := api.NewRouter(handler, wsServer)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router.Routes(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSecs) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSecs) * time.Second,
	}

	go func() {
		log.Info("Starting HTTP server", logger.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error on startup", logger.String("addr", server.Addr), logger.Error(err))
		}
	}()

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("Shutting down server...")

	// Stop background services first
	log.Info("Stopping archival sweeper...")
	sweeper.Stop()
	log.Info("Archival sweeper stopped.")

	pendingCache.Stop()

	// Cancel the main context
	cancel()

	// Shutdown the HTTP server
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", logger.Error(err))
	} else {
		log.Info("HTTP server shutdown complete")
	}

	log.Info("Server fully stopped")
}
