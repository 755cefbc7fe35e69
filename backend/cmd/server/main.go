package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"talent-graph/backend/internal/api"
	"talent-graph/backend/internal/app"
	"talent-graph/backend/internal/engine"
	"talent-graph/backend/pkg/config"
	"talent-graph/backend/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load configuration: %v", err))
	}

	// Initialize logger
	if err := logger.Init(cfg.Env); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting HTTP API server...")

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Snapshot persistence
	snapshots, err := app.OpenSnapshots(ctx, cfg)
	if err != nil {
		log.Fatal("Failed to open snapshot store", zap.String("backend", cfg.SnapshotBackend), zap.Error(err))
	}
	defer snapshots.Close()

	// Fetch collaborator
	fetcher, closeFetcher, err := app.BuildFetcher(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to build fetcher", zap.Error(err))
	}
	defer closeFetcher()

	eng, err := engine.New(cfg.Engine, fetcher, snapshots)
	if err != nil {
		log.Fatal("Invalid engine configuration", zap.Error(err))
	}

	// Setup Gin router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	handler := api.NewHandler(ctx, eng)
	router := api.NewRouter(handler, log)

	// Start server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	log.Info("Server started",
		zap.String("port", cfg.Port),
		zap.String("snapshot_backend", cfg.SnapshotBackend),
		zap.String("fixture_dir", cfg.FixtureDir))

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	// Abort in-flight runs; they persist their partial graph on the way out
	stop()
	handler.Wait()

	log.Info("Server exited")
}
