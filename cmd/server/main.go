package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"typetrim/blobstore"
	"typetrim/config"
	"typetrim/handlers"
	"typetrim/locks"
	"typetrim/middleware"
	"typetrim/pool"
	"typetrim/registry"
	"typetrim/service"
	"typetrim/subset"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		// A missing .env is normal; anything else is worth knowing about.
		os.Stderr.WriteString("warning: failed to load .env: " + err.Error() + "\n")
	}

	cfg := config.Load()

	var logger *zap.Logger
	var err error
	if cfg.Env == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		os.Stderr.WriteString("failed to build logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("TypeTrim service starting",
		zap.String("port", cfg.Port),
		zap.String("env", cfg.Env),
		zap.Int("workers", cfg.WorkerCount),
	)

	blobs, err := blobstore.New(cfg.DataDir, logger)
	if err != nil {
		logger.Fatal("failed to initialize blob store", zap.Error(err))
	}

	lockMgr, err := locks.NewManager(cfg.LockDir, logger)
	if err != nil {
		logger.Fatal("failed to initialize lock manager", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := registry.New()
	workers := pool.New(cfg.WorkerCount)
	subsetter := subset.NewSubsetter(cfg.SubsetterBin, logger)

	svc := service.New(ctx, cfg, reg, blobs, lockMgr, workers, subsetter, logger)
	svc.StartSweeper(ctx, time.Minute)

	handler := handlers.NewTaskHandler(svc, cfg.MaxUploadSize, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /process", handler.Process)
	mux.HandleFunc("GET /status/{id}", handler.Status)
	mux.HandleFunc("GET /download/{id}", handler.Download)
	mux.HandleFunc("GET /health", handler.Health)

	chain := middleware.TraceID(
		middleware.Logging(logger)(
			middleware.Recovery(logger)(mux),
		),
	)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: chain,
	}

	go func() {
		logger.Info("Server started", zap.String("address", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("Shutdown signal received")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown error", zap.Error(err))
	}

	workers.Wait()
	logger.Info("All workers stopped")
}
