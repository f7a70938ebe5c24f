// Command done runs the webhook queue as a standalone HTTP service.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/dnlfm/done"
	"github.com/dnlfm/done/config"
	"github.com/dnlfm/done/store"
	"github.com/dnlfm/done/store/redis"
	"github.com/dnlfm/done/store/sqlite"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	cfg := config.Load()

	st, err := openStore(cfg)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}

	engine, err := done.New(
		done.WithStore(st),
		done.WithLogger(logger),
		done.WithAuthToken(cfg.AuthToken),
	)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := engine.Start(ctx); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      engine.Router("/v1"),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("done listening", "addr", cfg.HTTPAddr, "storage_type", cfg.StorageType)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			sigCh <- syscall.SIGTERM
		}
	}()

	<-sigCh
	logger.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "error", err)
	}
	if err := engine.Stop(shutdownCtx); err != nil {
		logger.Error("engine shutdown failed", "error", err)
	}
	logger.Info("done stopped")
}

// openStore builds the Message Store backend named by cfg.StorageType.
func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.StorageType {
	case config.StorageTurso:
		return sqlite.New(cfg.TursoDBURL)
	case config.StorageKV:
		opts, err := goredis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		return redis.New(goredis.NewClient(opts)), nil
	default:
		return nil, fmt.Errorf("unknown STORAGE_TYPE %q", cfg.StorageType)
	}
}
