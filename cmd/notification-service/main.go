package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"negotiation-engine/internal/api/handlers"
	"negotiation-engine/internal/api/middleware"
	"negotiation-engine/internal/app"
	"negotiation-engine/internal/config"
	"negotiation-engine/internal/domain"
	"negotiation-engine/internal/domain/repositories"
	"negotiation-engine/internal/infrastructure/websocket"
	"negotiation-engine/internal/services"
	"negotiation-engine/pkg/logger"

	"github.com/gorilla/mux"
)

// fetcher reads authoritative state straight from the stores.
type fetcher struct {
	repositories.ChainRepository
	domain.ListingProvider
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New().Fatal("Failed to load config", "error", err)
	}

	log := logger.NewWithLevel(cfg.Log.Level).With("instance_id", cfg.Instance.ID)
	log.Info("Starting Notification Service", "config", cfg.GetConfigString())

	if cfg.Push.Transport == "memory" {
		log.Error("The memory push transport only works inside negotiation-service")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	backends, err := app.Open(ctx, cfg, log)
	cancel()
	if err != nil {
		log.Error("Failed to open backends", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := backends.Close(); err != nil {
			log.Error("Failed to close backends", "error", err)
		}
	}()

	scheduler := services.NewCronResyncScheduler(cfg.Resync.Spec, cfg.Resync.Timeout, log)
	if err := scheduler.Start(context.Background()); err != nil {
		log.Error("Failed to start resync scheduler", "error", err)
		os.Exit(1)
	}
	sessions := websocket.NewSessionManager(scheduler, log)

	r := mux.NewRouter()
	handlers.NewWebSocketHandlers(backends.Subscriber, fetcher{backends.Chains, backends.Listings}, sessions, log).Register(r)

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.WebSocket.Host, cfg.WebSocket.Port),
		Handler: middleware.CORS(nil, log)(r),
	}

	go func() {
		log.Info("Starting notification server", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down notification service...")

	ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}
	if err := sessions.CloseAll(ctx); err != nil {
		log.Error("Failed to close sessions", "error", err)
	}
	if err := scheduler.Stop(); err != nil {
		log.Error("Failed to stop resync scheduler", "error", err)
	}

	log.Info("Notification service stopped")
}
