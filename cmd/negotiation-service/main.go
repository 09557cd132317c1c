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
	apimiddleware "negotiation-engine/internal/api/middleware"
	"negotiation-engine/internal/app"
	"negotiation-engine/internal/config"
	"negotiation-engine/internal/infrastructure/websocket"
	"negotiation-engine/internal/ledger"
	"negotiation-engine/internal/services"
	"negotiation-engine/pkg/logger"

	"github.com/gorilla/mux"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// chainFetcher satisfies view.Refetcher for sessions served in-process.
type chainFetcher struct {
	*services.NegotiationService
	*services.ListingService
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New().Fatal("Failed to load config", "error", err)
	}

	log := logger.NewWithLevel(cfg.Log.Level).With("instance_id", cfg.Instance.ID)
	log.Info("Starting Negotiation Service", "config", cfg.GetConfigString())

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

	negotiation := services.NewNegotiationService(
		backends.Chains,
		backends.Listings,
		backends.Publisher,
		backends.Locker,
		ledger.New(),
		cfg.Server.ResolveTimeout,
		log,
	)
	listingService := services.NewListingService(backends.Listings, backends.Publisher, log)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.RequestID())
	e.Use(apimiddleware.RequestLogger(log))
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowHeaders: []string{
			echo.HeaderOrigin,
			echo.HeaderContentType,
			echo.HeaderAccept,
			echo.HeaderAuthorization,
			echo.HeaderXRequestID,
		},
		MaxAge: 86400,
	}))

	api := e.Group("/api/v1")
	handlers.NewNegotiationHandler(negotiation, log).Register(api)
	handlers.NewListingHandler(listingService, log).Register(api)

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":    "ok",
			"service":   "negotiation-service",
			"store":     cfg.Store.Driver,
			"push":      cfg.Push.Transport,
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})

	// The in-memory push channel only reaches sessions in this process, so
	// the websocket endpoints are served here as well.
	var (
		wsServer  *http.Server
		sessions  *websocket.SessionManager
		scheduler *services.CronResyncScheduler
	)
	if cfg.Push.Transport == "memory" {
		scheduler = services.NewCronResyncScheduler(cfg.Resync.Spec, cfg.Resync.Timeout, log)
		if err := scheduler.Start(context.Background()); err != nil {
			log.Error("Failed to start resync scheduler", "error", err)
			os.Exit(1)
		}
		sessions = websocket.NewSessionManager(scheduler, log)

		r := mux.NewRouter()
		handlers.NewWebSocketHandlers(backends.Subscriber, chainFetcher{negotiation, listingService}, sessions, log).Register(r)
		wsServer = &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.WebSocket.Host, cfg.WebSocket.Port),
			Handler: apimiddleware.CORS(nil, log)(r),
		}
		go func() {
			log.Info("Starting websocket server", "address", wsServer.Addr)
			if err := wsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Websocket server failed", "error", err)
				os.Exit(1)
			}
		}()
	}

	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	go func() {
		log.Info("Starting API server", "address", serverAddr)
		if err := e.Start(serverAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down negotiation service...")

	ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := e.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}
	if wsServer != nil {
		if err := wsServer.Shutdown(ctx); err != nil {
			log.Error("Websocket server forced to shutdown", "error", err)
		}
		if err := sessions.CloseAll(ctx); err != nil {
			log.Error("Failed to close sessions", "error", err)
		}
		if err := scheduler.Stop(); err != nil {
			log.Error("Failed to stop resync scheduler", "error", err)
		}
	}

	log.Info("Negotiation service stopped")
}
