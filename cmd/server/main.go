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
	"github.com/stwalsh4118/inspections/api/internal/changefeed"
	"github.com/stwalsh4118/inspections/api/internal/config"
	"github.com/stwalsh4118/inspections/api/internal/database"
	"github.com/stwalsh4118/inspections/api/internal/handlers"
	"github.com/stwalsh4118/inspections/api/internal/logger"
	"github.com/stwalsh4118/inspections/api/internal/middleware"
	"github.com/stwalsh4118/inspections/api/internal/repository"
	"github.com/stwalsh4118/inspections/api/internal/services"
)

const (
	shutdownTimeout = 30 * time.Second
)

func main() {
	// Load configuration from environment variables
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Server.Env)
	log.Info("Starting inspections API", map[string]interface{}{
		"version":     handlers.APIVersion,
		"environment": cfg.Server.Env,
		"port":        cfg.Server.Port,
		"change_feed": cfg.ChangeFeed.Driver,
	})

	ctx := context.Background()
	db, err := database.NewPostgresPool(ctx, cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", err, map[string]interface{}{
			"host": cfg.Database.Host,
			"port": cfg.Database.Port,
			"name": cfg.Database.Name,
		})
	}
	defer db.Close()

	log.Info("Database connection established", map[string]interface{}{
		"host":     cfg.Database.Host,
		"port":     cfg.Database.Port,
		"database": cfg.Database.Name,
		"pool_min": cfg.Database.PoolMin,
		"pool_max": cfg.Database.PoolMax,
	})

	feed, err := changefeed.Open(cfg.ChangeFeed, log)
	if err != nil {
		log.Fatal("Failed to open change feed", err, map[string]interface{}{
			"driver": cfg.ChangeFeed.Driver,
		})
	}

	var feedPinger handlers.Pinger
	if p, ok := feed.(handlers.Pinger); ok {
		feedPinger = p
		pingCtx, cancel := context.WithTimeout(ctx, handlers.HealthCheckTimeout)
		if err := p.Ping(pingCtx); err != nil {
			// Dashboards still load; live updates resume once the feed is reachable.
			log.Warn("Change feed not reachable", map[string]interface{}{
				"driver": cfg.ChangeFeed.Driver,
				"error":  err.Error(),
			})
		}
		cancel()
	}

	accountRepo := repository.NewAccountRepository(db)
	inspectionRepo := repository.NewInspectionRepository(db)
	dashboardService := services.NewDashboardService(accountRepo, inspectionRepo, feed, services.DashboardSettings{
		Channel:  cfg.ChangeFeed.Channel,
		ReplayID: cfg.ChangeFeed.ReplayID,
		Backlog:  cfg.Events.Backlog,
		IdleTTL:  cfg.Events.IdleTTL,
	}, log)

	reaperCtx, stopReaper := context.WithCancel(ctx)
	defer stopReaper()
	go dashboardService.RunReaper(reaperCtx)

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	handlers.UseJSONFieldNames()
	router := gin.New()

	// Add middleware in order: RequestID -> Logger -> Recovery -> CORS
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(log))
	router.Use(middleware.Recovery(log))
	router.Use(middleware.CORS(cfg.CORS.Origins))

	handlers.Routes{
		Health:       handlers.NewHealthHandler(db, feedPinger, cfg.ChangeFeed.Driver, dashboardService, cfg.Server.Env),
		Dashboards:   handlers.NewDashboardHandler(dashboardService),
		Events:       handlers.NewEventsHandler(dashboardService, cfg.CORS.Origins),
		ChangeEvents: handlers.NewChangeEventHandler(feed, cfg.ChangeFeed.Channel),
	}.Register(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("Server listening", map[string]interface{}{
			"port": cfg.Server.Port,
			"addr": srv.Addr,
		})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed to start", err, nil)
		}
	}()

	// Wait for interrupt signal (SIGINT or SIGTERM)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...", nil)
	stopReaper()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Unmounting first closes the event hubs, which ends open websocket streams.
	if err := dashboardService.Shutdown(shutdownCtx); err != nil {
		log.Error("Failed to unmount dashboards", err, nil)
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", err, map[string]interface{}{
			"timeout": shutdownTimeout.String(),
		})
	}

	if err := feed.Close(); err != nil {
		log.Error("Failed to close change feed", err, nil)
	}

	log.Info("Server exited", nil)
}
