package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/cargo_backend/config"
	"github.com/mmdatafocus/cargo_backend/marketplace"
	"github.com/mmdatafocus/cargo_backend/middlewares"
	"github.com/mmdatafocus/cargo_backend/models"
	"github.com/mmdatafocus/cargo_backend/utils"
	"github.com/mmdatafocus/cargo_backend/workflow"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

// ready flips once the database, redis, migrations and the dispatcher are wired.
var ready atomic.Bool

func readinessGate() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Always allow the startup probe.
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		if !ready.Load() {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	}
}

func corsMiddleware() gin.HandlerFunc {
	corsConfig := cors.DefaultConfig()
	// In production, require an explicit allowlist via CORS_ALLOWED_ORIGINS (comma-separated).
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			// deny all; an empty AllowOrigins list fails cors validation
			corsConfig.AllowOriginFunc = func(string) bool { return false }
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization", middlewares.HeaderCorrelationId)
	corsConfig.AddExposeHeaders("Content-Length", middlewares.HeaderCorrelationId)
	// wildcard origins cannot be combined with credentials
	corsConfig.AllowCredentials = !corsConfig.AllowAllOrigins
	return cors.New(corsConfig)
}

func newRouter(logger *logrus.Logger, synchronizer *marketplace.Synchronizer, dispatcher marketplace.Dispatcher) *gin.Engine {
	r := gin.New()
	r.Use(middlewares.Correlation())
	r.Use(readinessGate())
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	r.Use(corsMiddleware())
	if rl := middlewares.RateLimiterFromEnv(); rl != nil {
		r.Use(rl.Middleware())
	}
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	// Broadcaster callbacks
	hooks := r.Group("/webhooks/sync", middlewares.WebhookAuth(config.WebhookSecret))
	hooks.POST("/request", marketplace.SyncRequestHandler(synchronizer))
	hooks.POST("/quotation", marketplace.SyncQuotationHandler(synchronizer))
	hooks.POST("/close", marketplace.SyncCloseHandler(synchronizer))
	hooks.POST("/bid-status", marketplace.SyncBidStatusHandler(synchronizer))

	api := r.Group("/api", middlewares.AuthMiddleware())
	api.POST("/requests", marketplace.SubmitRequestHandler(dispatcher))
	api.GET("/requests", marketplace.ListMyRequestsHandler())
	api.GET("/requests/lookup", marketplace.LookupRequestsHandler())
	api.GET("/requests/:request_id", marketplace.GetRequestHandler())
	api.GET("/requests/:request_id/quotations/export", marketplace.ExportQuotationsHandler())

	// Ops tooling (admin only).
	ops := r.Group("/internal/ops", middlewares.AuthMiddleware(), middlewares.RequireAdmin())
	ops.GET("/anomalies", marketplace.ListAnomaliesHandler())
	ops.POST("/reconcile", marketplace.ReconcileHandler(synchronizer))
	ops.POST("/dispatch/replay", marketplace.ReplayDispatchHandler(dispatcher))
	ops.GET("/dispatch/:request_id", marketplace.ListDispatchRecordsHandler())

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})
	return r
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()
	utils.RegisterValidators()

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Handlers resolve the global DB lazily; the readiness gate keeps them unreachable until it is set.
	synchronizer := marketplace.NewSynchronizer(nil, logger)
	dispatcher := workflow.NewDispatcher(nil, logger, nil)

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: newRouter(logger, synchronizer, dispatcher),
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// AutoMigrate can run blocking DDL; allow running it as a separate job instead.
	if !config.BoolFromEnv("SKIP_MIGRATIONS", false) {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	notifier, err := workflow.NotifierFromEnv(sigCtx)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"field":     "dispatcher",
			"transport": config.DispatchTransport(),
		}).Warn("outbound dispatch disabled: " + err.Error())
	} else {
		dispatcher.Notifier = notifier
	}
	dispatcher.DB = db
	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())
	defer cancelDispatcher()
	dispatcher.Start(dispatcherCtx)

	if config.WebhookSecret() == "" {
		logger.WithFields(logrus.Fields{"field": "webhooks"}).Error("WEBHOOK_SECRET is empty; every sync call will be rejected")
	}

	ready.Store(true)
	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("listening on :", port)
	log.Println("Server started successfully")

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	// Drain HTTP first so no new submissions are enqueued, then flush the dispatcher.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}
	if err := dispatcher.Stop(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "dispatcher"}).Warn("dispatch queue not drained: " + err.Error())
	}
	cancelDispatcher()

	if stopper, ok := notifier.(interface{ Stop() }); ok {
		stopper.Stop()
	}
	config.ClosePubSub()
	config.CloseNATS()
	// Close Redis (best-effort).
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only log when there are errors
		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
