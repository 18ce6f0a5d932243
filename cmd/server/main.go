package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	crmapp "github.com/crm/backend/internal/application/crm"
	syncapp "github.com/crm/backend/internal/application/sync"
	"github.com/crm/backend/internal/infrastructure/cache"
	"github.com/crm/backend/internal/infrastructure/config"
	"github.com/crm/backend/internal/infrastructure/logger"
	"github.com/crm/backend/internal/infrastructure/persistence"
	"github.com/crm/backend/internal/infrastructure/session"
	"github.com/crm/backend/internal/infrastructure/upstream"
	"github.com/crm/backend/internal/interfaces/http/handler"
	"github.com/crm/backend/internal/interfaces/http/router"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting CRM Gateway",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	// Database connection with zap-backed GORM logger
	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level))
	db, err := persistence.NewDatabaseWithLogger(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Database connected successfully")

	// Gateway cache (Redis with in-memory fallback)
	gatewayCache, err := cache.NewFactory(cfg.Cache, cfg.Redis, cache.WithLogger(log)).Create()
	if err != nil {
		log.Fatal("Failed to create gateway cache", zap.Error(err))
	}

	// Upstream session handling. Tenants without registered credentials log
	// in with the configured service account.
	authenticator := upstream.NewAuthenticator(cfg.Upstream.BaseURL, cfg.Upstream.Timeout, log)
	sessions := session.NewStore(authenticator, log,
		session.WithServiceAccount(cfg.Upstream.Username, cfg.Upstream.Password))

	// Upstream HTTP client and paged fetcher
	client := upstream.NewClient(upstream.Config{
		BaseURL:      cfg.Upstream.BaseURL,
		Timeout:      cfg.Upstream.Timeout,
		AuthAttempts: cfg.Upstream.AuthAttempts,
	}, sessions, log)
	fetcher := upstream.NewFetcher(client, cfg.Upstream.DetailBatchSize, log)

	// Reconciliation and quote service
	quoteRepo := persistence.NewGormSyncedQuoteRepository(db.DB)
	reconciler := syncapp.NewReconciler(quoteRepo, crmapp.NewQuoteSourceFetcher(fetcher), cfg.Sync.Timeout, log)
	quoteService := crmapp.NewQuoteService(fetcher, gatewayCache, reconciler, log)

	// HTTP interface
	engine := router.Setup(router.Config{
		Env:    cfg.App.Env,
		Logger: log,
		Quotes: handler.NewQuoteHandler(quoteService, log),
		System: handler.NewSystemHandler(db, gatewayCache, log),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.App.Port,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Forced shutdown", zap.Error(err))
	}

	if closer, ok := gatewayCache.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			log.Error("Error closing cache", zap.Error(err))
		}
	}

	log.Info("Server stopped")
}
