package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/Qmop1967/Clients-Console-sub001/internal/app"
	"github.com/Qmop1967/Clients-Console-sub001/internal/config"
	"github.com/Qmop1967/Clients-Console-sub001/internal/handler"
	"github.com/Qmop1967/Clients-Console-sub001/internal/logger"
	"github.com/Qmop1967/Clients-Console-sub001/internal/router"
	"github.com/Qmop1967/Clients-Console-sub001/internal/service"
	"github.com/Qmop1967/Clients-Console-sub001/internal/webhook"
)

func main() {
	// Load configuration
	cfg := config.MustLoad()

	log := logger.NewForEnvironment(cfg.App.Environment, cfg.App.LogLevel, cfg.App.LogFormat)
	defer log.Sync()

	log.Info("starting sync service",
		zap.String("name", cfg.App.Name),
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	a, err := app.Build(ctx, cfg, log)
	cancel()
	if err != nil {
		log.Fatal("failed to initialize", zap.Error(err))
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn("close failed", zap.Error(err))
		}
	}()
	log.Info("components initialized",
		zap.String("cache", cfg.Cache.Type),
		zap.String("storage", cfg.Storage.Type),
		zap.String("history", cfg.History.Type),
	)

	dispatcher := webhook.NewDispatcher(webhook.DispatcherDeps{
		Stock:       a.Orchestrator,
		Images:      a.Images,
		Invoices:    a.ERP,
		Invalidator: a.Invalidator,
		Source:      a.Orchestrator.DefaultSource(),
		Metrics:     a.Metrics,
		Logger:      log,
	})

	// Initialize handlers
	r := router.New(router.Config{
		Handler:           handler.New(cfg.App.Name, cfg.App.Version, a.Cache, a.Orchestrator, log),
		WebhookHandler:    handler.NewWebhookHandler(dispatcher, webhook.NewDeduper(a.Cache, cfg.Sync.DedupeWindow), log),
		SyncHandler:       handler.NewSyncHandler(a.Orchestrator, cfg.Server.PublicURL, log),
		CronHandler:       handler.NewCronHandler(a.Orchestrator, log),
		RevalidateHandler: handler.NewRevalidateHandler(a.Invalidator, log),
		StockHandler:      handler.NewStockHandler(a.Stock, a.TagCache, cfg.Sync.ReadCacheTTL, log),
		AdminHandler:      handler.NewAdminHandler(a.Cache, a.History, cfg.History.Type),
		Metrics:           a.Metrics,
		Secrets: router.Secrets{
			Webhook:       cfg.Security.WebhookSecret,
			WebhookHeader: cfg.Security.WebhookHeader,
			Sync:          cfg.Security.SyncSecret,
			Cron:          cfg.Security.CronSecret,
		},
		Logger: log,
	})

	var scheduler *service.Scheduler
	if cfg.Sync.SchedulerEnabled {
		scheduler = service.NewScheduler(a.Orchestrator, a.History, service.SchedulerConfig{
			Interval:         cfg.Sync.SchedulerInterval,
			RunTimeout:       cfg.Sync.MaxDuration,
			HistoryRetention: cfg.Sync.HistoryRetention,
		}, log)
		scheduler.Start()
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("addr", cfg.Server.Address()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server")

	ctx, cancel = context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Stop the scheduler first so no run starts mid-shutdown
	if scheduler != nil {
		scheduler.Stop()
	}

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("server shutdown error", zap.Error(err))
	}

	log.Info("server stopped")
}
