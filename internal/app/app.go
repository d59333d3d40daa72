// Package app wires configuration into the sync engine's components. Both
// the HTTP server and the operator CLI build their dependency graph here.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Qmop1967/Clients-Console-sub001/internal/cache"
	"github.com/Qmop1967/Clients-Console-sub001/internal/config"
	"github.com/Qmop1967/Clients-Console-sub001/internal/erp"
	"github.com/Qmop1967/Clients-Console-sub001/internal/metrics"
	"github.com/Qmop1967/Clients-Console-sub001/internal/model"
	"github.com/Qmop1967/Clients-Console-sub001/internal/repository"
	"github.com/Qmop1967/Clients-Console-sub001/internal/service"
	"github.com/Qmop1967/Clients-Console-sub001/internal/storage"
)

// App holds the wired components.
type App struct {
	Config       *config.Config
	Logger       *zap.Logger
	Metrics      *metrics.Metrics
	Cache        cache.Cache
	ERP          *erp.Client
	History      repository.HistoryRepository
	Stock        *repository.StockStore
	Reconciler   *service.Reconciler
	Images       *service.ImageSyncer
	Invalidator  *service.Invalidator
	TagCache     *service.TagCache
	Orchestrator *service.Orchestrator
}

// Build creates every component from cfg. The caller owns the returned App
// and must Close it.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	source, err := model.ParseSource(cfg.ERP.DefaultSource)
	if err != nil {
		return nil, err
	}

	c, err := cache.New(cfg.Cache, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}

	history, err := repository.NewHistory(cfg.History, logger)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize sync history: %w", err)
	}

	objects, err := storage.New(ctx, cfg.Storage, logger)
	if err != nil {
		history.Close()
		c.Close()
		return nil, fmt.Errorf("failed to initialize object storage: %w", err)
	}

	m := metrics.New()
	client := erp.NewClientFromConfig(cfg.ERP, logger)

	stock := repository.NewStockStore(c)
	status := repository.NewStatusStore(c)
	reconciler := service.NewReconciler(client, stock, cfg.Sync.Concurrency, logger)
	images := service.NewImageSyncer(
		client, client,
		repository.NewImageStore(c), status,
		objects, c,
		service.ImageSyncConfig{
			LockTTL:     cfg.Sync.ImageLockTTL,
			BatchSize:   cfg.Sync.BatchSize,
			Concurrency: cfg.Sync.Concurrency,
		},
		m, logger,
	)
	revalidator := service.NewHTTPRevalidator(cfg.Revalidation.URL, cfg.Revalidation.Secret, cfg.Revalidation.Timeout)
	invalidator := service.NewInvalidator(c, revalidator, cfg.App.Locales, logger)

	orch := service.NewOrchestrator(service.OrchestratorDeps{
		Reconciler:  reconciler,
		Images:      images,
		Staleness:   service.NewStalenessTracker(repository.NewSyncMetaStore(c)),
		Invalidator: invalidator,
		History:     history,
		Locks:       c,
		StatusStore: status,
		Metrics:     m,
		Logger:      logger,
	}, service.OrchestratorConfig{
		BatchSize:      cfg.Sync.BatchSize,
		BatchDelay:     cfg.Sync.BatchDelay,
		MaxItems:       cfg.Sync.MaxItems,
		MaxDuration:    cfg.Sync.MaxDuration,
		LockTTL:        cfg.Sync.LockTTL,
		StaleThreshold: cfg.Sync.StaleThreshold,
		DefaultSource:  source,
	})

	return &App{
		Config:       cfg,
		Logger:       logger,
		Metrics:      m,
		Cache:        c,
		ERP:          client,
		History:      history,
		Stock:        stock,
		Reconciler:   reconciler,
		Images:       images,
		Invalidator:  invalidator,
		TagCache:     service.NewTagCache(c),
		Orchestrator: orch,
	}, nil
}

// Close releases the history connection and the cache.
func (a *App) Close() error {
	return errors.Join(a.History.Close(), a.Cache.Close())
}
