package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Qmop1967/Clients-Console-sub001/internal/cache"
	"github.com/Qmop1967/Clients-Console-sub001/internal/lock"
	"github.com/Qmop1967/Clients-Console-sub001/internal/metrics"
	"github.com/Qmop1967/Clients-Console-sub001/internal/model"
	"github.com/Qmop1967/Clients-Console-sub001/internal/repository"
	"github.com/Qmop1967/Clients-Console-sub001/pkg/uid"
)

// ErrSyncInProgress is returned when another full pass holds the lock.
var ErrSyncInProgress = errors.New("sync already in progress")

// Skip reasons reported by scheduled runs.
const (
	SkipFresh  = "fresh"
	SkipLocked = "locked"
)

// OrchestratorConfig carries the sync tuning from configuration.
type OrchestratorConfig struct {
	BatchSize      int
	BatchDelay     time.Duration
	MaxItems       int
	MaxDuration    time.Duration
	LockTTL        time.Duration
	StaleThreshold time.Duration
	DefaultSource  model.Source
}

// RunOptions selects how a full stock run behaves.
type RunOptions struct {
	Trigger model.Trigger
	Source  model.Source
	// SkipLock lets chunked runs proceed without the stock lock; the caller
	// serializes the chunks.
	SkipLock bool
	Offset   int
	// Limit of 0 falls back to the configured MaxItems.
	Limit int
	// Force runs even when the cache is fresh.
	Force bool
}

// RunResult is the outcome of a stock run.
type RunResult struct {
	RunID        string              `json:"runId,omitempty"`
	Trigger      model.Trigger       `json:"trigger"`
	Skipped      bool                `json:"skipped"`
	Reason       string              `json:"reason,omitempty"`
	Sync         *SyncResult         `json:"sync,omitempty"`
	Invalidation *InvalidationReport `json:"invalidation,omitempty"`
}

// ImageRunResult is the outcome of a full image run.
type ImageRunResult struct {
	RunID        string              `json:"runId"`
	Summary      *ImageSyncSummary   `json:"summary"`
	Invalidation *InvalidationReport `json:"invalidation,omitempty"`
}

// StatusReport is the read-only view served by the status endpoints.
type StatusReport struct {
	LastSync       *model.SyncMeta  `json:"lastSync"`
	Stale          bool             `json:"stale"`
	StaleThreshold string           `json:"staleThreshold"`
	Locked         bool             `json:"locked"`
	ImageLocked    bool             `json:"imageLocked"`
	Images         model.SyncStatus `json:"images"`
	RecentRuns     []model.SyncRun  `json:"recentRuns"`
}

// Orchestrator composes lock, staleness, reconciliation, image sync,
// invalidation and history into the entry points used by the HTTP layer,
// the scheduler and the CLI.
type Orchestrator struct {
	reconciler  *Reconciler
	images      *ImageSyncer
	staleness   *StalenessTracker
	invalidator *Invalidator
	history     repository.HistoryRepository
	locks       cache.Cache
	statusStore *repository.StatusStore
	cfg         OrchestratorConfig
	metrics     *metrics.Metrics
	logger      *zap.Logger
}

// OrchestratorDeps groups the collaborators of an Orchestrator.
type OrchestratorDeps struct {
	Reconciler  *Reconciler
	Images      *ImageSyncer
	Staleness   *StalenessTracker
	Invalidator *Invalidator
	History     repository.HistoryRepository
	Locks       cache.Cache
	StatusStore *repository.StatusStore
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(deps OrchestratorDeps, cfg OrchestratorConfig) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	history := deps.History
	if history == nil {
		history = repository.NoopHistory{}
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = 15 * time.Minute
	}
	if cfg.DefaultSource == "" {
		cfg.DefaultSource = model.SourceInventory
	}
	return &Orchestrator{
		reconciler:  deps.Reconciler,
		images:      deps.Images,
		staleness:   deps.Staleness,
		invalidator: deps.Invalidator,
		history:     history,
		locks:       deps.Locks,
		statusStore: deps.StatusStore,
		cfg:         cfg,
		metrics:     deps.Metrics,
		logger:      logger.Named("orchestrator"),
	}
}

// DefaultSource returns the configured stock source.
func (o *Orchestrator) DefaultSource() model.Source {
	return o.cfg.DefaultSource
}

// RunFull reconciles the catalog (or one chunk of it). Lock contention is
// reported as ErrSyncInProgress.
func (o *Orchestrator) RunFull(ctx context.Context, opts RunOptions) (*RunResult, error) {
	if opts.Source == "" {
		opts.Source = o.cfg.DefaultSource
	}
	res := &RunResult{Trigger: opts.Trigger}

	if !opts.Force && opts.Offset == 0 {
		stale, err := o.staleness.IsStale(ctx, o.cfg.StaleThreshold)
		if err != nil {
			return nil, err
		}
		if !stale {
			res.Skipped, res.Reason = true, SkipFresh
			o.logger.Info("sync skipped, cache is fresh", zap.String("trigger", string(opts.Trigger)))
			return res, nil
		}
	}

	if !opts.SkipLock {
		l := lock.New(o.locks, lock.StockSyncKey, o.cfg.LockTTL)
		acquired, err := l.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		if !acquired {
			return nil, ErrSyncInProgress
		}
		defer func() {
			if err := l.Release(context.WithoutCancel(ctx)); err != nil {
				o.logger.Warn("failed to release stock sync lock", zap.Error(err))
			}
		}()
	}

	runCtx := ctx
	if o.cfg.MaxDuration > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, o.cfg.MaxDuration)
		defer cancel()
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = o.cfg.MaxItems
	}

	started := time.Now()
	result, err := o.reconciler.Sync(runCtx, SyncOptions{
		BatchSize: o.cfg.BatchSize,
		Delay:     o.cfg.BatchDelay,
		MaxItems:  limit,
		Offset:    opts.Offset,
		Source:    opts.Source,
	})
	if err != nil {
		return nil, err
	}
	res.Sync = result

	if result.NextOffset == nil && result.Success() {
		if err := o.staleness.MarkSynced(context.WithoutCancel(ctx), result.TotalItems); err != nil {
			o.logger.Warn("failed to record sync time", zap.Error(err))
		}
	}

	if result.ItemsUpdated > 0 {
		report := o.invalidator.InvalidateProducts(context.WithoutCancel(ctx), "stock-sync:"+string(opts.Trigger))
		o.metrics.InvalidationFailures(report.Failures())
		res.Invalidation = &report
	}

	o.metrics.ObserveSyncRun(string(model.SyncKindStock), string(opts.Trigger), result.Success(), time.Since(started))
	o.metrics.AddItems(result.ItemsUpdated, len(result.Errors))

	res.RunID = o.record(ctx, model.SyncRun{
		Kind:           model.SyncKindStock,
		Trigger:        opts.Trigger,
		Source:         opts.Source,
		StartedAt:      started,
		DurationMs:     result.DurationMs,
		ItemsProcessed: result.ItemsProcessed,
		ItemsUpdated:   result.ItemsUpdated,
		ErrorCount:     len(result.Errors),
		Success:        result.Success(),
		NextOffset:     result.NextOffset,
	})
	return res, nil
}

// RunScheduled is the cron and scheduler entry point: a fresh cache or a
// held lock produce a skipped result instead of an error.
func (o *Orchestrator) RunScheduled(ctx context.Context, trigger model.Trigger) (*RunResult, error) {
	res, err := o.RunFull(ctx, RunOptions{Trigger: trigger})
	if errors.Is(err, ErrSyncInProgress) {
		o.logger.Info("scheduled sync skipped, lock held", zap.String("trigger", string(trigger)))
		return &RunResult{Trigger: trigger, Skipped: true, Reason: SkipLocked}, nil
	}
	return res, err
}

// QuickSync refreshes only itemIDs.
func (o *Orchestrator) QuickSync(ctx context.Context, itemIDs []string, source model.Source) (*QuickSyncResult, error) {
	if source == "" {
		source = o.cfg.DefaultSource
	}
	return o.reconciler.QuickSync(ctx, itemIDs, source)
}

// RunImages runs a full image pass and invalidates the product caches.
func (o *Orchestrator) RunImages(ctx context.Context, trigger model.Trigger) (*ImageRunResult, error) {
	started := time.Now()
	summary, err := o.images.SyncAll(ctx, o.cfg.DefaultSource)
	if err != nil {
		return nil, err
	}

	res := &ImageRunResult{Summary: summary}
	if summary.Uploaded > 0 || summary.Deleted > 0 {
		report := o.invalidator.InvalidateProducts(context.WithoutCancel(ctx), "image-sync:"+string(trigger))
		o.metrics.InvalidationFailures(report.Failures())
		res.Invalidation = &report
	}

	success := summary.Failed == 0 || summary.Uploaded+summary.Unchanged > 0
	o.metrics.ObserveSyncRun(string(model.SyncKindImage), string(trigger), success, time.Since(started))
	res.RunID = o.record(ctx, model.SyncRun{
		Kind:           model.SyncKindImage,
		Trigger:        trigger,
		Source:         o.cfg.DefaultSource,
		StartedAt:      started,
		DurationMs:     summary.DurationMs,
		ItemsProcessed: summary.Total,
		ItemsUpdated:   summary.Uploaded + summary.Deleted,
		ErrorCount:     len(summary.Errors),
		Success:        success,
		Message: fmt.Sprintf("uploaded=%d unchanged=%d deleted=%d no_image=%d",
			summary.Uploaded, summary.Unchanged, summary.Deleted, summary.NoImage),
	})
	return res, nil
}

// record writes run to history. History failures are logged only.
func (o *Orchestrator) record(ctx context.Context, run model.SyncRun) string {
	run.ID = uid.NewOrdered()
	run.StartedAt = run.StartedAt.UTC()
	if err := o.history.Record(context.WithoutCancel(ctx), run); err != nil {
		o.logger.Warn("failed to record sync run", zap.String("kind", string(run.Kind)), zap.Error(err))
	}
	return run.ID
}

// Status gathers the current sync state.
func (o *Orchestrator) Status(ctx context.Context) (*StatusReport, error) {
	meta, err := o.staleness.LastSync(ctx)
	if err != nil {
		return nil, err
	}
	stale, err := o.staleness.IsStale(ctx, o.cfg.StaleThreshold)
	if err != nil {
		return nil, err
	}
	locked, err := lock.New(o.locks, lock.StockSyncKey, o.cfg.LockTTL).IsLocked(ctx)
	if err != nil {
		return nil, err
	}
	imageLocked, err := lock.New(o.locks, lock.ImageSyncKey, o.cfg.LockTTL).IsLocked(ctx)
	if err != nil {
		return nil, err
	}
	images, err := o.statusStore.Load(ctx)
	if err != nil {
		return nil, err
	}
	runs, err := o.history.Recent(ctx, "", 10)
	if err != nil {
		o.logger.Warn("failed to load sync history", zap.Error(err))
	}
	if runs == nil {
		runs = []model.SyncRun{}
	}

	return &StatusReport{
		LastSync:       meta,
		Stale:          stale,
		StaleThreshold: o.cfg.StaleThreshold.String(),
		Locked:         locked,
		ImageLocked:    imageLocked,
		Images:         images,
		RecentRuns:     runs,
	}, nil
}

// Invalidator exposes the invalidator for manual flushes.
func (o *Orchestrator) Invalidator() *Invalidator {
	return o.invalidator
}

// History exposes the run history.
func (o *Orchestrator) History() repository.HistoryRepository {
	return o.history
}
