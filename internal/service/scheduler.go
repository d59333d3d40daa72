package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Qmop1967/Clients-Console-sub001/internal/model"
	"github.com/Qmop1967/Clients-Console-sub001/internal/repository"
)

// SchedulerConfig holds configuration for the in-process sync scheduler.
type SchedulerConfig struct {
	// Interval is how often a staleness-gated sync is attempted.
	// Default: 15 minutes
	Interval time.Duration

	// InitialDelay postpones the first run after Start.
	// Default: 1 minute
	InitialDelay time.Duration

	// RunTimeout bounds a single run.
	// Default: 10 minutes
	RunTimeout time.Duration

	// HistoryRetention is how long sync runs are kept; 0 disables pruning.
	HistoryRetention time.Duration
}

// ScheduledRunner is what the scheduler triggers.
type ScheduledRunner interface {
	RunScheduled(ctx context.Context, trigger model.Trigger) (*RunResult, error)
}

// Scheduler periodically calls RunScheduled. It is optional: deployments
// with an external cron hit /api/cron/sync-stock instead.
type Scheduler struct {
	runner    ScheduledRunner
	history   repository.HistoryRepository
	config    SchedulerConfig
	logger    *zap.Logger
	ticker    *time.Ticker
	stopCh    chan struct{}
	stopOnce  sync.Once
	isRunning bool
	mu        sync.Mutex
	wg        sync.WaitGroup
}

// NewScheduler creates a scheduler. history may be nil.
func NewScheduler(runner ScheduledRunner, history repository.HistoryRepository, config SchedulerConfig, logger *zap.Logger) *Scheduler {
	if config.Interval <= 0 {
		config.Interval = 15 * time.Minute
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = time.Minute
	}
	if config.RunTimeout <= 0 {
		config.RunTimeout = 10 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		runner:  runner,
		history: history,
		config:  config,
		logger:  logger.Named("scheduler"),
		stopCh:  make(chan struct{}),
	}
}

// Start begins the scheduler loop.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.ticker = time.NewTicker(s.config.Interval)
	s.mu.Unlock()

	s.logger.Info("scheduler started",
		zap.Duration("interval", s.config.Interval),
		zap.Duration("initial_delay", s.config.InitialDelay),
	)

	s.wg.Add(1)
	go s.run()
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	initial := time.NewTimer(s.config.InitialDelay)
	defer initial.Stop()

	for {
		select {
		case <-initial.C:
			s.tick()
		case <-s.ticker.C:
			s.tick()
		case <-s.stopCh:
			s.logger.Info("scheduler stopped")
			return
		}
	}
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.RunTimeout)
	defer cancel()

	if _, err := s.RunNow(ctx); err != nil {
		s.logger.Error("scheduled sync failed", zap.Error(err))
	}
	s.prune(ctx)
}

func (s *Scheduler) prune(ctx context.Context) {
	if s.history == nil || s.config.HistoryRetention <= 0 {
		return
	}
	deleted, err := s.history.Prune(ctx, s.config.HistoryRetention)
	if err != nil {
		s.logger.Warn("failed to prune sync history", zap.Error(err))
		return
	}
	if deleted > 0 {
		s.logger.Info("pruned sync history", zap.Int64("deleted", deleted))
	}
}

// RunNow triggers an immediate staleness-gated run.
func (s *Scheduler) RunNow(ctx context.Context) (*RunResult, error) {
	res, err := s.runner.RunScheduled(ctx, model.TriggerScheduler)
	if err != nil {
		return nil, err
	}
	if res.Skipped {
		s.logger.Debug("scheduled sync skipped", zap.String("reason", res.Reason))
	}
	return res, nil
}

// Stop stops the scheduler and waits for a running tick to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		if s.ticker != nil {
			s.ticker.Stop()
		}
		close(s.stopCh)
		s.isRunning = false
		s.mu.Unlock()
	})
	s.wg.Wait()
}
