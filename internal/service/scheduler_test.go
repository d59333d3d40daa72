package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Qmop1967/Clients-Console-sub001/internal/model"
)

type countingRunner struct {
	calls   atomic.Int32
	trigger atomic.Value
	err     error
}

func (r *countingRunner) RunScheduled(_ context.Context, trigger model.Trigger) (*RunResult, error) {
	r.calls.Add(1)
	r.trigger.Store(trigger)
	if r.err != nil {
		return nil, r.err
	}
	return &RunResult{Trigger: trigger, Skipped: true, Reason: SkipFresh}, nil
}

type pruneCounter struct {
	fakeHistory
	pruned atomic.Int32
}

func (p *pruneCounter) Prune(context.Context, time.Duration) (int64, error) {
	p.pruned.Add(1)
	return 3, nil
}

func TestScheduler_RunNow(t *testing.T) {
	runner := &countingRunner{}
	s := NewScheduler(runner, nil, SchedulerConfig{}, zaptest.NewLogger(t))

	res, err := s.RunNow(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, model.TriggerScheduler, runner.trigger.Load())

	runner.err = errors.New("erp down")
	_, err = s.RunNow(context.Background())
	assert.Error(t, err)
}

func TestScheduler_TicksAndPrunes(t *testing.T) {
	runner := &countingRunner{}
	history := &pruneCounter{}
	s := NewScheduler(runner, history, SchedulerConfig{
		Interval:         20 * time.Millisecond,
		InitialDelay:     time.Millisecond,
		RunTimeout:       time.Second,
		HistoryRetention: time.Hour,
	}, zaptest.NewLogger(t))

	s.Start()
	s.Start()
	assert.Eventually(t, func() bool { return runner.calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	s.Stop()
	s.Stop()

	assert.GreaterOrEqual(t, history.pruned.Load(), int32(2))
	n := runner.calls.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, n, runner.calls.Load())
}
