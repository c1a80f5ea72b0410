package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ayo6706/payout-reconciler/internal/models"
	"github.com/ayo6706/payout-reconciler/internal/observability"
	"go.uber.org/zap"
)

// BatchProcessor runs one guarded payout batch.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context) (*models.BatchResult, error)
}

// PayoutScheduler triggers automatic payout batches on a fixed interval after an
// initial delay. Overlapping runs are safe: records are claimed individually.
type PayoutScheduler struct {
	engine     BatchProcessor
	interval   time.Duration
	startDelay time.Duration
	stopCh     chan struct{}
	stopOnce   sync.Once
	done       chan struct{}
}

func NewPayoutScheduler(engine BatchProcessor) *PayoutScheduler {
	return &PayoutScheduler{
		engine:     engine,
		interval:   5 * time.Minute,
		startDelay: 30 * time.Second,
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// WithInterval sets the time between batches.
func (s *PayoutScheduler) WithInterval(interval time.Duration) *PayoutScheduler {
	if interval > 0 {
		s.interval = interval
	}
	return s
}

// WithStartDelay sets the wait before the first batch.
func (s *PayoutScheduler) WithStartDelay(delay time.Duration) *PayoutScheduler {
	if delay >= 0 {
		s.startDelay = delay
	}
	return s
}

// Start blocks, running a batch after the start delay and then on every tick,
// until Stop is called or ctx is canceled.
func (s *PayoutScheduler) Start(ctx context.Context) {
	defer close(s.done)
	zap.L().Info("payout scheduler starting",
		zap.Duration("interval", s.interval),
		zap.Duration("start_delay", s.startDelay))

	delay := time.NewTimer(s.startDelay)
	defer delay.Stop()
	select {
	case <-ctx.Done():
		return
	case <-s.stopCh:
		return
	case <-delay.C:
	}
	s.RunOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			zap.L().Info("payout scheduler context canceled")
			return
		case <-s.stopCh:
			zap.L().Info("payout scheduler stop signal received")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// Stop ends the loop and waits for an in-flight batch to finish.
func (s *PayoutScheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	<-s.done
}

// Run starts the scheduler in a goroutine and returns a stop function.
func (s *PayoutScheduler) Run(ctx context.Context) func() {
	go s.Start(ctx)
	return s.Stop
}

// RunOnce runs a single batch and records its outcome.
func (s *PayoutScheduler) RunOnce(ctx context.Context) {
	result, err := s.engine.ProcessBatch(ctx)
	if err != nil {
		observability.IncrementWorkerRun("payout_batch", "failed")
		zap.L().Error("scheduled payout batch failed", zap.Error(err))
		return
	}
	observability.IncrementWorkerRun("payout_batch", "success")
	if result.Reason != "" {
		zap.L().Info("scheduled payout batch stopped early", zap.String("reason", result.Reason))
	}
}

func (s *PayoutScheduler) String() string {
	return fmt.Sprintf("PayoutScheduler(interval=%v, start_delay=%v)", s.interval, s.startDelay)
}
