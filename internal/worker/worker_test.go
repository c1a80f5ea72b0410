package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ayo6706/payout-reconciler/internal/models"
	"github.com/ayo6706/payout-reconciler/internal/service"
	"github.com/stretchr/testify/require"
)

type countingProcessor struct {
	calls atomic.Int32
	err   error
}

func (p *countingProcessor) ProcessBatch(context.Context) (*models.BatchResult, error) {
	p.calls.Add(1)
	if p.err != nil {
		return &models.BatchResult{Error: p.err.Error()}, p.err
	}
	return &models.BatchResult{Reason: "no_pending"}, nil
}

func TestPayoutSchedulerWaitsForStartDelay(t *testing.T) {
	proc := &countingProcessor{}
	stop := NewPayoutScheduler(proc).
		WithStartDelay(time.Hour).
		WithInterval(time.Millisecond).
		Run(context.Background())

	time.Sleep(30 * time.Millisecond)
	stop()
	require.Equal(t, int32(0), proc.calls.Load())
}

func TestPayoutSchedulerRunsOnInterval(t *testing.T) {
	proc := &countingProcessor{}
	stop := NewPayoutScheduler(proc).
		WithStartDelay(0).
		WithInterval(5 * time.Millisecond).
		Run(context.Background())

	require.Eventually(t, func() bool { return proc.calls.Load() >= 3 }, time.Second, 2*time.Millisecond)
	stop()

	after := proc.calls.Load()
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, after, proc.calls.Load())
}

func TestPayoutSchedulerStopsOnContextCancel(t *testing.T) {
	proc := &countingProcessor{err: errors.New("ledger unavailable")}
	ctx, cancel := context.WithCancel(context.Background())
	s := NewPayoutScheduler(proc).WithStartDelay(0).WithInterval(time.Millisecond)
	stop := s.Run(ctx)

	require.Eventually(t, func() bool { return proc.calls.Load() >= 1 }, time.Second, time.Millisecond)
	cancel()
	stop()
}

type stubAuditor struct {
	calls atomic.Int32
}

func (a *stubAuditor) Run(context.Context) ([]service.Discrepancy, error) {
	a.calls.Add(1)
	return nil, nil
}

func TestLedgerAuditWorkerRunsImmediately(t *testing.T) {
	auditor := &stubAuditor{}
	stop := NewLedgerAuditWorker(auditor).WithInterval(time.Hour).Run(context.Background())
	defer stop()

	require.Eventually(t, func() bool { return auditor.calls.Load() == 1 }, time.Second, time.Millisecond)
}
