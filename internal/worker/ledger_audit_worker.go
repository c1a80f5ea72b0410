package worker

import (
	"context"
	"sync"
	"time"

	"github.com/ayo6706/payout-reconciler/internal/observability"
	"github.com/ayo6706/payout-reconciler/internal/service"
	"go.uber.org/zap"
)

// LedgerAuditor checks the ledger against the payout records.
type LedgerAuditor interface {
	Run(ctx context.Context) ([]service.Discrepancy, error)
}

// LedgerAuditWorker runs periodic ledger integrity checks.
type LedgerAuditWorker struct {
	auditor  LedgerAuditor
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewLedgerAuditWorker(auditor LedgerAuditor) *LedgerAuditWorker {
	return &LedgerAuditWorker{
		auditor:  auditor,
		interval: time.Hour,
		stopCh:   make(chan struct{}),
	}
}

func (w *LedgerAuditWorker) WithInterval(interval time.Duration) *LedgerAuditWorker {
	if interval > 0 {
		w.interval = interval
	}
	return w
}

// Start blocks, auditing once immediately and then on every tick.
func (w *LedgerAuditWorker) Start(ctx context.Context) {
	zap.L().Info("ledger audit worker starting", zap.Duration("interval", w.interval))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *LedgerAuditWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

func (w *LedgerAuditWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

func (w *LedgerAuditWorker) runOnce(ctx context.Context) {
	found, err := w.auditor.Run(ctx)
	switch {
	case err != nil:
		observability.IncrementWorkerRun("ledger_audit", "failed")
		zap.L().Error("ledger audit failed", zap.Error(err))
	case len(found) > 0:
		observability.IncrementWorkerRun("ledger_audit", "imbalanced")
	default:
		observability.IncrementWorkerRun("ledger_audit", "success")
	}
}
