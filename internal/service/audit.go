package service

import (
	"context"
	"fmt"

	"github.com/ayo6706/payout-reconciler/internal/models"
	"github.com/ayo6706/payout-reconciler/internal/observability"
	"go.uber.org/zap"
)

const (
	CheckBalance   = "balance"
	CheckReserved  = "reserved"
	CheckWithdrawn = "withdrawn"
)

// ExposureReader loads the ledger together with the payout sums behind its counters.
type ExposureReader interface {
	LedgerExposure(ctx context.Context) (*models.LedgerExposure, error)
}

// Discrepancy is a ledger counter that disagrees with the value derived from payouts.
type Discrepancy struct {
	Check    string `json:"check"`
	Expected int64  `json:"expected"`
	Actual   int64  `json:"actual"`
}

// LedgerAuditService verifies that the ledger counters agree with the payout records.
type LedgerAuditService struct {
	store ExposureReader
}

func NewLedgerAuditService(store ExposureReader) *LedgerAuditService {
	return &LedgerAuditService{store: store}
}

// Run checks the ledger and returns every discrepancy found. Discrepancies are logged
// and counted but never corrected automatically.
func (s *LedgerAuditService) Run(ctx context.Context) ([]Discrepancy, error) {
	exp, err := s.store.LedgerExposure(ctx)
	if err != nil {
		return nil, fmt.Errorf("load ledger exposure: %w", err)
	}
	l := exp.Ledger

	var found []Discrepancy
	check := func(name string, expected, actual int64) {
		if expected == actual {
			return
		}
		found = append(found, Discrepancy{Check: name, Expected: expected, Actual: actual})
		observability.IncrementLedgerImbalance(name)
		zap.L().Error("CRITICAL: ledger imbalance detected",
			zap.String("check", name),
			zap.Int64("expected", expected),
			zap.Int64("actual", actual))
	}
	check(CheckBalance, l.TotalDeposited-l.TotalWithdrawn, l.Available)
	check(CheckReserved, exp.ClaimedPending, l.Reserved)
	check(CheckWithdrawn, exp.DebitedPayouts, l.TotalWithdrawn)

	observability.SetLedgerAvailable(l.Available)
	if len(found) == 0 {
		zap.L().Info("ledger balanced",
			zap.Int64("available", l.Available),
			zap.Int64("reserved", l.Reserved))
	}
	return found, nil
}
