package service

import (
	"context"
	"fmt"
	"time"

	"github.com/ayo6706/payout-reconciler/internal/domain"
	"github.com/ayo6706/payout-reconciler/internal/models"
	"github.com/ayo6706/payout-reconciler/internal/observability"
	"github.com/ayo6706/payout-reconciler/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LedgerService exposes the system ledger to administrators.
type LedgerService struct {
	store Store
	loc   *time.Location
	now   func() time.Time
}

func NewLedgerService(store Store, loc *time.Location) *LedgerService {
	if loc == nil {
		loc = time.UTC
	}
	return &LedgerService{store: store, loc: loc, now: time.Now}
}

// Snapshot returns the ledger with the pending queue summary and today's auto volume.
func (s *LedgerService) Snapshot(ctx context.Context) (*models.LedgerSnapshot, error) {
	ledger, err := s.store.GetLedger(ctx)
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	pending, err := s.store.PendingSummary(ctx)
	if err != nil {
		return nil, err
	}
	volume, err := s.store.SumAutoVolumeSince(ctx, startOfDay(s.now(), s.loc))
	if err != nil {
		return nil, err
	}
	observability.SetLedgerAvailable(ledger.Available)
	return &models.LedgerSnapshot{
		Ledger:           *ledger,
		Pending:          pending,
		ProjectedBalance: ledger.Available - pending.Total,
		TodayAutoVolume:  volume,
	}, nil
}

type UpdateGuardrailsRequest struct {
	MinimumReserve *int64 `json:"minimum_reserve" validate:"omitempty,min=0"`
	DailyCap       *int64 `json:"daily_cap" validate:"omitempty,min=0"`
}

func (s *LedgerService) UpdateGuardrails(ctx context.Context, req UpdateGuardrailsRequest, actorID *uuid.UUID) (*models.Ledger, error) {
	if (req.MinimumReserve != nil && *req.MinimumReserve < 0) || (req.DailyCap != nil && *req.DailyCap < 0) {
		return nil, domain.ErrInvalidGuardrail
	}
	ledger, err := s.store.UpdateGuardrails(ctx, repository.UpdateGuardrailsParams{
		MinimumReserve: req.MinimumReserve,
		DailyCap:       req.DailyCap,
		ActorID:        actorID,
		At:             s.now(),
	})
	if err != nil {
		return nil, err
	}
	zap.L().Info("ledger guardrails updated",
		zap.Int64("minimum_reserve", ledger.MinimumReserve),
		zap.Int64("daily_cap", ledger.DailyCap),
		zap.String("actor_id", actorString(actorID)))
	return ledger, nil
}

// SetAutoProcessing sets the kill switch, or flips it when enabled is nil.
func (s *LedgerService) SetAutoProcessing(ctx context.Context, enabled *bool, actorID *uuid.UUID) (*models.Ledger, error) {
	ledger, err := s.store.SetAutoProcessing(ctx, repository.SetAutoProcessingParams{
		Enabled: enabled,
		ActorID: actorID,
		At:      s.now(),
	})
	if err != nil {
		return nil, err
	}
	zap.L().Warn("auto-processing switch changed",
		zap.Bool("enabled", ledger.AutoProcessingEnabled),
		zap.String("actor_id", actorString(actorID)))
	return ledger, nil
}

// ToggleAutoProcessing flips the auto-processing switch.
func (s *LedgerService) ToggleAutoProcessing(ctx context.Context, actorID *uuid.UUID) (*models.Ledger, error) {
	return s.SetAutoProcessing(ctx, nil, actorID)
}

type DepositRequest struct {
	Amount int64  `json:"amount" validate:"gt=0"`
	Note   string `json:"note" validate:"max=256"`
}

// Deposit adds liquidity to the ledger.
func (s *LedgerService) Deposit(ctx context.Context, req DepositRequest, actorID *uuid.UUID) (*models.Ledger, error) {
	if req.Amount <= 0 {
		return nil, domain.ErrInvalidAmount
	}
	ledger, err := s.store.Deposit(ctx, repository.DepositParams{
		Amount:  req.Amount,
		ActorID: actorID,
		Note:    req.Note,
		At:      s.now(),
	})
	if err != nil {
		return nil, err
	}
	observability.SetLedgerAvailable(ledger.Available)
	zap.L().Info("ledger deposit recorded",
		zap.Int64("amount", req.Amount),
		zap.Int64("available", ledger.Available))
	return ledger, nil
}

func startOfDay(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	y, m, d := local.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

func actorString(id *uuid.UUID) string {
	if id == nil {
		return "system"
	}
	return id.String()
}
