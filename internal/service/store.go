package service

import (
	"context"
	"time"

	"github.com/ayo6706/payout-reconciler/internal/models"
	"github.com/ayo6706/payout-reconciler/internal/repository"
	"github.com/google/uuid"
)

// LedgerStore is the data access contract for the system ledger row.
// Every mutation is applied atomically by the store.
type LedgerStore interface {
	GetLedger(ctx context.Context) (*models.Ledger, error)
	Deposit(ctx context.Context, arg repository.DepositParams) (*models.Ledger, error)
	UpdateGuardrails(ctx context.Context, arg repository.UpdateGuardrailsParams) (*models.Ledger, error)
	SetAutoProcessing(ctx context.Context, arg repository.SetAutoProcessingParams) (*models.Ledger, error)
}

// PayoutStore is the data access contract for payout records. Status changes are
// conditional on the expected prior status and validated against the transition table.
type PayoutStore interface {
	GetPayout(ctx context.Context, id uuid.UUID) (*models.Payout, error)
	ListPendingPayouts(ctx context.Context, limit int32) ([]models.Payout, error)
	ListPayouts(ctx context.Context, arg repository.ListPayoutsParams) ([]models.Payout, error)
	PendingSummary(ctx context.Context) (models.PendingSummary, error)
	SumAutoVolumeSince(ctx context.Context, since time.Time) (int64, error)
	ListAuditLog(ctx context.Context, entityType string, entityID uuid.UUID) ([]models.AuditLog, error)

	CreatePayout(ctx context.Context, arg repository.CreatePayoutParams) (*models.Payout, error)
	ClaimPayout(ctx context.Context, arg repository.ClaimPayoutParams) (*models.Payout, error)
	SaveClaimProgress(ctx context.Context, arg repository.ClaimProgressParams) error
	FinalizeClaim(ctx context.Context, arg repository.FinalizeClaimParams) (*models.Payout, error)
	AbandonClaim(ctx context.Context, arg repository.AbandonClaimParams) (*models.Payout, error)
	ReleaseClaim(ctx context.Context, arg repository.ReleaseClaimParams) error
	ExpireStaleClaims(ctx context.Context, arg repository.ExpireClaimsParams) ([]models.Payout, error)
	SettleTransfer(ctx context.Context, arg repository.SettleTransferParams) (*repository.SettleResult, error)
	RejectPayout(ctx context.Context, arg repository.RejectPayoutParams) (*models.Payout, error)
}

// Store combines the ledger and payout contracts.
type Store interface {
	LedgerStore
	PayoutStore
}

var (
	_ Store          = (*repository.Store)(nil)
	_ ExposureReader = (*repository.Store)(nil)
)
