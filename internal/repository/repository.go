package repository

import (
	"time"

	"github.com/ayo6706/payout-reconciler/internal/domain"
	"github.com/ayo6706/payout-reconciler/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Audit entity types.
const (
	EntityPayout = "payout"
	EntityLedger = "ledger"
)

type CreatePayoutParams struct {
	ID           uuid.UUID
	UserID       *uuid.UUID
	Amount       int64
	CryptoAmount decimal.Decimal
	CryptoAsset  string
	Bank         models.BankDetails
	Metadata     map[string]any
	ActorID      *uuid.UUID
	At           time.Time
}

type ListPayoutsParams struct {
	Status *domain.PayoutStatus
	Limit  int32
	Offset int32
}

type ClaimPayoutParams struct {
	ID        uuid.UUID
	Token     uuid.UUID
	Mode      domain.ProcessingMode
	ActorID   *uuid.UUID
	At        time.Time
	ExpiresAt time.Time
}

// ClaimProgressParams persists gateway handles obtained while a claim is held.
// Empty values leave the stored column unchanged.
type ClaimProgressParams struct {
	ID            uuid.UUID
	Token         uuid.UUID
	RecipientCode string
	Reference     string
	At            time.Time
}

type FinalizeClaimParams struct {
	ID            uuid.UUID
	Token         uuid.UUID
	Reference     string
	TransferCode  string
	RecipientCode string
	Mode          domain.ProcessingMode
	ActorID       *uuid.UUID
	Metadata      map[string]any
	At            time.Time
}

type AbandonClaimParams struct {
	ID       uuid.UUID
	Token    uuid.UUID
	Reason   string
	ActorID  *uuid.UUID
	Metadata map[string]any
	At       time.Time
}

type ReleaseClaimParams struct {
	ID    uuid.UUID
	Token uuid.UUID
	At    time.Time
}

type ExpireClaimsParams struct {
	Now   time.Time
	Limit int32
}

type SettleTransferParams struct {
	Reference string
	Kind      domain.TransferEventKind
	Reason    string
	Source    string
	Metadata  map[string]any
	At        time.Time
}

// SettleResult describes the effect of a transfer event on the payout store.
// Payout is nil when no payout carries the reference.
type SettleResult struct {
	Payout   *models.Payout
	Previous domain.PayoutStatus
	Applied  bool
}

type RejectPayoutParams struct {
	ID      uuid.UUID
	ActorID *uuid.UUID
	Reason  string
	At      time.Time
}

type DepositParams struct {
	Amount  int64
	ActorID *uuid.UUID
	Note    string
	At      time.Time
}

type UpdateGuardrailsParams struct {
	MinimumReserve *int64
	DailyCap       *int64
	ActorID        *uuid.UUID
	At             time.Time
}

// SetAutoProcessingParams sets the switch to Enabled, or flips it when Enabled is nil.
type SetAutoProcessingParams struct {
	Enabled *bool
	ActorID *uuid.UUID
	At      time.Time
}
