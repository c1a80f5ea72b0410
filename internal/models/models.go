package models

import (
	"time"

	"github.com/ayo6706/payout-reconciler/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BankDetails identifies the destination account of a payout.
type BankDetails struct {
	AccountNumber string `json:"account_number"`
	BankCode      string `json:"bank_code"`
	AccountName   string `json:"account_name"`
	BankName      string `json:"bank_name,omitempty"`
}

type Payout struct {
	ID             uuid.UUID              `json:"id"`
	UserID         *uuid.UUID             `json:"user_id,omitempty"`
	Amount         int64                  `json:"amount"` // kobo
	CryptoAmount   decimal.Decimal        `json:"crypto_amount"`
	CryptoAsset    string                 `json:"crypto_asset,omitempty"`
	Bank           BankDetails            `json:"bank"`
	Status         domain.PayoutStatus    `json:"status"`
	Reference      *string                `json:"reference,omitempty"`
	TransferCode   *string                `json:"transfer_code,omitempty"`
	RecipientCode  *string                `json:"recipient_code,omitempty"`
	ProcessingMode *domain.ProcessingMode `json:"processing_mode,omitempty"`
	FailureReason  *string                `json:"failure_reason,omitempty"`
	Attempts       int32                  `json:"attempts"`
	ClaimToken     *uuid.UUID             `json:"-"`
	ClaimExpiresAt *time.Time             `json:"claim_expires_at,omitempty"`
	Metadata       map[string]any         `json:"metadata"`
	ProcessedAt    *time.Time             `json:"processed_at,omitempty"`
	ConfirmedAt    *time.Time             `json:"confirmed_at,omitempty"`
	FailedAt       *time.Time             `json:"failed_at,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

// HasActiveClaim reports whether a claim on the payout is still within its lease at now.
func (p *Payout) HasActiveClaim(now time.Time) bool {
	return p.ClaimToken != nil && p.ClaimExpiresAt != nil && p.ClaimExpiresAt.After(now)
}

// Ledger is the single system balance row.
type Ledger struct {
	Available             int64     `json:"available"`
	Reserved              int64     `json:"reserved"`
	TotalDeposited        int64     `json:"total_deposited"`
	TotalWithdrawn        int64     `json:"total_withdrawn"`
	MinimumReserve        int64     `json:"minimum_reserve"`
	DailyCap              int64     `json:"daily_cap"`
	AutoProcessingEnabled bool      `json:"auto_processing_enabled"`
	LastUpdated           time.Time `json:"last_updated"`
}

// Spendable is the part of Available not held by in-flight claims.
func (l *Ledger) Spendable() int64 {
	return l.Available - l.Reserved
}

// PendingSummary aggregates payouts still waiting in the queue.
type PendingSummary struct {
	Count int64 `json:"count"`
	Total int64 `json:"total"`
}

// LedgerExposure pairs the ledger row with the payout sums that back its counters.
type LedgerExposure struct {
	Ledger         Ledger
	ClaimedPending int64
	DebitedPayouts int64
}

type LedgerSnapshot struct {
	Ledger
	Pending          PendingSummary `json:"pending"`
	ProjectedBalance int64          `json:"projected_balance"`
	TodayAutoVolume  int64          `json:"today_auto_volume"`
}

// BatchResult is the outcome of one batch run.
type BatchResult struct {
	Processed       int    `json:"processed"`
	Skipped         int    `json:"skipped"`
	Failed          int    `json:"failed"`
	ProcessedAmount int64  `json:"processed_amount"`
	Reason          string `json:"reason,omitempty"`
	Error           string `json:"error,omitempty"`
}

// ProcessResult is the outcome of processing a single payout.
type ProcessResult struct {
	PayoutID      uuid.UUID `json:"payout_id"`
	Success       bool      `json:"success"`
	Skipped       bool      `json:"skipped,omitempty"`
	Reference     string    `json:"reference,omitempty"`
	FailureReason string    `json:"failure_reason,omitempty"`
}

// TransferEvent is a gateway notification about an initiated transfer.
type TransferEvent struct {
	Kind      domain.TransferEventKind `json:"kind"`
	Reference string                   `json:"reference"`
	Amount    *int64                   `json:"amount,omitempty"`
	Reason    string                   `json:"reason,omitempty"`
	Source    string                   `json:"source,omitempty"`
}

// CallbackResult acknowledges a reconciled transfer event.
type CallbackResult struct {
	Applied  bool                `json:"applied"`
	PayoutID *uuid.UUID          `json:"payout_id,omitempty"`
	Status   domain.PayoutStatus `json:"status,omitempty"`
	Message  string              `json:"message"`
}

type AuditLog struct {
	ID         uuid.UUID      `json:"id"`
	EntityType string         `json:"entity_type"`
	EntityID   uuid.UUID      `json:"entity_id"`
	ActorID    *uuid.UUID     `json:"actor_id,omitempty"`
	Action     string         `json:"action"`
	PrevState  string         `json:"prev_state,omitempty"`
	NextState  string         `json:"next_state,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}
