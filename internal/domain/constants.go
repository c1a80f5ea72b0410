package domain

// PayoutStatus is the lifecycle state of a payout record.
type PayoutStatus string

const (
	PayoutStatusPending    PayoutStatus = "pending"
	PayoutStatusProcessing PayoutStatus = "processing"
	PayoutStatusCompleted  PayoutStatus = "completed"
	PayoutStatusFailed     PayoutStatus = "failed"
)

// ProcessingMode records which trigger sent a payout to the gateway.
type ProcessingMode string

const (
	ModeAuto   ProcessingMode = "auto"
	ModeManual ProcessingMode = "manual"
)

// TransferEventKind is the outcome reported by the gateway for an initiated transfer.
type TransferEventKind string

const (
	TransferSucceeded TransferEventKind = "success"
	TransferFailed    TransferEventKind = "failed"
	TransferReversed  TransferEventKind = "reversed"
)

// Batch result reasons.
const (
	ReasonDisabled            = "disabled"
	ReasonInsufficientBalance = "insufficient_balance"
	ReasonDailyCapReached     = "daily_cap_reached"
	ReasonNoPending           = "no_pending"
	ReasonCanceled            = "canceled"
)

// Failure reasons recorded on payouts.
const (
	FailureAccountVerification = "account verification failed"
	FailureRecipientCreation   = "recipient creation failed"
	FailureTransferFailed      = "transfer failed"
	FailureRejectedByAdmin     = "rejected by admin"
)

// Confirmation sources.
const (
	SourceGatewayWebhook = "gateway_webhook"
)

// LedgerID is the primary key of the single system ledger row.
const LedgerID = 1
