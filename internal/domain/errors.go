package domain

import "errors"

var (
	ErrUnknownStatus        = errors.New("unknown payout status")
	ErrInvalidTransition    = errors.New("invalid payout state transition")
	ErrPayoutNotFound       = errors.New("payout not found")
	ErrPayoutNotPending     = errors.New("payout is not pending")
	ErrPayoutNotClaimable   = errors.New("payout is not claimable")
	ErrClaimLost            = errors.New("payout claim no longer held")
	ErrInsufficientFunds    = errors.New("insufficient balance")
	ErrTransferNotFinalized = errors.New("transfer accepted but not yet recorded")
	ErrLedgerNotFound       = errors.New("ledger not initialized")
	ErrInvalidAmount        = errors.New("amount must be greater than zero")
	ErrInvalidGuardrail     = errors.New("guardrail values must not be negative")
)
