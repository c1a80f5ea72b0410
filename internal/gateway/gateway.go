package gateway

import (
	"context"
	"errors"

	"github.com/ayo6706/payout-reconciler/internal/domain"
)

// Gateway is the contract of the external transfer rail.
type Gateway interface {
	// VerifyAccount resolves the holder name of a bank account.
	VerifyAccount(ctx context.Context, accountNumber, bankCode string) (*AccountResolution, error)
	// CreateRecipient registers a payee and returns its recipient code.
	CreateRecipient(ctx context.Context, req RecipientRequest) (string, error)
	// InitiateTransfer queues a transfer. Acceptance is not settlement; the outcome
	// arrives later as an Event.
	InitiateTransfer(ctx context.Context, req TransferRequest) (*TransferReceipt, error)
}

type AccountResolution struct {
	AccountNumber string
	AccountName   string
}

type RecipientRequest struct {
	AccountNumber string
	BankCode      string
	AccountName   string
}

type TransferRequest struct {
	Amount        int64 // kobo
	RecipientCode string
	Reference     string
	Reason        string
}

type TransferReceipt struct {
	TransferCode string
	Reference    string
	Status       string
}

// Event is an asynchronous transfer outcome delivered by the gateway.
type Event struct {
	Kind      domain.TransferEventKind
	Reference string
	Amount    int64
	Reason    string
}

var (
	ErrAccountNotResolved = errors.New("could not resolve account name")
	ErrUnavailable        = errors.New("gateway temporarily unavailable")
)
