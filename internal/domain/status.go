package domain

import (
	"fmt"
	"strings"
)

var payoutTransitions = map[PayoutStatus]map[PayoutStatus]struct{}{
	PayoutStatusPending: {
		PayoutStatusProcessing: {},
		PayoutStatusFailed:     {},
	},
	PayoutStatusProcessing: {
		PayoutStatusCompleted: {},
		PayoutStatusFailed:    {},
	},
	PayoutStatusCompleted: {},
	PayoutStatusFailed:    {},
}

// ParseStatus normalizes s into a known PayoutStatus.
func ParseStatus(s string) (PayoutStatus, error) {
	status := PayoutStatus(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := payoutTransitions[status]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
	}
	return status, nil
}

// IsTerminal reports whether no transition leaves s.
func (s PayoutStatus) IsTerminal() bool {
	next, ok := payoutTransitions[s]
	return ok && len(next) == 0
}

func (s PayoutStatus) String() string {
	return string(s)
}

// CanTransition reports whether current -> next is in the transition table.
func CanTransition(current, next PayoutStatus) bool {
	nextStates, ok := payoutTransitions[current]
	if !ok {
		return false
	}
	_, ok = nextStates[next]
	return ok
}

// ValidateTransition returns ErrInvalidTransition when current -> next is not allowed.
func ValidateTransition(current, next PayoutStatus) error {
	if !CanTransition(current, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, next)
	}
	return nil
}

// ParseTransferEvent maps a gateway webhook event name to a TransferEventKind.
// ok is false for events the engine does not reconcile.
func ParseTransferEvent(event string) (TransferEventKind, bool) {
	switch strings.ToLower(strings.TrimSpace(event)) {
	case "transfer.success", "success":
		return TransferSucceeded, true
	case "transfer.failed", "failed":
		return TransferFailed, true
	case "transfer.reversed", "reversed":
		return TransferReversed, true
	default:
		return "", false
	}
}
