package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to PayoutStatus
		ok       bool
	}{
		{PayoutStatusPending, PayoutStatusProcessing, true},
		{PayoutStatusPending, PayoutStatusFailed, true},
		{PayoutStatusProcessing, PayoutStatusCompleted, true},
		{PayoutStatusProcessing, PayoutStatusFailed, true},
		{PayoutStatusPending, PayoutStatusCompleted, false},
		{PayoutStatusProcessing, PayoutStatusPending, false},
		{PayoutStatusCompleted, PayoutStatusFailed, false},
		{PayoutStatusFailed, PayoutStatusPending, false},
		{PayoutStatusFailed, PayoutStatusProcessing, false},
		{PayoutStatus("bogus"), PayoutStatusFailed, false},
	}
	for _, tc := range cases {
		t.Run(string(tc.from)+"_to_"+string(tc.to), func(t *testing.T) {
			assert.Equal(t, tc.ok, CanTransition(tc.from, tc.to))
			err := ValidateTransition(tc.from, tc.to)
			if tc.ok {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalidTransition)
		})
	}
}

func TestTerminalStatuses(t *testing.T) {
	assert.True(t, PayoutStatusCompleted.IsTerminal())
	assert.True(t, PayoutStatusFailed.IsTerminal())
	assert.False(t, PayoutStatusPending.IsTerminal())
	assert.False(t, PayoutStatusProcessing.IsTerminal())
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus(" Pending ")
	require.NoError(t, err)
	assert.Equal(t, PayoutStatusPending, s)

	_, err = ParseStatus("manual_review")
	require.ErrorIs(t, err, ErrUnknownStatus)
}

func TestParseTransferEvent(t *testing.T) {
	kind, ok := ParseTransferEvent("transfer.success")
	require.True(t, ok)
	assert.Equal(t, TransferSucceeded, kind)

	kind, ok = ParseTransferEvent("transfer.reversed")
	require.True(t, ok)
	assert.Equal(t, TransferReversed, kind)

	_, ok = ParseTransferEvent("charge.success")
	assert.False(t, ok)
}
