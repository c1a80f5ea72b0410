package gateway

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ayo6706/payout-reconciler/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func instantGateway() *MockGateway {
	return &MockGateway{SettleDelay: time.Millisecond}
}

func TestMockGateway_VerifyAccount(t *testing.T) {
	g := instantGateway()

	res, err := g.VerifyAccount(context.Background(), "0123456789", "058")
	require.NoError(t, err)
	assert.Equal(t, "0123456789", res.AccountNumber)
	assert.Equal(t, "MOCK ACCOUNT 6789", res.AccountName)

	_, err = g.VerifyAccount(context.Background(), "123", "058")
	require.ErrorIs(t, err, ErrAccountNotResolved)
}

func TestMockGateway_FailureRate(t *testing.T) {
	g := instantGateway()
	g.FailureRate = 1

	_, err := g.CreateRecipient(context.Background(), RecipientRequest{AccountNumber: "0123456789", BankCode: "058"})
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestMockGateway_HonorsContextCancellation(t *testing.T) {
	g := instantGateway()
	g.MinLatency = time.Second
	g.MaxLatency = 2 * time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := g.InitiateTransfer(ctx, TransferRequest{Amount: 100, Reference: "TP-AUTO-1"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMockGateway_SettlesAcceptedTransfers(t *testing.T) {
	g := instantGateway()

	var (
		mu     sync.Mutex
		events []Event
	)
	g.OnSettle(func(_ context.Context, evt Event) error {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, evt)
		return nil
	})

	receipt, err := g.InitiateTransfer(context.Background(), TransferRequest{
		Amount:        70_000,
		RecipientCode: "RCP_1",
		Reference:     "TP-AUTO-1700000000000-abc",
	})
	require.NoError(t, err)
	assert.Equal(t, "TP-AUTO-1700000000000-abc", receipt.Reference)
	assert.NotEmpty(t, receipt.TransferCode)

	g.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 1)
	assert.Equal(t, domain.TransferSucceeded, events[0].Kind)
	assert.Equal(t, int64(70_000), events[0].Amount)
}

func TestMockGateway_SettlementFailure(t *testing.T) {
	g := instantGateway()
	g.SettleFailureRate = 1

	done := make(chan Event, 1)
	g.OnSettle(func(_ context.Context, evt Event) error {
		done <- evt
		return nil
	})

	_, err := g.InitiateTransfer(context.Background(), TransferRequest{Amount: 500, Reference: "ref"})
	require.NoError(t, err)

	select {
	case evt := <-done:
		assert.Equal(t, domain.TransferFailed, evt.Kind)
		assert.NotEmpty(t, evt.Reason)
	case <-time.After(time.Second):
		t.Fatal("settlement not delivered")
	}
}

func TestMockGateway_RedeliversRejectedSettlement(t *testing.T) {
	g := instantGateway()
	g.SettleBackoff = time.Millisecond

	var calls atomic.Int32
	g.OnSettle(func(context.Context, Event) error {
		if calls.Add(1) < 3 {
			return domain.ErrTransferNotFinalized
		}
		return nil
	})

	_, err := g.InitiateTransfer(context.Background(), TransferRequest{Amount: 500, Reference: "ref"})
	require.NoError(t, err)
	g.Wait()

	require.Equal(t, int32(3), calls.Load())
}

func TestMockGateway_StopsRedeliveringAfterAttempts(t *testing.T) {
	g := instantGateway()
	g.SettleAttempts = 2
	g.SettleBackoff = time.Millisecond

	var calls atomic.Int32
	g.OnSettle(func(context.Context, Event) error {
		calls.Add(1)
		return errors.New("webhook endpoint down")
	})

	_, err := g.InitiateTransfer(context.Background(), TransferRequest{Amount: 500, Reference: "ref"})
	require.NoError(t, err)
	g.Wait()

	require.Equal(t, int32(2), calls.Load())
}
