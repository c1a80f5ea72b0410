package service

import (
	"context"
	"testing"
	"time"

	"github.com/ayo6706/payout-reconciler/internal/domain"
	"github.com/ayo6706/payout-reconciler/internal/repository"
	"github.com/ayo6706/payout-reconciler/internal/testutil/memstore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestLedgerSnapshot(t *testing.T) {
	clk := &clock{now: testNow}
	store := memstore.New(10_000, 1_000, 5_000)
	engine := newTestEngine(store, happyGateway(), nil, clk)
	store.Seed(300, testNow.Add(-2*time.Minute))
	store.Seed(200, testNow.Add(-time.Minute))
	_, err := engine.ProcessBatch(context.Background())
	require.NoError(t, err)
	store.Seed(400, testNow)

	svc := NewLedgerService(store, time.UTC)
	svc.now = clk.Now

	snap, err := svc.Snapshot(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(9_500), snap.Available)
	require.Equal(t, int64(1), snap.Pending.Count)
	require.Equal(t, int64(400), snap.Pending.Total)
	require.Equal(t, int64(9_100), snap.ProjectedBalance)
	require.Equal(t, int64(500), snap.TodayAutoVolume)
}

func TestLedgerUpdateGuardrails(t *testing.T) {
	store := memstore.New(10_000, 1_000, 5_000)
	svc := NewLedgerService(store, nil)
	admin := uuid.New()

	reserve := int64(2_500)
	ledger, err := svc.UpdateGuardrails(context.Background(), UpdateGuardrailsRequest{MinimumReserve: &reserve}, &admin)
	require.NoError(t, err)
	require.Equal(t, int64(2_500), ledger.MinimumReserve)
	require.Equal(t, int64(5_000), ledger.DailyCap)

	negative := int64(-1)
	_, err = svc.UpdateGuardrails(context.Background(), UpdateGuardrailsRequest{DailyCap: &negative}, &admin)
	require.ErrorIs(t, err, domain.ErrInvalidGuardrail)
	require.Equal(t, int64(5_000), store.Ledger().DailyCap)

	logs, err := store.ListAuditLog(context.Background(), repository.EntityLedger, uuid.Nil)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, admin, *logs[0].ActorID)
}

func TestLedgerAutoProcessingSwitch(t *testing.T) {
	store := memstore.New(10_000, 0, 5_000)
	svc := NewLedgerService(store, nil)

	ledger, err := svc.ToggleAutoProcessing(context.Background(), nil)
	require.NoError(t, err)
	require.False(t, ledger.AutoProcessingEnabled)

	ledger, err = svc.ToggleAutoProcessing(context.Background(), nil)
	require.NoError(t, err)
	require.True(t, ledger.AutoProcessingEnabled)

	off := false
	ledger, err = svc.SetAutoProcessing(context.Background(), &off, nil)
	require.NoError(t, err)
	require.False(t, ledger.AutoProcessingEnabled)

	ledger, err = svc.SetAutoProcessing(context.Background(), &off, nil)
	require.NoError(t, err)
	require.False(t, ledger.AutoProcessingEnabled)
}

func TestLedgerDeposit(t *testing.T) {
	store := memstore.New(1_000, 0, 5_000)
	svc := NewLedgerService(store, nil)

	_, err := svc.Deposit(context.Background(), DepositRequest{Amount: 0}, nil)
	require.ErrorIs(t, err, domain.ErrInvalidAmount)

	ledger, err := svc.Deposit(context.Background(), DepositRequest{Amount: 4_000, Note: "treasury top-up"}, nil)
	require.NoError(t, err)
	require.Equal(t, int64(5_000), ledger.Available)
	require.Equal(t, int64(5_000), ledger.TotalDeposited)
}

func TestStartOfDayUsesLedgerTimezone(t *testing.T) {
	lagos := time.FixedZone("WAT", 60*60)
	now := time.Date(2026, 3, 14, 23, 30, 0, 0, time.UTC)

	require.Equal(t, time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC), startOfDay(now, time.UTC))
	require.True(t, time.Date(2026, 3, 15, 0, 0, 0, 0, lagos).Equal(startOfDay(now, lagos)))
}
