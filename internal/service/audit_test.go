package service

import (
	"context"
	"testing"

	"github.com/ayo6706/payout-reconciler/internal/domain"
	"github.com/ayo6706/payout-reconciler/internal/models"
	"github.com/ayo6706/payout-reconciler/internal/testutil/memstore"
	"github.com/stretchr/testify/require"
)

func TestLedgerAuditBalancedAfterLifecycle(t *testing.T) {
	clk := &clock{now: testNow}
	store := memstore.New(5_000, 0, 1_000_000)
	engine := newTestEngine(store, happyGateway(), nil, clk)

	_, completed := processedPayout(t, store, engine, 1_000)
	_, refunded := processedPayout(t, store, engine, 700)
	processedPayout(t, store, engine, 300)
	store.Seed(400, testNow)

	_, err := engine.ReconcileCallback(context.Background(), models.TransferEvent{Kind: domain.TransferSucceeded, Reference: completed})
	require.NoError(t, err)
	_, err = engine.ReconcileCallback(context.Background(), models.TransferEvent{Kind: domain.TransferFailed, Reference: refunded})
	require.NoError(t, err)

	found, err := NewLedgerAuditService(store).Run(context.Background())
	require.NoError(t, err)
	require.Empty(t, found)
}

func TestLedgerAuditReportsDrift(t *testing.T) {
	clk := &clock{now: testNow}
	store := memstore.New(5_000, 0, 1_000_000)
	engine := newTestEngine(store, happyGateway(), nil, clk)
	processedPayout(t, store, engine, 1_000)

	l := store.Ledger()
	l.Available += 250
	store.SetLedger(l)

	found, err := NewLedgerAuditService(store).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, []Discrepancy{{Check: CheckBalance, Expected: 4_000, Actual: 4_250}}, found)
}
