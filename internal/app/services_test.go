package app

import (
	"context"
	"testing"
	"time"

	"github.com/ayo6706/payout-reconciler/internal/domain"
	"github.com/ayo6706/payout-reconciler/internal/gateway"
	"github.com/ayo6706/payout-reconciler/internal/models"
	"github.com/ayo6706/payout-reconciler/internal/repository"
	"github.com/ayo6706/payout-reconciler/internal/service"
	"github.com/ayo6706/payout-reconciler/internal/testutil/memstore"
	"github.com/stretchr/testify/require"
)

// slowFinalizeStore commits FinalizeClaim only after delay, so settlement can arrive first.
type slowFinalizeStore struct {
	*memstore.Store
	delay time.Duration
}

func (s slowFinalizeStore) FinalizeClaim(ctx context.Context, arg repository.FinalizeClaimParams) (*models.Payout, error) {
	time.Sleep(s.delay)
	return s.Store.FinalizeClaim(ctx, arg)
}

func TestMockSettlementBeforeFinalizeCompletesPayout(t *testing.T) {
	store := memstore.New(1_000, 0, 1_000_000)
	id := store.Seed(300, time.Now().Add(-time.Minute))

	gw := &gateway.MockGateway{SettleDelay: time.Millisecond, SettleBackoff: 10 * time.Millisecond}
	engine := service.NewEngine(slowFinalizeStore{Store: store, delay: 30 * time.Millisecond}, gw, nil, service.EngineConfig{
		GatewayTimeout: time.Second,
	})
	gw.OnSettle(settleHandler(engine))

	res, err := engine.ProcessSingle(context.Background(), id, nil)
	require.NoError(t, err)
	require.True(t, res.Success)
	gw.Wait()

	p := store.Payout(id)
	require.Equal(t, domain.PayoutStatusCompleted, p.Status)
	require.Equal(t, mockGatewaySource, p.Metadata["confirmation_source"])

	ledger := store.Ledger()
	require.Equal(t, int64(700), ledger.Available)
	require.Equal(t, int64(300), ledger.TotalWithdrawn)
}

func TestMockSettlementFailureRefundsLedger(t *testing.T) {
	store := memstore.New(1_000, 0, 1_000_000)
	id := store.Seed(300, time.Now().Add(-time.Minute))

	gw := &gateway.MockGateway{SettleDelay: time.Millisecond, SettleFailureRate: 1}
	engine := service.NewEngine(store, gw, nil, service.EngineConfig{GatewayTimeout: time.Second})
	gw.OnSettle(settleHandler(engine))

	res, err := engine.ProcessSingle(context.Background(), id, nil)
	require.NoError(t, err)
	require.True(t, res.Success)
	gw.Wait()

	require.Equal(t, domain.PayoutStatusFailed, store.Payout(id).Status)
	require.Equal(t, int64(1_000), store.Ledger().Available)
	require.Equal(t, int64(0), store.Ledger().TotalWithdrawn)
}
