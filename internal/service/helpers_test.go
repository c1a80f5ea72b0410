package service

import (
	"context"
	"sync"
	"time"

	"github.com/ayo6706/payout-reconciler/internal/events"
	"github.com/ayo6706/payout-reconciler/internal/gateway"
	"github.com/ayo6706/payout-reconciler/internal/testutil/memstore"
	"github.com/stretchr/testify/mock"
)

var testNow = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) VerifyAccount(ctx context.Context, accountNumber, bankCode string) (*gateway.AccountResolution, error) {
	args := m.Called(ctx, accountNumber, bankCode)
	res, _ := args.Get(0).(*gateway.AccountResolution)
	return res, args.Error(1)
}

func (m *mockGateway) CreateRecipient(ctx context.Context, req gateway.RecipientRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *mockGateway) InitiateTransfer(ctx context.Context, req gateway.TransferRequest) (*gateway.TransferReceipt, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*gateway.TransferReceipt)
	return res, args.Error(1)
}

// happyGateway accepts every call.
func happyGateway() *mockGateway {
	gw := &mockGateway{}
	gw.On("VerifyAccount", mock.Anything, mock.Anything, mock.Anything).
		Return(&gateway.AccountResolution{AccountNumber: "0123456789", AccountName: "ADA OBI"}, nil)
	gw.On("CreateRecipient", mock.Anything, mock.Anything).Return("RCP_test", nil)
	gw.On("InitiateTransfer", mock.Anything, mock.Anything).
		Return(&gateway.TransferReceipt{TransferCode: "TRF_test", Status: "pending"}, nil)
	return gw
}

type recordingPublisher struct {
	mu      sync.Mutex
	payouts []events.PayoutEvent
	batches []events.BatchEvent
}

func (p *recordingPublisher) PublishPayout(_ context.Context, evt events.PayoutEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.payouts = append(p.payouts, evt)
	return nil
}

func (p *recordingPublisher) PublishBatch(_ context.Context, evt events.BatchEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = append(p.batches, evt)
	return nil
}

func (p *recordingPublisher) Close() {}

func (p *recordingPublisher) payoutEvents() []events.PayoutEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.PayoutEvent, len(p.payouts))
	copy(out, p.payouts)
	return out
}

// clock is a settable time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestEngine(store *memstore.Store, gw gateway.Gateway, pub events.Publisher, clk *clock) *Engine {
	return NewEngine(store, gw, pub, EngineConfig{
		BatchSize:      10,
		GatewayTimeout: 200 * time.Millisecond,
		ClaimTTL:       2 * time.Minute,
	}, WithClock(clk.Now))
}
