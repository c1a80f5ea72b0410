package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/ayo6706/payout-reconciler/internal/domain"
	"go.uber.org/zap"
)

const (
	defaultSettleAttempts = 6
	defaultSettleBackoff  = 50 * time.Millisecond
)

// SettleFunc receives the asynchronous outcome of a transfer accepted by MockGateway.
// A non-nil error is treated like a non-2xx webhook response and the event is redelivered.
type SettleFunc func(ctx context.Context, evt Event) error

// MockGateway simulates the transfer rail for local deployments.
// Calls sleep for a random latency in [MinLatency, MaxLatency) and fail with
// probability FailureRate. Accepted transfers settle after SettleDelay through OnSettle,
// reporting a failure with probability SettleFailureRate. Rejected deliveries are retried
// up to SettleAttempts times, doubling SettleBackoff after each attempt.
type MockGateway struct {
	FailureRate       float64
	SettleFailureRate float64
	MinLatency        time.Duration
	MaxLatency        time.Duration
	SettleDelay       time.Duration
	SettleAttempts    int
	SettleBackoff     time.Duration

	mu       sync.Mutex
	onSettle SettleFunc
	rng      *rand.Rand
	wg       sync.WaitGroup
}

// NewMockGateway creates a new MockGateway with default settings.
func NewMockGateway() *MockGateway {
	return &MockGateway{
		FailureRate:       0.1,
		SettleFailureRate: 0.05,
		MinLatency:        200 * time.Millisecond,
		MaxLatency:        time.Second,
		SettleDelay:       10 * time.Second,
		SettleAttempts:    8,
		SettleBackoff:     500 * time.Millisecond,
		rng:               rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// OnSettle registers the receiver of settlement events.
func (g *MockGateway) OnSettle(fn SettleFunc) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onSettle = fn
}

// Wait blocks until every scheduled settlement has been delivered.
func (g *MockGateway) Wait() {
	g.wg.Wait()
}

func (g *MockGateway) VerifyAccount(ctx context.Context, accountNumber, bankCode string) (*AccountResolution, error) {
	if err := g.simulate(ctx); err != nil {
		return nil, err
	}
	if len(accountNumber) != 10 || bankCode == "" {
		return nil, fmt.Errorf("%w: %s/%s", ErrAccountNotResolved, bankCode, accountNumber)
	}
	return &AccountResolution{
		AccountNumber: accountNumber,
		AccountName:   "MOCK ACCOUNT " + accountNumber[len(accountNumber)-4:],
	}, nil
}

func (g *MockGateway) CreateRecipient(ctx context.Context, req RecipientRequest) (string, error) {
	if err := g.simulate(ctx); err != nil {
		return "", err
	}
	return fmt.Sprintf("RCP_%s%05d", req.BankCode, g.randIntn(100000)), nil
}

func (g *MockGateway) InitiateTransfer(ctx context.Context, req TransferRequest) (*TransferReceipt, error) {
	if err := g.simulate(ctx); err != nil {
		return nil, err
	}
	receipt := &TransferReceipt{
		TransferCode: fmt.Sprintf("TRF_%s-%05d", time.Now().Format("20060102150405"), g.randIntn(100000)),
		Reference:    req.Reference,
		Status:       "pending",
	}
	g.scheduleSettlement(req)
	return receipt, nil
}

func (g *MockGateway) scheduleSettlement(req TransferRequest) {
	g.mu.Lock()
	fn := g.onSettle
	g.mu.Unlock()
	if fn == nil {
		return
	}

	evt := Event{Kind: domain.TransferSucceeded, Reference: req.Reference, Amount: req.Amount}
	if g.randFloat() < g.SettleFailureRate {
		evt.Kind = domain.TransferFailed
		evt.Reason = "beneficiary bank unavailable"
	}

	g.wg.Add(1)
	time.AfterFunc(g.SettleDelay, func() {
		defer g.wg.Done()
		g.deliver(fn, evt)
	})
}

// deliver hands evt to fn until it is accepted or the attempts run out.
func (g *MockGateway) deliver(fn SettleFunc, evt Event) {
	attempts := g.SettleAttempts
	if attempts <= 0 {
		attempts = defaultSettleAttempts
	}
	backoff := g.SettleBackoff
	if backoff <= 0 {
		backoff = defaultSettleBackoff
	}

	for attempt := 1; ; attempt++ {
		zap.L().Debug("mock gateway settling transfer",
			zap.String("reference", evt.Reference),
			zap.String("kind", string(evt.Kind)),
			zap.Int("attempt", attempt))
		err := fn(context.Background(), evt)
		if err == nil {
			return
		}
		if attempt >= attempts {
			zap.L().Error("mock gateway gave up delivering settlement",
				zap.String("reference", evt.Reference),
				zap.Int("attempts", attempt),
				zap.Error(err))
			return
		}
		time.Sleep(backoff)
		backoff *= 2
	}
}

func (g *MockGateway) simulate(ctx context.Context) error {
	delay := g.MinLatency
	if spread := g.MaxLatency - g.MinLatency; spread > 0 {
		delay += time.Duration(g.randInt63n(int64(spread)))
	}
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return fmt.Errorf("gateway call canceled: %w", ctx.Err())
		}
	}

	if g.randFloat() < g.FailureRate {
		return ErrUnavailable
	}
	return nil
}

func (g *MockGateway) randFloat() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.source().Float64()
}

func (g *MockGateway) randIntn(n int) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.source().Intn(n)
}

func (g *MockGateway) randInt63n(n int64) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.source().Int63n(n)
}

// source must be called with mu held.
func (g *MockGateway) source() *rand.Rand {
	if g.rng == nil {
		g.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return g.rng
}
