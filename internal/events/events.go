package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ayo6706/payout-reconciler/internal/domain"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	SubjectProcessing = "payouts.processing"
	SubjectCompleted  = "payouts.completed"
	SubjectFailed     = "payouts.failed"
	SubjectBatch      = "payouts.batch"
)

// PayoutEvent describes a committed payout transition.
type PayoutEvent struct {
	PayoutID  uuid.UUID             `json:"payout_id"`
	Status    domain.PayoutStatus   `json:"status"`
	Amount    int64                 `json:"amount"`
	Reference string                `json:"reference,omitempty"`
	Mode      domain.ProcessingMode `json:"mode,omitempty"`
	Reason    string                `json:"reason,omitempty"`
	At        time.Time             `json:"at"`
}

// BatchEvent summarizes one batch run.
type BatchEvent struct {
	Processed       int       `json:"processed"`
	Skipped         int       `json:"skipped"`
	Failed          int       `json:"failed"`
	ProcessedAmount int64     `json:"processed_amount"`
	Reason          string    `json:"reason,omitempty"`
	At              time.Time `json:"at"`
}

// SubjectFor returns the subject a transition into status is published on.
func SubjectFor(status domain.PayoutStatus) string {
	switch status {
	case domain.PayoutStatusProcessing:
		return SubjectProcessing
	case domain.PayoutStatusCompleted:
		return SubjectCompleted
	case domain.PayoutStatusFailed:
		return SubjectFailed
	default:
		return "payouts." + string(status)
	}
}

// Publisher emits payout lifecycle events. Publishing is best effort.
type Publisher interface {
	PublishPayout(ctx context.Context, evt PayoutEvent) error
	PublishBatch(ctx context.Context, evt BatchEvent) error
	Close()
}

type Config struct {
	URL            string
	Name           string
	ReconnectWait  time.Duration
	MaxReconnects  int
	ConnectTimeout time.Duration
}

// NATSPublisher publishes events as JSON on core NATS subjects.
type NATSPublisher struct {
	conn *nats.Conn
}

// Connect dials NATS and returns a publisher.
func Connect(cfg Config) (*NATSPublisher, error) {
	if cfg.Name == "" {
		cfg.Name = "payout-reconciler"
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = -1
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				zap.L().Warn("nats disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			zap.L().Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &NATSPublisher{conn: conn}, nil
}

func (p *NATSPublisher) PublishPayout(_ context.Context, evt PayoutEvent) error {
	return p.publish(SubjectFor(evt.Status), evt)
}

func (p *NATSPublisher) PublishBatch(_ context.Context, evt BatchEvent) error {
	return p.publish(SubjectBatch, evt)
}

func (p *NATSPublisher) publish(subject string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Close flushes pending messages and closes the connection.
func (p *NATSPublisher) Close() {
	if p.conn == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		zap.L().Warn("nats drain failed", zap.Error(err))
		p.conn.Close()
	}
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) PublishPayout(context.Context, PayoutEvent) error { return nil }
func (NopPublisher) PublishBatch(context.Context, BatchEvent) error   { return nil }
func (NopPublisher) Close()                                           {}
