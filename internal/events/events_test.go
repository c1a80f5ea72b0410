package events

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/ayo6706/payout-reconciler/internal/domain"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubjectFor(t *testing.T) {
	assert.Equal(t, SubjectProcessing, SubjectFor(domain.PayoutStatusProcessing))
	assert.Equal(t, SubjectCompleted, SubjectFor(domain.PayoutStatusCompleted))
	assert.Equal(t, SubjectFailed, SubjectFor(domain.PayoutStatusFailed))
	assert.Equal(t, "payouts.pending", SubjectFor(domain.PayoutStatusPending))
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	require.NoError(t, p.PublishPayout(context.Background(), PayoutEvent{}))
	require.NoError(t, p.PublishBatch(context.Background(), BatchEvent{}))
	p.Close()
}

func TestNATSPublisher_PublishesPayoutEvent(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("Skipping integration test: NATS_URL not set")
	}

	pub, err := Connect(Config{URL: url})
	require.NoError(t, err)
	defer pub.Close()

	sub, err := nats.Connect(url)
	require.NoError(t, err)
	defer sub.Close()

	msgs := make(chan *nats.Msg, 1)
	s, err := sub.ChanSubscribe(SubjectCompleted, msgs)
	require.NoError(t, err)
	defer s.Unsubscribe()
	require.NoError(t, sub.Flush())

	evt := PayoutEvent{
		PayoutID:  uuid.New(),
		Status:    domain.PayoutStatusCompleted,
		Amount:    70_000,
		Reference: "TP-AUTO-1-x",
		At:        time.Now().UTC(),
	}
	require.NoError(t, pub.PublishPayout(context.Background(), evt))

	select {
	case msg := <-msgs:
		var got PayoutEvent
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		assert.Equal(t, evt.PayoutID, got.PayoutID)
		assert.Equal(t, evt.Reference, got.Reference)
	case <-time.After(2 * time.Second):
		t.Fatal("event not received")
	}
}
