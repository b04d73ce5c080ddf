package kafka

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/autoparts/internal/domain"
)

func TestEnvelope_Key(t *testing.T) {
	assert.Equal(t, "order-1", Envelope{ID: "m1", AggregateID: "order-1"}.Key())
	assert.Equal(t, "m1", Envelope{ID: "m1"}.Key())
}

func TestEnvelope_OrderEventRejectsOtherAggregates(t *testing.T) {
	_, err := Envelope{AggregateType: "product", Payload: json.RawMessage(`{}`)}.OrderEvent()
	assert.Error(t, err)
}

func TestReplayFromDeadLetter(t *testing.T) {
	letter, err := json.Marshal(DeadLetter{
		OutboxID:      "outbox-9",
		AggregateType: domain.AggregateOrder,
		AggregateID:   "order-9",
		EventType:     domain.EventOrderCanceled,
		Payload:       json.RawMessage(`{"order_id":"order-9"}`),
		PublishError:  "broker unavailable",
	})
	require.NoError(t, err)
	dlqValue, err := json.Marshal(Envelope{
		ID:            "outbox-9",
		AggregateType: domain.AggregateOrder,
		AggregateID:   "order-9",
		EventType:     domain.EventOrderCanceled,
		Payload:       letter,
	})
	require.NoError(t, err)

	now := time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)
	replay, err := ReplayFromDeadLetter(dlqValue, now)
	require.NoError(t, err)
	assert.Equal(t, "outbox-9", replay.ID)
	assert.Equal(t, "order-9", replay.Key())
	assert.Equal(t, domain.EventOrderCanceled, replay.EventType)
	assert.JSONEq(t, `{"order_id":"order-9"}`, string(replay.Payload))
	assert.Equal(t, now, replay.PublishedAt)
}

func TestReplayFromDeadLetter_Unsupported(t *testing.T) {
	_, err := ReplayFromDeadLetter([]byte(`not json`), time.Now())
	assert.ErrorIs(t, err, ErrNotDeadLetter)

	_, err = ReplayFromDeadLetter([]byte(`{"id":"x","payload":{"outbox_id":"x"}}`), time.Now())
	assert.ErrorIs(t, err, ErrNotDeadLetter)
}
