package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/autoparts/internal/domain"
)

func TestOutboxRepository_PostgresFlow(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOutboxRepository(store)
	ctx := context.Background()

	first, err := repo.Enqueue(ctx, domain.OutboxMessage{
		AggregateType: domain.AggregateOrder,
		AggregateID:   "order-1",
		EventType:     domain.EventOrderCreated,
		Payload:       []byte(`{"order_id":"order-1"}`),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)

	second, err := repo.Enqueue(ctx, domain.OutboxMessage{
		ID:            "outbox-fixed-id",
		AggregateType: domain.AggregateOrder,
		AggregateID:   "order-2",
		EventType:     domain.EventOrderCanceled,
		Payload:       []byte(`{"order_id":"order-2"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, "outbox-fixed-id", second.ID)

	pending, err := repo.PullPending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.JSONEq(t, `{"order_id":"order-1"}`, string(pending[0].Payload))

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.PendingCount)
	assert.False(t, stats.OldestPendingAt.IsZero())

	require.NoError(t, repo.MarkSent(ctx, first.ID))
	require.NoError(t, repo.MarkFailed(ctx, second.ID))
	assert.ErrorIs(t, repo.MarkSent(ctx, "missing"), domain.ErrOutboxPublish)

	stats, err = repo.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.PendingCount)
	assert.True(t, stats.OldestPendingAt.IsZero())
}
