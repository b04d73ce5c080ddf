package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/autoparts/internal/domain"
	"github.com/vladislavdragonenkov/autoparts/internal/storage/memory"
)

func TestTimelineRepository_Chronological(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewTimelineRepository()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Append(ctx, domain.TimelineEvent{OrderID: "o1", Type: domain.TimelineStatusChanged, Occurred: base.Add(time.Minute)}))
	require.NoError(t, repo.Append(ctx, domain.TimelineEvent{OrderID: "o1", Type: domain.TimelineOrderCreated, Occurred: base}))
	require.NoError(t, repo.Append(ctx, domain.TimelineEvent{OrderID: "o2", Type: domain.TimelineOrderCreated, Occurred: base}))

	events, err := repo.List(ctx, "o1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.TimelineOrderCreated, events[0].Type)
	assert.Equal(t, domain.TimelineStatusChanged, events[1].Type)

	none, err := repo.List(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, none)
}
