package idempotency

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/autoparts/internal/domain"
	"github.com/vladislavdragonenkov/autoparts/internal/storage/memory"
)

func TestGuard_ReplaysCompletedResponse(t *testing.T) {
	ctx := context.Background()
	guard := NewGuard(memory.NewIdempotencyRepository())
	hash := RequestHash(http.MethodPost, "/api/orders", "u1", []byte(`{"items":[]}`))

	replay, err := guard.Begin(ctx, "key-1", hash)
	require.NoError(t, err)
	require.Nil(t, replay)

	guard.Complete(ctx, "key-1", http.StatusCreated, []byte(`{"success":true}`))

	replay, err = guard.Begin(ctx, "key-1", hash)
	require.NoError(t, err)
	require.NotNil(t, replay)
	assert.Equal(t, http.StatusCreated, replay.Status)
	assert.JSONEq(t, `{"success":true}`, string(replay.Body))
}

func TestGuard_InProgressAndMismatch(t *testing.T) {
	ctx := context.Background()
	guard := NewGuard(memory.NewIdempotencyRepository())
	hash := RequestHash(http.MethodPost, "/api/orders", "u1", []byte(`a`))

	_, err := guard.Begin(ctx, "key-2", hash)
	require.NoError(t, err)

	_, err = guard.Begin(ctx, "key-2", hash)
	assert.Equal(t, domain.KindConflict, domain.KindOf(err))
	assert.ErrorIs(t, err, ErrRequestInProgress)

	other := RequestHash(http.MethodPost, "/api/orders", "u1", []byte(`b`))
	_, err = guard.Begin(ctx, "key-2", other)
	assert.Equal(t, domain.KindConflict, domain.KindOf(err))
	assert.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)
}

func TestGuard_FailedResponseIsReplayed(t *testing.T) {
	ctx := context.Background()
	guard := NewGuard(memory.NewIdempotencyRepository())
	hash := RequestHash(http.MethodPut, "/api/orders/1/cancel", "u1", nil)

	_, err := guard.Begin(ctx, "key-3", hash)
	require.NoError(t, err)
	guard.Complete(ctx, "key-3", http.StatusInternalServerError, []byte(`{"success":false}`))

	replay, err := guard.Begin(ctx, "key-3", hash)
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, replay.Status)
}

func TestGuard_EmptyKey(t *testing.T) {
	guard := NewGuard(memory.NewIdempotencyRepository())
	_, err := guard.Begin(context.Background(), " ", "hash")
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestGuard_TTL(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewIdempotencyRepository()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	guard := NewGuard(repo, WithTTL(time.Minute), WithClock(func() time.Time { return now }))

	_, err := guard.Begin(ctx, "key-4", "h")
	require.NoError(t, err)

	record, err := repo.Get(ctx, "key-4")
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Minute), record.TTLAt)
}

func TestRequestHash_DependsOnAllParts(t *testing.T) {
	base := RequestHash("POST", "/a", "u1", []byte("x"))
	assert.Equal(t, base, RequestHash("POST", "/a", "u1", []byte("x")))
	assert.NotEqual(t, base, RequestHash("PUT", "/a", "u1", []byte("x")))
	assert.NotEqual(t, base, RequestHash("POST", "/b", "u1", []byte("x")))
	assert.NotEqual(t, base, RequestHash("POST", "/a", "u2", []byte("x")))
	assert.NotEqual(t, base, RequestHash("POST", "/a", "u1", []byte("y")))
}
