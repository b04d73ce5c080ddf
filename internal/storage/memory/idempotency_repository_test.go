package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/autoparts/internal/domain"
)

func TestIdempotencyRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewIdempotencyRepository()
	ttl := time.Now().UTC().Add(time.Hour)

	record, err := repo.CreateProcessing(ctx, " key-1 ", "hash-1", ttl)
	require.NoError(t, err)
	assert.Equal(t, "key-1", record.Key)
	assert.Equal(t, domain.IdempotencyStatusProcessing, record.Status)

	_, err = repo.CreateProcessing(ctx, "key-1", "hash-1", ttl)
	assert.ErrorIs(t, err, domain.ErrIdempotencyKeyAlreadyExists)
	_, err = repo.CreateProcessing(ctx, "key-1", "hash-2", ttl)
	assert.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)

	require.NoError(t, repo.MarkDone(ctx, "key-1", []byte(`{"success":true}`), 201))
	stored, err := repo.Get(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, domain.IdempotencyStatusDone, stored.Status)
	assert.Equal(t, 201, stored.HTTPStatus)
	assert.JSONEq(t, `{"success":true}`, string(stored.ResponseBody))

	assert.ErrorIs(t, repo.MarkFailed(ctx, "missing", nil, 500), domain.ErrIdempotencyKeyNotFound)
}

func TestIdempotencyRepository_Validation(t *testing.T) {
	ctx := context.Background()
	repo := NewIdempotencyRepository()

	_, err := repo.CreateProcessing(ctx, "", "hash", time.Time{})
	assert.ErrorIs(t, err, domain.ErrIdempotencyKeyRequired)
	_, err = repo.CreateProcessing(ctx, "key", " ", time.Time{})
	assert.ErrorIs(t, err, domain.ErrIdempotencyRequestHashRequired)
	_, err = repo.Get(ctx, "")
	assert.ErrorIs(t, err, domain.ErrIdempotencyKeyRequired)
}

func TestIdempotencyRepository_ExpiredKeyIsReusable(t *testing.T) {
	ctx := context.Background()
	repo := NewIdempotencyRepository()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }

	_, err := repo.CreateProcessing(ctx, "key-1", "hash-1", now.Add(time.Minute))
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	record, err := repo.CreateProcessing(ctx, "key-1", "hash-2", now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "hash-2", record.RequestHash)
}

func TestIdempotencyRepository_DeleteExpired(t *testing.T) {
	ctx := context.Background()
	repo := NewIdempotencyRepository()
	now := time.Now().UTC()

	for _, key := range []string{"a", "b", "c"} {
		_, err := repo.CreateProcessing(ctx, key, "hash", now.Add(-time.Minute))
		require.NoError(t, err)
	}
	_, err := repo.CreateProcessing(ctx, "fresh", "hash", now.Add(time.Hour))
	require.NoError(t, err)

	deleted, err := repo.DeleteExpired(ctx, now, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	deleted, err = repo.DeleteExpired(ctx, now, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = repo.Get(ctx, "fresh")
	assert.NoError(t, err)
}
