package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIdempotencyStatus(t *testing.T) {
	for _, raw := range []string{"processing", "done", "failed"} {
		status, err := ParseIdempotencyStatus(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, IdempotencyStatus(raw), status)
	}

	_, err := ParseIdempotencyStatus("DONE")
	require.Error(t, err)
	assert.Equal(t, KindInternal, KindOf(err))
}

func TestIdempotencyRecordReplayable(t *testing.T) {
	assert.False(t, IdempotencyRecord{Status: IdempotencyStatusProcessing}.Replayable())
	assert.True(t, IdempotencyRecord{Status: IdempotencyStatusDone, HTTPStatus: 201}.Replayable())
	assert.True(t, IdempotencyRecord{Status: IdempotencyStatusFailed, HTTPStatus: 500}.Replayable())
}

func TestIdempotencyRecordExpired(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	record := IdempotencyRecord{Key: "order-create-1", TTLAt: now}

	assert.True(t, record.Expired(now), "ttl boundary counts as expired")
	assert.True(t, record.Expired(now.Add(time.Second)))
	assert.False(t, record.Expired(now.Add(-time.Second)))
}
