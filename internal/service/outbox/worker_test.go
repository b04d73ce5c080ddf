package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/autoparts/internal/domain"
	"github.com/vladislavdragonenkov/autoparts/internal/metrics"
	"github.com/vladislavdragonenkov/autoparts/internal/storage/memory"
)

func enqueue(t *testing.T, repo *memory.OutboxRepository, orderID, eventType string) domain.OutboxMessage {
	t.Helper()
	msg, err := repo.Enqueue(context.Background(), domain.OutboxMessage{
		AggregateType: domain.AggregateOrder,
		AggregateID:   orderID,
		EventType:     eventType,
		Payload:       []byte(`{"order_id":"` + orderID + `"}`),
	})
	require.NoError(t, err)
	return msg
}

func TestWorker_ProcessOnce_MarkSent(t *testing.T) {
	t.Parallel()

	repo := memory.NewOutboxRepository()
	enqueue(t, repo, "order-1", domain.EventOrderCreated)
	publisher := &stubPublisher{}
	m := metrics.NewOutboxMetrics(prometheus.NewRegistry())

	worker := NewWorker(repo, publisher, WithRetryBaseDelay(0), WithMaxAttempts(3), WithMetrics(m))
	worker.ProcessOnce(context.Background())

	assert.Equal(t, 1, publisher.calls())
	assert.Empty(t, repo.AllPending())
	assert.Equal(t, domain.EventOrderCreated, publisher.published()[0].EventType)
}

func TestWorker_ProcessOnce_MarkFailedAndDLQAfterRetries(t *testing.T) {
	t.Parallel()

	repo := memory.NewOutboxRepository()
	msg := enqueue(t, repo, "order-2", domain.EventOrderCanceled)
	publisher := &stubPublisher{err: errors.New("broker unavailable")}
	dlqPublisher := &stubPublisher{}
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	worker := NewWorker(
		repo,
		publisher,
		WithDLQPublisher(dlqPublisher),
		WithRetryBaseDelay(0),
		WithMaxAttempts(3),
		WithClock(func() time.Time { return now }),
	)
	worker.ProcessOnce(context.Background())

	assert.Equal(t, 3, publisher.calls())
	assert.Empty(t, repo.AllPending())
	require.Equal(t, 1, dlqPublisher.calls())

	dlq := dlqPublisher.published()[0]
	assert.Equal(t, msg.ID, dlq.ID)
	assert.Equal(t, 3, dlq.Attempts)

	var envelope map[string]any
	require.NoError(t, json.Unmarshal(dlq.Payload, &envelope))
	assert.Equal(t, "order-2", envelope["aggregate_id"])
	assert.Contains(t, envelope["publish_error"], "broker unavailable")
	assert.Equal(t, now.Format(time.RFC3339Nano), envelope["dlq_published_at"])
}

func TestWorker_ProcessOnce_SuccessAfterRetry(t *testing.T) {
	t.Parallel()

	repo := memory.NewOutboxRepository()
	enqueue(t, repo, "order-3", domain.EventOrderPaid)
	publisher := &stubPublisher{
		sequenceErrors: []error{errors.New("attempt 1"), errors.New("attempt 2"), nil},
	}
	m := metrics.NewOutboxMetrics(prometheus.NewRegistry())

	worker := NewWorker(repo, publisher, WithRetryBaseDelay(0), WithMaxAttempts(3), WithMetrics(m))
	worker.ProcessOnce(context.Background())

	assert.Equal(t, 3, publisher.calls())
	assert.Empty(t, repo.AllPending())
}

func TestWorker_ProcessOnce_BacklogMetrics(t *testing.T) {
	t.Parallel()

	repo := memory.NewOutboxRepository()
	enqueue(t, repo, "order-4", domain.EventOrderCreated)
	enqueue(t, repo, "order-5", domain.EventOrderCreated)

	reg := prometheus.NewRegistry()
	m := metrics.NewOutboxMetrics(reg)
	worker := NewWorker(repo, &stubPublisher{}, WithRetryBaseDelay(0), WithMetrics(m), WithBatchSize(1))

	worker.ProcessOnce(context.Background())
	assert.Len(t, repo.AllPending(), 1)

	families, err := reg.Gather()
	require.NoError(t, err)
	var pending float64 = -1
	for _, family := range families {
		if family.GetName() == "autoparts_outbox_pending_records" {
			pending = family.GetMetric()[0].GetGauge().GetValue()
		}
	}
	assert.Equal(t, float64(1), pending)
}

func TestWorker_ProcessOnce_SkipsCancelledContext(t *testing.T) {
	t.Parallel()

	repo := memory.NewOutboxRepository()
	enqueue(t, repo, "order-6", domain.EventOrderCreated)
	publisher := &stubPublisher{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	NewWorker(repo, publisher).ProcessOnce(ctx)

	assert.Zero(t, publisher.calls())
	assert.Len(t, repo.AllPending(), 1)
}

func TestWorker_RetryBackoff(t *testing.T) {
	t.Parallel()

	worker := NewWorker(nil, nil, WithRetryBaseDelay(10*time.Millisecond))
	assert.Equal(t, 10*time.Millisecond, worker.retryBackoff(1))
	assert.Equal(t, 20*time.Millisecond, worker.retryBackoff(2))
	assert.Equal(t, 40*time.Millisecond, worker.retryBackoff(3))

	assert.Zero(t, NewWorker(nil, nil, WithRetryBaseDelay(0)).retryBackoff(3))
}

type stubPublisher struct {
	mu             sync.Mutex
	err            error
	sequenceErrors []error
	callCount      int
	messages       []domain.OutboxMessage
}

func (s *stubPublisher) Publish(_ context.Context, msg domain.OutboxMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.callCount++
	if len(s.sequenceErrors) > 0 {
		err := s.sequenceErrors[0]
		s.sequenceErrors = s.sequenceErrors[1:]
		if err == nil {
			s.messages = append(s.messages, msg)
		}
		return err
	}
	if s.err == nil {
		s.messages = append(s.messages, msg)
	}
	return s.err
}

func (s *stubPublisher) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callCount
}

func (s *stubPublisher) published() []domain.OutboxMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.OutboxMessage(nil), s.messages...)
}

var _ domain.OutboxPublisher = (*stubPublisher)(nil)

func TestWorker_Run_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	worker := NewWorker(memory.NewOutboxRepository(), &stubPublisher{},
		WithPollInterval(5*time.Millisecond),
		WithRetryBaseDelay(0),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	time.Sleep(15 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("worker did not stop on context cancel")
	}
}
