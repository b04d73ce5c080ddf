package kafka

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// capturingProducer запоминает отправленные сообщения.
type capturingProducer struct {
	sarama.SyncProducer
	mu       sync.Mutex
	messages []*sarama.ProducerMessage
}

func (c *capturingProducer) SendMessage(msg *sarama.ProducerMessage) (int32, int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg)
	return 0, int64(len(c.messages) - 1), nil
}

func (c *capturingProducer) Close() error { return nil }

func headerValue(msg *sarama.ProducerMessage, name string) string {
	for _, h := range msg.Headers {
		if string(h.Key) == name {
			return string(h.Value)
		}
	}
	return ""
}

func testLogger() *log.Entry {
	return log.WithField("component", "kafka-producer-test")
}

func TestProducer_PublishEvent(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var decoded map[string]any
		if err := json.Unmarshal(val, &decoded); err != nil {
			return err
		}
		if decoded["order_id"] != "order-123" {
			return assert.AnError
		}
		return nil
	})

	producer := NewProducerFromSync(mockProducer, testLogger())
	err := producer.PublishEvent(context.Background(), TopicOrderEvents, "order-123", map[string]string{"order_id": "order-123"})
	require.NoError(t, err)
	require.NoError(t, mockProducer.Close())
}

func TestProducer_PublishEvent_Error(t *testing.T) {
	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	producer := NewProducerFromSync(mockProducer, testLogger())
	err := producer.PublishEvent(context.Background(), TopicOrderEvents, "order-123", map[string]string{})
	require.Error(t, err)
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, mockProducer.Close())
}

func TestProducer_PublishHeaders(t *testing.T) {
	sink := &capturingProducer{}
	producer := NewProducerFromSync(sink, testLogger())

	err := producer.Publish(context.Background(), TopicOrderEvents, "order-1", []byte(`{}`), map[string]string{
		HeaderEventType: "order.created",
	})
	require.NoError(t, err)
	require.Len(t, sink.messages, 1)
	assert.Equal(t, "order.created", headerValue(sink.messages[0], HeaderEventType))
	assert.Equal(t, TopicOrderEvents, sink.messages[0].Topic)
}

func TestProducer_PublishCancelledContext(t *testing.T) {
	sink := &capturingProducer{}
	producer := NewProducerFromSync(sink, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := producer.Publish(ctx, TopicOrderEvents, "order-1", []byte(`{}`), nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, sink.messages)
}

func TestNewProducerConfig(t *testing.T) {
	cfg := NewProducerConfig()
	assert.True(t, cfg.Producer.Idempotent)
	assert.Equal(t, sarama.WaitForAll, cfg.Producer.RequiredAcks)
	assert.Equal(t, 1, cfg.Net.MaxOpenRequests)
	assert.True(t, cfg.Producer.Return.Successes)
}
