package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/autoparts/internal/domain"
)

// OutboxTopicPublisher публикует outbox-сообщения в заданный Kafka topic.
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
	now      func() time.Time
}

// NewOutboxPublisher создаёт Kafka-паблишер для transactional outbox.
func NewOutboxPublisher(producer *Producer, topic string) *OutboxTopicPublisher {
	if topic == "" {
		topic = TopicOrderEvents
	}
	return &OutboxTopicPublisher{
		producer: producer,
		topic:    topic,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Topic возвращает целевой topic.
func (p *OutboxTopicPublisher) Topic() string { return p.topic }

// Publish упаковывает сообщение в Envelope и отправляет с ключом заказа.
func (p *OutboxTopicPublisher) Publish(ctx context.Context, event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("kafka outbox publisher is not initialized")
	}

	envelope := NewEnvelope(event, p.now())
	value, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal envelope %s: %w", event.ID, err)
	}

	headers := map[string]string{
		HeaderEventType:   event.EventType,
		HeaderAggregateID: event.AggregateID,
	}
	if p.topic == TopicDeadLetterQueue {
		headers[HeaderOriginalTopic] = TopicOrderEvents
	}
	return p.producer.Publish(ctx, p.topic, envelope.Key(), value, headers)
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
