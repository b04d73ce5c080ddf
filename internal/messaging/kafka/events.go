// Package kafka публикует события заказов из outbox в Kafka и разбирает DLQ.
package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/autoparts/internal/domain"
)

// Topics для Kafka
const (
	TopicOrderEvents     = "autoparts.order.events"
	TopicDeadLetterQueue = "autoparts.order.events.dlq" // Dead Letter Queue для failed messages
)

// Kafka headers
const (
	HeaderEventType     = "x-event-type"
	HeaderAggregateID   = "x-aggregate-id"
	HeaderOriginalTopic = "x-original-topic"
	HeaderReplayed      = "x-replayed"
)

// ErrNotDeadLetter — сообщение DLQ не содержит исходного события.
var ErrNotDeadLetter = errors.New("message is not an outbox dead letter")

// Envelope — конверт, в котором событие outbox уходит в topic.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// NewEnvelope упаковывает outbox-сообщение.
func NewEnvelope(msg domain.OutboxMessage, publishedAt time.Time) Envelope {
	return Envelope{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       json.RawMessage(msg.Payload),
		PublishedAt:   publishedAt,
	}
}

// Key — ключ партиционирования: события одного заказа попадают в одну партицию.
func (e Envelope) Key() string {
	if e.AggregateID != "" {
		return e.AggregateID
	}
	return e.ID
}

// OrderEvent декодирует полезную нагрузку как событие заказа.
func (e Envelope) OrderEvent() (domain.OrderEvent, error) {
	var event domain.OrderEvent
	if e.AggregateType != domain.AggregateOrder {
		return event, fmt.Errorf("unexpected aggregate type %q", e.AggregateType)
	}
	if err := json.Unmarshal(e.Payload, &event); err != nil {
		return event, fmt.Errorf("decode order event: %w", err)
	}
	return event, nil
}

// DeadLetter — содержимое DLQ-сообщения, которое пишет outbox worker.
type DeadLetter struct {
	OutboxID       string          `json:"outbox_id"`
	AggregateType  string          `json:"aggregate_type"`
	AggregateID    string          `json:"aggregate_id"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	PublishError   string          `json:"publish_error"`
	DLQPublishedAt string          `json:"dlq_published_at"`
}

// ParseEnvelope разбирает значение сообщения topic.
func ParseEnvelope(value []byte) (Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(value, &envelope); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return envelope, nil
}

// ReplayFromDeadLetter восстанавливает исходный конверт из DLQ-сообщения.
func ReplayFromDeadLetter(value []byte, now time.Time) (Envelope, error) {
	envelope, err := ParseEnvelope(value)
	if err != nil || len(envelope.Payload) == 0 {
		return Envelope{}, ErrNotDeadLetter
	}

	var letter DeadLetter
	if err := json.Unmarshal(envelope.Payload, &letter); err != nil {
		return Envelope{}, fmt.Errorf("decode dead letter: %w", err)
	}
	if len(letter.Payload) == 0 {
		return Envelope{}, fmt.Errorf("dead letter %s has no original payload: %w", envelope.ID, ErrNotDeadLetter)
	}

	return Envelope{
		ID:            firstNonEmpty(letter.OutboxID, envelope.ID),
		AggregateType: firstNonEmpty(letter.AggregateType, envelope.AggregateType),
		AggregateID:   firstNonEmpty(letter.AggregateID, envelope.AggregateID),
		EventType:     firstNonEmpty(letter.EventType, envelope.EventType),
		Payload:       letter.Payload,
		PublishedAt:   now,
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
