package app

import (
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/autoparts/internal/domain"
	"github.com/vladislavdragonenkov/autoparts/internal/messaging/kafka"
)

// eventPublishers — паблишеры outbox-воркера. Пустая структура означает, что Kafka не настроена.
type eventPublishers struct {
	producer *kafka.Producer
	events   domain.OutboxPublisher
	dlq      domain.OutboxPublisher
}

// initKafka создаёт producer, если заданы брокеры. Ошибка подключения не фатальна:
// события копятся в outbox и уйдут после перезапуска с рабочей Kafka.
func initKafka(brokers []string, topic string, logger *log.Entry) eventPublishers {
	brokers = normalizeBrokers(brokers)
	if len(brokers) == 0 {
		return eventPublishers{}
	}

	producer, err := kafka.NewProducer(brokers)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, outbox publishing disabled")
		return eventPublishers{}
	}

	logger.WithField("brokers", brokers).Info("kafka producer initialized")
	return eventPublishers{
		producer: producer,
		events:   kafka.NewOutboxPublisher(producer, topic),
		dlq:      kafka.NewOutboxPublisher(producer, kafka.TopicDeadLetterQueue),
	}
}

func normalizeBrokers(brokers []string) []string {
	out := make([]string, 0, len(brokers))
	for _, b := range brokers {
		for _, part := range strings.Split(b, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// closeKafka закрывает Kafka producer если он не nil.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}
