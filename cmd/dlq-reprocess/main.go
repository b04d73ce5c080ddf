// Команда dlq-reprocess возвращает события заказов из DLQ в основной topic.
// Без -execute только показывает, что было бы отправлено.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/autoparts/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/autoparts/internal/version"
)

const (
	defaultLimit       = 100
	defaultIdleTimeout = 2 * time.Second
	envKafkaBrokers    = "KAFKA_BROKERS"
)

// Причины пропуска сообщения.
const (
	skipNotDeadLetter   = "not_dead_letter"
	skipMalformed       = "malformed"
	skipAlreadyReplayed = "already_replayed"
	skipFiltered        = "filtered"
)

type options struct {
	brokers         []string
	sourceTopic     string
	targetTopic     string
	limit           int
	execute         bool
	fromNewest      bool
	includeReplayed bool
	eventTypes      map[string]bool
	orderID         string
	idleTimeout     time.Duration
}

func parseOptions(args []string, getenv func(string) string) (options, error) {
	var (
		opts       options
		brokers    string
		eventTypes string
	)
	fs := flag.NewFlagSet("dlq-reprocess", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&brokers, "brokers", "", "comma-separated Kafka brokers (fallback: "+envKafkaBrokers+")")
	fs.StringVar(&opts.sourceTopic, "source-topic", kafka.TopicDeadLetterQueue, "DLQ topic to scan")
	fs.StringVar(&opts.targetTopic, "target-topic", kafka.TopicOrderEvents, "topic to replay into")
	fs.IntVar(&opts.limit, "limit", defaultLimit, "max messages to scan across partitions")
	fs.BoolVar(&opts.execute, "execute", false, "publish replayed events; dry-run otherwise")
	fs.BoolVar(&opts.fromNewest, "from-newest", false, "scan the newest -limit messages of each partition")
	fs.BoolVar(&opts.includeReplayed, "include-replayed", false, "replay letters that already went through a replay")
	fs.StringVar(&eventTypes, "event-type", "", "comma-separated event types to replay, e.g. order.stock_release_failed")
	fs.StringVar(&opts.orderID, "order-id", "", "replay only events of this order")
	fs.DurationVar(&opts.idleTimeout, "idle-timeout", defaultIdleTimeout, "stop reading a partition after this much silence")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	if strings.TrimSpace(brokers) == "" {
		brokers = getenv(envKafkaBrokers)
	}
	opts.brokers = splitList(brokers)
	if types := splitList(eventTypes); len(types) > 0 {
		opts.eventTypes = make(map[string]bool, len(types))
		for _, t := range types {
			opts.eventTypes[t] = true
		}
	}
	opts.orderID = strings.TrimSpace(opts.orderID)

	switch {
	case len(opts.brokers) == 0:
		return options{}, fmt.Errorf("kafka brokers are required (-brokers or %s)", envKafkaBrokers)
	case strings.TrimSpace(opts.sourceTopic) == "" || strings.TrimSpace(opts.targetTopic) == "":
		return options{}, errors.New("source and target topics are required")
	case opts.sourceTopic == opts.targetTopic:
		return options{}, errors.New("source and target topics must differ")
	case opts.limit <= 0:
		return options{}, fmt.Errorf("limit must be positive, got %d", opts.limit)
	case opts.idleTimeout <= 0:
		return options{}, fmt.Errorf("idle-timeout must be positive, got %s", opts.idleTimeout)
	}
	return opts, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// offsetReader — часть sarama.Client, нужная для границ партиций.
type offsetReader interface {
	Partitions(topic string) ([]int32, error)
	GetOffset(topic string, partition int32, at int64) (int64, error)
	Close() error
}

type partitionStream interface {
	Messages() <-chan *sarama.ConsumerMessage
	Errors() <-chan *sarama.ConsumerError
	Close() error
}

type partitionSource interface {
	ConsumePartition(topic string, partition int32, offset int64) (partitionStream, error)
	Close() error
}

type saramaSource struct{ consumer sarama.Consumer }

func (s saramaSource) ConsumePartition(topic string, partition int32, offset int64) (partitionStream, error) {
	return s.consumer.ConsumePartition(topic, partition, offset)
}

func (s saramaSource) Close() error { return s.consumer.Close() }

// dependencies собирает подключения к Kafka; в тестах подменяется.
var dependencies = func(opts options) (offsetReader, partitionSource, sarama.SyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.ClientID = "autoparts-dlq-reprocess"
	cfg.Consumer.Return.Errors = true

	client, err := sarama.NewClient(opts.brokers, cfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect to kafka: %w", err)
	}
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("create consumer: %w", err)
	}
	if !opts.execute {
		return client, saramaSource{consumer}, nil, nil
	}
	producer, err := sarama.NewSyncProducer(opts.brokers, kafka.NewProducerConfig())
	if err != nil {
		_ = consumer.Close()
		_ = client.Close()
		return nil, nil, nil, fmt.Errorf("create producer: %w", err)
	}
	return client, saramaSource{consumer}, producer, nil
}

// summary — итог прохода по DLQ.
type summary struct {
	Scanned  int
	Replayed int
	Skipped  map[string]int
	ByEvent  map[string]int
}

func newSummary() summary {
	return summary{Skipped: map[string]int{}, ByEvent: map[string]int{}}
}

func (s *summary) merge(other summary) {
	s.Scanned += other.Scanned
	s.Replayed += other.Replayed
	for k, v := range other.Skipped {
		s.Skipped[k] += v
	}
	for k, v := range other.ByEvent {
		s.ByEvent[k] += v
	}
}

func (s summary) skippedTotal() int {
	total := 0
	for _, v := range s.Skipped {
		total += v
	}
	return total
}

type replayer struct {
	opts     options
	offsets  offsetReader
	source   partitionSource
	producer sarama.SyncProducer
	logger   *log.Entry
	now      func() time.Time
}

func (r *replayer) run(ctx context.Context) (summary, error) {
	total := newSummary()
	if r.offsets == nil || r.source == nil {
		return total, errors.New("kafka client and consumer are required")
	}
	if r.opts.execute && r.producer == nil {
		return total, errors.New("execute mode needs a producer")
	}

	partitions, err := r.offsets.Partitions(r.opts.sourceTopic)
	if err != nil {
		return total, fmt.Errorf("list partitions of %s: %w", r.opts.sourceTopic, err)
	}
	sort.Slice(partitions, func(i, j int) bool { return partitions[i] < partitions[j] })

	for _, partition := range partitions {
		budget := r.opts.limit - total.Scanned
		if budget <= 0 {
			break
		}
		part, err := r.drain(ctx, partition, budget)
		total.merge(part)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// drain читает партицию от начального offset до high-water mark, снятого при старте.
func (r *replayer) drain(ctx context.Context, partition int32, budget int) (summary, error) {
	result := newSummary()
	topic := r.opts.sourceTopic

	oldest, err := r.offsets.GetOffset(topic, partition, sarama.OffsetOldest)
	if err != nil {
		return result, fmt.Errorf("oldest offset of %s/%d: %w", topic, partition, err)
	}
	end, err := r.offsets.GetOffset(topic, partition, sarama.OffsetNewest)
	if err != nil {
		return result, fmt.Errorf("newest offset of %s/%d: %w", topic, partition, err)
	}
	if end <= oldest {
		return result, nil
	}
	start := oldest
	if r.opts.fromNewest && end-int64(budget) > oldest {
		start = end - int64(budget)
	}

	stream, err := r.source.ConsumePartition(topic, partition, start)
	if err != nil {
		return result, fmt.Errorf("consume %s/%d: %w", topic, partition, err)
	}
	defer func() { _ = stream.Close() }()

	idle := time.NewTimer(r.opts.idleTimeout)
	defer idle.Stop()
	errs := stream.Errors()

	for result.Scanned < budget {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-idle.C:
			r.logger.WithField("partition", partition).Debug("partition idle, moving on")
			return result, nil
		case cerr, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if cerr != nil {
				return result, fmt.Errorf("read %s/%d: %w", topic, partition, cerr)
			}
		case msg, ok := <-stream.Messages():
			if !ok || msg == nil || msg.Offset >= end {
				return result, nil
			}
			idle.Reset(r.opts.idleTimeout)

			result.Scanned++
			if err := r.handle(msg, &result); err != nil {
				return result, err
			}
			if msg.Offset+1 >= end {
				return result, nil
			}
		}
	}
	return result, nil
}

func (r *replayer) handle(msg *sarama.ConsumerMessage, result *summary) error {
	entry := r.logger.WithFields(log.Fields{"partition": msg.Partition, "offset": msg.Offset})

	envelope, out, reason := r.prepare(msg)
	if reason != "" {
		result.Skipped[reason]++
		entry.WithField("reason", reason).Debug("dlq message skipped")
		return nil
	}

	if r.opts.execute {
		if _, _, err := r.producer.SendMessage(out); err != nil {
			return fmt.Errorf("replay offset %d of partition %d: %w", msg.Offset, msg.Partition, err)
		}
	}
	result.Replayed++
	result.ByEvent[envelope.EventType]++
	entry.WithFields(log.Fields{
		"order_id":   envelope.AggregateID,
		"event_type": envelope.EventType,
		"dry_run":    !r.opts.execute,
	}).Info("dlq event replayed")
	return nil
}

// prepare восстанавливает исходный конверт и решает, отправлять ли его.
// Пустая причина означает, что сообщение готово к отправке.
func (r *replayer) prepare(msg *sarama.ConsumerMessage) (kafka.Envelope, *sarama.ProducerMessage, string) {
	if !r.opts.includeReplayed && replayedBefore(msg.Headers) {
		return kafka.Envelope{}, nil, skipAlreadyReplayed
	}

	envelope, err := kafka.ReplayFromDeadLetter(msg.Value, r.now())
	switch {
	case errors.Is(err, kafka.ErrNotDeadLetter):
		return kafka.Envelope{}, nil, skipNotDeadLetter
	case err != nil:
		return kafka.Envelope{}, nil, skipMalformed
	}
	if _, err := envelope.OrderEvent(); err != nil {
		return kafka.Envelope{}, nil, skipMalformed
	}
	if len(r.opts.eventTypes) > 0 && !r.opts.eventTypes[envelope.EventType] {
		return kafka.Envelope{}, nil, skipFiltered
	}
	if r.opts.orderID != "" && envelope.AggregateID != r.opts.orderID {
		return kafka.Envelope{}, nil, skipFiltered
	}

	value, err := json.Marshal(envelope)
	if err != nil {
		return kafka.Envelope{}, nil, skipMalformed
	}
	return envelope, &sarama.ProducerMessage{
		Topic:     r.opts.targetTopic,
		Key:       sarama.StringEncoder(envelope.Key()),
		Value:     sarama.ByteEncoder(value),
		Timestamp: envelope.PublishedAt,
		Headers: []sarama.RecordHeader{
			{Key: []byte(kafka.HeaderEventType), Value: []byte(envelope.EventType)},
			{Key: []byte(kafka.HeaderAggregateID), Value: []byte(envelope.AggregateID)},
			{Key: []byte(kafka.HeaderReplayed), Value: []byte("true")},
		},
	}, ""
}

func replayedBefore(headers []*sarama.RecordHeader) bool {
	for _, h := range headers {
		if h != nil && string(h.Key) == kafka.HeaderReplayed {
			return string(h.Value) == "true"
		}
	}
	return false
}

func run(ctx context.Context, opts options, logger *log.Entry) (summary, error) {
	offsets, source, producer, err := dependencies(opts)
	if err != nil {
		return newSummary(), err
	}
	defer func() {
		if producer != nil {
			_ = producer.Close()
		}
		_ = source.Close()
		_ = offsets.Close()
	}()

	r := &replayer{
		opts:     opts,
		offsets:  offsets,
		source:   source,
		producer: producer,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
	return r.run(ctx)
}

func main() {
	log.SetFormatter(&log.JSONFormatter{})
	logger := log.WithFields(log.Fields{"component": "dlq-reprocess", "version": version.Version()})

	opts, err := parseOptions(os.Args[1:], os.Getenv)
	if err != nil {
		logger.WithError(err).Fatal("invalid options")
	}
	logger.WithFields(log.Fields{
		"source_topic": opts.sourceTopic,
		"target_topic": opts.targetTopic,
		"limit":        opts.limit,
		"execute":      opts.execute,
	}).Info("dlq replay started")

	result, err := run(context.Background(), opts, logger)
	fields := log.Fields{
		"scanned":  result.Scanned,
		"replayed": result.Replayed,
		"skipped":  result.skippedTotal(),
	}
	if err != nil {
		logger.WithError(err).WithFields(fields).Fatal("dlq replay failed")
	}
	logger.WithFields(fields).WithField("by_event", result.ByEvent).Info("dlq replay finished")
}
