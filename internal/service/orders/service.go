// Package orders реализует сценарии работы с заказами: создание с резервом остатка,
// отмену с возвратом остатка, смену статуса, пересчёт налога и оплату.
package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/autoparts/internal/domain"
	"github.com/vladislavdragonenkov/autoparts/internal/metrics"
	"github.com/vladislavdragonenkov/autoparts/internal/service/catalog"
	"github.com/vladislavdragonenkov/autoparts/internal/service/inventory"
	"github.com/vladislavdragonenkov/autoparts/internal/service/payment"
)

const tracerName = "github.com/vladislavdragonenkov/autoparts/internal/service/orders"

const (
	maxSaveRetries    = 3
	baseConflictDelay = 10 * time.Millisecond
)

// Dependencies — обязательные и опциональные коллабораторы сервиса.
type Dependencies struct {
	Orders   domain.OrderRepository
	Catalog  domain.CatalogStore
	Tax      domain.TaxPolicy
	Shipping domain.ShippingPolicy
	// Payments может быть nil: тогда оплата недоступна.
	Payments domain.PaymentGateway
	// Timeline и Outbox опциональны.
	Timeline domain.TimelineRepository
	Outbox   domain.OutboxRepository
}

// Option настраивает Service.
type Option func(*Service)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics задаёт метрики.
func WithMetrics(m *metrics.OrderMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithTracer задаёт tracer; по умолчанию используется глобальный провайдер otel.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) { s.tracer = tracer }
}

// WithClock задаёт источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator задаёт генератор идентификаторов заказов и позиций.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

// WithPaymentRetry задаёт политику повторов платежа.
func WithPaymentRetry(cfg payment.RetryConfig) Option {
	return func(s *Service) { s.retry = cfg }
}

// Service — сервис заказов.
type Service struct {
	orders   domain.OrderRepository
	catalog  *catalog.Resolver
	stock    *inventory.Reserver
	tax      domain.TaxPolicy
	shipping domain.ShippingPolicy
	payments domain.PaymentGateway
	timeline domain.TimelineRepository
	outbox   domain.OutboxRepository

	logger  *log.Entry
	metrics *metrics.OrderMetrics
	tracer  trace.Tracer
	now     func() time.Time
	newID   func() string
	retry   payment.RetryConfig
}

// NewService создаёт сервис заказов.
func NewService(deps Dependencies, opts ...Option) (*Service, error) {
	switch {
	case deps.Orders == nil:
		return nil, errors.New("orders: order repository is required")
	case deps.Catalog == nil:
		return nil, errors.New("orders: catalog store is required")
	case deps.Tax == nil:
		return nil, errors.New("orders: tax policy is required")
	case deps.Shipping == nil:
		return nil, errors.New("orders: shipping policy is required")
	}

	s := &Service{
		orders:   deps.Orders,
		catalog:  catalog.NewResolver(deps.Catalog),
		tax:      deps.Tax,
		shipping: deps.Shipping,
		payments: deps.Payments,
		timeline: deps.Timeline,
		outbox:   deps.Outbox,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
		retry:    payment.DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.WithField("component", "order-service")
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(tracerName)
	}
	s.stock = inventory.NewReserver(deps.Catalog, s.logger.WithField("layer", "inventory"), s.metrics)
	return s, nil
}

// begin открывает span и замер длительности операции.
func (s *Service) begin(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	done := s.metrics.Track(operation)
	ctx, span := s.tracer.Start(ctx, "orders."+operation, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(domain.KindOf(err)))
		}
		span.End()
		done()
	}
}

// load читает заказ и проверяет доступ: сначала существование (404), затем права (401).
func (s *Service) load(ctx context.Context, actor domain.Actor, id string) (domain.Order, error) {
	if actor.Anonymous() {
		return domain.Order{}, domain.Unauthorized(domain.ErrNotAuthorized)
	}
	order, err := s.orders.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			return domain.Order{}, domain.NotFound(err)
		}
		return domain.Order{}, fmt.Errorf("load order %s: %w", id, err)
	}
	if !actor.CanAccess(order) {
		return domain.Order{}, domain.Unauthorized(domain.ErrNotAuthorized)
	}
	return order, nil
}

// mutate применяет fn к свежей копии заказа и сохраняет её с optimistic locking.
// При конфликте версий заказ перечитывается и fn применяется заново, поэтому fn
// обязана заново проверять все предусловия.
func (s *Service) mutate(ctx context.Context, id string, fn func(order *domain.Order) error) (domain.Order, error) {
	for attempt := 0; attempt < maxSaveRetries; attempt++ {
		order, err := s.orders.Get(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrOrderNotFound) {
				return domain.Order{}, domain.NotFound(err)
			}
			return domain.Order{}, fmt.Errorf("load order %s: %w", id, err)
		}
		if err := fn(&order); err != nil {
			return domain.Order{}, err
		}

		err = s.orders.Save(ctx, order)
		if err == nil {
			order.Version++
			return order, nil
		}
		if !domain.IsVersionConflict(err) {
			return domain.Order{}, fmt.Errorf("save order %s: %w", id, err)
		}

		s.logger.WithFields(log.Fields{
			"order_id": id,
			"attempt":  attempt + 1,
			"version":  order.Version,
		}).Warn("version conflict detected, retrying")

		// Exponential backoff
		delay := baseConflictDelay * time.Duration(1<<uint(attempt))
		select {
		case <-ctx.Done():
			return domain.Order{}, ctx.Err()
		case <-time.After(delay):
		}
	}
	return domain.Order{}, domain.Conflict(domain.ErrOrderVersionConflict)
}

// record пишет событие в timeline и outbox. Ошибки логируются: состояние заказа уже сохранено.
func (s *Service) record(ctx context.Context, timelineType, eventType string, event domain.OrderEvent) {
	logger := s.logger.WithFields(log.Fields{
		"order_id": event.OrderID,
		"event":    eventType,
	})

	if s.timeline != nil {
		entry := domain.TimelineEvent{
			OrderID:  event.OrderID,
			Type:     timelineType,
			Reason:   event.Reason,
			ActorID:  event.ActorID,
			Occurred: event.OccurredAt,
		}
		if err := s.timeline.Append(ctx, entry); err != nil {
			logger.WithError(err).Warn("append timeline event failed")
		} else {
			s.metrics.RecordTimelineEvent()
		}
	}

	if s.outbox == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		logger.WithError(err).Error("marshal event failed")
		return
	}
	msg := domain.OutboxMessage{
		AggregateType: domain.AggregateOrder,
		AggregateID:   event.OrderID,
		EventType:     eventType,
		Payload:       payload,
		CreatedAt:     event.OccurredAt,
	}
	if _, err := s.outbox.Enqueue(ctx, msg); err != nil {
		logger.WithError(err).Error("enqueue event failed")
		return
	}
	s.metrics.RecordOutboxEvent()
}

func requireAdmin(actor domain.Actor) error {
	if actor.Anonymous() {
		return domain.Unauthorized(domain.ErrNotAuthorized)
	}
	if !actor.IsAdmin() {
		return domain.Forbidden(domain.ErrAdminRequired)
	}
	return nil
}
