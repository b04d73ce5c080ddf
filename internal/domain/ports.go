package domain

import (
	"context"
	"time"
)

// CatalogStore — источник цены и остатков товара.
// DecrementStockIfAvailable обязан быть одной атомарной условной операцией хранилища.
type CatalogStore interface {
	FindByID(ctx context.Context, id string) (Product, error)
	FindBySlug(ctx context.Context, slug string) (Product, error)
	// Save создаёт или обновляет карточку товара (админка).
	Save(ctx context.Context, product Product) error
	// DecrementStockIfAvailable уменьшает остаток, только если stock >= qty.
	// Возвращает false без изменений, если остатка не хватает.
	DecrementStockIfAvailable(ctx context.Context, productID string, qty int) (bool, error)
	// IncrementStock атомарно возвращает qty единиц на склад.
	IncrementStock(ctx context.Context, productID string, qty int) error
}

// OrderFilter задаёт выборку заказов для списков.
type OrderFilter struct {
	UserID    string
	OrderType OrderType
	Status    OrderStatus
	Offset    int
	Limit     int
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ. Возвращает ErrOrderAlreadyExists, если запись с таким ID уже есть.
	Create(ctx context.Context, order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound.
	Get(ctx context.Context, id string) (Order, error)
	// Save применяет обновления с учётом optimistic locking: order.Version должен совпадать с сохранённым.
	Save(ctx context.Context, order Order) error
	// List возвращает страницу заказов (новые первыми) и общее число подходящих записей.
	List(ctx context.Context, filter OrderFilter) ([]Order, int, error)
}

// TaxPolicy выдаёт текущую ставку и считает налог.
type TaxPolicy interface {
	CurrentRate(ctx context.Context) (float64, error)
	Calculate(amount int64, rate float64) int64
}

// ShippingPolicy считает стоимость доставки по способу получения и сумме позиций.
type ShippingPolicy interface {
	Quote(method FulfillmentMethod, itemsPrice int64) int64
}

// PaymentGateway — платёжный провайдер.
type PaymentGateway interface {
	ProcessPayment(ctx context.Context, req PaymentRequest) (PaymentResult, error)
	CheckStatus(ctx context.Context, transactionID string) (PaymentResult, error)
	// ProcessRefund возвращает amount по транзакции; amount <= 0 означает полный возврат.
	ProcessRefund(ctx context.Context, transactionID string, amount int64, reason string) (Refund, error)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(ctx context.Context, event TimelineEvent) error
	List(ctx context.Context, orderID string) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	Attempts      int
	CreatedAt     time.Time
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
