package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/vladislavdragonenkov/autoparts/internal/domain"
)

// orderDocument — BSON-представление заказа. Вложенные структуры (адрес, аудит налога,
// результаты оплаты) кодируются драйвером по умолчанию.
type orderDocument struct {
	ID             string                 `bson:"_id"`
	UserID         string                 `bson:"userId"`
	Items          []orderItemDocument    `bson:"orderItems"`
	Fulfillment    domain.Fulfillment     `bson:"fulfillment"`
	PaymentMethod  string                 `bson:"paymentMethod"`
	OrderType      string                 `bson:"orderType"`
	ItemsPrice     int64                  `bson:"itemsPrice"`
	TaxPrice       int64                  `bson:"taxPrice"`
	ShippingPrice  int64                  `bson:"shippingPrice"`
	TotalPrice     int64                  `bson:"totalPrice"`
	Tax            domain.TaxAudit        `bson:"tax"`
	Status         string                 `bson:"status"`
	PaymentResults []domain.PaymentResult `bson:"paymentResults,omitempty"`
	IsPaid         bool                   `bson:"isPaid"`
	PaidAt         *time.Time             `bson:"paidAt,omitempty"`
	IsDelivered    bool                   `bson:"isDelivered"`
	DeliveredAt    *time.Time             `bson:"deliveredAt,omitempty"`
	CancelledAt    *time.Time             `bson:"cancelledAt,omitempty"`
	CancelledBy    string                 `bson:"cancelledBy,omitempty"`
	Version        int64                  `bson:"version"`
	CreatedAt      time.Time              `bson:"createdAt"`
	UpdatedAt      time.Time              `bson:"updatedAt"`
}

type orderItemDocument struct {
	ID        string `bson:"id"`
	ProductID string `bson:"product"`
	Name      string `bson:"name"`
	SKU       string `bson:"sku,omitempty"`
	Quantity  int    `bson:"quantity"`
	Price     int64  `bson:"price"`
}

func newOrderDocument(order domain.Order) orderDocument {
	doc := orderDocument{
		ID:             order.ID,
		UserID:         order.UserID,
		Items:          make([]orderItemDocument, 0, len(order.Items)),
		Fulfillment:    order.Fulfillment,
		PaymentMethod:  string(order.PaymentMethod),
		OrderType:      string(order.OrderType),
		ItemsPrice:     order.ItemsPrice,
		TaxPrice:       order.TaxPrice,
		ShippingPrice:  order.ShippingPrice,
		TotalPrice:     order.TotalPrice,
		Tax:            order.Tax,
		Status:         string(order.Status),
		PaymentResults: order.PaymentResults,
		IsPaid:         order.IsPaid,
		PaidAt:         order.PaidAt,
		IsDelivered:    order.IsDelivered,
		DeliveredAt:    order.DeliveredAt,
		CancelledAt:    order.CancelledAt,
		CancelledBy:    order.CancelledBy,
		Version:        order.Version,
		CreatedAt:      order.CreatedAt,
		UpdatedAt:      order.UpdatedAt,
	}
	for _, item := range order.Items {
		doc.Items = append(doc.Items, orderItemDocument(item))
	}
	return doc
}

func (d orderDocument) toDomain() domain.Order {
	order := domain.Order{
		ID:             d.ID,
		UserID:         d.UserID,
		Items:          make([]domain.OrderItem, 0, len(d.Items)),
		Fulfillment:    d.Fulfillment,
		PaymentMethod:  domain.PaymentMethod(d.PaymentMethod),
		OrderType:      domain.OrderType(d.OrderType),
		ItemsPrice:     d.ItemsPrice,
		TaxPrice:       d.TaxPrice,
		ShippingPrice:  d.ShippingPrice,
		TotalPrice:     d.TotalPrice,
		Tax:            d.Tax,
		Status:         domain.OrderStatus(d.Status),
		PaymentResults: d.PaymentResults,
		IsPaid:         d.IsPaid,
		PaidAt:         d.PaidAt,
		IsDelivered:    d.IsDelivered,
		DeliveredAt:    d.DeliveredAt,
		CancelledAt:    d.CancelledAt,
		CancelledBy:    d.CancelledBy,
		Version:        d.Version,
		CreatedAt:      d.CreatedAt.UTC(),
		UpdatedAt:      d.UpdatedAt.UTC(),
	}
	for _, item := range d.Items {
		order.Items = append(order.Items, domain.OrderItem(item))
	}
	return order
}

type orderRepository struct {
	orders *mongo.Collection
}

// NewOrderRepository создаёт MongoDB-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{orders: store.db.Collection(collectionOrders)}
}

func (r *orderRepository) Create(ctx context.Context, order domain.Order) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if _, err := r.orders.InsertOne(ctx, newOrderDocument(order)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrOrderAlreadyExists
		}
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var doc orderDocument
	if err := r.orders.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("find order: %w", err)
	}
	return doc.toDomain(), nil
}

func (r *orderRepository) List(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, int, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := bson.M{}
	if filter.UserID != "" {
		query["userId"] = filter.UserID
	}
	if filter.OrderType != "" {
		query["orderType"] = string(filter.OrderType)
	}
	if filter.Status != "" {
		query["status"] = string(filter.Status)
	}

	total, err := r.orders.CountDocuments(ctx, query)
	if err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}})
	if filter.Offset > 0 {
		opts.SetSkip(int64(filter.Offset))
	}
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}

	cursor, err := r.orders.Find(ctx, query, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("find orders: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []orderDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, 0, fmt.Errorf("decode orders: %w", err)
	}

	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, doc.toDomain())
	}
	return orders, int(total), nil
}

// Save заменяет документ только при совпадении версии; сохранённая версия увеличивается.
func (r *orderRepository) Save(ctx context.Context, order domain.Order) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	doc := newOrderDocument(order)
	doc.Version = order.Version + 1

	res, err := r.orders.ReplaceOne(ctx, bson.M{"_id": order.ID, "version": order.Version}, doc)
	if err != nil {
		return fmt.Errorf("replace order: %w", err)
	}
	if res.MatchedCount > 0 {
		return nil
	}

	count, err := r.orders.CountDocuments(ctx, bson.M{"_id": order.ID})
	if err != nil {
		return fmt.Errorf("check order exists: %w", err)
	}
	if count == 0 {
		return domain.ErrOrderNotFound
	}
	return domain.ErrOrderVersionConflict
}

var _ domain.OrderRepository = (*orderRepository)(nil)
