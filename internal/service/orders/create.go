package orders

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vladislavdragonenkov/autoparts/internal/domain"
)

// LineInput — строка заказа в запросе: товар (ID или slug) и количество.
type LineInput struct {
	ProductID string
	Quantity  int
}

// CreateInput — данные для создания заказа.
type CreateInput struct {
	Items         []LineInput
	Fulfillment   domain.Fulfillment
	PaymentMethod string
	OrderType     string
}

// Create проверяет вход, фиксирует цены, списывает остаток и сохраняет заказ в статусе pending.
// Любая ошибка после списания возвращает остаток на склад.
func (s *Service) Create(ctx context.Context, actor domain.Actor, in CreateInput) (order domain.Order, err error) {
	ctx, finish := s.begin(ctx, "create", attribute.String("user.id", actor.UserID))
	defer func() {
		if err != nil {
			s.metrics.RecordOrderRejected(string(domain.KindOf(err)))
		}
		finish(err)
	}()

	if actor.Anonymous() {
		return domain.Order{}, domain.Unauthorized(domain.ErrNotAuthorized)
	}
	if err := validateLines(in.Items); err != nil {
		return domain.Order{}, err
	}
	if err := in.Fulfillment.Validate(); err != nil {
		return domain.Order{}, err
	}
	method, err := domain.ParsePaymentMethod(in.PaymentMethod)
	if err != nil {
		return domain.Order{}, err
	}
	orderType, err := domain.ParseOrderType(in.OrderType)
	if err != nil {
		return domain.Order{}, err
	}

	items, available, err := s.priceItems(ctx, in.Items, orderType)
	if err != nil {
		return domain.Order{}, err
	}
	lines := domain.StockLinesFromItems(items)
	// Быстрый отказ по снимку остатка; окончательное решение принимает условный декремент.
	for _, line := range lines {
		if available[line.ProductID] < line.Quantity {
			return domain.Order{}, domain.StockInsufficient(line.Name, available[line.ProductID], line.Quantity)
		}
	}

	itemsPrice := domain.SumItems(items)
	rate, err := s.tax.CurrentRate(ctx)
	if err != nil {
		return domain.Order{}, fmt.Errorf("current tax rate: %w", err)
	}
	if err := domain.ValidTaxRate(rate); err != nil {
		return domain.Order{}, fmt.Errorf("tax policy returned rate %v: %w", rate, err)
	}

	now := s.now()
	order, err = domain.NewOrder(domain.OrderParams{
		ID:            s.newID(),
		UserID:        actor.UserID,
		Items:         items,
		Fulfillment:   in.Fulfillment,
		PaymentMethod: method,
		OrderType:     orderType,
		TaxRate:       rate,
		TaxPrice:      s.tax.Calculate(itemsPrice, rate),
		ShippingPrice: s.shipping.Quote(in.Fulfillment.Method, itemsPrice),
		Now:           now,
	})
	if err != nil {
		return domain.Order{}, err
	}

	if err := s.stock.Reserve(ctx, lines); err != nil {
		return domain.Order{}, err
	}
	if err := s.orders.Create(ctx, order); err != nil {
		if relErr := s.stock.Release(context.WithoutCancel(ctx), lines); relErr != nil {
			s.logger.WithError(relErr).WithField("order_id", order.ID).Error("stock release after failed create")
		}
		return domain.Order{}, fmt.Errorf("create order: %w", err)
	}

	s.metrics.RecordOrderCreated()
	s.record(ctx, domain.TimelineOrderCreated, domain.EventOrderCreated, domain.NewOrderEvent(order, actor.UserID, now))
	s.logger.WithFields(log.Fields{
		"order_id":   order.ID,
		"user_id":    order.UserID,
		"order_type": order.OrderType,
		"total":      order.TotalPrice,
	}).Info("order created")
	return order, nil
}

func validateLines(lines []LineInput) error {
	if len(lines) == 0 {
		return domain.Validation(domain.ErrItemsRequired, "")
	}
	for i, line := range lines {
		if strings.TrimSpace(line.ProductID) == "" {
			return domain.Validation(domain.ErrProductNotFound, "la línea %d no indica producto", i+1)
		}
		if line.Quantity < 1 {
			return domain.Validation(domain.ErrItemQtyInvalid, "")
		}
	}
	return nil
}

// priceItems фиксирует цену за единицу для каждой строки и возвращает снимок остатков.
func (s *Service) priceItems(ctx context.Context, lines []LineInput, orderType domain.OrderType) ([]domain.OrderItem, map[string]int, error) {
	items := make([]domain.OrderItem, 0, len(lines))
	available := make(map[string]int, len(lines))
	for _, line := range lines {
		product, err := s.catalog.Resolve(ctx, line.ProductID)
		if err != nil {
			return nil, nil, err
		}
		available[product.ID] = product.StockQuantity
		items = append(items, domain.OrderItem{
			ID:        s.newID(),
			ProductID: product.ID,
			Name:      product.DisplayName(),
			SKU:       product.SKU,
			Quantity:  line.Quantity,
			Price:     domain.ResolveUnitPrice(product, orderType),
		})
	}
	return items, available, nil
}
