package domain

import "time"

// Типы событий заказа, публикуемых через outbox.
const (
	EventOrderCreated       = "order.created"
	EventOrderStatusChanged = "order.status_changed"
	EventOrderCanceled      = "order.canceled"
	EventOrderPaid          = "order.paid"
	EventOrderPaymentFailed = "order.payment_failed"
	EventOrderRefunded      = "order.refunded"
	EventOrderTaxRecalc     = "order.tax_recalculated"

	// Остаток отменённого заказа не вернулся на склад; Lines перечисляет строки для повторного возврата.
	EventOrderStockReleaseFailed = "order.stock_release_failed"
)

// AggregateOrder — значение AggregateType для событий заказа.
const AggregateOrder = "order"

// OrderEvent — полезная нагрузка outbox-сообщения о заказе.
type OrderEvent struct {
	OrderID        string      `json:"order_id"`
	UserID         string      `json:"user_id"`
	OrderType      OrderType   `json:"order_type"`
	Status         OrderStatus `json:"status"`
	PreviousStatus OrderStatus `json:"previous_status,omitempty"`
	TotalPrice     int64       `json:"total_price"`
	TaxPrice       int64       `json:"tax_price"`
	IsPaid         bool        `json:"is_paid"`
	ActorID        string      `json:"actor_id,omitempty"`
	Reason         string      `json:"reason,omitempty"`
	TransactionID  string      `json:"transaction_id,omitempty"`
	Lines          []StockLine `json:"lines,omitempty"`
	OccurredAt     time.Time   `json:"occurred_at"`
}

// NewOrderEvent заполняет событие из текущего состояния заказа.
func NewOrderEvent(order Order, actorID string, occurredAt time.Time) OrderEvent {
	return OrderEvent{
		OrderID:    order.ID,
		UserID:     order.UserID,
		OrderType:  order.OrderType,
		Status:     order.Status,
		TotalPrice: order.TotalPrice,
		TaxPrice:   order.TaxPrice,
		IsPaid:     order.IsPaid,
		ActorID:    actorID,
		OccurredAt: occurredAt,
	}
}
