package domain

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан, сток зарезервирован.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusProcessing — заказ принят в работу.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped — заказ передан в доставку (только delivery).
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusReadyForPickup — заказ ждёт клиента в пункте выдачи (только pickup).
	OrderStatusReadyForPickup OrderStatus = "ready_for_pickup"
	// OrderStatusDelivered — заказ получен клиентом. Терминальный.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled — заказ отменён, сток возвращён. Терминальный.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// transitions — единственная таблица допустимых переходов.
var transitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:        {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing:     {OrderStatusShipped, OrderStatusReadyForPickup, OrderStatusCancelled},
	OrderStatusShipped:        {OrderStatusDelivered},
	OrderStatusReadyForPickup: {OrderStatusDelivered},
}

// ParseOrderStatus проверяет, что строка принадлежит перечислению статусов.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	status := OrderStatus(raw)
	if !status.Valid() {
		return "", Validation(ErrStatusInvalid, "estado inválido: %q", raw)
	}
	return status, nil
}

// Valid сообщает, является ли значение известным статусом.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped,
		OrderStatusReadyForPickup, OrderStatusDelivered, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal сообщает, что из статуса нет выходов.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// Dispatched — заказ уже покинул склад или выдан, отмена невозможна.
func (s OrderStatus) Dispatched() bool {
	return s == OrderStatusShipped || s == OrderStatusReadyForPickup || s == OrderStatusDelivered
}

// CheckTransition проверяет переход from → to с учётом способа получения.
// Все пути изменения статуса обязаны проходить через эту функцию.
func CheckTransition(from, to OrderStatus, method FulfillmentMethod) error {
	if !to.Valid() {
		return Validation(ErrStatusInvalid, "estado inválido: %q", to)
	}
	if to == OrderStatusCancelled {
		switch {
		case from == OrderStatusCancelled:
			return IllegalTransition(ErrOrderAlreadyCancelled, "")
		case from.Dispatched():
			return IllegalTransition(ErrOrderAlreadyShipped, "")
		}
	}
	if from.Terminal() {
		return IllegalTransition(ErrTransitionNotAllowed, "el pedido está en estado terminal %q", from)
	}
	if to == OrderStatusShipped && method != FulfillmentDelivery {
		return IllegalTransition(ErrTransitionNotAllowed, "%q solo aplica a pedidos con despacho", to)
	}
	if to == OrderStatusReadyForPickup && method != FulfillmentPickup {
		return IllegalTransition(ErrTransitionNotAllowed, "%q solo aplica a pedidos con retiro", to)
	}
	for _, next := range transitions[from] {
		if next == to {
			return nil
		}
	}
	return IllegalTransition(ErrTransitionNotAllowed, "%s → %s", from, to)
}
