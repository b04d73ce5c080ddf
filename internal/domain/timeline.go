package domain

import "time"

// Типы событий таймлайна заказа.
const (
	TimelineOrderCreated    = "order_created"
	TimelineStatusChanged   = "status_changed"
	TimelineOrderCancelled  = "order_cancelled"
	TimelinePaymentApproved = "payment_approved"
	TimelinePaymentFailed   = "payment_failed"
	TimelinePaymentRefunded = "payment_refunded"
	TimelineTaxRecalculated = "tax_recalculated"

	TimelineStockReleaseFailed = "stock_release_failed"
)

// TimelineEvent описывает событие в жизненном цикле заказа.
type TimelineEvent struct {
	OrderID  string
	Type     string
	Reason   string
	ActorID  string
	Occurred time.Time
}
