package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OrderMetrics содержит метрики операций над заказами.
// Все методы безопасны для nil-получателя: сервис может работать без метрик.
type OrderMetrics struct {
	ordersCreated     prometheus.Counter
	ordersRejected    *prometheus.CounterVec
	ordersCancelled   prometheus.Counter
	statusTransitions *prometheus.CounterVec
	stockOperations   *prometheus.CounterVec
	paymentAttempts   *prometheus.CounterVec
	taxRecalculations prometheus.Counter
	operationDuration *prometheus.HistogramVec
	timelineEvents    prometheus.Counter
	outboxEvents      prometheus.Counter
	inFlight          prometheus.Gauge
}

// NewOrderMetrics регистрирует метрики в registerer (nil — DefaultRegisterer).
func NewOrderMetrics(registerer prometheus.Registerer) *OrderMetrics {
	return &OrderMetrics{
		ordersCreated: registerCounter(registerer, prometheus.CounterOpts{
			Name: "autoparts_orders_created_total",
			Help: "Total number of orders persisted in pending state",
		}),
		ordersRejected: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "autoparts_orders_rejected_total",
			Help: "Total number of rejected order creations grouped by error kind",
		}, []string{"kind"}),
		ordersCancelled: registerCounter(registerer, prometheus.CounterOpts{
			Name: "autoparts_orders_cancelled_total",
			Help: "Total number of cancelled orders",
		}),
		statusTransitions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "autoparts_order_status_transitions_total",
			Help: "Total number of applied status transitions",
		}, []string{"from", "to"}),
		stockOperations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "autoparts_stock_operations_total",
			Help: "Stock reservations and releases grouped by operation and result",
		}, []string{"operation", "result"}),
		paymentAttempts: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "autoparts_payment_attempts_total",
			Help: "Payment gateway attempts grouped by result",
		}, []string{"result"}),
		taxRecalculations: registerCounter(registerer, prometheus.CounterOpts{
			Name: "autoparts_tax_recalculations_total",
			Help: "Total number of tax recalculations",
		}),
		operationDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "autoparts_order_operation_duration_seconds",
			Help:    "Duration of order service operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"operation"}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "autoparts_timeline_events_total",
			Help: "Total number of timeline events recorded",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "autoparts_outbox_events_enqueued_total",
			Help: "Total number of events enqueued into transactional outbox",
		}),
		inFlight: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "autoparts_order_operations_in_flight",
			Help: "Number of order service operations currently executing",
		}),
	}
}

// Track отмечает начало операции и возвращает функцию завершения.
func (m *OrderMetrics) Track(operation string) func() {
	if m == nil {
		return func() {}
	}
	start := time.Now()
	m.inFlight.Inc()
	return func() {
		m.inFlight.Dec()
		m.operationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}
}

// RecordOrderCreated увеличивает счётчик созданных заказов.
func (m *OrderMetrics) RecordOrderCreated() {
	if m == nil {
		return
	}
	m.ordersCreated.Inc()
}

// RecordOrderRejected учитывает отказ в создании заказа.
func (m *OrderMetrics) RecordOrderRejected(kind string) {
	if m == nil {
		return
	}
	m.ordersRejected.WithLabelValues(kind).Inc()
}

// RecordOrderCancelled увеличивает счётчик отменённых заказов.
func (m *OrderMetrics) RecordOrderCancelled() {
	if m == nil {
		return
	}
	m.ordersCancelled.Inc()
}

// RecordStatusTransition учитывает переход статуса.
func (m *OrderMetrics) RecordStatusTransition(from, to string) {
	if m == nil {
		return
	}
	m.statusTransitions.WithLabelValues(from, to).Inc()
}

// RecordStock учитывает операцию со складом: operation = reserve|release, result = ok|insufficient|error.
func (m *OrderMetrics) RecordStock(operation, result string) {
	if m == nil {
		return
	}
	m.stockOperations.WithLabelValues(operation, result).Inc()
}

// RecordPaymentAttempt учитывает попытку оплаты.
func (m *OrderMetrics) RecordPaymentAttempt(result string) {
	if m == nil {
		return
	}
	m.paymentAttempts.WithLabelValues(result).Inc()
}

// RecordTaxRecalculation увеличивает счётчик пересчётов налога.
func (m *OrderMetrics) RecordTaxRecalculation() {
	if m == nil {
		return
	}
	m.taxRecalculations.Inc()
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *OrderMetrics) RecordTimelineEvent() {
	if m == nil {
		return
	}
	m.timelineEvents.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *OrderMetrics) RecordOutboxEvent() {
	if m == nil {
		return
	}
	m.outboxEvents.Inc()
}
