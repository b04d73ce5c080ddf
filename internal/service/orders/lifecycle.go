package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vladislavdragonenkov/autoparts/internal/domain"
	"github.com/vladislavdragonenkov/autoparts/internal/service/inventory"
	"github.com/vladislavdragonenkov/autoparts/internal/service/payment"
)

const adminCancelReason = "cancelado por administrador"

// StatusUpdate — запрос администратора на смену статуса.
type StatusUpdate struct {
	Status string
	// IsPaid=true отмечает заказ оплаченным; false и nil ничего не меняют.
	IsPaid *bool
}

// Cancel отменяет заказ владельца или администратора и возвращает остаток.
// Возврат стока выполняется ровно один раз: выигрывает только одно сохранение статуса cancelled.
func (s *Service) Cancel(ctx context.Context, actor domain.Actor, id, reason string) (order domain.Order, err error) {
	ctx, finish := s.begin(ctx, "cancel", attribute.String("order.id", id))
	defer func() { finish(err) }()

	if _, err := s.load(ctx, actor, id); err != nil {
		return domain.Order{}, err
	}
	return s.cancel(ctx, actor, id, reason)
}

func (s *Service) cancel(ctx context.Context, actor domain.Actor, id, reason string) (domain.Order, error) {
	now := s.now()
	var previous domain.OrderStatus
	order, err := s.mutate(ctx, id, func(o *domain.Order) error {
		previous = o.Status
		if err := o.TransitionTo(domain.OrderStatusCancelled, now); err != nil {
			return err
		}
		o.CancelledBy = actor.UserID
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	lines := domain.StockLinesFromItems(order.Items)
	releaseErr := s.stock.Release(context.WithoutCancel(ctx), lines)

	s.metrics.RecordOrderCancelled()
	s.metrics.RecordStatusTransition(string(previous), string(order.Status))
	event := domain.NewOrderEvent(order, actor.UserID, now)
	event.PreviousStatus = previous
	event.Reason = reason
	s.record(ctx, domain.TimelineOrderCancelled, domain.EventOrderCanceled, event)

	if releaseErr != nil {
		s.releaseFailed(ctx, actor, order, lines, releaseErr, now)
	}

	s.logger.WithFields(log.Fields{
		"order_id": id,
		"actor_id": actor.UserID,
		"from":     previous,
	}).Info("order cancelled")

	if order.IsPaid {
		order = s.refund(ctx, actor, order, reason)
	}
	return order, nil
}

// releaseFailed фиксирует невозвращённый остаток в таймлайне и outbox,
// чтобы строки можно было вернуть на склад повторно.
func (s *Service) releaseFailed(ctx context.Context, actor domain.Actor, order domain.Order, lines []domain.StockLine, err error, now time.Time) {
	var relErr *inventory.ReleaseError
	if errors.As(err, &relErr) && len(relErr.Lines) > 0 {
		lines = relErr.Lines
	}
	s.logger.WithError(err).WithFields(log.Fields{
		"order_id": order.ID,
		"lines":    len(lines),
	}).Error("stock release after cancellation failed")

	event := domain.NewOrderEvent(order, actor.UserID, now)
	event.Reason = fmt.Sprintf("stock no devuelto: %v", err)
	event.Lines = lines
	s.record(ctx, domain.TimelineStockReleaseFailed, domain.EventOrderStockReleaseFailed, event)
}

// refund возвращает деньги по последней одобренной транзакции.
// Ошибка возврата не откатывает отмену: заказ остаётся отменённым, событие уходит в лог.
func (s *Service) refund(ctx context.Context, actor domain.Actor, order domain.Order, reason string) domain.Order {
	idx := order.LastApprovedPayment()
	if s.payments == nil || idx < 0 || order.PaymentResults[idx].Refund != nil {
		return order
	}
	logger := s.logger.WithField("order_id", order.ID)
	txID := order.PaymentResults[idx].TransactionID

	refund, err := s.payments.ProcessRefund(ctx, txID, 0, reason)
	if err != nil {
		logger.WithError(err).WithField("transaction_id", txID).Error("refund failed")
		return order
	}

	now := s.now()
	updated, err := s.mutate(ctx, order.ID, func(o *domain.Order) error {
		i := o.LastApprovedPayment()
		if i < 0 || o.PaymentResults[i].Refund != nil {
			return nil
		}
		r := refund
		o.PaymentResults[i].Refund = &r
		o.UpdatedAt = now
		return nil
	})
	if err != nil {
		logger.WithError(err).Error("attach refund to order failed")
		return order
	}

	event := domain.NewOrderEvent(updated, actor.UserID, now)
	event.TransactionID = txID
	event.Reason = reason
	s.record(ctx, domain.TimelinePaymentRefunded, domain.EventOrderRefunded, event)
	return updated
}

// UpdateStatus — административная смена статуса через таблицу переходов.
// Переход в cancelled выполняется как отмена с возвратом остатка.
func (s *Service) UpdateStatus(ctx context.Context, actor domain.Actor, id string, upd StatusUpdate) (order domain.Order, err error) {
	ctx, finish := s.begin(ctx, "update_status", attribute.String("order.id", id), attribute.String("order.status", upd.Status))
	defer func() { finish(err) }()

	if err := requireAdmin(actor); err != nil {
		return domain.Order{}, err
	}
	target, err := domain.ParseOrderStatus(upd.Status)
	if err != nil {
		return domain.Order{}, err
	}
	if target == domain.OrderStatusCancelled {
		return s.cancel(ctx, actor, id, adminCancelReason)
	}
	markPaid := upd.IsPaid != nil && *upd.IsPaid

	now := s.now()
	var (
		previous domain.OrderStatus
		paidNow  bool
	)
	order, err = s.mutate(ctx, id, func(o *domain.Order) error {
		previous = o.Status
		paidNow = false
		if o.Status == target {
			// Тот же статус допустим только чтобы отметить оплату.
			if !markPaid || o.Status == domain.OrderStatusCancelled {
				return domain.IllegalTransition(domain.ErrTransitionNotAllowed, "el pedido ya está en estado %q", target)
			}
		} else if err := o.TransitionTo(target, now); err != nil {
			return err
		}
		if markPaid {
			paidNow = o.MarkPaid(now)
		}
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	if previous != order.Status {
		s.metrics.RecordStatusTransition(string(previous), string(order.Status))
		event := domain.NewOrderEvent(order, actor.UserID, now)
		event.PreviousStatus = previous
		s.record(ctx, domain.TimelineStatusChanged, domain.EventOrderStatusChanged, event)
	}
	if paidNow {
		event := domain.NewOrderEvent(order, actor.UserID, now)
		event.Reason = "marcado como pagado por administrador"
		s.record(ctx, domain.TimelinePaymentApproved, domain.EventOrderPaid, event)
	}

	s.logger.WithFields(log.Fields{
		"order_id": id,
		"from":     previous,
		"to":       order.Status,
		"is_paid":  order.IsPaid,
	}).Info("order status updated")
	return order, nil
}

// RecalculateTax применяет новую ставку к зафиксированному itemsPrice и пишет аудит.
func (s *Service) RecalculateTax(ctx context.Context, actor domain.Actor, id string, rate float64) (report domain.TaxRecalculation, err error) {
	ctx, finish := s.begin(ctx, "recalculate_tax", attribute.String("order.id", id), attribute.Float64("tax.rate", rate))
	defer func() { finish(err) }()

	if err := requireAdmin(actor); err != nil {
		return domain.TaxRecalculation{}, err
	}
	if err := domain.ValidTaxRate(rate); err != nil {
		return domain.TaxRecalculation{}, err
	}

	now := s.now()
	order, err := s.mutate(ctx, id, func(o *domain.Order) error {
		r, err := o.ApplyTaxRate(rate, actor.UserID, now)
		report = r
		return err
	})
	if err != nil {
		return domain.TaxRecalculation{}, err
	}

	s.metrics.RecordTaxRecalculation()
	event := domain.NewOrderEvent(order, actor.UserID, now)
	event.Reason = fmt.Sprintf("%.2f%% → %.2f%%", report.PreviousTaxRate, report.NewTaxRate)
	s.record(ctx, domain.TimelineTaxRecalculated, domain.EventOrderTaxRecalc, event)
	return report, nil
}

// Pay проводит оплату через провайдера. Временные ошибки повторяются с backoff,
// отказ провайдера не повторяется. Каждая попытка добавляется в PaymentResults;
// неудачная оплата не считается ошибкой операции.
func (s *Service) Pay(ctx context.Context, actor domain.Actor, id string) (order domain.Order, err error) {
	ctx, finish := s.begin(ctx, "pay", attribute.String("order.id", id))
	defer func() { finish(err) }()

	if s.payments == nil {
		return domain.Order{}, errors.New("payments are not configured")
	}
	order, err = s.load(ctx, actor, id)
	if err != nil {
		return domain.Order{}, err
	}
	if order.Status == domain.OrderStatusCancelled {
		return domain.Order{}, domain.IllegalTransition(domain.ErrTransitionNotAllowed, "no se puede pagar una orden cancelada")
	}
	if order.IsPaid {
		return domain.Order{}, domain.Conflict(domain.ErrOrderAlreadyPaid)
	}

	req := domain.PaymentRequest{OrderID: order.ID, Amount: order.TotalPrice, Method: order.PaymentMethod}
	logger := s.logger.WithField("order_id", id)
	var attempts []domain.PaymentResult
	payErr := payment.Retry(ctx, s.retry, logger, func(int) error {
		result, err := s.payments.ProcessPayment(ctx, req)
		if err != nil {
			s.metrics.RecordPaymentAttempt("error")
			attempts = append(attempts, domain.PaymentResult{
				Status:      domain.PaymentStatusFailed,
				Amount:      req.Amount,
				Method:      req.Method,
				Message:     err.Error(),
				ProcessedAt: s.now(),
			})
			return err
		}
		if result.Approved {
			s.metrics.RecordPaymentAttempt("approved")
		} else {
			s.metrics.RecordPaymentAttempt("rejected")
		}
		attempts = append(attempts, result)
		return nil
	})
	if payErr != nil && (len(attempts) == 0 || domain.KindOf(payErr) == domain.KindValidation) {
		return domain.Order{}, payErr
	}

	last := attempts[len(attempts)-1]
	now := s.now()
	order, err = s.mutate(context.WithoutCancel(ctx), id, func(o *domain.Order) error {
		// Пока шёл платёж, заказ могли отменить или оплатить параллельно.
		if o.Status == domain.OrderStatusCancelled {
			return domain.IllegalTransition(domain.ErrTransitionNotAllowed, "la orden fue cancelada durante el pago")
		}
		if o.IsPaid {
			return domain.Conflict(domain.ErrOrderAlreadyPaid)
		}
		for _, attempt := range attempts {
			o.AppendPaymentResult(attempt, now)
		}
		if last.Approved {
			o.MarkPaid(now)
		}
		return nil
	})
	if err != nil {
		if last.Approved {
			s.reverseCharge(ctx, actor, id, last, err)
		}
		return domain.Order{}, err
	}

	event := domain.NewOrderEvent(order, actor.UserID, now)
	event.TransactionID = last.TransactionID
	if last.Approved {
		s.record(ctx, domain.TimelinePaymentApproved, domain.EventOrderPaid, event)
		logger.WithField("transaction_id", last.TransactionID).Info("order paid")
	} else {
		event.Reason = last.Message
		s.record(ctx, domain.TimelinePaymentFailed, domain.EventOrderPaymentFailed, event)
		logger.WithField("attempts", len(attempts)).WithError(payErr).Warn("payment not approved")
	}
	return order, nil
}

// reverseCharge возвращает одобренный платёж, который не удалось привязать к заказу.
func (s *Service) reverseCharge(ctx context.Context, actor domain.Actor, id string, charge domain.PaymentResult, cause error) {
	ctx = context.WithoutCancel(ctx)
	logger := s.logger.WithFields(log.Fields{
		"order_id":       id,
		"transaction_id": charge.TransactionID,
	})
	reason := "pago no aplicado: " + cause.Error()

	if _, err := s.payments.ProcessRefund(ctx, charge.TransactionID, 0, reason); err != nil {
		logger.WithError(err).Error("refund of unapplied charge failed")
		return
	}
	logger.WithError(cause).Warn("unapplied charge refunded")

	order, err := s.orders.Get(ctx, id)
	if err != nil {
		logger.WithError(err).Warn("load order for refund event failed")
		return
	}
	event := domain.NewOrderEvent(order, actor.UserID, s.now())
	event.TransactionID = charge.TransactionID
	event.Reason = reason
	s.record(ctx, domain.TimelinePaymentRefunded, domain.EventOrderRefunded, event)
}
