// Package inventory резервирует и возвращает складские остатки под заказы.
package inventory

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/autoparts/internal/domain"
	"github.com/vladislavdragonenkov/autoparts/internal/metrics"
)

// Reserver списывает остатки построчно через условный атомарный декремент хранилища.
// Если какая-то строка не проходит, уже списанные строки возвращаются.
type Reserver struct {
	store   domain.CatalogStore
	logger  *log.Entry
	metrics *metrics.OrderMetrics
}

// NewReserver создаёт резервировщик остатков.
func NewReserver(store domain.CatalogStore, logger *log.Entry, m *metrics.OrderMetrics) *Reserver {
	if logger == nil {
		logger = log.WithField("component", "inventory")
	}
	return &Reserver{store: store, logger: logger, metrics: m}
}

// Reserve списывает все строки или ни одной.
func (r *Reserver) Reserve(ctx context.Context, lines []domain.StockLine) error {
	reserved := make([]domain.StockLine, 0, len(lines))
	for _, line := range lines {
		if err := line.Validate(); err != nil {
			r.compensate(ctx, reserved)
			return err
		}

		ok, err := r.store.DecrementStockIfAvailable(ctx, line.ProductID, line.Quantity)
		if err != nil {
			r.metrics.RecordStock("reserve", "error")
			r.compensate(ctx, reserved)
			if errors.Is(err, domain.ErrProductNotFound) {
				return domain.NotFound(err)
			}
			return fmt.Errorf("reserve product %s: %w", line.ProductID, err)
		}
		if !ok {
			r.metrics.RecordStock("reserve", "insufficient")
			r.compensate(ctx, reserved)
			return domain.StockInsufficient(line.Name, r.available(ctx, line.ProductID), line.Quantity)
		}
		reserved = append(reserved, line)
	}

	r.metrics.RecordStock("reserve", "ok")
	return nil
}

// ReleaseError перечисляет строки, которые не удалось вернуть на склад.
type ReleaseError struct {
	Lines []domain.StockLine
	Err   error
}

func (e *ReleaseError) Error() string {
	return fmt.Sprintf("release %d stock line(s): %v", len(e.Lines), e.Err)
}

func (e *ReleaseError) Unwrap() error { return e.Err }

// Release возвращает строки на склад. Ошибки по отдельным строкам не прерывают остальные;
// невозвращённые строки приходят в *ReleaseError.
func (r *Reserver) Release(ctx context.Context, lines []domain.StockLine) error {
	var (
		errs   []error
		failed []domain.StockLine
	)
	for _, line := range lines {
		if err := r.store.IncrementStock(ctx, line.ProductID, line.Quantity); err != nil {
			r.logger.WithError(err).WithFields(log.Fields{
				"product_id": line.ProductID,
				"quantity":   line.Quantity,
			}).Error("stock release failed")
			errs = append(errs, fmt.Errorf("release product %s: %w", line.ProductID, err))
			failed = append(failed, line)
		}
	}
	if len(errs) > 0 {
		r.metrics.RecordStock("release", "error")
		return &ReleaseError{Lines: failed, Err: errors.Join(errs...)}
	}
	r.metrics.RecordStock("release", "ok")
	return nil
}

// compensate откатывает частичный резерв. Контекст запроса может быть уже отменён,
// а возврат остатка должен дойти до хранилища.
func (r *Reserver) compensate(ctx context.Context, reserved []domain.StockLine) {
	if len(reserved) == 0 {
		return
	}
	if err := r.Release(context.WithoutCancel(ctx), reserved); err != nil {
		r.logger.WithError(err).Error("compensation of partial reservation failed")
	}
}

func (r *Reserver) available(ctx context.Context, productID string) int {
	product, err := r.store.FindByID(ctx, productID)
	if err != nil {
		return 0
	}
	return product.StockQuantity
}
