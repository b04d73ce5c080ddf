// Package idempotency повторно отдаёт ответы на создание заказа с тем же Idempotency-Key
// и чистит просроченные ключи.
package idempotency

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/autoparts/internal/domain"
	"github.com/vladislavdragonenkov/autoparts/internal/metrics"
)

const (
	DefaultCleanupInterval  = 10 * time.Minute
	DefaultCleanupBatchSize = 500

	// maxSweepBatches ограничивает один проход; остаток дочищается на следующем тике.
	maxSweepBatches = 100
)

// Sweeper периодически удаляет ключи с истёкшим TTL.
type Sweeper struct {
	repo      domain.IdempotencyRepository
	logger    *log.Entry
	metrics   *metrics.CleanupMetrics
	now       func() time.Time
	interval  time.Duration
	batchSize int
}

// SweeperOption настраивает Sweeper.
type SweeperOption func(*Sweeper)

// WithSweepInterval задаёт паузу между проходами.
func WithSweepInterval(interval time.Duration) SweeperOption {
	return func(s *Sweeper) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

// WithSweepBatchSize задаёт число ключей, удаляемых одним запросом.
func WithSweepBatchSize(size int) SweeperOption {
	return func(s *Sweeper) {
		if size > 0 {
			s.batchSize = size
		}
	}
}

// WithSweepClock задаёт источник времени.
func WithSweepClock(now func() time.Time) SweeperOption {
	return func(s *Sweeper) { s.now = now }
}

func WithSweepLogger(logger *log.Entry) SweeperOption {
	return func(s *Sweeper) { s.logger = logger }
}

func WithSweepMetrics(m *metrics.CleanupMetrics) SweeperOption {
	return func(s *Sweeper) { s.metrics = m }
}

// NewSweeper создаёт очистку ключей поверх хранилища.
func NewSweeper(repo domain.IdempotencyRepository, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		repo:      repo,
		now:       func() time.Time { return time.Now().UTC() },
		interval:  DefaultCleanupInterval,
		batchSize: DefaultCleanupBatchSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.WithField("component", "idempotency-sweeper")
	}
	return s
}

// Run выполняет проход сразу и затем по таймеру до отмены ctx.
func (s *Sweeper) Run(ctx context.Context) {
	if s.repo == nil {
		s.logger.Warn("idempotency sweeper disabled: no repository")
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		s.sweepOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	deleted, err := s.Sweep(ctx)
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return
	case err != nil:
		s.metrics.RecordRun("error", deleted)
		s.logger.WithError(err).WithField("deleted", deleted).Warn("idempotency sweep failed")
	default:
		s.metrics.RecordRun("ok", deleted)
		if deleted > 0 {
			s.logger.WithField("deleted", deleted).Info("expired idempotency keys removed")
		}
	}
}

// Sweep удаляет ключи, просроченные к текущему моменту, порциями batchSize.
// Возвращает число удалённых ключей, даже если очередная порция упала.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now()
	total := 0
	for batch := 0; batch < maxSweepBatches; batch++ {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		deleted, err := s.repo.DeleteExpired(ctx, cutoff, s.batchSize)
		total += deleted
		s.metrics.AddDeleted(deleted)
		if err != nil {
			return total, err
		}
		if deleted < s.batchSize {
			return total, nil
		}
	}
	s.logger.WithField("deleted", total).Warn("idempotency sweep stopped at batch limit, backlog remains")
	return total, nil
}
