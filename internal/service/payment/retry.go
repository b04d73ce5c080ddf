package payment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/autoparts/internal/domain"
)

// ErrCircuitOpen — провайдер временно отключён после серии сбоев.
var ErrCircuitOpen = errors.New("payment circuit breaker is open")

// RetryConfig конфигурация для retry логики.
type RetryConfig struct {
	MaxAttempts   int           `yaml:"max_attempts"`
	InitialDelay  time.Duration `yaml:"initial_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
}

// DefaultRetryConfig возвращает конфигурацию по умолчанию.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		BackoffFactor: 2.0,
	}
}

// IsRetryable — повторяем только технические сбои провайдера.
// Отказ эмитента, ошибки валидации и открытый breaker не повторяются.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, ErrCircuitOpen) {
		return false
	}
	return errors.Is(err, domain.ErrPaymentTemporary) || errors.Is(err, context.DeadlineExceeded)
}

// Retry вызывает fn, пока она не вернёт nil, не кончатся попытки или ошибка не окажется неповторяемой.
func Retry(ctx context.Context, cfg RetryConfig, logger *log.Entry, fn func(attempt int) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if logger == nil {
		logger = log.WithField("component", "payment-retry")
	}

	delay := cfg.InitialDelay
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := fn(attempt)
		if err == nil {
			if attempt > 1 {
				logger.WithField("attempt", attempt).Info("payment succeeded after retry")
			}
			return nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		logger.WithError(err).WithFields(log.Fields{
			"attempt": attempt,
			"delay":   delay,
		}).Warn("payment attempt failed, retrying")

		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return errors.Join(lastErr, ctx.Err())
			case <-timer.C:
			}
		}

		// Экспоненциальная задержка с ограничением
		delay = time.Duration(float64(delay) * cfg.BackoffFactor)
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return fmt.Errorf("payment failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}

// CircuitState — состояние circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

// CircuitBreaker простая реализация circuit breaker паттерна.
type CircuitBreaker struct {
	maxFailures  int
	resetTimeout time.Duration
	now          func() time.Time
	logger       *log.Entry

	mu          sync.Mutex
	failures    int
	lastFailure time.Time
	state       CircuitState
}

// NewCircuitBreaker создаёт новый circuit breaker.
func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration, logger *log.Entry) *CircuitBreaker {
	if logger == nil {
		logger = log.WithField("component", "payment-circuit-breaker")
	}
	if maxFailures <= 0 {
		maxFailures = 5
	}
	return &CircuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		now:          time.Now,
		logger:       logger,
		state:        CircuitClosed,
	}
}

// State возвращает текущее состояние.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Execute выполняет операцию через circuit breaker. Сбоем считаются только повторяемые ошибки.
func (cb *CircuitBreaker) Execute(operation string, fn func() error) error {
	cb.mu.Lock()
	if cb.state == CircuitOpen {
		if cb.now().Sub(cb.lastFailure) <= cb.resetTimeout {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		cb.state = CircuitHalfOpen
		cb.logger.WithField("operation", operation).Info("circuit breaker half-open")
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if IsRetryable(err) {
		cb.failures++
		cb.lastFailure = cb.now()
		if cb.state == CircuitHalfOpen || cb.failures >= cb.maxFailures {
			cb.state = CircuitOpen
			cb.logger.WithFields(log.Fields{
				"operation": operation,
				"failures":  cb.failures,
			}).Warn("circuit breaker opened")
		}
		return err
	}

	// Успешное выполнение - сбрасываем счётчик
	if cb.state == CircuitHalfOpen {
		cb.state = CircuitClosed
		cb.logger.WithField("operation", operation).Info("circuit breaker closed")
	}
	cb.failures = 0
	return err
}

// BreakerGateway оборачивает провайдера circuit breaker'ом.
type BreakerGateway struct {
	next    domain.PaymentGateway
	breaker *CircuitBreaker
}

// NewBreakerGateway создаёт защищённого провайдера.
func NewBreakerGateway(next domain.PaymentGateway, breaker *CircuitBreaker) *BreakerGateway {
	return &BreakerGateway{next: next, breaker: breaker}
}

func (g *BreakerGateway) ProcessPayment(ctx context.Context, req domain.PaymentRequest) (domain.PaymentResult, error) {
	var result domain.PaymentResult
	err := g.breaker.Execute("process_payment", func() error {
		var err error
		result, err = g.next.ProcessPayment(ctx, req)
		return err
	})
	return result, err
}

func (g *BreakerGateway) CheckStatus(ctx context.Context, transactionID string) (domain.PaymentResult, error) {
	var result domain.PaymentResult
	err := g.breaker.Execute("check_status", func() error {
		var err error
		result, err = g.next.CheckStatus(ctx, transactionID)
		return err
	})
	return result, err
}

func (g *BreakerGateway) ProcessRefund(ctx context.Context, transactionID string, amount int64, reason string) (domain.Refund, error) {
	var refund domain.Refund
	err := g.breaker.Execute("process_refund", func() error {
		var err error
		refund, err = g.next.ProcessRefund(ctx, transactionID, amount, reason)
		return err
	})
	return refund, err
}

var _ domain.PaymentGateway = (*BreakerGateway)(nil)
