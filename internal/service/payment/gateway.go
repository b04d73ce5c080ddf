// Package payment — заглушка платёжного провайдера и обвязка повторов.
package payment

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/autoparts/internal/domain"
)

// Config управляет поведением заглушки.
type Config struct {
	// Delay — искусственная задержка ответа провайдера.
	Delay time.Duration `yaml:"delay"`
	// DeclineRate — доля платежей, отклоняемых эмитентом (0..1).
	DeclineRate float64 `yaml:"decline_rate"`
	// TemporaryFailureRate — доля технических сбоев, которые имеет смысл повторить (0..1).
	TemporaryFailureRate float64 `yaml:"temporary_failure_rate"`
}

// Option настраивает Gateway.
type Option func(*Gateway)

// WithRand задаёт источник случайности (для детерминированных тестов).
func WithRand(rnd *rand.Rand) Option {
	return func(g *Gateway) { g.rnd = rnd }
}

// WithClock задаёт источник времени.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(g *Gateway) { g.logger = logger }
}

// Gateway имитирует Webpay-подобного провайдера: задержка, случайные отказы, возвраты.
type Gateway struct {
	cfg    Config
	logger *log.Entry
	now    func() time.Time

	mu           sync.Mutex
	rnd          *rand.Rand
	transactions map[string]domain.PaymentResult
}

// NewGateway создаёт заглушку провайдера.
func NewGateway(cfg Config, opts ...Option) *Gateway {
	g := &Gateway{
		cfg:          cfg,
		now:          func() time.Time { return time.Now().UTC() },
		rnd:          rand.New(rand.NewSource(time.Now().UnixNano())),
		transactions: make(map[string]domain.PaymentResult),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = log.WithField("component", "payment-gateway")
	}
	return g
}

// ProcessPayment списывает сумму. Отказ эмитента — результат с Approved=false,
// технический сбой — ошибка ErrPaymentTemporary.
func (g *Gateway) ProcessPayment(ctx context.Context, req domain.PaymentRequest) (domain.PaymentResult, error) {
	if req.Amount <= 0 {
		return domain.PaymentResult{}, domain.Validation(domain.ErrAmountNegative, "monto de pago inválido: %d", req.Amount)
	}
	if err := g.wait(ctx); err != nil {
		return domain.PaymentResult{}, err
	}

	roll := g.roll()
	if roll < g.cfg.TemporaryFailureRate {
		g.logger.WithField("order_id", req.OrderID).Warn("payment provider temporary failure")
		return domain.PaymentResult{}, fmt.Errorf("gateway timeout: %w", domain.ErrPaymentTemporary)
	}

	result := domain.PaymentResult{
		TransactionID: "tx_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		Amount:        req.Amount,
		Method:        req.Method,
		ProcessedAt:   g.now(),
	}
	if roll < g.cfg.TemporaryFailureRate+g.cfg.DeclineRate {
		result.Status = domain.PaymentStatusRejected
		result.Message = "pago rechazado por el emisor"
	} else {
		result.Status = domain.PaymentStatusApproved
		result.Approved = true
		result.AuthorizationCode = fmt.Sprintf("%06d", g.intn(1000000))
		result.Message = "pago aprobado"
	}

	g.mu.Lock()
	g.transactions[result.TransactionID] = result
	g.mu.Unlock()

	g.logger.WithFields(log.Fields{
		"order_id":       req.OrderID,
		"transaction_id": result.TransactionID,
		"status":         result.Status,
	}).Debug("payment processed")
	return result, nil
}

// CheckStatus возвращает последнее известное состояние транзакции.
func (g *Gateway) CheckStatus(ctx context.Context, transactionID string) (domain.PaymentResult, error) {
	if err := g.wait(ctx); err != nil {
		return domain.PaymentResult{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	result, ok := g.transactions[transactionID]
	if !ok {
		return domain.PaymentResult{}, domain.NotFound(domain.ErrTransactionNotFound)
	}
	return result, nil
}

// ProcessRefund возвращает средства по одобренной транзакции.
func (g *Gateway) ProcessRefund(ctx context.Context, transactionID string, amount int64, reason string) (domain.Refund, error) {
	if err := g.wait(ctx); err != nil {
		return domain.Refund{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	tx, ok := g.transactions[transactionID]
	if !ok {
		return domain.Refund{}, domain.NotFound(domain.ErrTransactionNotFound)
	}
	if !tx.Approved {
		return domain.Refund{}, domain.Validation(domain.ErrPaymentDeclined, "la transacción %s no fue aprobada", transactionID)
	}
	if tx.Refund != nil {
		return *tx.Refund, nil
	}
	if amount <= 0 {
		amount = tx.Amount
	}
	if amount > tx.Amount {
		return domain.Refund{}, domain.Validation(nil, "monto de reembolso %d excede el pago %d", amount, tx.Amount)
	}

	refund := domain.Refund{
		RefundID:   "rf_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		Amount:     amount,
		Reason:     reason,
		Status:     domain.PaymentStatusRefunded,
		RefundedAt: g.now(),
	}
	tx.Refund = &refund
	tx.Status = domain.PaymentStatusRefunded
	g.transactions[transactionID] = tx
	return refund, nil
}

func (g *Gateway) wait(ctx context.Context) error {
	if g.cfg.Delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(g.cfg.Delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (g *Gateway) roll() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rnd.Float64()
}

func (g *Gateway) intn(n int) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rnd.Intn(n)
}

var _ domain.PaymentGateway = (*Gateway)(nil)
