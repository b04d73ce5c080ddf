package payment

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/autoparts/internal/domain"
)

func newTestGateway(cfg Config) *Gateway {
	return NewGateway(cfg, WithRand(rand.New(rand.NewSource(42))))
}

func TestGateway_ApproveCheckRefund(t *testing.T) {
	ctx := context.Background()
	gw := newTestGateway(Config{})

	result, err := gw.ProcessPayment(ctx, domain.PaymentRequest{OrderID: "o1", Amount: 59500, Method: domain.PaymentWebpay})
	require.NoError(t, err)
	assert.True(t, result.Approved)
	assert.Equal(t, domain.PaymentStatusApproved, result.Status)
	assert.Len(t, result.AuthorizationCode, 6)
	assert.NotEmpty(t, result.TransactionID)

	status, err := gw.CheckStatus(ctx, result.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, result.TransactionID, status.TransactionID)

	refund, err := gw.ProcessRefund(ctx, result.TransactionID, 0, "cancelación")
	require.NoError(t, err)
	assert.Equal(t, int64(59500), refund.Amount)
	assert.Equal(t, domain.PaymentStatusRefunded, refund.Status)

	// Повторный возврат идемпотентен.
	again, err := gw.ProcessRefund(ctx, result.TransactionID, 0, "cancelación")
	require.NoError(t, err)
	assert.Equal(t, refund.RefundID, again.RefundID)

	status, err = gw.CheckStatus(ctx, result.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusRefunded, status.Status)
}

func TestGateway_Declines(t *testing.T) {
	gw := newTestGateway(Config{DeclineRate: 1})

	result, err := gw.ProcessPayment(context.Background(), domain.PaymentRequest{OrderID: "o1", Amount: 100})
	require.NoError(t, err)
	assert.False(t, result.Approved)
	assert.Equal(t, domain.PaymentStatusRejected, result.Status)

	_, err = gw.ProcessRefund(context.Background(), result.TransactionID, 0, "")
	assert.ErrorIs(t, err, domain.ErrPaymentDeclined)
}

func TestGateway_TemporaryFailure(t *testing.T) {
	gw := newTestGateway(Config{TemporaryFailureRate: 1})

	_, err := gw.ProcessPayment(context.Background(), domain.PaymentRequest{OrderID: "o1", Amount: 100})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrPaymentTemporary))
	assert.True(t, IsRetryable(err))
}

func TestGateway_Validation(t *testing.T) {
	gw := newTestGateway(Config{})

	_, err := gw.ProcessPayment(context.Background(), domain.PaymentRequest{OrderID: "o1", Amount: 0})
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	_, err = gw.CheckStatus(context.Background(), "unknown")
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))

	approved, err := gw.ProcessPayment(context.Background(), domain.PaymentRequest{OrderID: "o1", Amount: 100})
	require.NoError(t, err)
	_, err = gw.ProcessRefund(context.Background(), approved.TransactionID, 101, "")
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestGateway_DelayHonoursContext(t *testing.T) {
	gw := newTestGateway(Config{Delay: time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := gw.ProcessPayment(ctx, domain.PaymentRequest{OrderID: "o1", Amount: 100})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
