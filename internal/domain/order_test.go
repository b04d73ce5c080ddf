package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/autoparts/internal/domain"
)

// helper для создания базового заказа с одной позицией.
func makeOrder(t *testing.T) domain.Order {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	order, err := domain.NewOrder(domain.OrderParams{
		ID:     "order-1",
		UserID: "user-1",
		Items: []domain.OrderItem{
			{ID: "item-1", ProductID: "prod-1", Name: "Filtro de aceite", Quantity: 2, Price: 25000},
		},
		Fulfillment: domain.Fulfillment{
			Method: domain.FulfillmentDelivery,
			Address: &domain.ShippingAddress{
				Street: "Av. Siempre Viva 742", City: "Santiago", State: "RM", PostalCode: "8320000", Country: "CL",
			},
		},
		PaymentMethod: domain.PaymentWebpay,
		OrderType:     domain.OrderTypeB2C,
		TaxRate:       19,
		TaxPrice:      9500,
		ShippingPrice: 0,
		Now:           now,
	})
	require.NoError(t, err)
	return order
}

func TestNewOrder_ComputesTotals(t *testing.T) {
	order := makeOrder(t)

	assert.Equal(t, domain.OrderStatusPending, order.Status)
	assert.Equal(t, int64(50000), order.ItemsPrice)
	assert.Equal(t, int64(59500), order.TotalPrice)
	assert.Equal(t, 19.0, order.Tax.AppliedTaxRate)
	assert.Equal(t, 19.0, order.Tax.TaxRate)
	assert.False(t, order.Tax.TaxRecalculated)
	assert.Empty(t, order.ValidateInvariants())
}

func TestNewOrder_RejectsBrokenInput(t *testing.T) {
	_, err := domain.NewOrder(domain.OrderParams{ID: "o", UserID: "u"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrItemsRequired))
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestOrderValidateInvariants_Errors(t *testing.T) {
	cases := []struct {
		name string
		mut  func(o *domain.Order)
		want error
	}{
		{name: "no owner", mut: func(o *domain.Order) { o.UserID = "" }, want: domain.ErrOwnerRequired},
		{name: "no items", mut: func(o *domain.Order) { o.Items = nil }, want: domain.ErrItemsRequired},
		{name: "qty invalid", mut: func(o *domain.Order) { o.Items[0].Quantity = 0 }, want: domain.ErrItemQtyInvalid},
		{name: "price invalid", mut: func(o *domain.Order) { o.Items[0].Price = -5 }, want: domain.ErrItemPriceInvalid},
		{name: "items price mismatch", mut: func(o *domain.Order) { o.ItemsPrice = 1 }, want: domain.ErrItemsPriceMismatch},
		{name: "total mismatch", mut: func(o *domain.Order) { o.TotalPrice = 999 }, want: domain.ErrTotalMismatch},
		{name: "negative shipping", mut: func(o *domain.Order) { o.ShippingPrice = -1 }, want: domain.ErrAmountNegative},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			order := makeOrder(t)
			// Изменяем состояние согласно сценарию.
			tc.mut(&order)

			errs := order.ValidateInvariants()
			require.NotEmpty(t, errs)
			assert.Contains(t, errs, tc.want)
		})
	}
}

func TestTaxAmount_Rounds(t *testing.T) {
	assert.Equal(t, int64(9500), domain.TaxAmount(50000, 19))
	assert.Equal(t, int64(2), domain.TaxAmount(9, 19)) // 1.71
	assert.Equal(t, int64(1), domain.TaxAmount(5, 19)) // 0.95
	assert.Equal(t, int64(0), domain.TaxAmount(50000, 0))
	assert.Equal(t, int64(50000), domain.TaxAmount(50000, 100))
}

func TestOrderTransitionTo_DeliveryFlow(t *testing.T) {
	order := makeOrder(t)
	now := order.CreatedAt.Add(time.Hour)

	require.NoError(t, order.TransitionTo(domain.OrderStatusProcessing, now))
	require.NoError(t, order.TransitionTo(domain.OrderStatusShipped, now))
	assert.False(t, order.IsDelivered)

	delivered := now.Add(time.Hour)
	require.NoError(t, order.TransitionTo(domain.OrderStatusDelivered, delivered))
	assert.True(t, order.IsDelivered)
	require.NotNil(t, order.DeliveredAt)
	assert.Equal(t, delivered, *order.DeliveredAt)

	err := order.TransitionTo(domain.OrderStatusCancelled, delivered)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrOrderAlreadyShipped))
	assert.Equal(t, domain.OrderStatusDelivered, order.Status)
}

func TestOrderTransitionTo_PickupStampsDeliveredOnce(t *testing.T) {
	order := makeOrder(t)
	order.Fulfillment = domain.Fulfillment{
		Method:   domain.FulfillmentPickup,
		Location: &domain.PickupLocation{Name: "Sucursal Centro", Address: "Alameda 100"},
	}
	first := order.CreatedAt.Add(time.Minute)
	second := first.Add(time.Hour)

	require.NoError(t, order.TransitionTo(domain.OrderStatusProcessing, first))
	require.NoError(t, order.TransitionTo(domain.OrderStatusReadyForPickup, first))
	require.NoError(t, order.TransitionTo(domain.OrderStatusDelivered, second))

	assert.True(t, order.IsDelivered)
	assert.Equal(t, first, *order.DeliveredAt)
}

func TestOrderMarkPaid_Idempotent(t *testing.T) {
	order := makeOrder(t)
	first := order.CreatedAt.Add(time.Minute)

	assert.True(t, order.MarkPaid(first))
	assert.False(t, order.MarkPaid(first.Add(time.Hour)))
	assert.True(t, order.IsPaid)
	assert.Equal(t, first, *order.PaidAt)
}

func TestOrderApplyTaxRate(t *testing.T) {
	order := makeOrder(t)
	now := order.CreatedAt.Add(time.Hour)

	report, err := order.ApplyTaxRate(10, "admin-1", now)
	require.NoError(t, err)
	assert.Equal(t, 19.0, report.PreviousTaxRate)
	assert.Equal(t, 10.0, report.NewTaxRate)
	assert.Equal(t, int64(9500), report.PreviousTaxPrice)
	assert.Equal(t, int64(5000), report.NewTaxPrice)

	assert.Equal(t, int64(50000), order.ItemsPrice)
	assert.Equal(t, int64(55000), order.TotalPrice)
	assert.Equal(t, 19.0, order.Tax.AppliedTaxRate)
	assert.Equal(t, 10.0, order.Tax.TaxRate)
	assert.True(t, order.Tax.TaxRecalculated)
	assert.Equal(t, "admin-1", order.Tax.TaxRecalculatedBy)

	// Повтор с той же ставкой не меняет суммы.
	_, err = order.ApplyTaxRate(10, "admin-1", now)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), order.TaxPrice)
	assert.Equal(t, int64(55000), order.TotalPrice)
	assert.Len(t, order.Tax.History, 2)
	assert.Empty(t, order.ValidateInvariants())
}

func TestOrderApplyTaxRate_OutOfRange(t *testing.T) {
	for _, rate := range []float64{-1, 100.5} {
		order := makeOrder(t)
		_, err := order.ApplyTaxRate(rate, "admin-1", time.Now())
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrTaxRateInvalid))
		assert.Equal(t, int64(9500), order.TaxPrice)
	}
}

func TestOrderLastApprovedPayment(t *testing.T) {
	order := makeOrder(t)
	assert.Equal(t, -1, order.LastApprovedPayment())

	now := time.Now()
	order.AppendPaymentResult(domain.PaymentResult{TransactionID: "tx-1", Status: domain.PaymentStatusFailed}, now)
	order.AppendPaymentResult(domain.PaymentResult{TransactionID: "tx-2", Status: domain.PaymentStatusApproved, Approved: true}, now)
	assert.Equal(t, 1, order.LastApprovedPayment())
}

func TestOrderClone_IsDeep(t *testing.T) {
	order := makeOrder(t)
	order.AppendPaymentResult(domain.PaymentResult{TransactionID: "tx-1", Approved: true, Refund: &domain.Refund{RefundID: "r-1"}}, time.Now())

	clone := order.Clone()
	clone.Items[0].Quantity = 99
	clone.Fulfillment.Address.City = "Valparaíso"
	clone.PaymentResults[0].Refund.RefundID = "changed"

	assert.Equal(t, 2, order.Items[0].Quantity)
	assert.Equal(t, "Santiago", order.Fulfillment.Address.City)
	assert.Equal(t, "r-1", order.PaymentResults[0].Refund.RefundID)
}
