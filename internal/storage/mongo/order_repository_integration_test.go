package mongo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/autoparts/internal/domain"
)

func newMongoTestOrder(t *testing.T, id, userID string, orderType domain.OrderType, createdAt time.Time) domain.Order {
	t.Helper()
	order, err := domain.NewOrder(domain.OrderParams{
		ID:     id,
		UserID: userID,
		Items: []domain.OrderItem{
			{ID: id + "-1", ProductID: "p-oil", Name: "Aceite", Quantity: 1, Price: 10000},
		},
		Fulfillment: domain.Fulfillment{
			Method:   domain.FulfillmentPickup,
			Location: &domain.PickupLocation{Name: "Sucursal Centro", Address: "Alameda 1000"},
		},
		PaymentMethod: domain.PaymentCash,
		OrderType:     orderType,
		TaxRate:       19,
		TaxPrice:      1900,
		Now:           createdAt,
	})
	require.NoError(t, err)
	return order
}

func TestOrderRepository_MongoRoundTripAndVersioning(t *testing.T) {
	store := openStoreForIntegrationTest(t)
	repo := NewOrderRepository(store)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	order := newMongoTestOrder(t, "order-1", "user-1", domain.OrderTypeB2C, now)
	require.NoError(t, repo.Create(ctx, order))
	assert.ErrorIs(t, repo.Create(ctx, order), domain.ErrOrderAlreadyExists)

	loaded, err := repo.Get(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, int64(11900), loaded.TotalPrice)
	require.NotNil(t, loaded.Fulfillment.Location)
	assert.Equal(t, "Sucursal Centro", loaded.Fulfillment.Location.Name)

	_, err = loaded.ApplyTaxRate(10, "admin-1", now.Add(time.Minute))
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, loaded))
	assert.ErrorIs(t, repo.Save(ctx, loaded), domain.ErrOrderVersionConflict)

	saved, err := repo.Get(ctx, "order-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), saved.Version)
	assert.Equal(t, int64(1000), saved.TaxPrice)
	require.Len(t, saved.Tax.History, 1)
	assert.Equal(t, float64(19), saved.Tax.AppliedTaxRate)

	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestOrderRepository_MongoList(t *testing.T) {
	store := openStoreForIntegrationTest(t)
	repo := NewOrderRepository(store)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Create(ctx, newMongoTestOrder(t, "o-1", "user-1", domain.OrderTypeB2C, base)))
	require.NoError(t, repo.Create(ctx, newMongoTestOrder(t, "o-2", "dist-1", domain.OrderTypeB2B, base.Add(time.Minute))))
	require.NoError(t, repo.Create(ctx, newMongoTestOrder(t, "o-3", "dist-1", domain.OrderTypeB2B, base.Add(2*time.Minute))))

	page, total, err := repo.List(ctx, domain.OrderFilter{OrderType: domain.OrderTypeB2B, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, page, 1)
	assert.Equal(t, "o-3", page[0].ID)

	mine, total, err := repo.List(ctx, domain.OrderFilter{UserID: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, mine, 1)
}
