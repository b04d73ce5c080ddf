package inventory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/autoparts/internal/domain"
	"github.com/vladislavdragonenkov/autoparts/internal/storage/memory"
)

// failingStore отказывает в инкременте для заданного товара.
type failingStore struct {
	domain.CatalogStore
	failIncrement string
}

func (s *failingStore) IncrementStock(ctx context.Context, id string, qty int) error {
	if id == s.failIncrement {
		return errors.New("storage unavailable")
	}
	return s.CatalogStore.IncrementStock(ctx, id, qty)
}

func stock(t *testing.T, store domain.CatalogStore, id string) int {
	t.Helper()
	product, err := store.FindByID(context.Background(), id)
	require.NoError(t, err)
	return product.StockQuantity
}

func TestReserver_ReserveAll(t *testing.T) {
	ctx := context.Background()
	store := memory.NewCatalogStore(
		domain.Product{ID: "p1", Name: "Filtro", StockQuantity: 10},
		domain.Product{ID: "p2", Name: "Bujía", StockQuantity: 4},
	)
	reserver := NewReserver(store, nil, nil)

	err := reserver.Reserve(ctx, []domain.StockLine{
		{ProductID: "p1", Name: "Filtro", Quantity: 3},
		{ProductID: "p2", Name: "Bujía", Quantity: 4},
	})
	require.NoError(t, err)
	assert.Equal(t, 7, stock(t, store, "p1"))
	assert.Equal(t, 0, stock(t, store, "p2"))
}

func TestReserver_CompensatesOnInsufficientStock(t *testing.T) {
	ctx := context.Background()
	store := memory.NewCatalogStore(
		domain.Product{ID: "p1", Name: "Filtro", StockQuantity: 10},
		domain.Product{ID: "p2", Name: "Bujía", StockQuantity: 1},
	)
	reserver := NewReserver(store, nil, nil)

	err := reserver.Reserve(ctx, []domain.StockLine{
		{ProductID: "p1", Name: "Filtro", Quantity: 3},
		{ProductID: "p2", Name: "Bujía", Quantity: 2},
	})
	require.Error(t, err)
	assert.Equal(t, domain.KindStockInsufficient, domain.KindOf(err))
	assert.Contains(t, err.Error(), "Bujía")
	assert.Contains(t, err.Error(), "disponible 1")

	assert.Equal(t, 10, stock(t, store, "p1"), "first line must be released")
	assert.Equal(t, 1, stock(t, store, "p2"))
}

func TestReserver_UnknownProduct(t *testing.T) {
	ctx := context.Background()
	store := memory.NewCatalogStore(domain.Product{ID: "p1", StockQuantity: 5})
	reserver := NewReserver(store, nil, nil)

	err := reserver.Reserve(ctx, []domain.StockLine{
		{ProductID: "p1", Quantity: 2},
		{ProductID: "ghost", Quantity: 1},
	})
	require.Error(t, err)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
	assert.Equal(t, 5, stock(t, store, "p1"))
}

func TestReserver_ReleaseContinuesAfterFailure(t *testing.T) {
	ctx := context.Background()
	base := memory.NewCatalogStore(
		domain.Product{ID: "p1", StockQuantity: 0},
		domain.Product{ID: "p2", StockQuantity: 0},
	)
	reserver := NewReserver(&failingStore{CatalogStore: base, failIncrement: "p1"}, nil, nil)

	err := reserver.Release(ctx, []domain.StockLine{
		{ProductID: "p1", Quantity: 2},
		{ProductID: "p2", Quantity: 3},
	})
	require.Error(t, err)
	assert.Equal(t, 3, stock(t, base, "p2"))

	var relErr *ReleaseError
	require.ErrorAs(t, err, &relErr)
	assert.Equal(t, []domain.StockLine{{ProductID: "p1", Quantity: 2}}, relErr.Lines)
	assert.Contains(t, err.Error(), "storage unavailable")
}

func TestReserver_CompensationSurvivesCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := memory.NewCatalogStore(
		domain.Product{ID: "p1", StockQuantity: 5},
		domain.Product{ID: "p2", StockQuantity: 0},
	)
	reserver := NewReserver(store, nil, nil)
	cancel()

	err := reserver.Reserve(ctx, []domain.StockLine{
		{ProductID: "p1", Quantity: 5},
		{ProductID: "p2", Quantity: 1},
	})
	require.Error(t, err)
	assert.Equal(t, 5, stock(t, store, "p1"))
}
