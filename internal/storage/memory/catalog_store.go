package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/autoparts/internal/domain"
)

// catalogStoreInMemory — каталог в памяти. Условное списание выполняется под одним мьютексом,
// поэтому проверка остатка и декремент неразделимы.
type catalogStoreInMemory struct {
	mu     sync.Mutex
	items  map[string]domain.Product
	bySlug map[string]string
}

// NewCatalogStore возвращает in-memory каталог, заполненный seed-товарами.
func NewCatalogStore(seed ...domain.Product) domain.CatalogStore {
	store := &catalogStoreInMemory{
		items:  make(map[string]domain.Product),
		bySlug: make(map[string]string),
	}
	for _, product := range seed {
		store.put(product)
	}
	return store
}

func (s *catalogStoreInMemory) FindByID(_ context.Context, id string) (domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.items[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return cloneProduct(product), nil
}

func (s *catalogStoreInMemory) FindBySlug(_ context.Context, slug string) (domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.bySlug[strings.ToLower(slug)]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return cloneProduct(s.items[id]), nil
}

func (s *catalogStoreInMemory) Save(_ context.Context, product domain.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.UpdatedAt.IsZero() {
		product.UpdatedAt = time.Now().UTC()
	}
	if prev, ok := s.items[product.ID]; ok && prev.Slug != "" {
		delete(s.bySlug, strings.ToLower(prev.Slug))
	}
	s.put(product)
	return nil
}

// DecrementStockIfAvailable — find-and-update-if-sufficient.
func (s *catalogStoreInMemory) DecrementStockIfAvailable(_ context.Context, productID string, qty int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.items[productID]
	if !ok {
		return false, domain.ErrProductNotFound
	}
	if product.StockQuantity < qty {
		return false, nil
	}
	product.StockQuantity -= qty
	product.UpdatedAt = time.Now().UTC()
	s.items[productID] = product
	return true, nil
}

func (s *catalogStoreInMemory) IncrementStock(_ context.Context, productID string, qty int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.items[productID]
	if !ok {
		return domain.ErrProductNotFound
	}
	product.StockQuantity += qty
	product.UpdatedAt = time.Now().UTC()
	s.items[productID] = product
	return nil
}

func (s *catalogStoreInMemory) put(product domain.Product) {
	s.items[product.ID] = cloneProduct(product)
	if product.Slug != "" {
		s.bySlug[strings.ToLower(product.Slug)] = product.ID
	}
}

func cloneProduct(src domain.Product) domain.Product {
	dst := src
	if src.WholesalePrice != nil {
		v := *src.WholesalePrice
		dst.WholesalePrice = &v
	}
	return dst
}

var _ domain.CatalogStore = (*catalogStoreInMemory)(nil)
