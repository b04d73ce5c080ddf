// Package catalog — чтение и администрирование карточек товаров.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/vladislavdragonenkov/autoparts/internal/domain"
)

// Resolver ищет товар сначала по ID, затем по slug.
type Resolver struct {
	store domain.CatalogStore
}

// NewResolver создаёт резолвер поверх хранилища каталога.
func NewResolver(store domain.CatalogStore) *Resolver {
	return &Resolver{store: store}
}

// Resolve возвращает товар по ссылке (ID или slug).
func (r *Resolver) Resolve(ctx context.Context, ref string) (domain.Product, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return domain.Product{}, domain.Validation(domain.ErrProductNotFound, "referencia de producto vacía")
	}

	product, err := r.store.FindByID(ctx, ref)
	if err == nil {
		return product, nil
	}
	if !errors.Is(err, domain.ErrProductNotFound) {
		return domain.Product{}, fmt.Errorf("find product by id %q: %w", ref, err)
	}

	product, err = r.store.FindBySlug(ctx, ref)
	if err == nil {
		return product, nil
	}
	if errors.Is(err, domain.ErrProductNotFound) {
		return domain.Product{}, domain.NotFound(domain.ErrProductNotFound)
	}
	return domain.Product{}, fmt.Errorf("find product by slug %q: %w", ref, err)
}

// ProductInput — данные для создания товара.
type ProductInput struct {
	ID             string
	Slug           string
	Name           string
	SKU            string
	Price          int64
	WholesalePrice *int64
	StockQuantity  int
}

// ProductPatch — частичное обновление; nil-поля не меняются.
type ProductPatch struct {
	Name           *string
	Price          *int64
	WholesalePrice *int64
	// ClearWholesale снимает оптовую цену.
	ClearWholesale bool
	StockQuantity  *int
}

// Service — операции с каталогом для HTTP-слоя.
type Service struct {
	*Resolver
	store  domain.CatalogStore
	logger *log.Entry
	now    func() time.Time
}

// NewService создаёт сервис каталога.
func NewService(store domain.CatalogStore, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.WithField("component", "catalog")
	}
	return &Service{
		Resolver: NewResolver(store),
		store:    store,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create добавляет товар; доступно только администратору.
func (s *Service) Create(ctx context.Context, actor domain.Actor, in ProductInput) (domain.Product, error) {
	if err := requireAdmin(actor); err != nil {
		return domain.Product{}, err
	}

	product := domain.Product{
		ID:             strings.TrimSpace(in.ID),
		Slug:           strings.TrimSpace(in.Slug),
		Name:           strings.TrimSpace(in.Name),
		SKU:            strings.TrimSpace(in.SKU),
		Price:          in.Price,
		WholesalePrice: in.WholesalePrice,
		StockQuantity:  in.StockQuantity,
		UpdatedAt:      s.now(),
	}
	if product.ID == "" {
		product.ID = uuid.NewString()
	}
	if product.Slug == "" {
		product.Slug = Slugify(product.Name)
	}
	if err := validateProduct(product); err != nil {
		return domain.Product{}, err
	}

	if existing, err := s.store.FindBySlug(ctx, product.Slug); err == nil && existing.ID != product.ID {
		return domain.Product{}, domain.Validation(nil, "slug %q ya está en uso", product.Slug)
	}
	if err := s.store.Save(ctx, product); err != nil {
		return domain.Product{}, fmt.Errorf("save product: %w", err)
	}

	s.logger.WithFields(log.Fields{"product_id": product.ID, "user_id": actor.UserID}).Info("product created")
	return product, nil
}

// Update применяет patch к товару. Остаток задаётся абсолютным значением.
func (s *Service) Update(ctx context.Context, actor domain.Actor, id string, patch ProductPatch) (domain.Product, error) {
	if err := requireAdmin(actor); err != nil {
		return domain.Product{}, err
	}

	product, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrProductNotFound) {
			return domain.Product{}, domain.NotFound(err)
		}
		return domain.Product{}, fmt.Errorf("find product: %w", err)
	}

	if patch.Name != nil {
		product.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Price != nil {
		product.Price = *patch.Price
	}
	if patch.ClearWholesale {
		product.WholesalePrice = nil
	} else if patch.WholesalePrice != nil {
		v := *patch.WholesalePrice
		product.WholesalePrice = &v
	}
	if patch.StockQuantity != nil {
		product.StockQuantity = *patch.StockQuantity
	}
	product.UpdatedAt = s.now()

	if err := validateProduct(product); err != nil {
		return domain.Product{}, err
	}
	if err := s.store.Save(ctx, product); err != nil {
		return domain.Product{}, fmt.Errorf("save product: %w", err)
	}

	s.logger.WithFields(log.Fields{"product_id": product.ID, "user_id": actor.UserID}).Info("product updated")
	return product, nil
}

func requireAdmin(actor domain.Actor) error {
	if actor.Anonymous() {
		return domain.Unauthorized(domain.ErrNotAuthorized)
	}
	if !actor.IsAdmin() {
		return domain.Forbidden(domain.ErrAdminRequired)
	}
	return nil
}

func validateProduct(p domain.Product) error {
	switch {
	case p.Name == "":
		return domain.Validation(nil, "el nombre del producto es obligatorio")
	case p.Slug == "":
		return domain.Validation(nil, "el slug del producto es obligatorio")
	case p.Price < 0:
		return domain.Validation(domain.ErrItemPriceInvalid, "el precio no puede ser negativo")
	case p.WholesalePrice != nil && *p.WholesalePrice < 0:
		return domain.Validation(domain.ErrItemPriceInvalid, "el precio mayorista no puede ser negativo")
	case p.StockQuantity < 0:
		return domain.Validation(nil, "el stock no puede ser negativo")
	}
	return nil
}

// Slugify строит slug из названия: латиница в нижнем регистре, цифры, дефисы.
// Диакритика снимается через NFD-разложение, поэтому «Ç» становится «c».
func Slugify(name string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), name)
	if err != nil {
		folded = name
	}

	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(folded) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case unicode.IsSpace(r) || r == '-' || r == '_' || r == '/':
			if b.Len() > 0 && !dash {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
