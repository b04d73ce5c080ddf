package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/autoparts/internal/domain"
)

const productColumns = `id, slug, name, sku, price, wholesale_price, stock_quantity, updated_at`

type catalogStore struct {
	db *sql.DB
}

// NewCatalogStore создаёт PostgreSQL-реализацию CatalogStore.
func NewCatalogStore(store *Store) domain.CatalogStore {
	return &catalogStore{db: store.DB()}
}

func (s *catalogStore) FindByID(ctx context.Context, id string) (domain.Product, error) {
	return s.findOne(ctx, `WHERE id = $1`, id)
}

func (s *catalogStore) FindBySlug(ctx context.Context, slug string) (domain.Product, error) {
	return s.findOne(ctx, `WHERE LOWER(slug) = LOWER($1)`, slug)
}

func (s *catalogStore) findOne(ctx context.Context, where string, arg string) (domain.Product, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var (
		product   domain.Product
		slug      sql.NullString
		wholesale sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products `+where, arg).Scan(
		&product.ID, &slug, &product.Name, &product.SKU, &product.Price,
		&wholesale, &product.StockQuantity, &product.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("select product: %w", err)
	}
	product.Slug = slug.String
	if wholesale.Valid {
		v := wholesale.Int64
		product.WholesalePrice = &v
	}
	product.UpdatedAt = product.UpdatedAt.UTC()
	return product, nil
}

// Save выполняет upsert карточки товара.
func (s *catalogStore) Save(ctx context.Context, product domain.Product) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if product.UpdatedAt.IsZero() {
		product.UpdatedAt = time.Now().UTC()
	}
	var slug sql.NullString
	if product.Slug != "" {
		slug = sql.NullString{String: product.Slug, Valid: true}
	}
	var wholesale sql.NullInt64
	if product.WholesalePrice != nil {
		wholesale = sql.NullInt64{Int64: *product.WholesalePrice, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (`+productColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO UPDATE
		SET slug = EXCLUDED.slug,
		    name = EXCLUDED.name,
		    sku = EXCLUDED.sku,
		    price = EXCLUDED.price,
		    wholesale_price = EXCLUDED.wholesale_price,
		    stock_quantity = EXCLUDED.stock_quantity,
		    updated_at = EXCLUDED.updated_at
	`,
		product.ID, slug, product.Name, product.SKU, product.Price,
		wholesale, product.StockQuantity, product.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Conflict(fmt.Errorf("slug %q ya está en uso: %w", product.Slug, err))
		}
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

// DecrementStockIfAvailable — одна условная UPDATE: проверка остатка и списание
// выполняются атомарно под блокировкой строки.
func (s *catalogStore) DecrementStockIfAvailable(ctx context.Context, productID string, qty int) (bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET stock_quantity = stock_quantity - $2,
		    updated_at = NOW()
		WHERE id = $1
		  AND stock_quantity >= $2
	`, productID, qty)
	if err != nil {
		return false, fmt.Errorf("decrement stock: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if affected > 0 {
		return true, nil
	}

	if _, err := s.FindByID(ctx, productID); err != nil {
		return false, err
	}
	return false, nil
}

func (s *catalogStore) IncrementStock(ctx context.Context, productID string, qty int) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET stock_quantity = stock_quantity + $2,
		    updated_at = NOW()
		WHERE id = $1
	`, productID, qty)
	if err != nil {
		return fmt.Errorf("increment stock: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrProductNotFound
	}
	return nil
}

var _ domain.CatalogStore = (*catalogStore)(nil)
