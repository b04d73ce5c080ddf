package mongo

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/vladislavdragonenkov/autoparts/internal/domain"
)

type productDocument struct {
	ID             string    `bson:"_id"`
	Slug           string    `bson:"slug,omitempty"`
	Name           string    `bson:"name"`
	SKU            string    `bson:"sku,omitempty"`
	Price          int64     `bson:"price"`
	WholesalePrice *int64    `bson:"wholesalePrice,omitempty"`
	StockQuantity  int       `bson:"stockQuantity"`
	UpdatedAt      time.Time `bson:"updatedAt"`
}

func (d productDocument) toDomain() domain.Product {
	return domain.Product{
		ID:             d.ID,
		Slug:           d.Slug,
		Name:           d.Name,
		SKU:            d.SKU,
		Price:          d.Price,
		WholesalePrice: d.WholesalePrice,
		StockQuantity:  d.StockQuantity,
		UpdatedAt:      d.UpdatedAt.UTC(),
	}
}

type catalogStore struct {
	products *mongo.Collection
}

// NewCatalogStore создаёт MongoDB-реализацию CatalogStore.
func NewCatalogStore(store *Store) domain.CatalogStore {
	return &catalogStore{products: store.db.Collection(collectionProducts)}
}

func (s *catalogStore) FindByID(ctx context.Context, id string) (domain.Product, error) {
	return s.findOne(ctx, bson.M{"_id": id})
}

// FindBySlug ищет без учёта регистра.
func (s *catalogStore) FindBySlug(ctx context.Context, slug string) (domain.Product, error) {
	pattern := "^" + regexp.QuoteMeta(slug) + "$"
	return s.findOne(ctx, bson.M{"slug": primitive.Regex{Pattern: pattern, Options: "i"}})
}

func (s *catalogStore) findOne(ctx context.Context, filter bson.M) (domain.Product, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var doc productDocument
	if err := s.products.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("find product: %w", err)
	}
	return doc.toDomain(), nil
}

func (s *catalogStore) Save(ctx context.Context, product domain.Product) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if product.UpdatedAt.IsZero() {
		product.UpdatedAt = time.Now().UTC()
	}
	doc := productDocument{
		ID:             product.ID,
		Slug:           product.Slug,
		Name:           product.Name,
		SKU:            product.SKU,
		Price:          product.Price,
		WholesalePrice: product.WholesalePrice,
		StockQuantity:  product.StockQuantity,
		UpdatedAt:      product.UpdatedAt,
	}
	_, err := s.products.ReplaceOne(ctx, bson.M{"_id": product.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.Conflict(fmt.Errorf("slug %q ya está en uso: %w", product.Slug, err))
		}
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

// DecrementStockIfAvailable — find-and-update-if-sufficient одним UpdateOne.
func (s *catalogStore) DecrementStockIfAvailable(ctx context.Context, productID string, qty int) (bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := s.products.UpdateOne(ctx,
		bson.M{"_id": productID, "stockQuantity": bson.M{"$gte": qty}},
		bson.M{
			"$inc": bson.M{"stockQuantity": -qty},
			"$set": bson.M{"updatedAt": time.Now().UTC()},
		},
	)
	if err != nil {
		return false, fmt.Errorf("decrement stock: %w", err)
	}
	if res.MatchedCount > 0 {
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

	res, err := s.products.UpdateOne(ctx,
		bson.M{"_id": productID},
		bson.M{
			"$inc": bson.M{"stockQuantity": qty},
			"$set": bson.M{"updatedAt": time.Now().UTC()},
		},
	)
	if err != nil {
		return fmt.Errorf("increment stock: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrProductNotFound
	}
	return nil
}

var _ domain.CatalogStore = (*catalogStore)(nil)
