// Package mongo хранит каталог, заказы, таймлайн и outbox в MongoDB.
// Условное списание остатка выполняется одним UpdateOne с фильтром по stockQuantity.
package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	collectionProducts = "products"
	collectionOrders   = "orders"
	collectionTimeline = "order_timeline"
	collectionOutbox   = "outbox_messages"

	opTimeout = 5 * time.Second
)

// Config — параметры подключения к MongoDB.
type Config struct {
	URI         string
	Database    string
	MaxPoolSize uint64
	MinPoolSize uint64
}

// Validate проверяет обязательные поля.
func (c Config) Validate() error {
	if c.URI == "" {
		return fmt.Errorf("mongo uri cannot be empty")
	}
	if c.Database == "" {
		return fmt.Errorf("mongo database cannot be empty")
	}
	return nil
}

// Store владеет клиентом MongoDB и базой сервиса.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// Open подключается к MongoDB, проверяет доступность и создаёт индексы.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mongo config: %w", err)
	}

	opts := options.Client().ApplyURI(cfg.URI)
	if cfg.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(cfg.MaxPoolSize)
	}
	if cfg.MinPoolSize > 0 {
		opts.SetMinPoolSize(cfg.MinPoolSize)
	}

	connectCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	store := &Store{client: client, db: client.Database(cfg.Database)}
	if err := store.ensureIndexes(connectCtx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return store, nil
}

// Database возвращает базу сервиса.
func (s *Store) Database() *mongo.Database {
	return s.db
}

// Ping проверяет доступность кластера.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("mongo store is not initialized")
	}
	pingCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	return s.client.Ping(pingCtx, nil)
}

// Close разрывает соединение.
func (s *Store) Close(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		collectionProducts: {
			{
				Keys:    bson.D{{Key: "slug", Value: 1}},
				Options: options.Index().SetUnique(true).SetPartialFilterExpression(bson.M{"slug": bson.M{"$type": "string"}}),
			},
		},
		collectionOrders: {
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}}},
			{Keys: bson.D{{Key: "orderType", Value: 1}, {Key: "status", Value: 1}, {Key: "createdAt", Value: -1}}},
		},
		collectionTimeline: {
			{Keys: bson.D{{Key: "orderId", Value: 1}, {Key: "occurred", Value: 1}}},
		},
		collectionOutbox: {
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "createdAt", Value: 1}}},
		},
	}
	for collection, models := range indexes {
		if _, err := s.db.Collection(collection).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create %s indexes: %w", collection, err)
		}
	}
	return nil
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, opTimeout)
}
