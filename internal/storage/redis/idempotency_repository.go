// Package redis хранит ключи идемпотентности POST /api/orders в Redis.
// TTL ключа ставится самим Redis, поэтому DeleteExpired здесь ничего не удаляет.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/autoparts/internal/domain"
)

const (
	defaultKeyPrefix = "autoparts:idempotency"
	defaultTTL       = 24 * time.Hour
)

type idempotencyEntry struct {
	RequestHash  string    `json:"request_hash"`
	ResponseBody []byte    `json:"response_body,omitempty"`
	HTTPStatus   int       `json:"http_status,omitempty"`
	Status       string    `json:"status"`
	TTLAt        time.Time `json:"ttl_at"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// IdempotencyRepository реализует domain.IdempotencyRepository поверх SET NX.
type IdempotencyRepository struct {
	client goredis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewClient создаёт клиента Redis и проверяет соединение.
func NewClient(ctx context.Context, addr string) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return client, nil
}

// NewIdempotencyRepository создаёт репозиторий с префиксом ключей по умолчанию.
func NewIdempotencyRepository(client goredis.UniversalClient) *IdempotencyRepository {
	return &IdempotencyRepository{
		client: client,
		prefix: defaultKeyPrefix,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (r *IdempotencyRepository) redisKey(key string) string {
	return r.prefix + ":" + key
}

// CreateProcessing атомарно резервирует ключ: SET NX с TTL до ttlAt.
func (r *IdempotencyRepository) CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	key, requestHash = strings.TrimSpace(key), strings.TrimSpace(requestHash)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}
	if requestHash == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}

	now := r.now()
	if ttlAt.IsZero() {
		ttlAt = now.Add(defaultTTL)
	}
	ttl := ttlAt.Sub(now)
	if ttl <= 0 {
		ttl = time.Second
	}

	entry := idempotencyEntry{
		RequestHash: requestHash,
		Status:      string(domain.IdempotencyStatusProcessing),
		TTLAt:       ttlAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("encode idempotency entry: %w", err)
	}

	created, err := r.client.SetNX(ctx, r.redisKey(key), raw, ttl).Result()
	if err != nil {
		return domain.IdempotencyRecord{}, fmt.Errorf("reserve idempotency key: %w", err)
	}
	if !created {
		existing, getErr := r.Get(ctx, key)
		if getErr != nil {
			return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyAlreadyExists
		}
		if existing.RequestHash != requestHash {
			return existing, domain.ErrIdempotencyHashMismatch
		}
		return existing, domain.ErrIdempotencyKeyAlreadyExists
	}
	return entry.toRecord(key), nil
}

func (r *IdempotencyRepository) Get(ctx context.Context, key string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}
	entry, err := r.load(ctx, key)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}
	return entry.toRecord(key), nil
}

func (r *IdempotencyRepository) MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.finish(ctx, key, domain.IdempotencyStatusDone, responseBody, httpStatus)
}

func (r *IdempotencyRepository) MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error {
	return r.finish(ctx, key, domain.IdempotencyStatusFailed, responseBody, httpStatus)
}

// DeleteExpired — no-op: Redis удаляет ключи по TTL сам.
func (r *IdempotencyRepository) DeleteExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

func (r *IdempotencyRepository) finish(ctx context.Context, key string, status domain.IdempotencyStatus, responseBody []byte, httpStatus int) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ErrIdempotencyKeyRequired
	}
	entry, err := r.load(ctx, key)
	if err != nil {
		return err
	}
	entry.Status = string(status)
	entry.ResponseBody = append([]byte(nil), responseBody...)
	entry.HTTPStatus = httpStatus
	entry.UpdatedAt = r.now()

	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode idempotency entry: %w", err)
	}
	err = r.client.SetArgs(ctx, r.redisKey(key), raw, goredis.SetArgs{Mode: "XX", KeepTTL: true}).Err()
	if errors.Is(err, goredis.Nil) {
		return domain.ErrIdempotencyKeyNotFound
	}
	if err != nil {
		return fmt.Errorf("update idempotency key: %w", err)
	}
	return nil
}

func (r *IdempotencyRepository) load(ctx context.Context, key string) (idempotencyEntry, error) {
	raw, err := r.client.Get(ctx, r.redisKey(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return idempotencyEntry{}, domain.ErrIdempotencyKeyNotFound
	}
	if err != nil {
		return idempotencyEntry{}, fmt.Errorf("get idempotency key: %w", err)
	}
	var entry idempotencyEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return idempotencyEntry{}, fmt.Errorf("decode idempotency entry %s: %w", key, err)
	}
	return entry, nil
}

func (e idempotencyEntry) toRecord(key string) domain.IdempotencyRecord {
	return domain.IdempotencyRecord{
		Key:          key,
		RequestHash:  e.RequestHash,
		ResponseBody: append([]byte(nil), e.ResponseBody...),
		HTTPStatus:   e.HTTPStatus,
		Status:       domain.IdempotencyStatus(e.Status),
		TTLAt:        e.TTLAt,
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
	}
}

var _ domain.IdempotencyRepository = (*IdempotencyRepository)(nil)
