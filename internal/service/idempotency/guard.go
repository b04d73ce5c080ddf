package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/autoparts/internal/domain"
)

// DefaultTTL — время жизни ключа идемпотентности.
const DefaultTTL = 24 * time.Hour

// ErrRequestInProgress — запрос с тем же ключом ещё выполняется.
var ErrRequestInProgress = errors.New("request with the same idempotency key is already processing")

// Response — сохранённый ответ, который отдаётся при повторе запроса.
type Response struct {
	Status int
	Body   []byte
}

// Guard оборачивает мутирующие запросы: первый запрос с ключом выполняется,
// повторы с тем же телом получают сохранённый ответ.
type Guard struct {
	repo   domain.IdempotencyRepository
	ttl    time.Duration
	now    func() time.Time
	logger *log.Entry
}

// GuardOption настраивает Guard.
type GuardOption func(*Guard)

// WithTTL задаёт время жизни ключа.
func WithTTL(ttl time.Duration) GuardOption {
	return func(g *Guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithClock задаёт источник времени.
func WithClock(now func() time.Time) GuardOption {
	return func(g *Guard) { g.now = now }
}

// WithGuardLogger задаёт logger.
func WithGuardLogger(logger *log.Entry) GuardOption {
	return func(g *Guard) { g.logger = logger }
}

// NewGuard создаёт Guard поверх хранилища ключей.
func NewGuard(repo domain.IdempotencyRepository, opts ...GuardOption) *Guard {
	g := &Guard{
		repo: repo,
		ttl:  DefaultTTL,
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = log.WithField("component", "idempotency")
	}
	return g
}

// RequestHash строит отпечаток запроса: метод, путь, пользователь и тело.
func RequestHash(method, path, userID string, body []byte) string {
	h := sha256.New()
	for _, part := range []string{method, path, userID} {
		h.Write([]byte(part))
		h.Write([]byte{':'})
	}
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// Begin резервирует ключ. Если ключ уже завершён, возвращает сохранённый ответ.
// nil-ответ без ошибки означает, что запрос нужно выполнить и затем вызвать Complete.
func (g *Guard) Begin(ctx context.Context, key, hash string) (*Response, error) {
	record, err := g.repo.CreateProcessing(ctx, key, hash, g.now().Add(g.ttl))
	if err == nil {
		return nil, nil
	}

	switch {
	case errors.Is(err, domain.ErrIdempotencyKeyRequired), errors.Is(err, domain.ErrIdempotencyRequestHashRequired):
		return nil, domain.Validation(err, "")
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return nil, domain.Conflict(err)
	case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
		switch {
		case record.Replayable():
			status := record.HTTPStatus
			if status == 0 {
				status = http.StatusOK
			}
			return &Response{Status: status, Body: record.ResponseBody}, nil
		case record.Status == domain.IdempotencyStatusProcessing:
			return nil, domain.Conflict(ErrRequestInProgress)
		default:
			return nil, fmt.Errorf("unknown idempotency record status %q", record.Status)
		}
	default:
		return nil, fmt.Errorf("create idempotency record: %w", err)
	}
}

// Complete сохраняет ответ: 5xx помечают ключ как failed, остальные как done.
// Ошибки сохранения только логируются: ответ клиенту уже сформирован.
func (g *Guard) Complete(ctx context.Context, key string, status int, body []byte) {
	var err error
	if status >= http.StatusInternalServerError {
		err = g.repo.MarkFailed(ctx, key, body, status)
	} else {
		err = g.repo.MarkDone(ctx, key, body, status)
	}
	if err != nil {
		g.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotent response")
	}
}
