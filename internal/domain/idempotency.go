package domain

import (
	"fmt"
	"time"
)

// IdempotencyStatus — состояние ключа Idempotency-Key, под которым клиент создаёт заказ.
type IdempotencyStatus string

const (
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	IdempotencyStatusDone       IdempotencyStatus = "done"
	// IdempotencyStatusFailed — обработчик ответил 5xx или упал; повтор получает сохранённый ответ.
	IdempotencyStatusFailed IdempotencyStatus = "failed"
)

// ParseIdempotencyStatus разбирает статус, прочитанный из хранилища.
func ParseIdempotencyStatus(raw string) (IdempotencyStatus, error) {
	status := IdempotencyStatus(raw)
	if !status.Valid() {
		return "", fmt.Errorf("unknown idempotency status %q", raw)
	}
	return status, nil
}

// Valid сообщает, является ли значение известным статусом.
func (s IdempotencyStatus) Valid() bool {
	return s == IdempotencyStatusProcessing || s == IdempotencyStatusDone || s == IdempotencyStatusFailed
}

// IdempotencyRecord — ответ на POST /api/orders, сохранённый под ключом клиента.
type IdempotencyRecord struct {
	Key          string
	RequestHash  string
	ResponseBody []byte
	HTTPStatus   int
	Status       IdempotencyStatus
	TTLAt        time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Replayable — ответ уже сохранён и отдаётся повтору без повторного создания заказа.
func (r IdempotencyRecord) Replayable() bool {
	return r.Status == IdempotencyStatusDone || r.Status == IdempotencyStatusFailed
}

// Expired — ключ можно переиспользовать и удалить при очистке.
func (r IdempotencyRecord) Expired(now time.Time) bool {
	return !r.TTLAt.After(now)
}
