package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/autoparts/internal/domain"
)

const internalErrorMessage = "error interno del servidor"

// envelope — стандартный ответ API: {success, data|error, count?, pagination?}.
type envelope struct {
	Success    bool        `json:"success"`
	Data       any         `json:"data,omitempty"`
	Error      string      `json:"error,omitempty"`
	Code       string      `json:"code,omitempty"`
	Count      *int        `json:"count,omitempty"`
	Pagination *pagination `json:"pagination,omitempty"`
}

type pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

func writeList(w http.ResponseWriter, data any, count int, page *pagination) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data, Count: &count, Pagination: page})
}

// statusForKind переводит вид доменной ошибки в HTTP-статус.
func statusForKind(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindValidation, domain.KindStockInsufficient, domain.KindIllegalTransition:
		return http.StatusBadRequest
	case domain.KindUnauthorized:
		return http.StatusUnauthorized
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage возвращает текст для клиента; внутренние ошибки не раскрываются.
func publicMessage(err error, kind domain.ErrorKind) string {
	if kind == domain.KindInternal {
		return internalErrorMessage
	}
	var domainErr *domain.Error
	if errors.As(err, &domainErr) {
		if domainErr.Message != "" {
			return domainErr.Message
		}
		if domainErr.Err != nil {
			return domainErr.Err.Error()
		}
	}
	return err.Error()
}

func writeError(w http.ResponseWriter, logger *log.Entry, err error) {
	kind := domain.KindOf(err)
	status := statusForKind(kind)

	entry := logger.WithError(err).WithFields(log.Fields{"kind": kind, "status": status})
	switch {
	case status >= http.StatusInternalServerError:
		entry.Error("request failed")
	case kind == domain.KindUnauthorized || kind == domain.KindForbidden:
		entry.Debug("request rejected")
	default:
		entry.Warn("request rejected")
	}

	writeJSON(w, status, envelope{Success: false, Error: publicMessage(err, kind), Code: string(kind)})
}
