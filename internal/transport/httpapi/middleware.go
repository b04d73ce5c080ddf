package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/autoparts/internal/domain"
	"github.com/vladislavdragonenkov/autoparts/internal/service/idempotency"
)

const (
	// HeaderUserID и HeaderUserRole выставляет upstream-шлюз после аутентификации.
	HeaderUserID         = "X-User-ID"
	HeaderUserRole       = "X-User-Role"
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderReplayed       = "Idempotent-Replayed"

	maxBodyBytes = 1 << 20
)

type actorKey struct{}

// withActor кладёт идентичность вызывающего в контекст. Неизвестная роль отклоняется.
func withActor(logger *log.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := domain.Actor{
				UserID: strings.TrimSpace(r.Header.Get(HeaderUserID)),
				Role:   domain.Role(strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderUserRole)))),
			}
			if actor.Role == "" {
				actor.Role = domain.RoleClient
			}
			if !actor.Role.Valid() {
				writeError(w, logger, domain.Unauthorized(domain.ErrNotAuthorized))
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
		})
	}
}

func actorFrom(ctx context.Context) domain.Actor {
	actor, _ := ctx.Value(actorKey{}).(domain.Actor)
	return actor
}

const tracerName = "github.com/vladislavdragonenkov/autoparts/internal/transport/httpapi"

// traced открывает серверный спан на запрос, продолжая входящий traceparent.
// Имя спана берётся из шаблона маршрута chi, а не из сырого пути.
func traced(next http.Handler) http.Handler {
	tracer := otel.Tracer(tracerName)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := tracer.Start(ctx, r.Method, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r.WithContext(ctx))

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		if pattern := chi.RouteContext(ctx).RoutePattern(); pattern != "" {
			span.SetName(r.Method + " " + pattern)
			span.SetAttributes(attribute.String("http.route", pattern))
		}
		span.SetAttributes(
			attribute.String("http.request.method", r.Method),
			attribute.Int("http.response.status_code", status),
		)
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	})
}

// requestLogger пишет одну строку logrus на запрос.
func requestLogger(logger *log.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			entry := logger.WithFields(log.Fields{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      status,
				"bytes":       ww.BytesWritten(),
				"duration_ms": time.Since(start).Milliseconds(),
				"request_id":  middleware.GetReqID(r.Context()),
			})
			if status >= http.StatusInternalServerError {
				entry.Error("http request")
				return
			}
			entry.Info("http request")
		})
	}
}

// idempotent оборачивает обработчик ключом Idempotency-Key. Без заголовка запрос
// выполняется как обычно; с заголовком повтор с тем же телом получает сохранённый ответ.
func idempotent(guard *idempotency.Guard, logger *log.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
			if guard == nil || key == "" {
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
			if err != nil {
				writeError(w, logger, domain.Validation(err, "cuerpo de la solicitud inválido"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			hash := idempotency.RequestHash(r.Method, r.URL.Path, actorFrom(r.Context()).UserID, body)
			stored, err := guard.Begin(r.Context(), key, hash)
			if err != nil {
				writeError(w, logger, err)
				return
			}
			if stored != nil {
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.Header().Set(HeaderReplayed, "true")
				w.WriteHeader(stored.Status)
				_, _ = w.Write(stored.Body)
				return
			}

			var captured bytes.Buffer
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Tee(&captured)
			defer func() {
				// Паника уходит в Recoverer, но ключ не должен остаться в processing.
				if rec := recover(); rec != nil {
					body, _ := json.Marshal(envelope{Success: false, Error: internalErrorMessage, Code: string(domain.KindInternal)})
					guard.Complete(context.WithoutCancel(r.Context()), key, http.StatusInternalServerError, body)
					panic(rec)
				}
			}()
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			guard.Complete(context.WithoutCancel(r.Context()), key, status, captured.Bytes())
		})
	}
}
