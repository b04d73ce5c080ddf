// Package httpapi — REST-поверхность сервиса заказов на chi.
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/autoparts/internal/service/catalog"
	"github.com/vladislavdragonenkov/autoparts/internal/service/idempotency"
	"github.com/vladislavdragonenkov/autoparts/internal/service/orders"
)

// Handler держит сервисы, которые обслуживают HTTP-маршруты.
type Handler struct {
	orders  *orders.Service
	catalog *catalog.Service
	guard   *idempotency.Guard
	logger  *log.Entry
}

// Option настраивает Handler.
type Option func(*Handler)

// WithLogger задаёт логгер обработчиков.
func WithLogger(logger *log.Entry) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithIdempotency включает Idempotency-Key для POST /api/orders.
func WithIdempotency(guard *idempotency.Guard) Option {
	return func(h *Handler) { h.guard = guard }
}

// NewHandler создаёт набор обработчиков.
func NewHandler(orderService *orders.Service, catalogService *catalog.Service, opts ...Option) *Handler {
	h := &Handler{
		orders:  orderService,
		catalog: catalogService,
		logger:  log.WithField("component", "http"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Router собирает chi-маршрутизатор со всеми маршрутами /api.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(traced)
	r.Use(requestLogger(h.logger))
	r.Use(middleware.Recoverer)
	r.Use(withActor(h.logger))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, envelope{Error: "ruta no encontrada", Code: "not_found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, envelope{Error: "método no permitido", Code: "method_not_allowed"})
	})

	r.Route("/api/orders", func(r chi.Router) {
		r.With(idempotent(h.guard, h.logger)).Post("/", h.createOrder)
		r.Get("/", h.listOrders)
		r.Get("/my-orders", h.myOrders)
		r.Get("/distributor-orders", h.distributorOrders)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.getOrder)
			r.Get("/timeline", h.orderTimeline)
			r.Put("/cancel", h.cancelOrder)
			r.Put("/status", h.updateStatus)
			r.Put("/tax", h.recalculateTax)
			r.Post("/pay", h.payOrder)
		})
	})

	r.Route("/api/products", func(r chi.Router) {
		r.Post("/", h.createProduct)
		r.Get("/{ref}", h.getProduct)
		r.Patch("/{id}", h.updateProduct)
	})
	return r
}
