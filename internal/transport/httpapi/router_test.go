package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/autoparts/internal/domain"
	"github.com/vladislavdragonenkov/autoparts/internal/metrics"
	"github.com/vladislavdragonenkov/autoparts/internal/service/catalog"
	"github.com/vladislavdragonenkov/autoparts/internal/service/idempotency"
	"github.com/vladislavdragonenkov/autoparts/internal/service/orders"
	"github.com/vladislavdragonenkov/autoparts/internal/service/payment"
	"github.com/vladislavdragonenkov/autoparts/internal/service/pricing"
	"github.com/vladislavdragonenkov/autoparts/internal/storage/memory"
)

type decodedEnvelope struct {
	Success    bool            `json:"success"`
	Data       json.RawMessage `json:"data"`
	Error      string          `json:"error"`
	Code       string          `json:"code"`
	Count      *int            `json:"count"`
	Pagination *pagination     `json:"pagination"`
}

type RouterSuite struct {
	suite.Suite

	store   domain.CatalogStore
	gateway *payment.Gateway
	router  http.Handler
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
	wholesale := int64(20000)
	s.store = memory.NewCatalogStore(
		domain.Product{ID: "p-brake", Slug: "pastillas-freno", Name: "Pastillas de freno", SKU: "BRK-1", Price: 25000, WholesalePrice: &wholesale, StockQuantity: 10},
	)
	s.gateway = payment.NewGateway(payment.Config{})
	s.router = s.newRouter(s.gateway)
}

func (s *RouterSuite) newRouter(gateway domain.PaymentGateway) http.Handler {
	logger, _ := test.NewNullLogger()
	entry := log.NewEntry(logger)

	cfg := pricing.DefaultConfig()
	orderService, err := orders.NewService(orders.Dependencies{
		Orders:   memory.NewOrderRepository(),
		Catalog:  s.store,
		Tax:      pricing.NewTaxProvider(cfg),
		Shipping: pricing.NewShippingPolicy(cfg),
		Payments: gateway,
		Timeline: memory.NewTimelineRepository(),
		Outbox:   memory.NewOutboxRepository(),
	},
		orders.WithLogger(entry),
		orders.WithMetrics(metrics.NewOrderMetrics(prometheus.NewRegistry())),
		orders.WithPaymentRetry(payment.RetryConfig{MaxAttempts: 1, BackoffFactor: 1}),
	)
	s.Require().NoError(err)

	guard := idempotency.NewGuard(memory.NewIdempotencyRepository(), idempotency.WithGuardLogger(entry))
	return NewHandler(orderService, catalog.NewService(s.store, entry), WithLogger(entry), WithIdempotency(guard)).Router()
}

func (s *RouterSuite) do(method, path, userID, role string, body any, headers ...string) (*httptest.ResponseRecorder, decodedEnvelope) {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set(HeaderUserID, userID)
	}
	if role != "" {
		req.Header.Set(HeaderUserRole, role)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var env decodedEnvelope
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

func (s *RouterSuite) decodeOrder(env decodedEnvelope) orderResponse {
	var order orderResponse
	s.Require().NoError(json.Unmarshal(env.Data, &order))
	return order
}

func deliveryRequest(qty int) map[string]any {
	return map[string]any{
		"orderItems": []map[string]any{{"product": "pastillas-freno", "quantity": qty}},
		"fulfillment": map[string]any{
			"method": "delivery",
			"shippingAddress": map[string]string{
				"street": "Los Aromos 45", "city": "Santiago", "state": "RM", "postalCode": "8320000", "country": "CL",
			},
		},
		"paymentMethod": "webpay",
	}
}

func (s *RouterSuite) createOrder(userID, role string, qty int) orderResponse {
	rec, env := s.do(http.MethodPost, "/api/orders", userID, role, deliveryRequest(qty))
	s.Require().Equal(http.StatusCreated, rec.Code, env.Error)
	s.Require().True(env.Success)
	return s.decodeOrder(env)
}

func (s *RouterSuite) stock() int {
	product, err := s.store.FindByID(s.T().Context(), "p-brake")
	s.Require().NoError(err)
	return product.StockQuantity
}

func (s *RouterSuite) TestCreateOrder() {
	order := s.createOrder("u-1", "client", 1)

	s.Equal("u-1", order.User)
	s.Equal("pending", order.Status)
	s.Equal("B2C", order.OrderType)
	s.Equal(int64(25000), order.ItemsPrice)
	s.Equal(int64(4750), order.TaxPrice)
	s.Equal(int64(5000), order.ShippingPrice)
	s.Equal(int64(34750), order.TotalPrice)
	s.Equal(float64(19), order.AppliedTaxRate)
	s.Require().Len(order.OrderItems, 1)
	s.Equal("p-brake", order.OrderItems[0].Product)
	s.Equal(9, s.stock())
}

func (s *RouterSuite) TestCreateOrderValidation() {
	cases := map[string]struct {
		body any
		code string
		want int
	}{
		"empty items": {
			body: map[string]any{"orderItems": []any{}, "fulfillment": map[string]any{"method": "pickup"}},
			code: string(domain.KindValidation), want: http.StatusBadRequest,
		},
		"insufficient stock": {
			body: deliveryRequest(11),
			code: string(domain.KindStockInsufficient), want: http.StatusBadRequest,
		},
		"malformed json": {
			body: "not-an-object",
			code: string(domain.KindValidation), want: http.StatusBadRequest,
		},
	}
	for name, tc := range cases {
		s.Run(name, func() {
			rec, env := s.do(http.MethodPost, "/api/orders", "u-1", "client", tc.body)
			s.Equal(tc.want, rec.Code)
			s.False(env.Success)
			s.Equal(tc.code, env.Code)
			s.NotEmpty(env.Error)
		})
	}
	s.Equal(10, s.stock())
}

func (s *RouterSuite) TestAnonymousAndInvalidRole() {
	rec, env := s.do(http.MethodPost, "/api/orders", "", "", deliveryRequest(1))
	s.Equal(http.StatusUnauthorized, rec.Code)
	s.Equal(string(domain.KindUnauthorized), env.Code)

	rec, _ = s.do(http.MethodGet, "/api/orders/my-orders", "u-1", "superuser", nil)
	s.Equal(http.StatusUnauthorized, rec.Code)
}

func (s *RouterSuite) TestGetOrderAccess() {
	order := s.createOrder("u-1", "client", 1)

	rec, env := s.do(http.MethodGet, "/api/orders/"+order.ID, "u-1", "client", nil)
	s.Equal(http.StatusOK, rec.Code)
	s.Equal(order.ID, s.decodeOrder(env).ID)

	rec, _ = s.do(http.MethodGet, "/api/orders/"+order.ID, "u-2", "client", nil)
	s.Equal(http.StatusUnauthorized, rec.Code)

	rec, _ = s.do(http.MethodGet, "/api/orders/"+order.ID, "admin-1", "admin", nil)
	s.Equal(http.StatusOK, rec.Code)

	rec, env = s.do(http.MethodGet, "/api/orders/missing", "admin-1", "admin", nil)
	s.Equal(http.StatusNotFound, rec.Code)
	s.Equal(string(domain.KindNotFound), env.Code)
}

func (s *RouterSuite) TestCancelRestoresStockAndIsNotRepeatable() {
	order := s.createOrder("u-1", "client", 3)
	s.Equal(7, s.stock())

	rec, env := s.do(http.MethodPut, "/api/orders/"+order.ID+"/cancel", "u-1", "client", map[string]string{"reason": "cambio de opinión"})
	s.Require().Equal(http.StatusOK, rec.Code, env.Error)
	s.Equal("cancelled", s.decodeOrder(env).Status)
	s.Equal(10, s.stock())

	rec, env = s.do(http.MethodPut, "/api/orders/"+order.ID+"/cancel", "u-1", "client", nil)
	s.Equal(http.StatusBadRequest, rec.Code)
	s.Equal(string(domain.KindIllegalTransition), env.Code)
	s.Equal(10, s.stock())
}

func (s *RouterSuite) TestStatusUpdateRequiresAdmin() {
	order := s.createOrder("u-1", "client", 1)

	rec, _ := s.do(http.MethodPut, "/api/orders/"+order.ID+"/status", "u-1", "client", map[string]string{"status": "processing"})
	s.Equal(http.StatusForbidden, rec.Code)

	rec, env := s.do(http.MethodPut, "/api/orders/"+order.ID+"/status", "admin-1", "admin", map[string]string{"status": "processing"})
	s.Require().Equal(http.StatusOK, rec.Code, env.Error)
	s.Equal("processing", s.decodeOrder(env).Status)

	rec, env = s.do(http.MethodPut, "/api/orders/"+order.ID+"/status", "admin-1", "admin", map[string]string{"status": "ready_for_pickup"})
	s.Equal(http.StatusBadRequest, rec.Code)
	s.Equal(string(domain.KindIllegalTransition), env.Code)

	rec, env = s.do(http.MethodPut, "/api/orders/"+order.ID+"/status", "admin-1", "admin", map[string]string{"status": "lost"})
	s.Equal(http.StatusBadRequest, rec.Code)
	s.Equal(string(domain.KindValidation), env.Code)
}

func (s *RouterSuite) TestRecalculateTax() {
	order := s.createOrder("u-1", "client", 1)

	rec, env := s.do(http.MethodPut, "/api/orders/"+order.ID+"/tax", "admin-1", "admin", map[string]float64{"taxRate": 10})
	s.Require().Equal(http.StatusOK, rec.Code, env.Error)

	var report taxReportResponse
	s.Require().NoError(json.Unmarshal(env.Data, &report))
	s.Equal(float64(19), report.PreviousTaxRate)
	s.Equal(float64(10), report.NewTaxRate)
	s.Equal(int64(4750), report.PreviousTaxPrice)
	s.Equal(int64(2500), report.NewTaxPrice)
	s.Equal("admin-1", report.RecalculatedBy)

	rec, env = s.do(http.MethodGet, "/api/orders/"+order.ID, "admin-1", "admin", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	updated := s.decodeOrder(env)
	s.Equal(int64(32500), updated.TotalPrice)
	s.Equal(float64(19), updated.AppliedTaxRate)
	s.True(updated.TaxRecalculated)

	rec, _ = s.do(http.MethodPut, "/api/orders/"+order.ID+"/tax", "admin-1", "admin", map[string]float64{"taxRate": 150})
	s.Equal(http.StatusBadRequest, rec.Code)

	rec, _ = s.do(http.MethodPut, "/api/orders/"+order.ID+"/tax", "admin-1", "admin", map[string]any{})
	s.Equal(http.StatusBadRequest, rec.Code)

	rec, _ = s.do(http.MethodPut, "/api/orders/"+order.ID+"/tax", "u-1", "client", map[string]float64{"taxRate": 5})
	s.Equal(http.StatusForbidden, rec.Code)
}

func (s *RouterSuite) TestListsAndPagination() {
	for i := 0; i < 3; i++ {
		s.createOrder("u-1", "client", 1)
	}
	s.createOrder("d-1", "distributor", 1)

	rec, env := s.do(http.MethodGet, "/api/orders/my-orders", "u-1", "client", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Require().NotNil(env.Count)
	s.Equal(3, *env.Count)

	rec, env = s.do(http.MethodGet, "/api/orders?page=2&limit=2", "admin-1", "admin", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	s.Require().NotNil(env.Pagination)
	s.Equal(pagination{Page: 2, Limit: 2, Total: 4, Pages: 2}, *env.Pagination)
	s.Equal(2, *env.Count)

	rec, _ = s.do(http.MethodGet, "/api/orders?page=abc", "admin-1", "admin", nil)
	s.Equal(http.StatusBadRequest, rec.Code)

	rec, _ = s.do(http.MethodGet, "/api/orders", "u-1", "client", nil)
	s.Equal(http.StatusForbidden, rec.Code)

	rec, _ = s.do(http.MethodGet, "/api/orders/distributor-orders", "u-1", "client", nil)
	s.Equal(http.StatusForbidden, rec.Code)
}

func (s *RouterSuite) TestTimeline() {
	order := s.createOrder("u-1", "client", 1)
	_, _ = s.do(http.MethodPut, "/api/orders/"+order.ID+"/cancel", "u-1", "client", nil)

	rec, env := s.do(http.MethodGet, "/api/orders/"+order.ID+"/timeline", "u-1", "client", nil)
	s.Require().Equal(http.StatusOK, rec.Code)

	var events []timelineEventResponse
	s.Require().NoError(json.Unmarshal(env.Data, &events))
	s.Require().Len(events, 2)
	s.Equal(domain.TimelineOrderCreated, events[0].Type)
	s.Equal(domain.TimelineOrderCancelled, events[1].Type)
}

func (s *RouterSuite) TestPayApproved() {
	order := s.createOrder("u-1", "client", 1)

	rec, env := s.do(http.MethodPost, "/api/orders/"+order.ID+"/pay", "u-1", "client", nil)
	s.Require().Equal(http.StatusOK, rec.Code, env.Error)
	paid := s.decodeOrder(env)
	s.True(paid.IsPaid)
	s.NotNil(paid.PaidAt)
	s.Require().Len(paid.PaymentResults, 1)
	s.True(paid.PaymentResults[0].Approved)

	rec, env = s.do(http.MethodPost, "/api/orders/"+order.ID+"/pay", "u-1", "client", nil)
	s.Equal(http.StatusConflict, rec.Code)
	s.Equal(string(domain.KindConflict), env.Code)
}

func (s *RouterSuite) TestPayDeclined() {
	s.router = s.newRouter(payment.NewGateway(payment.Config{DeclineRate: 1}))
	order := s.createOrder("u-1", "client", 1)

	rec, env := s.do(http.MethodPost, "/api/orders/"+order.ID+"/pay", "u-1", "client", nil)
	s.Equal(http.StatusPaymentRequired, rec.Code)
	s.False(env.Success)
	s.Equal(codePaymentDeclined, env.Code)
	declined := s.decodeOrder(env)
	s.False(declined.IsPaid)
	s.Require().Len(declined.PaymentResults, 1)
	s.False(declined.PaymentResults[0].Approved)
}

func (s *RouterSuite) TestIdempotentCreate() {
	body := deliveryRequest(2)

	first, firstEnv := s.do(http.MethodPost, "/api/orders", "u-1", "client", body, HeaderIdempotencyKey, "key-1")
	s.Require().Equal(http.StatusCreated, first.Code, firstEnv.Error)

	second, secondEnv := s.do(http.MethodPost, "/api/orders", "u-1", "client", body, HeaderIdempotencyKey, "key-1")
	s.Equal(http.StatusCreated, second.Code)
	s.Equal("true", second.Header().Get(HeaderReplayed))
	s.Equal(s.decodeOrder(firstEnv).ID, s.decodeOrder(secondEnv).ID)
	s.Equal(8, s.stock())

	conflict, env := s.do(http.MethodPost, "/api/orders", "u-1", "client", deliveryRequest(1), HeaderIdempotencyKey, "key-1")
	s.Equal(http.StatusConflict, conflict.Code)
	s.Equal(string(domain.KindConflict), env.Code)
	s.Equal(8, s.stock())
}

func TestIdempotentPanicMarksKeyFailed(t *testing.T) {
	logger, _ := test.NewNullLogger()
	entry := log.NewEntry(logger)
	repo := memory.NewIdempotencyRepository()
	guard := idempotency.NewGuard(repo, idempotency.WithGuardLogger(entry))

	calls := 0
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.With(idempotent(guard, entry)).Post("/api/orders", func(http.ResponseWriter, *http.Request) {
		calls++
		panic("nil map write")
	})

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/orders", bytes.NewBufferString(`{"orderItems":[]}`))
		req.Header.Set(HeaderIdempotencyKey, "key-panic")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	first := send()
	require.Equal(t, http.StatusInternalServerError, first.Code)

	record, err := repo.Get(context.Background(), "key-panic")
	require.NoError(t, err)
	assert.Equal(t, domain.IdempotencyStatusFailed, record.Status)
	assert.Equal(t, http.StatusInternalServerError, record.HTTPStatus)

	retry := send()
	assert.Equal(t, http.StatusInternalServerError, retry.Code)
	assert.Equal(t, "true", retry.Header().Get(HeaderReplayed))
	var env decodedEnvelope
	require.NoError(t, json.Unmarshal(retry.Body.Bytes(), &env))
	assert.Equal(t, string(domain.KindInternal), env.Code)
	assert.Equal(t, 1, calls)
}

func (s *RouterSuite) TestProducts() {
	rec, env := s.do(http.MethodGet, "/api/products/pastillas-freno", "", "", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var product productResponse
	s.Require().NoError(json.Unmarshal(env.Data, &product))
	s.Equal("p-brake", product.ID)

	rec, _ = s.do(http.MethodPost, "/api/products", "u-1", "client", map[string]any{"name": "Filtro", "price": 5000})
	s.Equal(http.StatusForbidden, rec.Code)

	rec, env = s.do(http.MethodPost, "/api/products", "admin-1", "admin", map[string]any{
		"name": "Filtro de aire", "sku": "AIR-1", "price": 5000, "stockQuantity": 4,
	})
	s.Require().Equal(http.StatusCreated, rec.Code, env.Error)
	s.Require().NoError(json.Unmarshal(env.Data, &product))
	s.Equal("filtro-de-aire", product.Slug)

	rec, env = s.do(http.MethodPatch, "/api/products/"+product.ID, "admin-1", "admin", map[string]any{"stockQuantity": 9})
	s.Require().Equal(http.StatusOK, rec.Code, env.Error)
	s.Require().NoError(json.Unmarshal(env.Data, &product))
	s.Equal(9, product.StockQuantity)

	rec, _ = s.do(http.MethodGet, "/api/products/nope", "", "", nil)
	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *RouterSuite) TestUnknownRoute() {
	rec, env := s.do(http.MethodGet, "/api/unknown", "", "", nil)
	s.Equal(http.StatusNotFound, rec.Code)
	s.False(env.Success)
}

// Конкурентные заказы не уводят остаток в минус.
func (s *RouterSuite) TestConcurrentOrdersKeepStockNonNegative() {
	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			raw, _ := json.Marshal(deliveryRequest(3))
			req := httptest.NewRequest(http.MethodPost, "/api/orders", bytes.NewReader(raw))
			req.Header.Set(HeaderUserID, "u-1")
			rec := httptest.NewRecorder()
			s.router.ServeHTTP(rec, req)
			if rec.Code == http.StatusCreated {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	s.Equal(3, created)
	s.Equal(1, s.stock())
}

func TestStatusForKind(t *testing.T) {
	cases := map[domain.ErrorKind]int{
		domain.KindValidation:        http.StatusBadRequest,
		domain.KindStockInsufficient: http.StatusBadRequest,
		domain.KindIllegalTransition: http.StatusBadRequest,
		domain.KindUnauthorized:      http.StatusUnauthorized,
		domain.KindForbidden:         http.StatusForbidden,
		domain.KindNotFound:          http.StatusNotFound,
		domain.KindConflict:          http.StatusConflict,
		domain.KindInternal:          http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, statusForKind(kind), kind)
	}
}

func TestWriteErrorHidesInternalDetails(t *testing.T) {
	logger, hook := test.NewNullLogger()
	rec := httptest.NewRecorder()

	writeError(rec, log.NewEntry(logger), assert.AnError)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var env decodedEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, internalErrorMessage, env.Error)
	assert.Equal(t, string(domain.KindInternal), env.Code)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, log.ErrorLevel, hook.LastEntry().Level)
}
