// Package app собирает сервис заказов: хранилища, сервисы, HTTP/gRPC-серверы и фоновые воркеры.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	healthcheck "github.com/vladislavdragonenkov/autoparts/internal/health"
	"github.com/vladislavdragonenkov/autoparts/internal/metrics"
	"github.com/vladislavdragonenkov/autoparts/internal/service/catalog"
	"github.com/vladislavdragonenkov/autoparts/internal/service/idempotency"
	"github.com/vladislavdragonenkov/autoparts/internal/service/orders"
	"github.com/vladislavdragonenkov/autoparts/internal/service/outbox"
	"github.com/vladislavdragonenkov/autoparts/internal/service/payment"
	"github.com/vladislavdragonenkov/autoparts/internal/service/pricing"
	"github.com/vladislavdragonenkov/autoparts/internal/tracing"
	"github.com/vladislavdragonenkov/autoparts/internal/transport/httpapi"
	"github.com/vladislavdragonenkov/autoparts/internal/version"
)

const (
	shutdownTimeout     = 5 * time.Second
	breakerMaxFailures  = 5
	breakerResetTimeout = 30 * time.Second
)

// Run поднимает сервис и блокируется до отмены ctx или падения одного из серверов.
// При отмене ctx возвращает ctx.Err().
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing, version.Service, version.Version())
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.WithError(err).Warn("tracer shutdown failed")
		}
	}()

	deps, err := initRuntimeDependencies(ctx, cfg, logger.WithField("layer", "storage"))
	if err != nil {
		return err
	}
	defer func() {
		if err := deps.Close(context.Background()); err != nil {
			logger.WithError(err).Warn("storage close failed")
		}
	}()

	publishers := initKafka(cfg.KafkaBrokers, cfg.KafkaTopic, logger.WithField("layer", "kafka"))
	defer closeKafka(publishers.producer, logger)

	orderService, err := newOrderService(cfg, deps)
	if err != nil {
		return err
	}
	catalogService := catalog.NewService(deps.catalog, log.WithField("component", "catalog"))
	guard := idempotency.NewGuard(deps.idempotencyRepo,
		idempotency.WithTTL(cfg.IdempotencyTTL),
		idempotency.WithGuardLogger(log.WithField("component", "idempotency")),
	)
	api := httpapi.NewHandler(orderService, catalogService,
		httpapi.WithLogger(log.WithField("component", "http")),
		httpapi.WithIdempotency(guard),
	)

	healthHandler := healthcheck.NewHandler(version.Service, version.Version())
	for name, checker := range deps.checkers {
		healthHandler.RegisterChecker(name, checker)
	}

	grpcServer, grpcHealth := newGRPCServer(logger)

	httpLis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen http %s: %w", cfg.HTTPAddr, err)
	}
	metricsLis, err := net.Listen("tcp", cfg.MetricsAddr)
	if err != nil {
		_ = httpLis.Close()
		return fmt.Errorf("listen metrics %s: %w", cfg.MetricsAddr, err)
	}
	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		_ = httpLis.Close()
		_ = metricsLis.Close()
		return fmt.Errorf("listen grpc %s: %w", cfg.GRPCAddr, err)
	}

	apiSrv := &http.Server{Handler: api.Router(), ReadHeaderTimeout: 5 * time.Second}
	metricsSrv := &http.Server{Handler: newMetricsMux(healthHandler), ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("HTTP API слушает %s", httpLis.Addr())
		return serveHTTP(apiSrv, httpLis)
	})
	g.Go(func() error {
		logger.Infof("метрики доступны по адресу %s/metrics", metricsLis.Addr())
		return serveHTTP(metricsSrv, metricsLis)
	})
	g.Go(func() error {
		logger.Infof("gRPC health слушает %s", grpcLis.Addr())
		if err := grpcServer.Serve(grpcLis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		runWorkers(gctx, cfg, deps, publishers)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("получен сигнал остановки, останавливаем серверы")
		grpcHealth.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		shutdownHTTP(apiSrv, logger)
		shutdownHTTP(metricsSrv, logger)
		stopGRPC(grpcServer, logger)
		return nil
	})

	err = g.Wait()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

func newOrderService(cfg Config, deps *runtimeDependencies) (*orders.Service, error) {
	gatewayLogger := log.WithField("component", "payment-gateway")
	gateway := payment.NewBreakerGateway(
		payment.NewGateway(cfg.Payment, payment.WithLogger(gatewayLogger)),
		payment.NewCircuitBreaker(breakerMaxFailures, breakerResetTimeout, gatewayLogger),
	)
	return orders.NewService(orders.Dependencies{
		Orders:   deps.repo,
		Catalog:  deps.catalog,
		Tax:      pricing.NewTaxProvider(cfg.Pricing),
		Shipping: pricing.NewShippingPolicy(cfg.Pricing),
		Payments: gateway,
		Timeline: deps.timelineRepo,
		Outbox:   deps.outboxRepo,
	},
		orders.WithLogger(log.WithField("component", "orders")),
		orders.WithMetrics(metrics.NewOrderMetrics(prometheus.DefaultRegisterer)),
		orders.WithPaymentRetry(cfg.PaymentRetry),
	)
}

// runWorkers держит outbox- и cleanup-воркеры до отмены ctx.
// Без Kafka outbox-воркер не запускается: сообщения остаются pending.
func runWorkers(ctx context.Context, cfg Config, deps *runtimeDependencies, publishers eventPublishers) {
	var g errgroup.Group
	if publishers.events != nil {
		worker := outbox.NewWorker(deps.outboxRepo, publishers.events,
			outbox.WithLogger(log.WithField("component", "outbox-worker")),
			outbox.WithMetrics(metrics.NewOutboxMetrics(prometheus.DefaultRegisterer)),
			outbox.WithDLQPublisher(publishers.dlq),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
			outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
			outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
		)
		g.Go(func() error {
			worker.Run(ctx)
			return nil
		})
	}
	cleanup := idempotency.NewSweeper(deps.idempotencyRepo,
		idempotency.WithSweepLogger(log.WithField("component", "idempotency-sweeper")),
		idempotency.WithSweepMetrics(metrics.NewCleanupMetrics(prometheus.DefaultRegisterer)),
		idempotency.WithSweepInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithSweepBatchSize(cfg.IdempotencyCleanupBatchSize),
	)
	g.Go(func() error {
		cleanup.Run(ctx)
		return nil
	})
	_ = g.Wait()
}

// newGRPCServer поднимает gRPC-порт только с health и reflection для проб оркестратора.
func newGRPCServer(logger *log.Entry) (*grpc.Server, *health.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok2 := are.ExistingCollector.(*promgrpc.ServerMetrics); ok2 {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	server := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(grpcMetrics.StreamServerInterceptor()),
	)
	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(version.Service, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthServer)
	reflection.Register(server)
	grpcMetrics.InitializeMetrics(server)
	return server, healthServer
}

func newMetricsMux(healthHandler *healthcheck.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	return mux
}

func serveHTTP(srv *http.Server, lis net.Listener) error {
	if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}

func stopGRPC(server *grpc.Server, logger *log.Entry) {
	stopped := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(shutdownTimeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		server.Stop()
	}
}
