// Package tracing настраивает глобальный OpenTelemetry TracerProvider.
//
//	shutdown, err := tracing.Setup(ctx, cfg, version.Service, version.Version())
//	if err != nil { ... }
//	defer shutdown(context.Background())
package tracing

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const (
	// ExporterNone — спаны создаются, но никуда не экспортируются.
	ExporterNone = "none"
	// ExporterStdout — спаны пишутся JSON-строками в Output (по умолчанию stderr).
	ExporterStdout = "stdout"
)

// Config — настройки трассировки.
type Config struct {
	Exporter    string  `yaml:"exporter"`
	SampleRatio float64 `yaml:"sample_ratio"`
	// Output переопределяет поток stdout-экспортёра (тесты).
	Output io.Writer `yaml:"-"`
}

// DefaultConfig — трассировка выключена, сэмплируется всё.
func DefaultConfig() Config {
	return Config{Exporter: ExporterNone, SampleRatio: 1}
}

// Validate проверяет экспортёр и долю сэмплирования.
func (c Config) Validate() error {
	switch strings.ToLower(c.Exporter) {
	case "", ExporterNone, ExporterStdout:
	default:
		return fmt.Errorf("unknown trace exporter %q", c.Exporter)
	}
	if c.SampleRatio < 0 || c.SampleRatio > 1 {
		return fmt.Errorf("trace sample ratio must be in [0, 1], got %v", c.SampleRatio)
	}
	return nil
}

// ShutdownFunc сбрасывает буферизованные спаны и закрывает экспортёр.
type ShutdownFunc func(ctx context.Context) error

// Setup регистрирует глобальные TracerProvider и TextMapPropagator.
func Setup(_ context.Context, cfg Config, serviceName, serviceVersion string) (ShutdownFunc, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			"",
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build trace resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	}
	if strings.EqualFold(cfg.Exporter, ExporterStdout) {
		out := cfg.Output
		if out == nil {
			out = os.Stderr
		}
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(out))
		if err != nil {
			return nil, fmt.Errorf("create stdout trace exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp.Shutdown, nil
}
