package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.NoError(t, Config{Exporter: "STDOUT", SampleRatio: 0.5}.Validate())
	assert.Error(t, Config{Exporter: "jaeger", SampleRatio: 1}.Validate())
	assert.Error(t, Config{Exporter: ExporterNone, SampleRatio: 2}.Validate())
}

func TestSetupStdoutExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := Setup(context.Background(), Config{Exporter: ExporterStdout, SampleRatio: 1, Output: &buf}, "orders-test", "dev")
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "orders.create")
	span.End()

	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), "orders.create")
	assert.Contains(t, buf.String(), "orders-test")
}

func TestSetupRejectsInvalidConfig(t *testing.T) {
	_, err := Setup(context.Background(), Config{Exporter: "zipkin"}, "orders", "dev")
	assert.Error(t, err)
}
