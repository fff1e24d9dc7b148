package tracing

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/khaledhikmat/traffic-go/service/config"
)

func TestNewProviderExportsSampledSpans(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := NewProvider(exp, 1)
	defer tp.Shutdown(context.Background())

	_, span := tp.Tracer("test").Start(context.Background(), "signal.phase")
	span.End()
	require.NoError(t, tp.ForceFlush(context.Background()))

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "signal.phase", spans[0].Name)
	name, ok := spans[0].Resource.Set().Value(attribute.Key("service.name"))
	require.True(t, ok)
	assert.Equal(t, ServiceName, name.AsString())
}

func TestNewProviderZeroRatioDropsSpans(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := NewProvider(exp, 0)
	defer tp.Shutdown(context.Background())

	_, span := tp.Tracer("test").Start(context.Background(), "lane.detect")
	span.End()
	require.NoError(t, tp.ForceFlush(context.Background()))

	assert.Empty(t, exp.GetSpans())
}

func TestConfigureWritesFileExporter(t *testing.T) {
	dir := t.TempDir()
	shutdown, err := Configure(config.TraceParameters{Exporter: "file", SampleRatio: 1}, dir)
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "lane.detect")
	span.End()
	require.NoError(t, shutdown(context.Background()))

	data, err := os.ReadFile(filepath.Join(dir, "traces.jsonl"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"Name":"lane.detect"`)
}

func TestConfigureNoneKeepsGlobalProvider(t *testing.T) {
	prev := otel.GetTracerProvider()

	shutdown, err := Configure(config.TraceParameters{Exporter: "none"}, t.TempDir())
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
	assert.Equal(t, prev, otel.GetTracerProvider())
}

func TestConfigureRejectsUnknownExporter(t *testing.T) {
	_, err := Configure(config.TraceParameters{Exporter: "zipkin"}, t.TempDir())
	assert.Error(t, err)
}
