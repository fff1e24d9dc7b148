// Package tracing installs the process TracerProvider that receives the
// pipeline spans.
package tracing

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/natefinch/lumberjack"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/xerrors"

	"github.com/khaledhikmat/traffic-go/service/config"
	"github.com/khaledhikmat/traffic-go/service/lgr"
)

const ServiceName = "traffic-controller"

// Configure sets the global TracerProvider from params. The returned function
// flushes pending spans and releases the exporter.
func Configure(params config.TraceParameters, dataFolder string) (func(context.Context) error, error) {
	var (
		w      io.Writer
		closer io.Closer
	)
	switch params.Exporter {
	case "none":
		return func(context.Context) error { return nil }, nil
	case "stdout":
		w = os.Stdout
	case "file":
		lj := &lumberjack.Logger{
			Filename:   filepath.Join(dataFolder, "traces.jsonl"),
			MaxSize:    50, // MB
			MaxBackups: 3,
			MaxAge:     7, // days
			Compress:   true,
		}
		w, closer = lj, lj
	default:
		return nil, xerrors.Errorf("unsupported trace exporter %q", params.Exporter)
	}

	exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, xerrors.Errorf("creating trace exporter: %w", err)
	}

	tp := NewProvider(exp, params.SampleRatio)
	otel.SetTracerProvider(tp)

	lgr.Logger.Info("tracing enabled",
		slog.String("exporter", params.Exporter),
		slog.Float64("sampleRatio", params.SampleRatio),
	)

	return func(ctx context.Context) error {
		err := tp.Shutdown(ctx)
		if closer != nil {
			closer.Close()
		}
		if err != nil {
			return xerrors.Errorf("shutting down tracer provider: %w", err)
		}
		return nil
	}, nil
}

// NewProvider batches sampled spans into exp. Child spans follow their
// parent's sampling decision.
func NewProvider(exp sdktrace.SpanExporter, ratio float64) *sdktrace.TracerProvider {
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", ServiceName))),
	)
}
