package tracing

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/phrazzld/taskpump"

var (
	mu       sync.Mutex
	provider *sdktrace.TracerProvider
	output   io.Closer
)

// Init installs a global tracer provider exporting to outputFile, or to
// stdout when outputFile is empty. It does nothing while a provider installed
// by an earlier call is still running.
func Init(serviceName, serviceVersion, outputFile string) error {
	mu.Lock()
	defer mu.Unlock()
	if provider != nil {
		return nil
	}

	var w io.Writer = os.Stdout
	var closer io.Closer
	if outputFile != "" {
		f, err := os.Create(outputFile)
		if err != nil {
			return err
		}
		w, closer = f, f
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err == nil {
		err = install(serviceName, serviceVersion, exporter)
	}
	if err != nil {
		if closer != nil {
			_ = closer.Close()
		}
		return err
	}
	output = closer
	return nil
}

// InitWithExporter installs a global tracer provider backed by exporter.
func InitWithExporter(serviceName, serviceVersion string, exporter sdktrace.SpanExporter) error {
	if exporter == nil {
		return nil
	}
	mu.Lock()
	defer mu.Unlock()
	if provider != nil {
		return nil
	}
	return install(serviceName, serviceVersion, exporter)
}

func install(serviceName, serviceVersion string, exporter sdktrace.SpanExporter) error {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			attribute.String("service.name", serviceName),
			attribute.String("service.version", serviceVersion),
		),
	)
	if err != nil {
		return err
	}

	provider = sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	return nil
}

// Shutdown flushes and stops the installed provider and closes its output
// file. Init may be called again afterwards.
func Shutdown(ctx context.Context) error {
	mu.Lock()
	defer mu.Unlock()
	if provider == nil {
		return nil
	}
	err := provider.Shutdown(ctx)
	provider = nil
	if output != nil {
		err = errors.Join(err, output.Close())
		output = nil
	}
	return err
}

// Span wraps an OpenTelemetry span.
type Span struct {
	span trace.Span
}

// StartSpan starts an internal span named name as a child of ctx.
func StartSpan(ctx context.Context, name string) (context.Context, *Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, name, trace.WithSpanKind(trace.SpanKindInternal))
	return ctx, &Span{span: span}
}

// SetInt records an integer attribute.
func (s *Span) SetInt(key string, v int64) {
	if s == nil {
		return
	}
	s.span.SetAttributes(attribute.Int64(key, v))
}

// SetString records a string attribute.
func (s *Span) SetString(key, v string) {
	if s == nil {
		return
	}
	s.span.SetAttributes(attribute.String(key, v))
}

// TraceID returns the hex trace id of the span, or "" when no tracer
// provider is recording.
func (s *Span) TraceID() string {
	if s == nil {
		return ""
	}
	sc := s.span.SpanContext()
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// End records err (if any) as the span status and ends the span.
func (s *Span) End(err error) {
	if s == nil {
		return
	}
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	} else {
		s.span.SetStatus(codes.Ok, "")
	}
	s.span.End()
}
