package telemetry

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Version is reported as service.version on every span.
var Version = "dev"

// Span attribute keys.
var (
	AttrSnapshotID   = attribute.Key("excella.snapshot.id")
	AttrWorkbookID   = attribute.Key("excella.workbook.id")
	AttrPlanSteps    = attribute.Key("excella.plan.steps")
	AttrExecMode     = attribute.Key("excella.execution.mode")
	AttrRiskLevel    = attribute.Key("excella.risk.level")
	AttrValid        = attribute.Key("excella.validation.valid")
	AttrToolName     = attribute.Key("excella.tool.name")
	AttrHandleStatus = attribute.Key("excella.handle.status")
)

// TracerProvider owns the globally installed SDK provider.
type TracerProvider struct {
	sdk *sdktrace.TracerProvider
}

// NewTracerProvider installs a global provider exporting spans to w (stdout
// when nil) as indented JSON.
func NewTracerProvider(serviceName string, w io.Writer) (*TracerProvider, error) {
	var opts []stdouttrace.Option
	if w != nil {
		opts = append(opts, stdouttrace.WithWriter(w))
	}
	exp, err := stdouttrace.New(append(opts, stdouttrace.WithPrettyPrint())...)
	if err != nil {
		return nil, fmt.Errorf("stdout trace exporter: %w", err)
	}
	sdk := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", serviceName),
			attribute.String("service.version", Version),
		)),
	)
	otel.SetTracerProvider(sdk)
	return &TracerProvider{sdk: sdk}, nil
}

// Shutdown flushes buffered spans.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp == nil || tp.sdk == nil {
		return nil
	}
	return tp.sdk.Shutdown(ctx)
}

// StartSpan starts a span on the module tracer. It is a no-op until a
// provider is installed.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer("github.com/odvcencio/excella").Start(ctx, name, opts...)
}

// RecordError marks the span in ctx as failed with err.
func RecordError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
