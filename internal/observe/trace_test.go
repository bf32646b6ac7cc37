package observe

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newSpanRecorder(t *testing.T) (*sdktrace.TracerProvider, *tracetest.InMemoryExporter) {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return tp, exp
}

// captureLogs redirects slog.Default to a buffer for the test's duration.
func captureLogs(t *testing.T) *strings.Builder {
	t.Helper()
	var buf strings.Builder
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

func TestCorrelationID_NoSpan(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID outside a span = %q, want empty", got)
	}
}

func TestCorrelationID_IsTheTraceID(t *testing.T) {
	tp, _ := newSpanRecorder(t)

	ctx, span := tp.Tracer("test").Start(context.Background(), "session.capture")
	defer span.End()

	cid := CorrelationID(ctx)
	if len(cid) != 32 {
		t.Fatalf("CorrelationID = %q, want 32 hex chars", cid)
	}
	if strings.Trim(cid, "0123456789abcdef") != "" {
		t.Errorf("CorrelationID %q contains non-hex characters", cid)
	}
	if want := span.SpanContext().TraceID().String(); cid != want {
		t.Errorf("CorrelationID = %q, want trace ID %q", cid, want)
	}
}

func TestStartSpan_UsesGlobalProvider(t *testing.T) {
	tp, exp := newSpanRecorder(t)
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })

	ctx, span := StartSpan(context.Background(), "session.dispatch")
	if CorrelationID(ctx) == "" {
		t.Error("StartSpan produced no trace ID")
	}
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "session.dispatch" {
		t.Fatalf("recorded spans = %+v, want one named session.dispatch", spans)
	}
}

func TestLogger_EnrichedInsideSpan(t *testing.T) {
	tp, _ := newSpanRecorder(t)
	buf := captureLogs(t)

	ctx, span := tp.Tracer("test").Start(context.Background(), "playback")
	defer span.End()

	Logger(ctx).Info("sentence spoken")

	out := buf.String()
	if !strings.Contains(out, "trace_id=") || !strings.Contains(out, "span_id=") {
		t.Errorf("log line missing trace enrichment: %s", out)
	}
}

func TestLogger_PlainOutsideSpan(t *testing.T) {
	buf := captureLogs(t)

	Logger(context.Background()).Info("starting up")

	if out := buf.String(); strings.Contains(out, "trace_id") {
		t.Errorf("log line outside a span carries trace_id: %s", out)
	}
}
