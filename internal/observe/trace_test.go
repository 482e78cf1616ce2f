package observe

import (
	"bytes"
	"context"
	"encoding/hex"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// useTracer installs an in-memory tracer provider as the global one for the
// duration of the test.
func useTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// captureDefault routes slog.Default into a buffer for the test.
func captureDefault(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

func TestCorrelationID(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID without span = %q, want empty", got)
	}

	useTracer(t)
	ctx, span := StartSpan(context.Background(), "queue.attempt")
	defer span.End()

	cid := CorrelationID(ctx)
	if len(cid) != 32 {
		t.Fatalf("CorrelationID length = %d, want 32", len(cid))
	}
	if _, err := hex.DecodeString(cid); err != nil {
		t.Errorf("CorrelationID %q is not hex: %v", cid, err)
	}
	if cid != span.SpanContext().TraceID().String() {
		t.Errorf("CorrelationID = %q, want the span's trace id", cid)
	}
}

func TestStartSpan_UsesGlobalProvider(t *testing.T) {
	exp := useTracer(t)

	ctx, parent := StartSpan(context.Background(), "session.Update")
	_, child := StartSpan(ctx, "notegen.Generate")
	child.End()
	parent.End()

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("recorded %d spans, want 2", len(spans))
	}
	// Spans are exported in End order.
	if spans[0].Name != "notegen.Generate" || spans[1].Name != "session.Update" {
		t.Errorf("span names = %q, %q", spans[0].Name, spans[1].Name)
	}
	if spans[0].Parent.SpanID() != spans[1].SpanContext.SpanID() {
		t.Error("child span is not parented to the outer span")
	}
	if spans[0].InstrumentationScope.Name != tracerName {
		t.Errorf("scope = %q, want %q", spans[0].InstrumentationScope.Name, tracerName)
	}
}

func TestLogger_KeepsBase(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil)).With("component", "queue")

	useTracer(t)
	ctx, span := StartSpan(context.Background(), "attempt")
	defer span.End()

	Logger(ctx, base).Info("retrying")
	out := buf.String()
	if !strings.Contains(out, `"component":"queue"`) || !strings.Contains(out, `"trace_id"`) {
		t.Errorf("log output = %s", out)
	}
}

func TestLogger(t *testing.T) {
	buf := captureDefault(t)

	Logger(context.Background(), nil).Info("no span")
	if strings.Contains(buf.String(), "trace_id") {
		t.Errorf("log without span carries trace_id: %s", buf)
	}
	buf.Reset()

	useTracer(t)
	ctx, span := StartSpan(context.Background(), "batch")
	defer span.End()

	Logger(ctx, nil).With("note_id", "n-1").Info("batch emitted")
	out := buf.String()
	for _, want := range []string{
		"trace_id=" + span.SpanContext().TraceID().String(),
		"span_id=" + span.SpanContext().SpanID().String(),
		"note_id=n-1",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q: %s", want, out)
		}
	}
}
