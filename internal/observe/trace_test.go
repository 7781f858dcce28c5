package observe

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// useRecorder installs an in-memory tracer provider as the global one for the
// duration of the test. Tests calling it must not run in parallel.
func useRecorder(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// logLine writes one record through LoggerFrom(ctx, ...) and decodes it.
func logLine(t *testing.T, ctx context.Context) map[string]any {
	t.Helper()
	var buf bytes.Buffer
	LoggerFrom(ctx, slog.New(slog.NewJSONHandler(&buf, nil))).Info("probe")
	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	return rec
}

func TestSessionID_RoundTrip(t *testing.T) {
	t.Parallel()
	if got := SessionID(context.Background()); got != "" {
		t.Errorf("SessionID(background) = %q, want empty", got)
	}
	ctx := WithSession(context.Background(), "abc")
	if got := SessionID(ctx); got != "abc" {
		t.Errorf("SessionID = %q, want abc", got)
	}
}

func TestStartSpan_TagsSession(t *testing.T) {
	exp := useRecorder(t)

	ctx := WithSession(context.Background(), "s-1")
	_, span := StartSpan(ctx, "session.activate", attribute.String("provider", "mock"))
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	got := map[attribute.Key]string{}
	for _, kv := range spans[0].Attributes {
		got[kv.Key] = kv.Value.Emit()
	}
	if got["session.id"] != "s-1" {
		t.Errorf("session.id = %q, want s-1", got["session.id"])
	}
	if got["provider"] != "mock" {
		t.Errorf("provider = %q, want mock", got["provider"])
	}
}

func TestStartSpan_NoSessionNoAttribute(t *testing.T) {
	exp := useRecorder(t)

	ctx, span := StartSpan(context.Background(), "plain")
	if CorrelationID(ctx) == "" {
		t.Error("span has no trace id")
	}
	span.End()

	for _, kv := range exp.GetSpans()[0].Attributes {
		if kv.Key == "session.id" {
			t.Errorf("unexpected session.id attribute %q", kv.Value.Emit())
		}
	}
}

func TestCorrelationID(t *testing.T) {
	useRecorder(t)

	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID(background) = %q, want empty", got)
	}

	a, sa := StartSpan(context.Background(), "a")
	b, sb := StartSpan(context.Background(), "b")
	defer sa.End()
	defer sb.End()

	ida, idb := CorrelationID(a), CorrelationID(b)
	if len(ida) != 32 {
		t.Errorf("len(CorrelationID) = %d, want 32", len(ida))
	}
	if ida == idb {
		t.Error("independent root spans share a trace id")
	}
}

func TestLoggerFrom_Attributes(t *testing.T) {
	useRecorder(t)

	spanCtx, span := StartSpan(context.Background(), "op")
	defer span.End()

	tests := []struct {
		name        string
		ctx         context.Context
		wantSession bool
		wantTrace   bool
	}{
		{name: "bare", ctx: context.Background()},
		{name: "session only", ctx: WithSession(context.Background(), "s-2"), wantSession: true},
		{name: "span only", ctx: spanCtx, wantTrace: true},
		{name: "session and span", ctx: WithSession(spanCtx, "s-2"), wantSession: true, wantTrace: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := logLine(t, tt.ctx)
			if _, ok := rec["session_id"]; ok != tt.wantSession {
				t.Errorf("session_id present = %v, want %v", ok, tt.wantSession)
			}
			if _, ok := rec["trace_id"]; ok != tt.wantTrace {
				t.Errorf("trace_id present = %v, want %v", ok, tt.wantTrace)
			}
			if _, ok := rec["span_id"]; ok != tt.wantTrace {
				t.Errorf("span_id present = %v, want %v", ok, tt.wantTrace)
			}
		})
	}
}

func TestLoggerFrom_NilBase(t *testing.T) {
	t.Parallel()
	if LoggerFrom(context.Background(), nil) == nil {
		t.Fatal("LoggerFrom(nil base) returned nil")
	}
}
