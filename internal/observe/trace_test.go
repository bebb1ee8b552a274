package observe

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// newTestTracerProvider returns a TracerProvider with an in-memory exporter
// for inspecting recorded spans.
func newTestTracerProvider(t *testing.T) (*sdktrace.TracerProvider, *tracetest.InMemoryExporter) {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return tp, exp
}

// captureDefaultLogger swaps the default slog logger for one writing to a
// buffer until the test ends.
func captureDefaultLogger(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

func TestCorrelationID_EmptyByDefault(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID(background) = %q, want empty", got)
	}
}

func TestStartSpan_CreatesSpan(t *testing.T) {
	tp, exp := newTestTracerProvider(t)

	origTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(origTP) })

	ctx, span := StartSpan(context.Background(), "pipeline.run")
	if CorrelationID(ctx) == "" {
		t.Error("StartSpan did not create a span with a trace ID")
	}
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "pipeline.run" {
		t.Fatalf("spans = %v, want one named pipeline.run", spans)
	}
}

func TestSessionID_RoundTrip(t *testing.T) {
	ctx := context.Background()
	if got := SessionID(ctx); got != "" {
		t.Errorf("SessionID(background) = %q, want empty", got)
	}
	if WithSessionID(ctx, "") != ctx {
		t.Error("WithSessionID with an empty id should return ctx unchanged")
	}
	ctx = WithSessionID(ctx, "abc-123")
	if got := SessionID(ctx); got != "abc-123" {
		t.Errorf("SessionID = %q, want abc-123", got)
	}
}

func TestLogger_Enrichment(t *testing.T) {
	tp, _ := newTestTracerProvider(t)

	tests := []struct {
		name    string
		ctx     func() (context.Context, func())
		want    []string
		notWant []string
	}{
		{
			name:    "plain",
			ctx:     func() (context.Context, func()) { return context.Background(), func() {} },
			notWant: []string{"trace_id", "session_id"},
		},
		{
			name: "span",
			ctx: func() (context.Context, func()) {
				ctx, span := tp.Tracer("test").Start(context.Background(), "log-test")
				return ctx, func() { span.End() }
			},
			want:    []string{"trace_id=", "span_id="},
			notWant: []string{"session_id"},
		},
		{
			name: "span and session",
			ctx: func() (context.Context, func()) {
				ctx, span := tp.Tracer("test").Start(context.Background(), "log-test")
				return WithSessionID(ctx, "s-1"), func() { span.End() }
			},
			want: []string{"trace_id=", "session_id=s-1"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			buf := captureDefaultLogger(t)
			ctx, end := tc.ctx()
			defer end()

			Logger(ctx).Info("test message")

			logged := buf.String()
			for _, w := range tc.want {
				if !strings.Contains(logged, w) {
					t.Errorf("log output missing %q: %s", w, logged)
				}
			}
			for _, w := range tc.notWant {
				if strings.Contains(logged, w) {
					t.Errorf("log output should not contain %q: %s", w, logged)
				}
			}
		})
	}
}
