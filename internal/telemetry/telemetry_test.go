package telemetry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/tabletop-sync/lifesync/internal/config"
)

func installRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prevTP := otel.GetTracerProvider()
	prevProp := otel.GetTextMapPropagator()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
	})
	return rec
}

func TestSetup_DisabledIsNoop(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.TelemetryConfig
	}{
		{name: "disabled", cfg: config.TelemetryConfig{Enabled: false, Endpoint: "http://collector:4318"}},
		{name: "no endpoint", cfg: config.TelemetryConfig{Enabled: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shutdown, err := Setup(context.Background(), tt.cfg, "lifesync-test")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if err := shutdown(context.Background()); err != nil {
				t.Errorf("shutdown: %v", err)
			}
		})
	}
}

func TestStartSpan_RecordsError(t *testing.T) {
	rec := installRecorder(t)

	_, span := StartSpan(context.Background(), "session.join", "s1")
	End(span, errors.New("session is full"))

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("Expected 1 span, got %d", len(spans))
	}
	if spans[0].Name() != "session.join" {
		t.Errorf("Expected span name session.join, got %s", spans[0].Name())
	}
	if spans[0].Status().Code != codes.Error {
		t.Errorf("Expected error status, got %v", spans[0].Status().Code)
	}
	found := false
	for _, attr := range spans[0].Attributes() {
		if string(attr.Key) == "session.id" && attr.Value.AsString() == "s1" {
			found = true
		}
	}
	if !found {
		t.Error("Expected session.id attribute")
	}
}

func TestMiddleware_ContinuesIncomingTrace(t *testing.T) {
	rec := installRecorder(t)

	ctx, parent := StartSpan(context.Background(), "client.update", "s1")
	req := httptest.NewRequest(http.MethodPut, "/v1/sessions/s1/counters", nil)
	Inject(ctx, req.Header)
	parent.End()

	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	spans := rec.Ended()
	if len(spans) != 2 {
		t.Fatalf("Expected 2 spans, got %d", len(spans))
	}
	server := spans[1]
	if server.Parent().TraceID() != spans[0].SpanContext().TraceID() {
		t.Error("Expected server span to join the client trace")
	}
}

func TestTransport_PropagatesTrace(t *testing.T) {
	rec := installRecorder(t)

	var incoming string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		incoming = r.Header.Get("traceparent")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ctx, parent := StartSpan(context.Background(), "reconcile.write", "s1")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	client := &http.Client{Transport: Transport(http.DefaultTransport)}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	resp.Body.Close()
	parent.End()

	if incoming == "" {
		t.Fatal("Expected a traceparent header on the outgoing request")
	}
	for _, span := range rec.Ended() {
		if span.SpanContext().TraceID() != parent.SpanContext().TraceID() {
			t.Errorf("Expected span %s in the caller's trace", span.Name())
		}
	}
	if len(rec.Ended()) != 2 {
		t.Errorf("Expected caller and client spans, got %d", len(rec.Ended()))
	}
}
