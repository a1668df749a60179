package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type middlewareHarness struct {
	metrics *Metrics
	reader  *sdkmetric.ManualReader
	spans   *tracetest.InMemoryExporter
}

// newMiddlewareHarness wires in-memory metric and trace backends and
// installs the trace provider globally for the duration of the test.
func newMiddlewareHarness(t *testing.T) *middlewareHarness {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })

	return &middlewareHarness{metrics: m, reader: reader, spans: exp}
}

// serve runs one request through the instrumented handler and returns
// the recorder plus the correlation ID seen inside the handler.
func (h *middlewareHarness) serve(req *http.Request, status int) (*httptest.ResponseRecorder, string) {
	var innerCID string
	handler := Middleware(h.metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		innerCID = CorrelationID(r.Context())
		w.WriteHeader(status)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, innerCID
}

func TestMiddlewareAssignsCorrelationID(t *testing.T) {
	h := newMiddlewareHarness(t)

	rec, cid := h.serve(httptest.NewRequest("GET", "/healthz", nil), http.StatusOK)

	if len(cid) != 32 {
		t.Errorf("correlation ID length = %d, want 32", len(cid))
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != cid {
		t.Errorf("X-Correlation-ID = %q, want %q", got, cid)
	}
}

func TestMiddlewareOpensServerSpan(t *testing.T) {
	h := newMiddlewareHarness(t)

	h.serve(httptest.NewRequest("GET", "/api/live-token", nil), http.StatusOK)

	spans := h.spans.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded spans = %d, want 1", len(spans))
	}
	if spans[0].Name != "HTTP GET /api/live-token" {
		t.Errorf("span name = %q", spans[0].Name)
	}
}

func TestMiddlewareRecordsRequestDuration(t *testing.T) {
	h := newMiddlewareHarness(t)

	h.serve(httptest.NewRequest("POST", "/api/calendar", nil), http.StatusOK)

	var rm metricdata.ResourceMetrics
	if err := h.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	met := findMetric(rm, "reserva.http.request.duration")
	if met == nil {
		t.Fatal("duration metric not recorded")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) == 0 {
		t.Fatal("duration metric has no histogram data points")
	}

	dp := hist.DataPoints[0]
	if dp.Count != 1 {
		t.Errorf("sample count = %d, want 1", dp.Count)
	}
	var method, path string
	for _, kv := range dp.Attributes.ToSlice() {
		switch string(kv.Key) {
		case "method":
			method = kv.Value.AsString()
		case "path":
			path = kv.Value.AsString()
		}
	}
	if method != "POST" || path != "/api/calendar" {
		t.Errorf("attributes method=%q path=%q, want POST /api/calendar", method, path)
	}
}

func TestMiddlewareTagsSpanWithStatusCode(t *testing.T) {
	h := newMiddlewareHarness(t)

	rec, _ := h.serve(httptest.NewRequest("GET", "/api/unknown", nil), http.StatusNotFound)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("response status = %d, want 404", rec.Code)
	}

	spans := h.spans.GetSpans()
	if len(spans) == 0 {
		t.Fatal("no spans recorded")
	}
	var got int64 = -1
	for _, a := range spans[0].Attributes {
		if string(a.Key) == "http.response.status_code" {
			got = a.Value.AsInt64()
		}
	}
	if got != 404 {
		t.Errorf("span http.response.status_code = %d, want 404", got)
	}
}

func TestMiddlewareContinuesIncomingTrace(t *testing.T) {
	h := newMiddlewareHarness(t)

	const upstream = "4bf92f3577b34da6a3ce929d0e0e4736"
	req := httptest.NewRequest("GET", "/readyz", nil)
	req.Header.Set("traceparent", "00-"+upstream+"-00f067aa0ba902b7-01")

	rec, cid := h.serve(req, http.StatusOK)

	if cid != upstream {
		t.Errorf("handler correlation ID = %q, want upstream trace %q", cid, upstream)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != upstream {
		t.Errorf("X-Correlation-ID = %q, want %q", got, upstream)
	}
}
