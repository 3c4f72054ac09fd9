package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// testSetup creates both metrics and tracing infrastructure for middleware tests.
func testSetup(t *testing.T) (*Metrics, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()

	// Metrics.
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	// Tracing.
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	origTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(origTP) })

	return m, reader, exp
}

// serve routes one request through Middleware in front of a ServeMux that
// answers POST /api/copyedit with status.
func serve(t *testing.T, m *Metrics, req *http.Request, status int) (*httptest.ResponseRecorder, string) {
	t.Helper()
	var cid string
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/copyedit", func(w http.ResponseWriter, r *http.Request) {
		cid = CorrelationID(r.Context())
		w.WriteHeader(status)
	})
	rec := httptest.NewRecorder()
	Middleware(m)(mux).ServeHTTP(rec, req)
	return rec, cid
}

func durationPoint(t *testing.T, reader *sdkmetric.ManualReader) metricdata.HistogramDataPoint[float64] {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "copyedit.http.request.duration")
	if met == nil {
		t.Fatal("metric not found")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) != 1 {
		t.Fatalf("want one histogram data point, got %+v", met.Data)
	}
	return hist.DataPoints[0]
}

func attr(set attribute.Set, key string) string {
	v, _ := set.Value(attribute.Key(key))
	return v.Emit()
}

func TestMiddleware_CorrelationID(t *testing.T) {
	m, _, _ := testSetup(t)

	rec, cid := serve(t, m, httptest.NewRequest("POST", "/api/copyedit", nil), http.StatusOK)
	if len(cid) != 32 {
		t.Fatalf("correlation ID = %q, want a 32-char trace ID", cid)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != cid {
		t.Errorf("X-Correlation-ID = %q, want %q", got, cid)
	}
}

func TestMiddleware_ContinuesInboundTrace(t *testing.T) {
	m, _, _ := testSetup(t)
	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"

	req := httptest.NewRequest("POST", "/api/copyedit", nil)
	req.Header.Set("traceparent", "00-"+traceID+"-00f067aa0ba902b7-01")
	rec, cid := serve(t, m, req, http.StatusOK)

	if cid != traceID {
		t.Errorf("correlation ID = %q, want %q", cid, traceID)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != traceID {
		t.Errorf("X-Correlation-ID = %q, want %q", got, traceID)
	}
}

func TestMiddleware_LabelsByRoute(t *testing.T) {
	tests := []struct {
		name        string
		method      string
		path        string
		status      int
		wantRoute   string
		wantClass   string
		wantErrSpan bool
	}{
		{"matched", "POST", "/api/copyedit", http.StatusOK, "POST /api/copyedit", "2xx", false},
		{"upstream failure", "POST", "/api/copyedit", http.StatusBadGateway, "POST /api/copyedit", "5xx", true},
		{"unknown path", "GET", "/wp-admin/setup.php", 0, "unmatched", "4xx", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, reader, exp := testSetup(t)
			serve(t, m, httptest.NewRequest(tt.method, tt.path, nil), tt.status)

			dp := durationPoint(t, reader)
			if got := attr(dp.Attributes, "route"); got != tt.wantRoute {
				t.Errorf("route = %q, want %q", got, tt.wantRoute)
			}
			if got := attr(dp.Attributes, "status_class"); got != tt.wantClass {
				t.Errorf("status_class = %q, want %q", got, tt.wantClass)
			}
			if got := attr(dp.Attributes, "method"); got != tt.method {
				t.Errorf("method = %q, want %q", got, tt.method)
			}

			spans := exp.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("spans = %d, want 1", len(spans))
			}
			if want := "HTTP " + tt.wantRoute; spans[0].Name != want {
				t.Errorf("span name = %q, want %q", spans[0].Name, want)
			}
			if got := spans[0].Status.Code == codes.Error; got != tt.wantErrSpan {
				t.Errorf("span errored = %v, want %v", got, tt.wantErrSpan)
			}
		})
	}
}

func TestStatusClass(t *testing.T) {
	t.Parallel()
	tests := map[int]string{200: "2xx", 204: "2xx", 302: "3xx", 400: "4xx", 429: "4xx", 500: "5xx", 504: "5xx"}
	for code, want := range tests {
		if got := statusClass(code); got != want {
			t.Errorf("statusClass(%d) = %q, want %q", code, got, want)
		}
	}
}
