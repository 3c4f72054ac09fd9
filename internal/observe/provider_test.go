package observe

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestInitProvider_ServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	tel, err := InitProvider(context.Background(), ProviderConfig{ServiceName: "copyedit-test", Registry: reg})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	tel.Metrics.RecordCacheLookup(context.Background(), "hit")

	rec := httptest.NewRecorder()
	tel.MetricsHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(string(body), "copyedit_cache_lookups") {
		t.Errorf("metrics output missing cache lookups counter:\n%s", body)
	}
}
