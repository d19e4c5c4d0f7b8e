package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/raaihank/contract-sentinel/internal/sensitive"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestRecordScan(t *testing.T) {
	m := New()
	text := "Contact: jean.dupont@example.com ou 06 12 34 56 78"
	report := sensitive.BuildReport(sensitive.Detect(text))

	m.RecordScan("api", report, 3*time.Millisecond)
	m.RecordScanError("api")
	m.RecordCacheLookup(true)
	m.RecordCacheLookup(false)
	m.RecordConfigReload("success")
	m.RecordETLRecords("scanned", 4)
	m.RecordETLRecords("failed", 0)

	out := scrape(t, m)
	assert.Contains(t, out, `sentinel_scans_total{risk_level="HIGH",source="api"} 1`)
	assert.Contains(t, out, `sentinel_items_detected_total{type="Email"} 1`)
	assert.Contains(t, out, `sentinel_items_detected_total{type="Phone Number"} 1`)
	assert.Contains(t, out, `sentinel_scan_duration_seconds_count{source="api"} 1`)
	assert.Contains(t, out, `sentinel_scan_errors_total{source="api"} 1`)
	assert.Contains(t, out, `sentinel_cache_lookups_total{result="hit"} 1`)
	assert.Contains(t, out, `sentinel_config_reloads_total{status="success"} 1`)
	assert.Contains(t, out, `sentinel_etl_records_total{status="scanned"} 4`)
	assert.NotContains(t, out, `status="failed"`)
	assert.Contains(t, out, "go_goroutines")
}

func TestMiddlewareUsesRouteTemplate(t *testing.T) {
	m := New()
	r := mux.NewRouter()
	r.Use(m.Middleware)
	r.HandleFunc("/api/contracts/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, id := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/contracts/"+id, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	}

	out := scrape(t, m)
	assert.Contains(t, out, `sentinel_http_requests_total{endpoint="/api/contracts/{id}",method="GET",status_code="404"} 2`)
}

func TestEndpointNameWithoutRoute(t *testing.T) {
	assert.Equal(t, "unmatched", endpointName(httptest.NewRequest(http.MethodGet, "/x", nil)))
}
