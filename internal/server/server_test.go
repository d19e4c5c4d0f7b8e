package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/raaihank/contract-sentinel/internal/cache"
	"github.com/raaihank/contract-sentinel/internal/config"
	"github.com/raaihank/contract-sentinel/internal/history"
	"github.com/raaihank/contract-sentinel/internal/metrics"
	"github.com/raaihank/contract-sentinel/internal/privacy"
	"github.com/raaihank/contract-sentinel/internal/sensitive"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const contactText = "Contact: jean.dupont@example.com ou 06 12 34 56 78"

type fakeHistory struct {
	mu      sync.Mutex
	records []history.ScanRecord
}

func (f *fakeHistory) Insert(_ context.Context, rec *history.ScanRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec.ID = int64(len(f.records) + 1)
	rec.CreatedAt = time.Now()
	f.records = append(f.records, *rec)
	return nil
}

func (f *fakeHistory) Recent(_ context.Context, limit int) ([]history.ScanRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []history.ScanRecord{}
	for i := len(f.records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, f.records[i])
	}
	return out, nil
}

func (f *fakeHistory) GetStats(_ context.Context) (*history.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stats := &history.Stats{TotalScans: int64(len(f.records)), ByRiskLevel: map[string]int64{}}
	for _, r := range f.records {
		stats.TotalItems += int64(r.Total)
		stats.ByRiskLevel[r.RiskLevel]++
	}
	return stats, nil
}

type fakeCache struct {
	mu      sync.Mutex
	entries map[string]sensitive.Report
}

func (f *fakeCache) Get(_ context.Context, variant, text string) (*cache.CachedReport, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	report, ok := f.entries[cache.ReportKey("test", variant, text)]
	if !ok {
		return nil, false
	}
	report.Items = sensitive.Restore(text, report.Items)
	return &cache.CachedReport{Report: report}, true
}

func (f *fakeCache) Store(_ context.Context, variant, text string, items []sensitive.Item) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	report := sensitive.BuildReport(items)
	report.Items = sensitive.Strip(report.Items)
	f.entries[cache.ReportKey("test", variant, text)] = report
	return nil
}

func newTestServer(t *testing.T, mutate func(*config.Config, *Deps)) (*Server, http.Handler) {
	t.Helper()
	cfg := config.GetDefaults()
	deps := Deps{Config: cfg}
	if mutate != nil {
		mutate(cfg, &deps)
	}

	detector, err := privacy.New(cfg.Privacy, nil)
	require.NoError(t, err)
	deps.Detector = detector

	srv, err := New(deps)
	require.NoError(t, err)
	return srv, srv.Handler()
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestNewRequiresDetector(t *testing.T) {
	_, err := New(Deps{Config: config.GetDefaults()})
	assert.Error(t, err)
}

func TestHealthAndInfo(t *testing.T) {
	_, h := newTestServer(t, nil)

	rec := doJSON(t, h, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode[map[string]string](t, rec)["status"])
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	rec = doJSON(t, h, http.MethodGet, "/info", nil, nil)
	info := decode[map[string]any](t, rec)
	assert.Equal(t, "contract-sentinel", info["name"])
	assert.Len(t, info["detectors"], len(sensitive.DefaultBank()))
	assert.Equal(t, false, info["gateway_enabled"])
}

func TestRequestIDPropagated(t *testing.T) {
	_, h := newTestServer(t, nil)
	rec := doJSON(t, h, http.MethodGet, "/health", nil, http.Header{RequestIDHeader: {"req-42"}})
	assert.Equal(t, "req-42", rec.Header().Get(RequestIDHeader))
}

func TestScan(t *testing.T) {
	_, h := newTestServer(t, nil)

	t.Run("EmailAndPhone", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodPost, "/api/scan", map[string]string{"text": contactText}, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		out := decode[scanResponse](t, rec)
		require.Len(t, out.Items, 2)
		assert.Equal(t, sensitive.TypeEmail, out.Items[0].Type)
		assert.Equal(t, sensitive.TypePhoneNumber, out.Items[1].Type)
		assert.Equal(t, sensitive.RiskHigh, out.Report.RiskLevel)
		assert.Len(t, out.Highlights, 2)
		assert.Contains(t, out.HighlightedHTML, `<mark`)
		assert.False(t, out.Cached)
	})

	t.Run("EmptyText", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodPost, "/api/scan", map[string]string{"text": ""}, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		out := decode[scanResponse](t, rec)
		assert.Empty(t, out.Items)
		assert.NotNil(t, out.Items)
		assert.Equal(t, []string{sensitive.NoDataMessage}, out.Report.Recommendations)
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodPost, "/api/scan", "{", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, decode[map[string]string](t, rec)["error"], "invalid JSON")
	})

	t.Run("EmptyBody", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodPost, "/api/scan", nil, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("WrongMethod", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodGet, "/api/scan", nil, nil)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestScanBodyTooLarge(t *testing.T) {
	_, h := newTestServer(t, func(cfg *config.Config, _ *Deps) {
		cfg.Extract.MaxUploadBytes = 16
	})
	rec := doJSON(t, h, http.MethodPost, "/api/scan", map[string]string{"text": contactText}, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestMaskAndAnonymize(t *testing.T) {
	_, h := newTestServer(t, nil)

	t.Run("MaskScansWhenNoItems", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodPost, "/api/mask", map[string]string{"text": contactText}, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		out := decode[transformResponse](t, rec)
		assert.Equal(t, "Contact: XXXXXXXXXXXXXXXXXXXXXXX ou XXXXXXXXXXXXXX", out.Text)
		assert.Len(t, out.Items, 2)
	})

	t.Run("MaskSuppliedItems", func(t *testing.T) {
		body := map[string]any{
			"text":  "abc secret def",
			"items": []sensitive.Item{{Type: "Custom", Index: 4, Length: 6, Value: "secret"}},
		}
		rec := doJSON(t, h, http.MethodPost, "/api/mask", body, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "abc XXXXXX def", decode[transformResponse](t, rec).Text)
	})

	t.Run("AnonymizeDefaultPlaceholder", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodPost, "/api/anonymize", map[string]string{"text": contactText}, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "Contact: [REDACTED] ou [REDACTED]", decode[transformResponse](t, rec).Text)
	})

	t.Run("AnonymizeByType", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodPost, "/api/anonymize", map[string]any{"text": contactText, "by_type": true}, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "Contact: [EMAIL] ou [PHONE_NUMBER]", decode[transformResponse](t, rec).Text)
	})

	t.Run("AnonymizeCustomPlaceholder", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodPost, "/api/anonymize", map[string]any{"text": contactText, "placeholder": "***"}, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "Contact: *** ou ***", decode[transformResponse](t, rec).Text)
	})

	t.Run("ItemsOutsideTextRejected", func(t *testing.T) {
		for _, path := range []string{"/api/mask", "/api/anonymize"} {
			for _, items := range []string{
				`[{"type":"Email","index":9223372036854775807,"length":1}]`,
				`[{"type":"Email","index":1,"length":9223372036854775807}]`,
				`[{"type":"Email","index":3,"length":10}]`,
				`[{"type":"Email","index":-1,"length":2}]`,
			} {
				body := `{"text":"hello","items":` + items + `}`
				rec := doJSON(t, h, http.MethodPost, path, body, nil)
				assert.Equal(t, http.StatusBadRequest, rec.Code, path+" "+items)
				assert.Contains(t, rec.Body.String(), "outside the text")
			}
		}
	})
}

func multipartUpload(t *testing.T, filename, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = io.WriteString(fw, content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/extract", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestExtract(t *testing.T) {
	_, h := newTestServer(t, nil)

	t.Run("TextFile", func(t *testing.T) {
		content := "CONTRAT DE TRAVAIL A DUREE INDETERMINEE\nEntre la société ACME SAS et M. Jean Dupont.\n" +
			"Le salarié est soumis à une clause de non-concurrence.\n" + contactText
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, multipartUpload(t, "contrat.txt", content))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		out := decode[extractResponse](t, rec)
		assert.Equal(t, "contrat.txt", out.Filename)
		assert.Contains(t, out.Text, "CONTRAT")
		assert.NotEmpty(t, out.Items)
		assert.NotEmpty(t, out.Risks)
		assert.NotEmpty(t, out.Report.Recommendations)
	})

	t.Run("Unsupported", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, multipartUpload(t, "setup.exe", "MZ"))
		assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	})

	t.Run("MissingFile", func(t *testing.T) {
		rec := doJSON(t, h, http.MethodPost, "/api/extract", "{}", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestRules(t *testing.T) {
	_, h := newTestServer(t, nil)

	rec := doJSON(t, h, http.MethodGet, "/api/rules", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rules := decode[[]map[string]any](t, rec)
	assert.Len(t, rules, len(sensitive.DefaultBank()))

	rec = doJSON(t, h, http.MethodPut, "/api/rules/email", map[string]bool{"enabled": false}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = doJSON(t, h, http.MethodPost, "/api/scan", map[string]string{"text": contactText}, nil)
	out := decode[scanResponse](t, rec)
	require.Len(t, out.Items, 1)
	assert.Equal(t, sensitive.TypePhoneNumber, out.Items[0].Type)

	rec = doJSON(t, h, http.MethodPut, "/api/rules/bogus", map[string]bool{"enabled": true}, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, h, http.MethodPut, "/api/rules/email", map[string]string{}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHistory(t *testing.T) {
	t.Run("Disabled", func(t *testing.T) {
		_, h := newTestServer(t, nil)
		rec := doJSON(t, h, http.MethodGet, "/api/history", nil, nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("RecordsScans", func(t *testing.T) {
		store := &fakeHistory{}
		_, h := newTestServer(t, func(_ *config.Config, d *Deps) { d.History = store })

		doJSON(t, h, http.MethodPost, "/api/scan", map[string]string{"text": contactText}, nil)
		doJSON(t, h, http.MethodPost, "/api/scan", map[string]string{"text": "rien"}, nil)

		rec := doJSON(t, h, http.MethodGet, "/api/history?limit=1", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		records := decode[[]history.ScanRecord](t, rec)
		require.Len(t, records, 1)
		assert.Equal(t, "LOW", records[0].RiskLevel)
		assert.Equal(t, "api", records[0].Source)

		store.mu.Lock()
		first := store.records[0]
		store.mu.Unlock()
		assert.Equal(t, history.HashText(contactText), first.TextHash)
		assert.Equal(t, 1, first.ByType["Email"])

		rec = doJSON(t, h, http.MethodGet, "/api/history/stats", nil, nil)
		stats := decode[history.Stats](t, rec)
		assert.Equal(t, int64(2), stats.TotalScans)
		assert.Equal(t, int64(2), stats.TotalItems)

		rec = doJSON(t, h, http.MethodGet, "/api/history?limit=abc", nil, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestScanUsesCache(t *testing.T) {
	c := &fakeCache{entries: map[string]sensitive.Report{}}
	_, h := newTestServer(t, func(_ *config.Config, d *Deps) { d.Cache = c })

	first := decode[scanResponse](t, doJSON(t, h, http.MethodPost, "/api/scan", map[string]string{"text": contactText}, nil))
	second := decode[scanResponse](t, doJSON(t, h, http.MethodPost, "/api/scan", map[string]string{"text": contactText}, nil))

	assert.False(t, first.Cached)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Items, second.Items)
	assert.Equal(t, first.HighlightedHTML, second.HighlightedHTML)
	assert.Equal(t, "jean.dupont@example.com", second.Items[0].Value)

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, report := range c.entries {
		for _, it := range report.Items {
			assert.Empty(t, it.Value)
			assert.Empty(t, it.Context)
		}
	}
}

func TestRateLimit(t *testing.T) {
	_, h := newTestServer(t, func(cfg *config.Config, _ *Deps) {
		cfg.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 1, Burst: 1}
	})

	rec := doJSON(t, h, http.MethodPost, "/api/scan", map[string]string{"text": "a"}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/api/scan", map[string]string{"text": "a"}, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	rec = doJSON(t, h, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	_, h := newTestServer(t, func(_ *config.Config, d *Deps) { d.Metrics = m })

	doJSON(t, h, http.MethodPost, "/api/scan", map[string]string{"text": contactText}, nil)

	rec := doJSON(t, h, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `sentinel_scans_total{risk_level="HIGH",source="api"} 1`)
	assert.Contains(t, body, `endpoint="/api/scan"`)
}

func TestUnknownRoute(t *testing.T) {
	_, h := newTestServer(t, nil)
	rec := doJSON(t, h, http.MethodGet, "/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not found", decode[map[string]string](t, rec)["error"])
}

func TestDashboard(t *testing.T) {
	_, h := newTestServer(t, nil)
	rec := doJSON(t, h, http.MethodGet, "/", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Contract Sentinel")
}
