package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/migadu/sieveforge/analyze"
	"github.com/migadu/sieveforge/config"
	"github.com/migadu/sieveforge/pkg/metrics"
	"github.com/migadu/sieveforge/storage"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const apiKey = "test-key"

const categoriesDoc = `{
  "categories": [
    {"name": "Shopping", "patterns": ["from:@shop.de"], "confidence": 0.9},
    {"name": "CI", "patterns": ["subject:pipeline"], "confidence": 0.8}
  ]
}`

func newTestServer(t *testing.T, mutate func(*config.HTTPAPIConfig)) (*Server, storage.Repository) {
	t.Helper()
	repo, err := storage.NewFileRepository(t.TempDir())
	require.NoError(t, err)

	cfg := config.NewDefaultConfig()
	cfg.HTTPAPI.APIKey = apiKey
	if mutate != nil {
		mutate(&cfg.HTTPAPI)
	}
	s, err := New(analyze.NewPipeline(cfg), repo, cfg.HTTPAPI)
	require.NoError(t, err)
	return s, repo
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+apiKey)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func message(from, subject string) string {
	return fmt.Sprintf("From: %s\r\nTo: me@home.example\r\nSubject: %s\r\n\r\nhello\r\n", from, subject)
}

func TestNewRequiresAPIKey(t *testing.T) {
	cfg := config.NewDefaultConfig()
	_, err := New(analyze.NewPipeline(cfg), nil, cfg.HTTPAPI)
	assert.Error(t, err)

	cfg.HTTPAPI.APIKey = apiKey
	cfg.HTTPAPI.TLS = true
	_, err = New(analyze.NewPipeline(cfg), nil, cfg.HTTPAPI)
	assert.Error(t, err)
}

func TestAuthMiddleware(t *testing.T) {
	s, _ := newTestServer(t, nil)

	for header, want := range map[string]int{
		"":                 http.StatusUnauthorized,
		"Basic abc":        http.StatusUnauthorized,
		"Bearer wrong-key": http.StatusForbidden,
		"Bearer " + apiKey: http.StatusOK,
	} {
		req := httptest.NewRequest("GET", "/api/v1/health", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Code, header)
	}
}

func TestAllowedHosts(t *testing.T) {
	s, _ := newTestServer(t, func(c *config.HTTPAPIConfig) {
		c.AllowedHosts = []string{"10.0.0.0/8"}
	})

	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("X-Forwarded-For", "10.1.2.3, 192.168.0.1")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req.Header.Set("X-Forwarded-For", "192.168.0.1")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGenerateAndSave(t *testing.T) {
	s, repo := newTestServer(t, nil)

	rec := do(t, s, "POST", "/api/v1/filters/generate?save=main", categoriesDoc)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[GenerateResponse](t, rec)
	assert.Contains(t, resp.Script, `fileinto "Shopping";`)
	assert.Equal(t, 0, resp.Counts["error"])
	require.NotNil(t, resp.Stored)
	assert.Equal(t, "main", resp.Stored.Name)

	stored, err := repo.Load(context.Background(), "main")
	require.NoError(t, err)
	assert.Equal(t, resp.Script, stored.Script)

	rec = do(t, s, "POST", "/api/v1/filters/generate", `{"categories": []}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestValidate(t *testing.T) {
	s, _ := newTestServer(t, nil)

	script := "require [\"fileinto\"];\n\nif address :domain :is \"from\" \"example.com\" {\n  fileinto \"Junk\";\n}\n"
	rec := do(t, s, "POST", "/api/v1/filters/validate", script)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[ValidateResponse](t, rec)
	assert.False(t, resp.Valid)
	assert.Equal(t, 1, resp.Counts["error"])
	assert.Contains(t, resp.Report, "SIEVE FILTER VALIDATION REPORT")

	rec = do(t, s, "POST", "/api/v1/filters/validate", "if exists \"x\" {\n}\n")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDryRun(t *testing.T) {
	s, _ := newTestServer(t, nil)

	gen := decode[GenerateResponse](t, do(t, s, "POST", "/api/v1/filters/generate", categoriesDoc))
	body, err := json.Marshal(TestRequest{
		Script: gen.Script,
		Messages: []string{
			message("a@shop.de", "Your order"),
			message("bot@ci.dev", "Pipeline failed"),
			message("friend@mail.example", "Lunch?"),
		},
	})
	require.NoError(t, err)

	rec := do(t, s, "POST", "/api/v1/filters/test", string(body))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[TestResponse](t, rec)
	assert.Equal(t, 3, resp.Total)
	assert.Equal(t, 2, resp.Matched)
	assert.Len(t, resp.ByRule, 2)
	assert.Empty(t, resp.Mismatches)

	rec = do(t, s, "POST", "/api/v1/filters/test", `{"script": "keep;", "messages": []}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDetect(t *testing.T) {
	s, _ := newTestServer(t, nil)

	var msgs []string
	for i := 0; i < 4; i++ {
		msgs = append(msgs, message(fmt.Sprintf("n%d@news.example", i), fmt.Sprintf("Weekly digest %d", i)))
	}
	body, err := json.Marshal(MessagesRequest{Messages: msgs})
	require.NoError(t, err)

	rec := do(t, s, "POST", "/api/v1/patterns/detect", string(body))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[analyze.Detection](t, rec)
	require.NotEmpty(t, resp.Patterns)
	assert.Equal(t, "news.example", resp.Patterns[0].Value)

	rec = do(t, s, "POST", "/api/v1/patterns/detect", `{"messages": ["From: nobody\r\n\r\nx"]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestScriptRoutes(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec := do(t, s, "PUT", "/api/v1/scripts/main", "keep;\n")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, s, "PUT", "/api/v1/scripts/broken", "if body :text :contains \"x\" { keep; }\n")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	list := decode[ScriptListResponse](t, do(t, s, "GET", "/api/v1/scripts", ""))
	assert.Equal(t, 1, list.Total)
	assert.Equal(t, "main", list.Scripts[0].Name)

	got := decode[storage.StoredScript](t, do(t, s, "GET", "/api/v1/scripts/main", ""))
	assert.Equal(t, "keep;\n", got.Script)

	req := httptest.NewRequest("GET", "/api/v1/scripts/main", nil)
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Accept", "application/sieve")
	raw := httptest.NewRecorder()
	s.Handler().ServeHTTP(raw, req)
	assert.Equal(t, "keep;\n", raw.Body.String())
	assert.Equal(t, "application/sieve", raw.Header().Get("Content-Type"))

	assert.Equal(t, http.StatusNoContent, do(t, s, "DELETE", "/api/v1/scripts/main", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, "GET", "/api/v1/scripts/main", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, "DELETE", "/api/v1/scripts/main", "").Code)
}

func TestBodyLimit(t *testing.T) {
	s, _ := newTestServer(t, func(c *config.HTTPAPIConfig) { c.MaxBodyBytes = 16 })
	rec := do(t, s, "POST", "/api/v1/filters/validate", strings.Repeat("x", 64))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestRequestMetrics(t *testing.T) {
	s, _ := newTestServer(t, nil)
	counter := metrics.HTTPRequestsTotal.WithLabelValues("/api/v1/health", "200")
	before := testutil.ToFloat64(counter)

	do(t, s, "GET", "/api/v1/health", "")
	assert.Equal(t, before+1, testutil.ToFloat64(counter))
}

func TestRequestID(t *testing.T) {
	s, _ := newTestServer(t, nil)

	rec := do(t, s, "GET", "/api/v1/health", "")
	assert.Len(t, rec.Header().Get("X-Request-ID"), 36)

	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("X-Request-ID", "abc-123")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}
