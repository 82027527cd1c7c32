package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raaihank/pii-sentinel/internal/config"
	"github.com/raaihank/pii-sentinel/internal/logger"
	"github.com/raaihank/pii-sentinel/internal/metrics"
	"github.com/raaihank/pii-sentinel/internal/privacy"
)

func testEngine() *privacy.Engine {
	rules := privacy.NewRuleSet([]privacy.RuleConfig{
		{Name: "SSN", Pattern: `\d{3}-\d{2}-\d{4}`, Strategy: "redact"},
		{Name: "EMAIL", Pattern: `[\w.+-]+@[\w-]+\.[\w.]+`, MaskReplacement: "[EMAIL]"},
	}, nil)
	return privacy.NewEngine(rules, nil, privacy.EngineOptions{}, nil)
}

func newTestServer(t *testing.T, mutate func(*config.Config), opts Options) *Server {
	t.Helper()
	cfg := config.GetDefaults()
	cfg.Upstream.OpenAI = ""
	cfg.Upstream.Anthropic = ""
	cfg.Upstream.Ollama = ""
	if mutate != nil {
		mutate(cfg)
	}
	if opts.Engine == nil {
		opts.Engine = testEngine()
	}

	s, err := New(cfg, logger.NewNop(), opts)
	require.NoError(t, err)
	return s
}

func do(t *testing.T, h http.Handler, method, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNewRequiresEngine(t *testing.T) {
	_, err := New(config.GetDefaults(), logger.NewNop(), Options{})
	require.Error(t, err)
}

func TestHealthAndInfo(t *testing.T) {
	s := newTestServer(t, nil, Options{})

	rec := do(t, s.Handler(), http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)

	rec = do(t, s.Handler(), http.MethodGet, "/info", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var info map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "pii-sentinel", info["name"])
	assert.Equal(t, "pattern", info["backend"])
	assert.EqualValues(t, 2, info["rules_count"])
}

func TestHealthReportsDegradedAnalyzer(t *testing.T) {
	s := newTestServer(t, nil, Options{
		AnalyzerHealth: func(context.Context) error { return errors.New("connection refused") },
	})

	rec := do(t, s.Handler(), http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"degraded"`)
}

func TestRulesEndpoint(t *testing.T) {
	s := newTestServer(t, nil, Options{})

	rec := do(t, s.Handler(), http.MethodGet, "/v1/rules", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp rulesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	require.Len(t, resp.Rules, 2)
	assert.Equal(t, "SSN", resp.Rules[0].Name)
	assert.Equal(t, "redact", resp.Rules[0].Strategy)
	assert.Equal(t, "[EMAIL]", resp.Rules[1].Replacement)
	assert.NotEmpty(t, resp.Fingerprint)
}

func TestScanEndpoint(t *testing.T) {
	s := newTestServer(t, nil, Options{})

	rec := do(t, s.Handler(), http.MethodPost, "/v1/scan", `{"text":"ssn 123-45-6789, mail a@b.io"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp scanResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Findings, 2)
	assert.Equal(t, "123-45-6789", resp.Findings[0].Value)
	assert.Equal(t, resp.Findings, resp.Resolved)
	assert.Equal(t, "PII DETECTED:\n- SSN: 123-45-6789\n- EMAIL: a@b.io\n", resp.Summary)
}

func TestMaskEndpoint(t *testing.T) {
	s := newTestServer(t, nil, Options{})

	body := `{"text":"id 123-45-6789","findings":[{"pii_type":"SSN","value":"123-45-6789","start":3,"end":14}]}`
	rec := do(t, s.Handler(), http.MethodPost, "/v1/mask", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"masked_text":"id ***********"}`, rec.Body.String())
}

func TestRedactEndpoint(t *testing.T) {
	s := newTestServer(t, nil, Options{})

	rec := do(t, s.Handler(), http.MethodPost, "/v1/redact", `{"text":"write to a@b.io"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		MaskedText string            `json:"masked_text"`
		Findings   []privacy.Finding `json:"findings"`
		Summary    string            `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "write to [EMAIL]", resp.MaskedText)
	require.Len(t, resp.Findings, 1)
	assert.Equal(t, "EMAIL", resp.Findings[0].PIIType)
	assert.Equal(t, "PII DETECTED:\n- EMAIL: a@b.io\n", resp.Summary)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
}

func TestBadRequests(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) { c.Server.MaxBodyBytes = 32 }, Options{})

	rec := do(t, s.Handler(), http.MethodPost, "/v1/redact", `{"text":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s.Handler(), http.MethodPost, "/v1/redact", `{"txt":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s.Handler(), http.MethodPost, "/v1/redact", `{"text":"`+strings.Repeat("a", 64)+`"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) {
		c.Server.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerMin: 1, Burst: 1}
	}, Options{})

	assert.Equal(t, http.StatusOK, do(t, s.Handler(), http.MethodGet, "/v1/rules", "").Code)
	rec := do(t, s.Handler(), http.MethodGet, "/v1/rules", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestMetricsEndpoint(t *testing.T) {
	collector := metrics.New()
	engine := privacy.NewEngine(testEngine().Rules(), nil, privacy.EngineOptions{Observer: collector}, nil)
	s := newTestServer(t, nil, Options{Engine: engine, Metrics: collector})

	do(t, s.Handler(), http.MethodPost, "/v1/redact", `{"text":"a@b.io"}`)

	rec := do(t, s.Handler(), http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `pii_sentinel_http_requests_total{method="POST",route="/v1/redact",status="200"} 1`)
	assert.Contains(t, body, `pii_sentinel_findings_total{backend="pattern",pii_type="EMAIL"} 1`)
	assert.Contains(t, body, "pii_sentinel_rules_loaded 2")
}

func TestUpstreamProxyRedactsAndScrubs(t *testing.T) {
	var gotPath, gotAuth, gotCookie string
	var gotBody []byte
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotCookie = r.Header.Get("Cookie")
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	s := newTestServer(t, func(c *config.Config) { c.Upstream.OpenAI = upstream.URL }, Options{})

	payload := `{"model":"gpt","messages":[{"role":"user","content":"my ssn is 123-45-6789 and mail a@b.io"}],"n":1}`
	req := httptest.NewRequest(http.MethodPost, "/openai/v1/chat/completions", bytes.NewBufferString(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer sk-test")
	req.Header.Set("Cookie", "session=abc")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/v1/chat/completions", gotPath)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, privacy.RedactedHeaderValue, gotCookie)

	var forwarded struct {
		Model    string `json:"model"`
		Messages []struct {
			Content string `json:"content"`
		} `json:"messages"`
		N int `json:"n"`
	}
	require.NoError(t, json.Unmarshal(gotBody, &forwarded))
	assert.Equal(t, "gpt", forwarded.Model)
	assert.Equal(t, 1, forwarded.N)
	require.Len(t, forwarded.Messages, 1)
	assert.Equal(t, "my ssn is *********** and mail [EMAIL]", forwarded.Messages[0].Content)
	assert.NotContains(t, string(gotBody), "123-45-6789")
}

func TestUpstreamProxyError(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	target := upstream.URL
	upstream.Close()

	s := newTestServer(t, func(c *config.Config) { c.Upstream.Ollama = target }, Options{})

	rec := do(t, s.Handler(), http.MethodPost, "/ollama/api/generate", `{"prompt":"hi"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestRedactBody(t *testing.T) {
	s := newTestServer(t, nil, Options{})
	ctx := context.Background()

	masked, report := s.redactBody(ctx, []byte("plain a@b.io text"))
	assert.Equal(t, "plain [EMAIL] text", string(masked))
	assert.Equal(t, 1, report.Len())

	original := []byte(`{"a": [1, 2.50, "nothing here"]}`)
	masked, report = s.redactBody(ctx, original)
	assert.Equal(t, original, masked, "bodies without PII are forwarded byte for byte")
	assert.False(t, report.HasFindings())

	masked, _ = s.redactBody(ctx, []byte(`{"big": 12345678901234567890, "s": "123-45-6789"}`))
	assert.JSONEq(t, `{"big": 12345678901234567890, "s": "***********"}`, string(masked))
}

func TestReportFromContext(t *testing.T) {
	var seen *privacy.Report
	s := newTestServer(t, nil, Options{})
	h := s.privacyMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ReportFromContext(r.Context())
	}))

	do(t, h, http.MethodPost, "/openai/x", `{"q":"a@b.io"}`)
	require.NotNil(t, seen)
	assert.Equal(t, []string{"EMAIL"}, seen.Types())
}
