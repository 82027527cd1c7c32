package metrics

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raaihank/pii-sentinel/internal/privacy"
)

var _ privacy.Observer = (*Collector)(nil)

func TestScanCompleted(t *testing.T) {
	c := New()

	c.ScanCompleted("pattern", []privacy.Finding{
		{PIIType: "EMAIL", Value: "a@b.c", Start: 0, End: 5},
		{PIIType: "EMAIL", Value: "c@d.e", Start: 6, End: 11},
		{PIIType: "SSN", Value: "123-45-6789", Start: 12, End: 23},
	}, 3*time.Millisecond)
	c.ScanCompleted("pattern", nil, time.Millisecond)

	assert.InDelta(t, 2, testutil.ToFloat64(c.scans.WithLabelValues("pattern")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(c.findings.WithLabelValues("pattern", "EMAIL")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.findings.WithLabelValues("pattern", "SSN")), 0)
}

func TestBackendDegradedReason(t *testing.T) {
	c := New()

	c.BackendDegraded("augmented", fmt.Errorf("dial: %w", privacy.ErrRecognizerUnavailable))
	c.BackendDegraded("augmented", errors.New("boom"))

	assert.InDelta(t, 1, testutil.ToFloat64(c.degraded.WithLabelValues("augmented", "unavailable")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(c.degraded.WithLabelValues("augmented", "error")), 0)
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := New()
	c.MaskFallback("CARD")
	c.SetRulesLoaded(4)
	c.ObserveRequest("/v1/redact", http.MethodPost, http.StatusOK, 10*time.Millisecond)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `pii_sentinel_mask_fallbacks_total{pii_type="CARD"} 1`)
	assert.Contains(t, string(body), "pii_sentinel_rules_loaded 4")
	assert.Contains(t, string(body), `pii_sentinel_http_requests_total{method="POST",route="/v1/redact",status="200"} 1`)
}
