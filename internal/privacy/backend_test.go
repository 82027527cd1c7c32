package privacy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	zapobserver "go.uber.org/zap/zaptest/observer"
	"pgregory.net/rapid"
)

func testRules(t *testing.T) *RuleSet {
	t.Helper()
	set := NewRuleSet([]RuleConfig{
		{Name: "SSN", Pattern: `\d{3}-\d{2}-\d{4}`, Strategy: "redact"},
		{Name: "EMAIL", Pattern: `[\w.+-]+@[\w-]+\.[\w.]+`, MaskReplacement: "[EMAIL]"},
		{Name: "NAME", Pattern: `\bjohn\b`, MaskReplacement: "[NAME]"},
		{
			Name:            "PASSWORD",
			Pattern:         `password:\s*\S+`,
			MaskPattern:     `(password:\s*)\S+`,
			MaskReplacement: `\1[SECRET]`,
		},
	}, zap.NewNop())
	require.Equal(t, 4, set.Len())
	return set
}

func TestParseBackendType(t *testing.T) {
	got, err := ParseBackendType("")
	require.NoError(t, err)
	assert.Equal(t, PatternBackendType, got)

	got, err = ParseBackendType("augmented")
	require.NoError(t, err)
	assert.Equal(t, AugmentedBackendType, got)

	_, err = ParseBackendType("spacy")
	require.Error(t, err)
}

func TestPatternBackendScan(t *testing.T) {
	backend := NewPatternBackend(zap.NewNop())
	text := "Mail john@example.com or john, SSN 123-45-6789 and 987-65-4321."

	report := backend.Scan(context.Background(), text, testRules(t))
	require.True(t, report.HasFindings())

	want := []Finding{
		{PIIType: "SSN", Value: "123-45-6789", Start: 35, End: 46},
		{PIIType: "SSN", Value: "987-65-4321", Start: 51, End: 62},
		{PIIType: "EMAIL", Value: "john@example.com", Start: 5, End: 21},
		{PIIType: "NAME", Value: "john", Start: 5, End: 9},
		{PIIType: "NAME", Value: "john", Start: 25, End: 29},
	}
	assert.Equal(t, want, report.Findings())

	for _, f := range report.Findings() {
		require.NoError(t, f.Validate(text))
	}
}

func TestPatternBackendEmptyRules(t *testing.T) {
	backend := NewPatternBackend(nil)
	report := backend.Scan(context.Background(), "My SSN is 123-45-6789.", EmptyRuleSet())
	assert.False(t, report.HasFindings())
	assert.Equal(t, NoFindingsText, report.Text())
}

func TestPatternBackendSpanValidity(t *testing.T) {
	rules := NewRuleSet([]RuleConfig{
		{Name: "DIGITS", Pattern: `\d+`, Strategy: "redact"},
		{Name: "ACCENT", Pattern: `é+`, Strategy: "redact"},
		{Name: "EMAILISH", Pattern: `\w+@\w+`, MaskReplacement: "[E]"},
		{Name: "MAYBE", Pattern: `a*`, Strategy: "redact"},
	}, nil)
	backend := NewPatternBackend(nil)

	rapid.Check(t, func(t *rapid.T) {
		text := rapid.StringOfN(rapid.RuneFrom([]rune{'a', 'b', '1', '2', 'é', ' ', '@', '.', '日'}), 0, 40, -1).Draw(t, "text")

		for _, f := range backend.Scan(context.Background(), text, rules).Findings() {
			if f.Start < 0 || f.Start > f.End || f.End > len(text) {
				t.Fatalf("finding %+v out of bounds for %q", f, text)
			}
			if text[f.Start:f.End] != f.Value {
				t.Fatalf("finding %+v does not match text %q", f, text)
			}
		}
	})
}

type fakeRecognizer struct {
	mu       sync.Mutex
	results  []RecognizerResult
	err      error
	requests []AnalyzeRequest
}

func (r *fakeRecognizer) Analyze(_ context.Context, req AnalyzeRequest) ([]RecognizerResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
	return r.results, r.err
}

type countingObserver struct {
	mu        sync.Mutex
	scans     int
	degraded  int
	fallbacks map[string]int
}

func (o *countingObserver) ScanCompleted(string, []Finding, time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.scans++
}

func (o *countingObserver) BackendDegraded(string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.degraded++
}

func (o *countingObserver) MaskFallback(piiType string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fallbacks == nil {
		o.fallbacks = make(map[string]int)
	}
	o.fallbacks[piiType]++
}

func TestAugmentedBackendScan(t *testing.T) {
	// "Zoë" moves the code point offsets one byte behind the byte offsets.
	text := "Zoë: john@example.com"
	recognizer := &fakeRecognizer{results: []RecognizerResult{
		{EntityType: "EMAIL", Start: 5, End: 21, Score: 1.0},
		{EntityType: "PERSON", Start: 0, End: 3, Score: 0.85},
		{EntityType: "NAME", Start: 5, End: 9, Score: 0.2},
	}}

	backend := NewAugmentedBackend(recognizer, AugmentedOptions{MinScore: 0.5}, zap.NewNop())
	report := backend.Scan(context.Background(), text, testRules(t))

	require.Equal(t, 1, report.Len())
	f := report.Findings()[0]
	assert.Equal(t, Finding{PIIType: "EMAIL", Value: "john@example.com", Start: 6, End: 22}, f)
	require.NoError(t, f.Validate(text))

	require.Len(t, recognizer.requests, 1)
	req := recognizer.requests[0]
	assert.Equal(t, "en", req.Language)
	assert.Equal(t, []string{"SSN", "EMAIL", "NAME", "PASSWORD"}, req.Entities)
	require.Len(t, req.Recognizers, 4)
	assert.Equal(t, "SSN", req.Recognizers[0].Entity)
	assert.Equal(t, `\d{3}-\d{2}-\d{4}`, req.Recognizers[0].Regex)
}

func TestAugmentedBackendDegrades(t *testing.T) {
	t.Run("RecognizerError", func(t *testing.T) {
		core, logs := zapobserver.New(zap.WarnLevel)
		obs := &countingObserver{}
		recognizer := &fakeRecognizer{err: fmt.Errorf("spacy model en_core_web_lg: %w", ErrRecognizerUnavailable)}

		backend := NewAugmentedBackend(recognizer, AugmentedOptions{Observer: obs}, zap.New(core))
		report := backend.Scan(context.Background(), "My SSN is 123-45-6789.", testRules(t))

		require.NotNil(t, report)
		assert.False(t, report.HasFindings())
		assert.Equal(t, 1, obs.degraded)
		assert.Equal(t, 1, logs.Len())
	})

	t.Run("NilRecognizer", func(t *testing.T) {
		obs := &countingObserver{}
		backend := NewAugmentedBackend(nil, AugmentedOptions{Observer: obs}, nil)
		report := backend.Scan(context.Background(), "123-45-6789", testRules(t))
		assert.False(t, report.HasFindings())
		assert.Equal(t, 1, obs.degraded)
	})

	t.Run("EmptyRulesSkipRecognizer", func(t *testing.T) {
		recognizer := &fakeRecognizer{err: errors.New("should not be called")}
		backend := NewAugmentedBackend(recognizer, AugmentedOptions{}, nil)
		report := backend.Scan(context.Background(), "123-45-6789", EmptyRuleSet())
		assert.False(t, report.HasFindings())
		assert.Empty(t, recognizer.requests)
	})

	t.Run("BadSpansSkipped", func(t *testing.T) {
		recognizer := &fakeRecognizer{results: []RecognizerResult{
			{EntityType: "SSN", Start: 10, End: 99, Score: 1},
			{EntityType: "SSN", Start: 7, End: 3, Score: 1},
			{EntityType: "SSN", Start: 0, End: 11, Score: 1},
		}}
		backend := NewAugmentedBackend(recognizer, AugmentedOptions{}, nil)
		report := backend.Scan(context.Background(), "123-45-6789", testRules(t))
		require.Equal(t, 1, report.Len())
		assert.Equal(t, "123-45-6789", report.Findings()[0].Value)
	})
}

func TestRuneOffsets(t *testing.T) {
	offsets := newRuneOffsets("aé日b")

	tests := []struct {
		rune int
		want int
		ok   bool
	}{
		{0, 0, true},
		{1, 1, true},
		{2, 3, true},
		{3, 6, true},
		{4, 7, true},
		{5, 0, false},
		{-1, 0, false},
	}
	for _, tt := range tests {
		got, ok := offsets.byteOffset(tt.rune)
		assert.Equal(t, tt.ok, ok, "rune %d", tt.rune)
		if tt.ok {
			assert.Equal(t, tt.want, got, "rune %d", tt.rune)
		}
	}
}
