package privacy

import (
	"context"
	"sort"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"
)

func TestMaskerRedact(t *testing.T) {
	rules := NewRuleSet([]RuleConfig{
		{Name: "SSN", Pattern: `\d{3}-\d{2}-\d{4}`, Strategy: "redact"},
	}, nil)
	masker := NewMasker(rules, MaskerOptions{}, zap.NewNop())

	text := "My SSN is 123-45-6789."
	findings := NewPatternBackend(nil).Scan(context.Background(), text, rules).Findings()

	assert.Equal(t, "My SSN is ***********.", masker.Mask(text, findings))
}

func TestMaskerRedactCountsCharacters(t *testing.T) {
	rules := NewRuleSet([]RuleConfig{{Name: "CITY", Pattern: `Zürich`, Strategy: "redact"}}, nil)
	masker := NewMasker(rules, MaskerOptions{MaskRune: '#'}, nil)

	text := "from Zürich."
	findings := NewPatternBackend(nil).Scan(context.Background(), text, rules).Findings()

	assert.Equal(t, "from ######.", masker.Mask(text, findings))
}

func TestMaskerReplace(t *testing.T) {
	rules := testRules(t)
	masker := NewMasker(rules, MaskerOptions{}, nil)

	tests := []struct {
		name     string
		text     string
		findings []Finding
		want     string
	}{
		{
			name:     "Literal",
			text:     "write to a.b@c.io today",
			findings: []Finding{{PIIType: "EMAIL", Value: "a.b@c.io", Start: 9, End: 17}},
			want:     "write to [EMAIL] today",
		},
		{
			name:     "Backreference",
			text:     "login with password: hunter2 now",
			findings: []Finding{{PIIType: "PASSWORD", Value: "password: hunter2", Start: 11, End: 28}},
			want:     "login with password: [SECRET] now",
		},
		{
			name:     "UnknownTypeUntouched",
			text:     "call 555-0100",
			findings: []Finding{{PIIType: "PHONE", Value: "555-0100", Start: 5, End: 13}},
			want:     "call 555-0100",
		},
		{
			name: "SeveralInAnyOrder",
			text: "john: 123-45-6789, john@x.io",
			findings: []Finding{
				{PIIType: "NAME", Value: "john", Start: 0, End: 4},
				{PIIType: "EMAIL", Value: "john@x.io", Start: 19, End: 28},
				{PIIType: "SSN", Value: "123-45-6789", Start: 6, End: 17},
			},
			want: "[NAME]: ***********, [EMAIL]",
		},
		{
			name:     "OutOfRangeSkipped",
			text:     "short",
			findings: []Finding{{PIIType: "SSN", Value: "x", Start: 3, End: 40}},
			want:     "short",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, masker.Mask(tt.text, tt.findings))
		})
	}
}

func TestMaskerBraceBackreference(t *testing.T) {
	rules := NewRuleSet([]RuleConfig{{
		Name:            "CARD",
		Pattern:         `\d{4}-\d{4}-\d{4}-(\d{4})`,
		MaskReplacement: `****-****-****-${1}`,
	}}, nil)
	require.Equal(t, 1, rules.Len())
	masker := NewMasker(rules, MaskerOptions{}, nil)

	text := "card 4111-1111-1111-1234 on file"
	findings := NewPatternBackend(nil).Scan(context.Background(), text, rules).Findings()

	assert.Equal(t, "card ****-****-****-1234 on file", masker.Mask(text, findings))
}

func TestMaskerTemplateMismatchFallsBackToRedact(t *testing.T) {
	rules := NewRuleSet([]RuleConfig{{
		Name:            "TOKEN",
		Pattern:         `\d{6}`,
		MaskPattern:     `([a-z]+)\d+`,
		MaskReplacement: `\1-XXXX`,
	}}, nil)
	require.Equal(t, 1, rules.Len())

	obs := &countingObserver{}
	masker := NewMasker(rules, MaskerOptions{Observer: obs}, nil)

	text := "otp 123456 expires"
	findings := NewPatternBackend(nil).Scan(context.Background(), text, rules).Findings()

	got := masker.Mask(text, findings)
	assert.Equal(t, "otp ****** expires", got)
	assert.NotContains(t, got, `\1`)
	assert.Equal(t, 1, obs.fallbacks["TOKEN"])
}

func TestMaskerOverlapsDoNotCorrupt(t *testing.T) {
	rules := testRules(t)
	masker := NewMasker(rules, MaskerOptions{}, nil)

	text := "Hi, john@mail.com!"
	findings := []Finding{
		{PIIType: "EMAIL", Value: "john@mail.com", Start: 4, End: 17},
		{PIIType: "NAME", Value: "john", Start: 4, End: 8},
	}

	got := masker.Mask(text, findings)
	assert.True(t, strings.HasPrefix(got, "Hi, "), got)
	assert.True(t, strings.HasSuffix(got, "!"), got)
}

func TestMaskerDoesNotModifyFindings(t *testing.T) {
	masker := NewMasker(testRules(t), MaskerOptions{}, nil)
	findings := []Finding{
		{PIIType: "NAME", Value: "john", Start: 0, End: 4},
		{PIIType: "NAME", Value: "john", Start: 9, End: 13},
	}
	masker.Mask("john and john", findings)
	assert.Equal(t, 0, findings[0].Start)
}

func TestMaskingProperties(t *testing.T) {
	rules := NewRuleSet([]RuleConfig{
		{Name: "DIGITS", Pattern: `\d+`, Strategy: "redact"},
		{Name: "BEES", Pattern: `b+`, MaskReplacement: "[B]"},
		{Name: "PAIR", Pattern: `a\d`, Strategy: "redact"},
		{Name: "WIDE", Pattern: `é+`, Strategy: "redact"},
	}, nil)
	backend := NewPatternBackend(nil)
	masker := NewMasker(rules, MaskerOptions{}, nil)

	rapid.Check(t, func(t *rapid.T) {
		text := rapid.StringOfN(rapid.RuneFrom([]rune{'a', 'b', '1', '7', 'é', ' ', 'x'}), 0, 50, -1).Draw(t, "text")

		findings := ResolveOverlaps(backend.Scan(context.Background(), text, rules).Findings())
		got := masker.Mask(text, findings)

		// Rebuild the expected output from the untouched gaps and the
		// per-finding replacements.
		sorted := make([]Finding, len(findings))
		copy(sorted, findings)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

		var want strings.Builder
		prev := 0
		for _, f := range sorted {
			want.WriteString(text[prev:f.Start])
			rule, _ := rules.Lookup(f.PIIType)
			switch rule.Strategy {
			case StrategyRedact:
				if utf8.RuneCountInString(masker.redact(f.Value)) != utf8.RuneCountInString(f.Value) {
					t.Fatalf("redaction of %q changes length", f.Value)
				}
				want.WriteString(strings.Repeat("*", utf8.RuneCountInString(f.Value)))
			case StrategyReplace:
				want.WriteString(rule.Replacement)
			}
			prev = f.End
		}
		want.WriteString(text[prev:])

		if got != want.String() {
			t.Fatalf("Mask(%q) = %q, want %q", text, got, want.String())
		}
	})
}
