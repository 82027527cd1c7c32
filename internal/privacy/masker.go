package privacy

import (
	"sort"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
)

// DefaultMaskRune is used by the redact strategy.
const DefaultMaskRune = '*'

// MaskerOptions tunes a Masker.
type MaskerOptions struct {
	MaskRune rune
	Observer Observer
}

// Masker rewrites findings in text according to their rules.
type Masker struct {
	rules    *RuleSet
	maskRune rune
	observer Observer
	logger   *zap.Logger
}

// NewMasker creates a masker for rules.
func NewMasker(rules *RuleSet, opts MaskerOptions, logger *zap.Logger) *Masker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaskRune == 0 {
		opts.MaskRune = DefaultMaskRune
	}
	if opts.Observer == nil {
		opts.Observer = NopObserver
	}
	return &Masker{
		rules:    rules,
		maskRune: opts.MaskRune,
		observer: opts.Observer,
		logger:   logger,
	}
}

// Mask returns text with every finding replaced. Findings whose type has no
// rule, or whose span does not fit text, are left alone. Findings should be
// non-overlapping (see ResolveOverlaps); overlapping ones overwrite each other
// but never corrupt text outside their spans.
func (m *Masker) Mask(text string, findings []Finding) string {
	if len(findings) == 0 {
		return text
	}

	// Later spans first, so offsets of the ones still to do stay valid.
	ordered := make([]Finding, len(findings))
	copy(ordered, findings)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Start > ordered[j].Start
	})

	buf := newBuffer(text)
	for _, f := range ordered {
		rule, ok := m.rules.Lookup(f.PIIType)
		if !ok {
			m.logger.Debug("No rule for PII type, leaving span unmasked", zap.String("pii_type", f.PIIType))
			continue
		}
		if err := checkSpan(text, f.Start, f.End); err != nil {
			m.logger.Warn("Skipping finding outside text", zap.String("pii_type", f.PIIType), zap.Error(err))
			continue
		}

		buf.splice(f.Start, f.End, m.replacement(rule, text[f.Start:f.End]))
	}

	return buf.String()
}

func (m *Masker) replacement(rule *Rule, value string) string {
	switch rule.Strategy {
	case StrategyReplace:
		if !rule.template.hasGroup {
			return rule.Replacement
		}
		return m.expand(rule, value)
	case StrategyRedact:
		return m.redact(value)
	default:
		// Compiled rules never get here.
		return m.redact(value)
	}
}

// expand re-matches the mask pattern at the start of value and substitutes
// the captured group into the template. A value the pattern does not match
// is fully redacted instead.
func (m *Masker) expand(rule *Rule, value string) string {
	loc := rule.anchoredMask.FindStringSubmatchIndex(value)
	if loc == nil {
		m.observer.MaskFallback(rule.Name)
		m.logger.Warn("Mask pattern does not match finding, redacting instead",
			zap.String("rule", rule.Name),
			zap.Int("length", utf8.RuneCountInString(value)),
		)
		return m.redact(value)
	}

	group := ""
	if s, e := loc[2*rule.template.group], loc[2*rule.template.group+1]; s >= 0 {
		group = value[s:e]
	}
	return rule.template.expand(group)
}

func (m *Masker) redact(value string) string {
	return strings.Repeat(string(m.maskRune), utf8.RuneCountInString(value))
}

// buffer is an editable copy of the text. splice is bounded to the current
// contents.
type buffer struct {
	data []byte
}

func newBuffer(text string) *buffer {
	return &buffer{data: []byte(text)}
}

func (b *buffer) splice(start, end int, replacement string) {
	if start > len(b.data) {
		start = len(b.data)
	}
	if end > len(b.data) {
		end = len(b.data)
	}
	if end < start {
		end = start
	}

	tail := append([]byte(replacement), b.data[end:]...)
	b.data = append(b.data[:start], tail...)
}

func (b *buffer) String() string {
	return string(b.data)
}
