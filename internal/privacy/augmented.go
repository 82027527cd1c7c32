package privacy

import (
	"context"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

// PatternRecognizer is an ad-hoc recognizer built from one rule and handed to
// a Recognizer so it only knows about configured entities.
type PatternRecognizer struct {
	Name   string  `json:"name"`
	Entity string  `json:"supported_entity"`
	Regex  string  `json:"regex"`
	Score  float64 `json:"score"`
}

// AnalyzeRequest asks a recognizer for entities in Text.
type AnalyzeRequest struct {
	Text        string
	Language    string
	Entities    []string
	Recognizers []PatternRecognizer
}

// RecognizerResult is one entity reported by a recognizer. Start and End are
// code point offsets.
type RecognizerResult struct {
	EntityType string  `json:"entity_type"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Score      float64 `json:"score"`
}

// Recognizer is an external entity recognition capability, typically an NLP
// service. Errors that mean the capability is missing should wrap
// ErrRecognizerUnavailable.
type Recognizer interface {
	Analyze(ctx context.Context, req AnalyzeRequest) ([]RecognizerResult, error)
}

// AugmentedOptions tunes an AugmentedBackend.
type AugmentedOptions struct {
	Language string
	MinScore float64
	Observer Observer
}

// AugmentedBackend runs a Recognizer restricted to the rule set's entities.
type AugmentedBackend struct {
	recognizer Recognizer
	language   string
	minScore   float64
	observer   Observer
	logger     *zap.Logger
}

// NewAugmentedBackend creates a backend over recognizer. A nil recognizer is
// accepted and treated as permanently unavailable.
func NewAugmentedBackend(recognizer Recognizer, opts AugmentedOptions, logger *zap.Logger) *AugmentedBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Language == "" {
		opts.Language = "en"
	}
	if opts.Observer == nil {
		opts.Observer = NopObserver
	}
	return &AugmentedBackend{
		recognizer: recognizer,
		language:   opts.Language,
		minScore:   opts.MinScore,
		observer:   opts.Observer,
		logger:     logger,
	}
}

// Name implements Backend.
func (b *AugmentedBackend) Name() BackendType {
	return AugmentedBackendType
}

// Scan implements Backend. Recognizer failures are logged and produce an
// empty report; callers cannot tell "nothing found" from "degraded" by the
// report alone.
func (b *AugmentedBackend) Scan(ctx context.Context, text string, rules *RuleSet) *Report {
	report := NewReport()

	if rules.Len() == 0 {
		return report
	}
	if b.recognizer == nil {
		b.degraded(ErrRecognizerUnavailable)
		return report
	}

	start := time.Now()
	results, err := b.recognizer.Analyze(ctx, AnalyzeRequest{
		Text:        text,
		Language:    b.language,
		Entities:    rules.EntityNames(),
		Recognizers: adHocRecognizers(rules),
	})
	if err != nil {
		b.degraded(err)
		return report
	}

	offsets := newRuneOffsets(text)
	for _, result := range results {
		if !rules.Has(result.EntityType) {
			b.logger.Debug("Ignoring entity outside rule set", zap.String("entity", result.EntityType))
			continue
		}
		if result.Score < b.minScore {
			continue
		}

		startByte, okStart := offsets.byteOffset(result.Start)
		endByte, okEnd := offsets.byteOffset(result.End)
		if !okStart || !okEnd {
			b.logger.Warn("Discarding recognizer result with out of range span",
				zap.String("entity", result.EntityType),
				zap.Int("start", result.Start),
				zap.Int("end", result.End),
			)
			continue
		}

		finding, err := newFinding(text, result.EntityType, startByte, endByte)
		if err != nil {
			b.logger.Warn("Discarding invalid recognizer result", zap.String("entity", result.EntityType), zap.Error(err))
			continue
		}
		report.Add(finding)
	}

	b.logger.Debug("Recognizer analysis completed",
		zap.Int("results", len(results)),
		zap.Int("findings", report.Len()),
		zap.Duration("duration", time.Since(start)),
	)

	return report
}

func (b *AugmentedBackend) degraded(err error) {
	b.observer.BackendDegraded(string(AugmentedBackendType), err)
	b.logger.Warn("Entity recognizer unavailable, scan degraded to empty report",
		zap.Error(err),
		zap.String("hint", "check that the analyzer service is reachable and its language model is installed"),
	)
}

func adHocRecognizers(rules *RuleSet) []PatternRecognizer {
	list := make([]PatternRecognizer, 0, rules.Len())
	for _, rule := range rules.Rules() {
		list = append(list, PatternRecognizer{
			Name:   "recognizer_for_" + rule.Name,
			Entity: rule.Name,
			Regex:  rule.Detection.String(),
			Score:  1.0,
		})
	}
	return list
}

// runeOffsets maps code point offsets to byte offsets.
type runeOffsets []int

func newRuneOffsets(text string) runeOffsets {
	offsets := make(runeOffsets, 0, utf8.RuneCountInString(text)+1)
	for i := range text {
		offsets = append(offsets, i)
	}
	return append(offsets, len(text))
}

func (o runeOffsets) byteOffset(runeIndex int) (int, bool) {
	if runeIndex < 0 || runeIndex >= len(o) {
		return 0, false
	}
	return o[runeIndex], true
}
