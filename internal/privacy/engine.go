package privacy

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Result is the outcome of redacting one text.
type Result struct {
	MaskedText string  `json:"masked_text"`
	Report     *Report `json:"findings"`
	Original   string  `json:"-"` // never serialize the original text
}

// Engine ties a rule set, a detection backend and a masker together.
type Engine struct {
	rules    *RuleSet
	backend  Backend
	masker   *Masker
	observer Observer
	logger   *zap.Logger
}

// EngineOptions tunes an Engine.
type EngineOptions struct {
	MaskRune rune
	Observer Observer
}

// NewEngine creates an engine. A nil backend selects the pattern backend.
func NewEngine(rules *RuleSet, backend Backend, opts EngineOptions, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if rules == nil {
		rules = EmptyRuleSet()
	}
	if backend == nil {
		backend = NewPatternBackend(logger)
	}
	if opts.Observer == nil {
		opts.Observer = NopObserver
	}

	return &Engine{
		rules:    rules,
		backend:  backend,
		masker:   NewMasker(rules, MaskerOptions{MaskRune: opts.MaskRune, Observer: opts.Observer}, logger),
		observer: opts.Observer,
		logger:   logger,
	}
}

// Rules returns the engine's rule set.
func (e *Engine) Rules() *RuleSet {
	return e.rules
}

// Backend returns the engine's detection backend.
func (e *Engine) Backend() Backend {
	return e.backend
}

// Scan returns the raw, possibly overlapping findings in text.
func (e *Engine) Scan(ctx context.Context, text string) *Report {
	start := time.Now()
	report := e.backend.Scan(ctx, text, e.rules)
	elapsed := time.Since(start)

	e.observer.ScanCompleted(string(e.backend.Name()), report.Findings(), elapsed)
	if report.HasFindings() {
		e.logger.Debug("PII detected",
			zap.String("backend", string(e.backend.Name())),
			zap.Int("count", report.Len()),
			zap.Strings("types", report.Types()),
			zap.Duration("duration", elapsed),
		)
	}
	return report
}

// Mask applies the rule strategies to findings in text.
func (e *Engine) Mask(text string, findings []Finding) string {
	return e.masker.Mask(text, findings)
}

// Redact scans text, resolves overlapping findings, narrows the report to the
// resolved set and masks them.
func (e *Engine) Redact(ctx context.Context, text string) Result {
	report := e.Scan(ctx, text)
	if !report.HasFindings() {
		return Result{MaskedText: text, Report: report, Original: text}
	}

	report.Replace(ResolveOverlaps(report.Findings()))
	return Result{
		MaskedText: e.masker.Mask(text, report.Findings()),
		Report:     report,
		Original:   text,
	}
}
