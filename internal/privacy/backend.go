package privacy

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// BackendType names a detection backend implementation.
type BackendType string

const (
	// PatternBackendType matches the rule patterns directly
	PatternBackendType BackendType = "pattern"
	// AugmentedBackendType delegates to an entity recognizer restricted to the rules
	AugmentedBackendType BackendType = "augmented"
)

// ParseBackendType validates a configured backend name.
func ParseBackendType(s string) (BackendType, error) {
	switch BackendType(s) {
	case PatternBackendType, AugmentedBackendType:
		return BackendType(s), nil
	case "":
		return PatternBackendType, nil
	default:
		return "", fmt.Errorf("unknown detection backend: %s (must be pattern or augmented)", s)
	}
}

// Backend produces findings for text under a rule set. Scan never fails: a
// backend that cannot do its work returns what it has and logs a warning.
type Backend interface {
	Scan(ctx context.Context, text string, rules *RuleSet) *Report
	Name() BackendType
}

// PatternBackend reports every non-overlapping match of every rule's
// detection pattern, rule by rule, in configuration order.
type PatternBackend struct {
	logger *zap.Logger
}

// NewPatternBackend creates a pattern matching backend.
func NewPatternBackend(logger *zap.Logger) *PatternBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PatternBackend{logger: logger}
}

// Name implements Backend.
func (b *PatternBackend) Name() BackendType {
	return PatternBackendType
}

// Scan implements Backend.
func (b *PatternBackend) Scan(ctx context.Context, text string, rules *RuleSet) *Report {
	report := NewReport()

	for _, rule := range rules.Rules() {
		if ctx.Err() != nil {
			b.logger.Warn("Pattern scan cancelled", zap.Error(ctx.Err()))
			return report
		}

		for _, loc := range rule.Detection.FindAllStringIndex(text, -1) {
			finding, err := newFinding(text, rule.Name, loc[0], loc[1])
			if err != nil {
				b.logger.Warn("Discarding invalid match", zap.String("rule", rule.Name), zap.Error(err))
				continue
			}
			report.Add(finding)
		}
	}

	return report
}
