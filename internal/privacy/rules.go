package privacy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Strategy selects how a rule's findings are masked.
type Strategy int

const (
	// StrategyRedact replaces every character of the match with the mask rune
	StrategyRedact Strategy = iota + 1
	// StrategyReplace substitutes the rule's replacement template
	StrategyReplace
)

// ParseStrategy maps the configuration value to a Strategy. The empty string
// selects StrategyReplace.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "replace":
		return StrategyReplace, nil
	case "redact":
		return StrategyRedact, nil
	default:
		return 0, fmt.Errorf("unknown strategy %q (must be redact or replace)", s)
	}
}

func (s Strategy) String() string {
	switch s {
	case StrategyRedact:
		return "redact"
	case StrategyReplace:
		return "replace"
	default:
		return "strategy(" + strconv.Itoa(int(s)) + ")"
	}
}

// RuleConfig is one entry of the pii_rules list.
type RuleConfig struct {
	Name            string `yaml:"name" mapstructure:"name" json:"name"`
	Pattern         string `yaml:"pattern" mapstructure:"pattern" json:"pattern"`
	MaskPattern     string `yaml:"mask_pattern" mapstructure:"mask_pattern" json:"mask_pattern,omitempty"`
	Strategy        string `yaml:"strategy" mapstructure:"strategy" json:"strategy,omitempty"`
	MaskReplacement string `yaml:"mask_replacement" mapstructure:"mask_replacement" json:"mask_replacement,omitempty"`
}

// Rule is a compiled detection rule. Rules are immutable once compiled and
// safe for concurrent use.
type Rule struct {
	Name        string
	Strategy    Strategy
	Detection   *regexp.Regexp
	Mask        *regexp.Regexp
	Replacement string

	anchoredMask *regexp.Regexp
	template     template
}

// CompileRule validates cfg and compiles both of its patterns.
func CompileRule(cfg RuleConfig) (*Rule, error) {
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidRule)
	}
	if cfg.Pattern == "" {
		return nil, fmt.Errorf("%w %s: pattern is required", ErrInvalidRule, name)
	}

	strategy, err := ParseStrategy(cfg.Strategy)
	if err != nil {
		return nil, fmt.Errorf("%w %s: %v", ErrInvalidRule, name, err)
	}

	detection, err := regexp.Compile(cfg.Pattern)
	if err != nil {
		return nil, fmt.Errorf("%w %s: pattern: %v", ErrInvalidRule, name, err)
	}

	maskSource := cfg.MaskPattern
	if maskSource == "" {
		maskSource = cfg.Pattern
	}
	mask, err := regexp.Compile(maskSource)
	if err != nil {
		return nil, fmt.Errorf("%w %s: mask_pattern: %v", ErrInvalidRule, name, err)
	}
	anchored, err := regexp.Compile(`^(?:` + maskSource + `)`)
	if err != nil {
		return nil, fmt.Errorf("%w %s: mask_pattern: %v", ErrInvalidRule, name, err)
	}

	rule := &Rule{
		Name:         name,
		Strategy:     strategy,
		Detection:    detection,
		Mask:         mask,
		Replacement:  cfg.MaskReplacement,
		anchoredMask: anchored,
	}

	if strategy == StrategyReplace {
		if cfg.MaskReplacement == "" {
			return nil, fmt.Errorf("%w %s: mask_replacement is required for strategy replace", ErrInvalidRule, name)
		}
		tmpl, err := parseTemplate(cfg.MaskReplacement, mask.NumSubexp())
		if err != nil {
			return nil, fmt.Errorf("%w %s: %w", ErrInvalidRule, name, err)
		}
		rule.template = tmpl
	}

	return rule, nil
}

// RuleSet is an ordered, immutable collection of compiled rules with unique
// names.
type RuleSet struct {
	rules    []*Rule
	byName   map[string]*Rule
	problems []error
}

// EmptyRuleSet returns a set with no rules.
func EmptyRuleSet() *RuleSet {
	return &RuleSet{byName: make(map[string]*Rule)}
}

// NewRuleSet compiles configs in order. Rules that fail to compile, and later
// duplicates of an earlier name, are dropped and logged.
func NewRuleSet(configs []RuleConfig, logger *zap.Logger) *RuleSet {
	if logger == nil {
		logger = zap.NewNop()
	}

	set := EmptyRuleSet()
	for i, cfg := range configs {
		rule, err := CompileRule(cfg)
		if err != nil {
			set.problems = append(set.problems, err)
			logger.Warn("Dropping PII rule",
				zap.Int("index", i),
				zap.String("rule", cfg.Name),
				zap.Error(err),
			)
			continue
		}

		if _, exists := set.byName[rule.Name]; exists {
			err := fmt.Errorf("%w %s: duplicate name", ErrInvalidRule, rule.Name)
			set.problems = append(set.problems, err)
			logger.Warn("Dropping duplicate PII rule", zap.Int("index", i), zap.String("rule", rule.Name))
			continue
		}

		set.rules = append(set.rules, rule)
		set.byName[rule.Name] = rule
	}

	return set
}

// Rules returns the rules in configuration order.
func (s *RuleSet) Rules() []*Rule {
	if s == nil {
		return nil
	}
	out := make([]*Rule, len(s.rules))
	copy(out, s.rules)
	return out
}

// Lookup returns the rule registered under name.
func (s *RuleSet) Lookup(name string) (*Rule, bool) {
	if s == nil {
		return nil, false
	}
	rule, ok := s.byName[name]
	return rule, ok
}

// EntityNames returns the rule names in configuration order, used as the
// allow-list for recognizers that need one.
func (s *RuleSet) EntityNames() []string {
	if s == nil {
		return nil
	}
	names := make([]string, len(s.rules))
	for i, rule := range s.rules {
		names[i] = rule.Name
	}
	return names
}

// Has reports whether a rule named name is loaded.
func (s *RuleSet) Has(name string) bool {
	_, ok := s.Lookup(name)
	return ok
}

// Len returns the number of loaded rules.
func (s *RuleSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.rules)
}

// Problems returns the errors of rules dropped while loading.
func (s *RuleSet) Problems() []error {
	if s == nil {
		return nil
	}
	out := make([]error, len(s.problems))
	copy(out, s.problems)
	return out
}

// Fingerprint identifies the detection behaviour of the set.
func (s *RuleSet) Fingerprint() string {
	hasher := sha256.New()
	for _, rule := range s.Rules() {
		fmt.Fprintf(hasher, "%s\x00%s\x00", rule.Name, rule.Detection.String())
	}
	return hex.EncodeToString(hasher.Sum(nil))
}

var placeholderPattern = regexp.MustCompile(`\\(\d+)|\$\{(\d+)\}`)

// template is a replacement string with at most one capture-group
// placeholder, split around it.
type template struct {
	prefix   string
	suffix   string
	group    int
	hasGroup bool
}

// parseTemplate accepts \N or ${N}. Templates with several placeholders are
// rejected rather than guessed at.
func parseTemplate(raw string, groups int) (template, error) {
	locs := placeholderPattern.FindAllStringSubmatchIndex(raw, -1)
	switch len(locs) {
	case 0:
		return template{prefix: raw}, nil
	case 1:
	default:
		return template{}, fmt.Errorf("%w: %d backreferences in %q, at most one is supported", ErrUnsupportedTemplate, len(locs), raw)
	}

	loc := locs[0]
	digits := ""
	if loc[2] >= 0 {
		digits = raw[loc[2]:loc[3]]
	} else {
		digits = raw[loc[4]:loc[5]]
	}
	group, err := strconv.Atoi(digits)
	if err != nil || group < 1 || group > groups {
		return template{}, fmt.Errorf("%w: backreference %s in %q but mask pattern has %d groups", ErrUnsupportedTemplate, digits, raw, groups)
	}

	return template{
		prefix:   raw[:loc[0]],
		suffix:   raw[loc[1]:],
		group:    group,
		hasGroup: true,
	}, nil
}

func (t template) expand(value string) string {
	return t.prefix + value + t.suffix
}
