package privacy

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// RulesKey is the configuration key holding the rule list.
const RulesKey = "pii_rules"

// DefaultRulesFile is read when no rules file is configured.
const DefaultRulesFile = "config.yaml"

// RuleLoader reads the rule configuration once, on first use, and hands the
// same RuleSet to every caller afterwards. It is safe for concurrent use.
type RuleLoader struct {
	path   string
	logger *zap.Logger

	once sync.Once
	set  *RuleSet
}

// NewRuleLoader creates a loader for the YAML (or JSON/TOML, by extension)
// file at path.
func NewRuleLoader(path string, logger *zap.Logger) *RuleLoader {
	if path == "" {
		path = DefaultRulesFile
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RuleLoader{path: path, logger: logger}
}

// Path returns the configuration source of the loader.
func (l *RuleLoader) Path() string {
	return l.path
}

// RuleSet returns the cached rule set, loading it on the first call. A
// missing or unreadable source yields an empty set.
func (l *RuleLoader) RuleSet() *RuleSet {
	l.once.Do(func() {
		configs, err := ReadRuleConfigs(l.path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				l.logger.Warn("PII rules file not found, no rules loaded", zap.String("path", l.path))
			} else {
				l.logger.Warn("Failed to load PII rules, no rules loaded", zap.String("path", l.path), zap.Error(err))
			}
			l.set = EmptyRuleSet()
			return
		}

		l.set = NewRuleSet(configs, l.logger)
		l.logger.Info("PII rules loaded",
			zap.String("path", l.path),
			zap.Int("configured", len(configs)),
			zap.Int("active", l.set.Len()),
			zap.Strings("entities", l.set.EntityNames()),
		)
	})
	return l.set
}

// ReadRuleConfigs parses the rule list from the file at path.
func ReadRuleConfigs(path string) ([]RuleConfig, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	if filepath.Ext(path) == "" {
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}

	var configs []RuleConfig
	if err := v.UnmarshalKey(RulesKey, &configs); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", RulesKey, err)
	}
	return configs, nil
}
