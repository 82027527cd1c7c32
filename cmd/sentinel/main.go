package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/raaihank/pii-sentinel/internal/app"
)

var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

var (
	flagConfig   string
	flagRules    string
	flagBackend  string
	flagLogLevel string
)

var rootCmd = &cobra.Command{
	Use:   "sentinel",
	Short: "Detect and mask PII in text",
	Long: `PII-Sentinel finds personally identifiable information in text using
configurable rules and masks it before the text leaves your hands.

Rules are read once from a YAML file (pii_rules list, default config.yaml).
Detection runs either on the rule patterns directly (pattern backend) or on a
remote entity recognizer restricted to the configured rules (augmented backend).

	Examples:
	  sentinel scan "call me at 555-123-4567"
	  echo "ssn 123-45-6789" | sentinel mask -
	  sentinel rules --rules ./config.yaml
	  sentinel serve --config ./configs/sentinel.yaml`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "path to configuration file")
	rootCmd.PersistentFlags().StringVarP(&flagRules, "rules", "r", "", "PII rules file (overrides privacy.rules_file)")
	rootCmd.PersistentFlags().StringVarP(&flagBackend, "backend", "b", "", "detection backend: pattern or augmented")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level (overrides logging.level)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, errPIIFound) {
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadApp builds the shared components with the command line overrides.
func loadApp(defaultLevel string) (*app.App, error) {
	return app.Load(app.Options{
		ConfigPath:      flagConfig,
		RulesPath:       flagRules,
		Backend:         flagBackend,
		LogLevel:        flagLogLevel,
		DefaultLogLevel: defaultLevel,
	})
}

// errPIIFound makes scan --exit-code exit with status 2.
var errPIIFound = errors.New("PII detected")
