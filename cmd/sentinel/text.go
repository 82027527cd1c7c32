package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/raaihank/pii-sentinel/internal/privacy"
)

var (
	flagScanJSON     bool
	flagScanExitCode bool
	flagMaskJSON     bool
)

func init() {
	scanCmd.Flags().BoolVar(&flagScanJSON, "json", false, "print findings as JSON")
	scanCmd.Flags().BoolVar(&flagScanExitCode, "exit-code", false, "exit with status 2 when PII is found")
	maskCmd.Flags().BoolVar(&flagMaskJSON, "json", false, "print masked text and findings as JSON")

	rootCmd.AddCommand(scanCmd, maskCmd, rulesCmd)
}

var scanCmd = &cobra.Command{
	Use:   "scan [text|-]",
	Short: "Report the PII found in text",
	Long: `Scan text for PII and print the resolved findings.

Text is taken from the arguments, or from standard input when no argument or
"-" is given.

	Examples:
	  sentinel scan "mail me at jane@example.com"
	  sentinel scan --json - < prompt.txt
	  sentinel scan --exit-code "$PROMPT" || echo "refusing to send"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _, err := inputText(cmd, args)
		if err != nil {
			return err
		}

		a, err := loadApp("warn")
		if err != nil {
			return err
		}
		defer a.Close()

		result := a.Engine.Redact(cmd.Context(), text)

		out := cmd.OutOrStdout()
		if flagScanJSON {
			if err := printJSON(out, result.Report); err != nil {
				return err
			}
		} else {
			fmt.Fprintln(out, strings.TrimSuffix(result.Report.Text(), "\n"))
		}

		if flagScanExitCode && result.Report.HasFindings() {
			return errPIIFound
		}
		return nil
	},
}

var maskCmd = &cobra.Command{
	Use:   "mask [text|-]",
	Short: "Print text with its PII masked",
	Long: `Scan text, resolve overlapping findings and print the masked text.

Text is taken from the arguments, or from standard input when no argument or
"-" is given. Standard input is written back without adding a newline.

	Examples:
	  sentinel mask "ssn 123-45-6789"
	  sentinel mask - < prompt.txt > prompt.masked.txt`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, fromStdin, err := inputText(cmd, args)
		if err != nil {
			return err
		}

		a, err := loadApp("warn")
		if err != nil {
			return err
		}
		defer a.Close()

		result := a.Engine.Redact(cmd.Context(), text)

		out := cmd.OutOrStdout()
		switch {
		case flagMaskJSON:
			return printJSON(out, result)
		case fromStdin:
			_, err = io.WriteString(out, result.MaskedText)
			return err
		default:
			fmt.Fprintln(out, result.MaskedText)
			return nil
		}
	},
}

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "List the loaded PII rules",
	Long: `Load the rules file and list the active rules in configuration order,
followed by any rules that were dropped and why.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp("warn")
		if err != nil {
			return err
		}
		defer a.Close()

		rules := a.Engine.Rules()
		out := cmd.OutOrStdout()

		fmt.Fprintf(out, "Rules file: %s\n", a.Config.Privacy.RulesFile)
		fmt.Fprintf(out, "Backend:    %s\n", a.Engine.Backend().Name())
		fmt.Fprintf(out, "Active:     %d (fingerprint %s)\n\n", rules.Len(), rules.Fingerprint())

		for _, rule := range rules.Rules() {
			fmt.Fprintf(out, "%-16s %-8s %s\n", rule.Name, rule.Strategy, rule.Detection)
			if rule.Mask.String() != rule.Detection.String() {
				fmt.Fprintf(out, "%-16s %-8s mask %s\n", "", "", rule.Mask)
			}
			if rule.Strategy == privacy.StrategyReplace {
				fmt.Fprintf(out, "%-16s %-8s -> %s\n", "", "", rule.Replacement)
			}
		}

		if problems := rules.Problems(); len(problems) > 0 {
			fmt.Fprintf(out, "\nDropped: %d\n", len(problems))
			for _, problem := range problems {
				fmt.Fprintf(out, "  %v\n", problem)
			}
		}
		return nil
	},
}

// inputText returns the text named by args, reading standard input for no
// argument or "-".
func inputText(cmd *cobra.Command, args []string) (string, bool, error) {
	if len(args) == 0 || (len(args) == 1 && args[0] == "-") {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", true, fmt.Errorf("reading standard input: %w", err)
		}
		return string(data), true, nil
	}
	return strings.Join(args, " "), false, nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
