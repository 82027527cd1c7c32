package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/raaihank/pii-sentinel/internal/app"
	"github.com/raaihank/pii-sentinel/internal/etl"
)

var (
	flagConfig     string
	flagRules      string
	flagBackend    string
	flagInput      string
	flagOutput     string
	flagWorkers    int
	flagBatchSize  int
	flagNoValidate bool
	flagCacheStats bool
	flagClearCache bool
)

var rootCmd = &cobra.Command{
	Use:   "etl",
	Short: "Mask PII in CSV, Parquet or JSON datasets",
	Long: `Read {id, text} records from a dataset, mask the PII in every text and
write {id, text, findings, pii_types} records to an output file of the same
format, in input order. Records that cannot be read are counted and skipped.

The format follows the file extension: .parquet, .json/.jsonl/.ndjson, and
CSV otherwise.

	Examples:
	  etl --input dataset.csv --batch-size 500
	  etl --input dataset.parquet --output masked.parquet --workers 8
	  etl --backend augmented --cache-stats`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVarP(&flagConfig, "config", "c", "", "path to configuration file")
	flags.StringVarP(&flagRules, "rules", "r", "", "PII rules file (overrides privacy.rules_file)")
	flags.StringVarP(&flagBackend, "backend", "b", "", "detection backend: pattern or augmented")
	flags.StringVarP(&flagInput, "input", "i", "", "input dataset file (CSV, Parquet, or JSON)")
	flags.StringVarP(&flagOutput, "output", "o", "", "output file (default <input>.masked<ext>)")
	flags.IntVar(&flagWorkers, "workers", 0, "number of worker goroutines (overrides batch.worker_count)")
	flags.IntVar(&flagBatchSize, "batch-size", 0, "records per batch (overrides batch.batch_size)")
	flags.BoolVar(&flagNoValidate, "no-validate", false, "skip UTF-8 and size checks on records")
	flags.BoolVar(&flagCacheStats, "cache-stats", false, "show result cache statistics and exit")
	flags.BoolVar(&flagClearCache, "clear-cache", false, "clear the result cache and exit")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if flagInput == "" && !flagCacheStats && !flagClearCache {
		return fmt.Errorf("--input is required")
	}

	a, err := app.Load(app.Options{
		ConfigPath: flagConfig,
		RulesPath:  flagRules,
		Backend:    flagBackend,
	})
	if err != nil {
		return err
	}
	defer a.Close()

	log := a.Logger
	log.Info("Starting PII-Sentinel ETL pipeline",
		zap.String("config", flagConfig),
		zap.String("backend", string(a.Engine.Backend().Name())),
		zap.Int("rules", a.Engine.Rules().Len()))

	// Create context with cancellation
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			log.Info("Received shutdown signal, cancelling operations...")
			cancel()
		case <-ctx.Done():
		}
	}()

	switch {
	case flagCacheStats:
		return showCacheStats(ctx, a, cmd.OutOrStdout())
	case flagClearCache:
		if a.Cache == nil {
			return fmt.Errorf("result cache is not enabled (requires the augmented backend and cache.enabled)")
		}
		if err := a.Cache.Clear(ctx); err != nil {
			return fmt.Errorf("failed to clear cache: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Result cache cleared")
		return nil
	}

	etlConfig := etl.ConfigFrom(a.Config.Batch)
	if flagWorkers > 0 {
		etlConfig.WorkerCount = flagWorkers
	}
	if flagBatchSize > 0 {
		etlConfig.BatchSize = flagBatchSize
	}
	if flagNoValidate {
		etlConfig.ValidateData = false
	}

	output := flagOutput
	if output == "" {
		output = defaultOutput(flagInput)
	}

	return processDataset(ctx, a, etlConfig, flagInput, output, cmd.OutOrStdout())
}

// defaultOutput places the masked file next to the input.
func defaultOutput(input string) string {
	ext := filepath.Ext(input)
	return strings.TrimSuffix(input, ext) + ".masked" + ext
}

// processDataset masks the input dataset file
func processDataset(ctx context.Context, a *app.App, etlConfig *etl.Config, input, output string, out io.Writer) error {
	log := a.Logger

	// Check if file exists
	if _, err := os.Stat(input); os.IsNotExist(err) {
		return fmt.Errorf("input file does not exist: %s", input)
	}

	pipeline := etl.NewPipeline(a.Engine, etlConfig, log.WithComponent("etl").Logger)

	result, err := pipeline.ProcessFile(ctx, input, output)
	if err != nil {
		return fmt.Errorf("pipeline processing failed: %w", err)
	}

	if len(result.Errors) > 0 {
		log.Warn("Processing completed with invalid records", zap.Strings("errors", result.Errors))
	}

	fmt.Fprintf(out, "\n=== PII-Sentinel Masking Summary ===\n")
	fmt.Fprintf(out, "Input:              %s\n", input)
	fmt.Fprintf(out, "Output:             %s\n", output)
	fmt.Fprintf(out, "Records:            %d\n", result.TotalRecords)
	fmt.Fprintf(out, "Masked:             %d\n", result.ProcessedOK)
	fmt.Fprintf(out, "Invalid (skipped):  %d\n", result.Invalid)
	fmt.Fprintf(out, "Records with PII:   %d\n", result.RecordsWithPII)
	fmt.Fprintf(out, "Findings:           %d\n", result.TotalFindings)
	for _, line := range result.TypeCounts() {
		fmt.Fprintf(out, "  %s\n", line)
	}
	fmt.Fprintf(out, "Duration:           %v\n", result.Duration)
	if secs := result.Duration.Seconds(); secs > 0 {
		fmt.Fprintf(out, "Records/sec:        %.1f\n", float64(result.TotalRecords)/secs)
	}

	return nil
}

// showCacheStats displays result cache statistics
func showCacheStats(ctx context.Context, a *app.App, out io.Writer) error {
	if a.Cache == nil {
		return fmt.Errorf("result cache is not enabled (requires the augmented backend and cache.enabled)")
	}

	stats, err := a.Cache.GetStats(ctx)
	if err != nil {
		return fmt.Errorf("failed to get cache stats: %w", err)
	}

	fmt.Fprintf(out, "\n=== Result Cache Statistics ===\n")
	fmt.Fprintf(out, "Cache Hits:         %d\n", stats.Hits)
	fmt.Fprintf(out, "Cache Misses:       %d\n", stats.Misses)
	fmt.Fprintf(out, "Hit Rate:           %.1f%%\n", stats.HitRate)
	fmt.Fprintf(out, "Total Keys:         %d\n", stats.TotalKeys)
	fmt.Fprintf(out, "Memory Usage:       %.2f MB\n", float64(stats.MemoryUsage)/1024/1024)

	return nil
}
