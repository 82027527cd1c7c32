package etl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/raaihank/pii-sentinel/internal/privacy"
)

// Pipeline masks PII in datasets using a privacy engine
type Pipeline struct {
	engine *privacy.Engine
	config *Config
	logger *zap.Logger
	stats  *ProcessingStats
	mu     sync.RWMutex
}

// NewPipeline creates a new pipeline
func NewPipeline(engine *privacy.Engine, config *Config, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 1000
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = 1
	}
	if config.MaxTextBytes <= 0 {
		config.MaxTextBytes = 1 << 20
	}

	return &Pipeline{
		engine: engine,
		config: config,
		logger: logger,
		stats: &ProcessingStats{
			StartTime: time.Now(),
		},
	}
}

// ProcessFile masks every record of inputPath and writes the result to
// outputPath in the same format, in input order.
func (p *Pipeline) ProcessFile(ctx context.Context, inputPath, outputPath string) (*ProcessingResult, error) {
	p.logger.Info("Starting masking pipeline",
		zap.String("input", inputPath),
		zap.String("output", outputPath),
		zap.Int("batch_size", p.config.BatchSize),
		zap.Int("workers", p.config.WorkerCount))

	start := time.Now()
	result := &ProcessingResult{FindingsByType: make(map[string]int64)}

	// Detect file format
	format := DetectFileFormat(inputPath)
	if out := DetectFileFormat(outputPath); out != format {
		return result, fmt.Errorf("output format %s does not match input format %s", out, format)
	}
	p.logger.Info("Detected file format", zap.String("format", string(format)))

	// Reset stats
	p.resetStats()

	reader, err := openReader(inputPath, format)
	if err != nil {
		return result, err
	}
	defer reader.Close()

	writer, err := createWriter(outputPath, format)
	if err != nil {
		return result, err
	}

	if err := p.processBatches(ctx, reader, writer, result); err != nil {
		writer.Close()
		return result, fmt.Errorf("%s processing failed: %w", format, err)
	}
	if err := writer.Close(); err != nil {
		return result, fmt.Errorf("failed to finalize output: %w", err)
	}

	result.Duration = time.Since(start)

	p.logger.Info("Masking pipeline completed",
		zap.Int64("total_records", result.TotalRecords),
		zap.Int64("processed_ok", result.ProcessedOK),
		zap.Int64("invalid", result.Invalid),
		zap.Int64("records_with_pii", result.RecordsWithPII),
		zap.Int64("findings", result.TotalFindings),
		zap.Duration("total_duration", result.Duration),
		zap.Duration("masking_time", result.MaskingTime))

	return result, nil
}

// processBatches reads, masks and writes batches until the reader is drained
func (p *Pipeline) processBatches(ctx context.Context, reader recordReader, writer recordWriter, result *ProcessingResult) error {
	lastReport := int64(0)
	for {
		// Check context cancellation
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		batch, done, err := p.readBatch(reader, result)
		if err != nil {
			return fmt.Errorf("failed to read batch: %w", err)
		}

		if len(batch) > 0 {
			maskStart := time.Now()
			masked, err := p.processBatch(ctx, batch)
			if err != nil {
				return err
			}
			result.MaskingTime += time.Since(maskStart)

			if err := writer.Write(masked); err != nil {
				return fmt.Errorf("failed to write batch: %w", err)
			}
			p.collect(masked, result)
		}

		if p.config.ProgressReport > 0 && result.TotalRecords-lastReport >= int64(p.config.ProgressReport) {
			lastReport = result.TotalRecords
			p.reportProgress(result)
		}

		if done {
			return nil
		}
	}
}

func (p *Pipeline) readBatch(reader recordReader, result *ProcessingResult) ([]InputRecord, bool, error) {
	batch := make([]InputRecord, 0, p.config.BatchSize)

	for len(batch) < p.config.BatchSize {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return batch, true, nil
		}

		result.TotalRecords++
		p.updateStats(func(s *ProcessingStats) { s.RecordsRead++ })

		if errors.Is(err, errInvalidRecord) {
			p.invalid(result, err.Error())
			continue
		}
		if err != nil {
			return batch, false, err
		}

		if reason := p.validateRecord(record); reason != "" {
			p.invalid(result, fmt.Sprintf("record %q: %s", record.ID, reason))
			continue
		}

		batch = append(batch, record)
	}

	return batch, false, nil
}

// processBatch masks a batch on the worker pool; output order matches batch
func (p *Pipeline) processBatch(ctx context.Context, batch []InputRecord) ([]OutputRecord, error) {
	p.updateStats(func(s *ProcessingStats) { s.CurrentBatch++ })

	out := make([]OutputRecord, len(batch))
	jobs := make(chan int)

	var wg sync.WaitGroup
	workers := p.config.WorkerCount
	if workers > len(batch) {
		workers = len(batch)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				out[i] = p.maskRecord(ctx, batch[i])
			}
		}()
	}

	var cancelled error
feed:
	for i := range batch {
		select {
		case jobs <- i:
		case <-ctx.Done():
			cancelled = ctx.Err()
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if cancelled != nil {
		return nil, cancelled
	}
	return out, nil
}

func (p *Pipeline) maskRecord(ctx context.Context, record InputRecord) OutputRecord {
	res := p.engine.Redact(ctx, record.Text)
	return OutputRecord{
		ID:       record.ID,
		Text:     res.MaskedText,
		Findings: int64(res.Report.Len()),
		PIITypes: strings.Join(res.Report.Types(), ";"),
	}
}

func (p *Pipeline) collect(records []OutputRecord, result *ProcessingResult) {
	for _, r := range records {
		result.ProcessedOK++
		if r.Findings == 0 {
			continue
		}
		result.RecordsWithPII++
		result.TotalFindings += r.Findings
		for _, t := range strings.Split(r.PIITypes, ";") {
			result.FindingsByType[t]++
		}
	}
	p.updateStats(func(s *ProcessingStats) {
		s.RecordsValid += int64(len(records))
		s.RecordsWritten += int64(len(records))
	})
}

// validateRecord returns why a record cannot be masked, or "" when it can
func (p *Pipeline) validateRecord(record InputRecord) string {
	if !p.config.ValidateData {
		return ""
	}

	// Offsets are byte positions in UTF-8 text.
	if !utf8.ValidString(record.Text) {
		return "text is not valid UTF-8"
	}

	if len(record.Text) > p.config.MaxTextBytes {
		return fmt.Sprintf("text too long (%d bytes)", len(record.Text))
	}

	return ""
}

func (p *Pipeline) invalid(result *ProcessingResult, reason string) {
	result.Invalid++
	if len(result.Errors) < 100 {
		result.Errors = append(result.Errors, reason)
	}
	p.updateStats(func(s *ProcessingStats) { s.RecordsInvalid++ })
	p.logger.Debug("Skipping invalid record", zap.String("reason", reason))
}

// reportProgress reports current processing progress
func (p *Pipeline) reportProgress(result *ProcessingResult) {
	stats := p.GetStats()

	p.logger.Info("Processing progress",
		zap.Int64("records_processed", result.TotalRecords),
		zap.Int64("records_ok", result.ProcessedOK),
		zap.Int64("records_invalid", result.Invalid),
		zap.Float64("rate_per_sec", stats.ProcessingRate),
		zap.Duration("elapsed", time.Since(stats.StartTime)))
}

func (p *Pipeline) updateStats(fn func(*ProcessingStats)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p.stats)
	if elapsed := time.Since(p.stats.StartTime).Seconds(); elapsed > 0 {
		p.stats.ProcessingRate = float64(p.stats.RecordsRead) / elapsed
	}
}

// resetStats resets processing statistics
func (p *Pipeline) resetStats() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats = &ProcessingStats{
		StartTime: time.Now(),
	}
}

// GetStats returns current processing statistics
func (p *Pipeline) GetStats() *ProcessingStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	// Create a copy
	stats := *p.stats
	return &stats
}

// TypeCounts returns the per-type finding counts ordered by type name.
func (r *ProcessingResult) TypeCounts() []string {
	types := make([]string, 0, len(r.FindingsByType))
	for t := range r.FindingsByType {
		types = append(types, t)
	}
	sort.Strings(types)

	lines := make([]string, 0, len(types))
	for _, t := range types {
		lines = append(lines, fmt.Sprintf("%s=%d", t, r.FindingsByType[t]))
	}
	return lines
}
