package etl

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/raaihank/pii-sentinel/internal/config"
)

// InputRecord is one text to mask
type InputRecord struct {
	ID   string `parquet:"id" json:"id"`
	Text string `parquet:"text" json:"text"`
}

// OutputRecord is a masked record. PIITypes lists the distinct detected
// types separated by ';'.
type OutputRecord struct {
	ID       string `parquet:"id" json:"id"`
	Text     string `parquet:"text" json:"text"`
	Findings int64  `parquet:"findings" json:"findings"`
	PIITypes string `parquet:"pii_types" json:"pii_types"`
}

// ProcessingResult represents the result of processing a dataset
type ProcessingResult struct {
	TotalRecords   int64            `json:"total_records"`
	ProcessedOK    int64            `json:"processed_ok"`
	Invalid        int64            `json:"invalid"`
	RecordsWithPII int64            `json:"records_with_pii"`
	TotalFindings  int64            `json:"total_findings"`
	FindingsByType map[string]int64 `json:"findings_by_type"`
	Duration       time.Duration    `json:"duration"`
	MaskingTime    time.Duration    `json:"masking_time"`
	Errors         []string         `json:"errors,omitempty"`
}

// Config contains pipeline configuration
type Config struct {
	BatchSize      int  // 1000
	WorkerCount    int  // 4
	ValidateData   bool // true
	ProgressReport int  // 1000
	MaxTextBytes   int  // 1 MiB
}

// ConfigFrom converts the batch section of the service configuration.
func ConfigFrom(c config.BatchConfig) *Config {
	return &Config{
		BatchSize:      c.BatchSize,
		WorkerCount:    c.WorkerCount,
		ValidateData:   c.ValidateData,
		ProgressReport: c.ProgressReport,
		MaxTextBytes:   1 << 20,
	}
}

// ProcessingStats tracks real-time processing statistics
type ProcessingStats struct {
	StartTime      time.Time `json:"start_time"`
	RecordsRead    int64     `json:"records_read"`
	RecordsValid   int64     `json:"records_valid"`
	RecordsInvalid int64     `json:"records_invalid"`
	RecordsWritten int64     `json:"records_written"`
	CurrentBatch   int64     `json:"current_batch"`
	ProcessingRate float64   `json:"processing_rate"` // records per second
}

// FileFormat represents supported file formats
type FileFormat string

const (
	FormatCSV     FileFormat = "csv"
	FormatParquet FileFormat = "parquet"
	FormatJSON    FileFormat = "json"
)

// DetectFileFormat detects file format from extension
func DetectFileFormat(filename string) FileFormat {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".parquet":
		return FormatParquet
	case ".json", ".jsonl", ".ndjson":
		return FormatJSON
	default:
		return FormatCSV // Default to CSV
	}
}
