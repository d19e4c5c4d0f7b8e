package etl

import (
	"path/filepath"
	"strings"
	"time"
)

// Record is a single contract text from the input dataset
type Record struct {
	ID   string `parquet:"id" json:"id"`
	Text string `parquet:"text" json:"text"`
}

// ProcessingResult represents the result of processing a dataset
type ProcessingResult struct {
	TotalRecords    int64            `json:"total_records"`
	ProcessedOK     int64            `json:"processed_ok"`
	ProcessedFailed int64            `json:"processed_failed"`
	Invalid         int64            `json:"invalid"`
	Duplicates      int64            `json:"duplicates"`
	ItemsDetected   int64            `json:"items_detected"`
	ByRiskLevel     map[string]int64 `json:"by_risk_level"`
	Duration        time.Duration    `json:"duration"`
	ScanTime        time.Duration    `json:"scan_time"`
	DatabaseTime    time.Duration    `json:"database_time"`
	CacheTime       time.Duration    `json:"cache_time"`
	Errors          []string         `json:"errors,omitempty"`
}

// Config contains ETL pipeline configuration
type Config struct {
	BatchSize      int           `yaml:"batch_size" mapstructure:"batch_size"`           // 500
	WorkerCount    int           `yaml:"worker_count" mapstructure:"worker_count"`       // 4
	SkipDuplicates bool          `yaml:"skip_duplicates" mapstructure:"skip_duplicates"` // true
	ValidateData   bool          `yaml:"validate_data" mapstructure:"validate_data"`     // true
	UpdateCache    bool          `yaml:"update_cache" mapstructure:"update_cache"`       // true
	MaxTextBytes   int           `yaml:"max_text_bytes" mapstructure:"max_text_bytes"`   // 1 MiB
	ProgressReport int           `yaml:"progress_report" mapstructure:"progress_report"` // 1000
	DryRun         bool          `yaml:"dry_run" mapstructure:"dry_run"`
	Timeout        time.Duration `yaml:"timeout" mapstructure:"timeout"` // 0 = none
}

// DefaultConfig returns the settings used by cmd/etl
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      500,
		WorkerCount:    4,
		SkipDuplicates: true,
		ValidateData:   true,
		UpdateCache:    true,
		MaxTextBytes:   1 << 20,
		ProgressReport: 1000,
	}
}

// ProcessingStats tracks real-time processing statistics
type ProcessingStats struct {
	StartTime      time.Time `json:"start_time"`
	RecordsRead    int64     `json:"records_read"`
	RecordsValid   int64     `json:"records_valid"`
	RecordsInvalid int64     `json:"records_invalid"`
	RecordsScanned int64     `json:"records_scanned"`
	DatabaseWrites int64     `json:"database_writes"`
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

// DetectFileFormat detects file format from extension. Unknown extensions
// are read as CSV.
func DetectFileFormat(filename string) FileFormat {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".parquet":
		return FormatParquet
	case ".json", ".jsonl", ".ndjson":
		return FormatJSON
	default:
		return FormatCSV
	}
}
