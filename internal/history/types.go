package history

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/raaihank/contract-sentinel/internal/sensitive"
)

// Counts maps a sensitive type to its number of occurrences. Stored as jsonb.
type Counts map[string]int

// Value implements driver.Valuer
func (c Counts) Value() (driver.Value, error) {
	if c == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(c)
}

// Scan implements sql.Scanner
func (c *Counts) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*c = Counts{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported counts type %T", src)
	}
	out := Counts{}
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("invalid counts: %w", err)
	}
	*c = out
	return nil
}

// ScanRecord is the persisted summary of one scan. The scanned text is
// identified by its hash only.
type ScanRecord struct {
	ID        int64     `db:"id" json:"id"`
	TextHash  string    `db:"text_hash" json:"text_hash"`
	Source    string    `db:"source" json:"source"`
	Total     int       `db:"total" json:"total"`
	ByType    Counts    `db:"by_type" json:"by_type"`
	RiskLevel string    `db:"risk_level" json:"risk_level"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Stats aggregates the stored records
type Stats struct {
	TotalScans  int64            `json:"total_scans"`
	TotalItems  int64            `json:"total_items"`
	ByRiskLevel map[string]int64 `json:"by_risk_level"`
	LastScanAt  *time.Time       `json:"last_scan_at,omitempty"`
}

// BatchInsertResult represents the result of a batch insert operation
type BatchInsertResult struct {
	Inserted   int64         `json:"inserted"`
	Duplicates int64         `json:"duplicates"`
	Failed     int64         `json:"failed"`
	Duration   time.Duration `json:"duration"`
	Errors     []error       `json:"-"`
}

// Config contains database configuration
type Config struct {
	DatabaseURL     string        `yaml:"database_url" mapstructure:"database_url"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`
}

// NewRecord summarizes a report of the scan of text
func NewRecord(source, text string, report sensitive.Report) *ScanRecord {
	counts := make(Counts, len(report.ByType))
	for t, n := range report.ByType {
		counts[string(t)] = n
	}
	return &ScanRecord{
		TextHash:  HashText(text),
		Source:    source,
		Total:     report.Total,
		ByType:    counts,
		RiskLevel: string(report.RiskLevel),
	}
}
