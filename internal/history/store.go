// Package history persists scan summaries to PostgreSQL
package history

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/raaihank/contract-sentinel/internal/cache"
	"go.uber.org/zap"
)

const schema = `
CREATE TABLE IF NOT EXISTS scan_records (
	id          BIGSERIAL PRIMARY KEY,
	text_hash   TEXT NOT NULL,
	source      TEXT NOT NULL DEFAULT '',
	total       INTEGER NOT NULL,
	by_type     JSONB NOT NULL DEFAULT '{}',
	risk_level  TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (text_hash, source)
);
CREATE INDEX IF NOT EXISTS idx_scan_records_created_at ON scan_records (created_at DESC);`

const insertColumns = 5

// Store handles scan history storage with PostgreSQL
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// Open connects to the database and ensures the schema exists
func Open(ctx context.Context, config *Config, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	store := New(db, logger)
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	logger.Info("Scan history initialized",
		zap.String("database_url", cache.MaskURL(config.DatabaseURL)),
		zap.Int("max_open_conns", config.MaxOpenConns),
		zap.Int("max_idle_conns", config.MaxIdleConns))

	return store, nil
}

// New wraps an open database handle
func New(db *sqlx.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// EnsureSchema creates the scan_records table when missing
func (s *Store) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Insert stores one record. A record already stored for the same text and
// source is left untouched and rec keeps a zero ID.
func (s *Store) Insert(ctx context.Context, rec *ScanRecord) error {
	query := `
		INSERT INTO scan_records (text_hash, source, total, by_type, risk_level)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (text_hash, source) DO NOTHING
		RETURNING id, created_at`

	rows, err := s.db.QueryContext(ctx, query, insertArgs(rec)...)
	if err != nil {
		s.logger.Error("Failed to insert scan record",
			zap.Error(err),
			zap.String("source", rec.Source))
		return fmt.Errorf("failed to insert scan record: %w", err)
	}
	defer rows.Close()

	if rows.Next() {
		if err := rows.Scan(&rec.ID, &rec.CreatedAt); err != nil {
			return fmt.Errorf("failed to read inserted id: %w", err)
		}
		s.logger.Debug("Scan record inserted", zap.Int64("id", rec.ID))
	}
	return rows.Err()
}

// BatchInsert adds multiple records in one statement, skipping duplicates
func (s *Store) BatchInsert(ctx context.Context, records []*ScanRecord) (*BatchInsertResult, error) {
	if len(records) == 0 {
		return &BatchInsertResult{}, nil
	}

	start := time.Now()
	result := &BatchInsertResult{}

	valueArgs := make([]any, 0, len(records)*insertColumns)
	for _, rec := range records {
		valueArgs = append(valueArgs, insertArgs(rec)...)
	}

	res, err := s.db.ExecContext(ctx, batchInsertQuery(len(records)), valueArgs...)
	if err != nil {
		result.Failed = int64(len(records))
		result.Errors = []error{err}
		s.logger.Error("Batch insert failed", zap.Error(err))
		return result, fmt.Errorf("batch insert failed: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		s.logger.Warn("Could not get rows affected", zap.Error(err))
		inserted = int64(len(records))
	}

	result.Inserted = inserted
	result.Duplicates = int64(len(records)) - inserted
	result.Duration = time.Since(start)

	s.logger.Info("Batch insert completed",
		zap.Int64("inserted", result.Inserted),
		zap.Int64("duplicates_skipped", result.Duplicates),
		zap.Duration("duration", result.Duration))

	return result, nil
}

// Recent returns the newest records first
func (s *Store) Recent(ctx context.Context, limit int) ([]ScanRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	records := []ScanRecord{}
	query := `
		SELECT id, text_hash, source, total, by_type, risk_level, created_at
		FROM scan_records
		ORDER BY created_at DESC, id DESC
		LIMIT $1`
	if err := s.db.SelectContext(ctx, &records, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list scan records: %w", err)
	}
	return records, nil
}

// GetStats returns aggregate counts over all records
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{ByRiskLevel: make(map[string]int64)}

	query := `
		SELECT
			COUNT(*) AS total,
			COALESCE(SUM(total), 0) AS items,
			MAX(created_at) AS last
		FROM scan_records`
	if err := s.db.QueryRowContext(ctx, query).Scan(&stats.TotalScans, &stats.TotalItems, &stats.LastScanAt); err != nil {
		return nil, fmt.Errorf("failed to get scan stats: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT risk_level, COUNT(*) FROM scan_records GROUP BY risk_level`)
	if err != nil {
		return nil, fmt.Errorf("failed to get risk breakdown: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var level string
		var n int64
		if err := rows.Scan(&level, &n); err != nil {
			s.logger.Error("Failed to scan risk breakdown row", zap.Error(err))
			continue
		}
		stats.ByRiskLevel[level] = n
	}
	return stats, rows.Err()
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func insertArgs(rec *ScanRecord) []any {
	return []any{rec.TextHash, rec.Source, rec.Total, rec.ByType, rec.RiskLevel}
}

func batchInsertQuery(n int) string {
	valueStrings := make([]string, n)
	for i := range n {
		base := i * insertColumns
		valueStrings[i] = fmt.Sprintf("($%d, $%d, $%d, $%d, $%d)", base+1, base+2, base+3, base+4, base+5)
	}
	return fmt.Sprintf(`
		INSERT INTO scan_records (text_hash, source, total, by_type, risk_level)
		VALUES %s
		ON CONFLICT (text_hash, source) DO NOTHING`,
		strings.Join(valueStrings, ","))
}

// HashText returns the hex SHA-256 of text
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
