// Package etl scans datasets of contract texts in batches and records the
// outcome of every scan in the history store.
package etl

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/parquet-go"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/raaihank/contract-sentinel/internal/history"
	"github.com/raaihank/contract-sentinel/internal/metrics"
	"github.com/raaihank/contract-sentinel/internal/sensitive"
	"github.com/raaihank/contract-sentinel/internal/telemetry"
)

// Source tags records written by the pipeline
const Source = "etl"

// maxErrors bounds ProcessingResult.Errors
const maxErrors = 100

var errMalformed = errors.New("malformed record")

// Scanner finds sensitive items in a text
type Scanner interface {
	Scan(ctx context.Context, text string) ([]sensitive.Item, error)
}

// Sink stores scan records
type Sink interface {
	BatchInsert(ctx context.Context, records []*history.ScanRecord) (*history.BatchInsertResult, error)
}

// CacheWarmer stores scan results so later scans of the same texts hit
type CacheWarmer interface {
	StoreBatch(ctx context.Context, variant string, texts []string, items [][]sensitive.Item) error
}

// Pipeline handles ETL operations for contract datasets
type Pipeline struct {
	scanner Scanner
	sink    Sink
	metrics *metrics.Metrics
	config  *Config
	logger  *zap.Logger
	stats   *ProcessingStats
	mu      sync.RWMutex

	cache   CacheWarmer
	variant string
}

// NewPipeline creates a new ETL pipeline. sink and m may be nil; a nil sink
// behaves like a dry run.
func NewPipeline(scanner Scanner, sink Sink, m *metrics.Metrics, config *Config, logger *zap.Logger) *Pipeline {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		scanner: scanner,
		sink:    sink,
		metrics: m,
		config:  config,
		logger:  logger,
		stats:   &ProcessingStats{StartTime: time.Now()},
	}
}

// SetCache makes every batch warm c. variant must identify the detectors
// used by the scanner.
func (p *Pipeline) SetCache(c CacheWarmer, variant string) {
	p.cache = c
	p.variant = variant
}

// ProcessFile processes a dataset file (CSV, Parquet, or JSON lines)
func (p *Pipeline) ProcessFile(ctx context.Context, filePath string) (*ProcessingResult, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset: %w", err)
	}
	defer file.Close()

	format := DetectFileFormat(filePath)
	p.logger.Info("Starting ETL pipeline",
		zap.String("file", filePath),
		zap.String("format", string(format)),
		zap.Int("batch_size", p.batchSize()),
		zap.Int("workers", p.workers()))

	return p.Process(ctx, format, file)
}

// Process reads records of the given format from r. Parquet input is
// buffered in memory unless r implements io.ReaderAt.
func (p *Pipeline) Process(ctx context.Context, format FileFormat, r io.Reader) (*ProcessingResult, error) {
	if p.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.Timeout)
		defer cancel()
	}

	start := time.Now()
	result := &ProcessingResult{ByRiskLevel: make(map[string]int64)}
	p.resetStats()

	src, err := p.open(format, r)
	if err != nil {
		return result, err
	}
	if closer, ok := src.(io.Closer); ok {
		defer closer.Close()
	}

	err = p.processBatches(ctx, src, result)
	result.Duration = time.Since(start)
	if err != nil {
		return result, fmt.Errorf("%s processing failed: %w", format, err)
	}

	p.logger.Info("ETL pipeline completed",
		zap.Int64("total_records", result.TotalRecords),
		zap.Int64("processed_ok", result.ProcessedOK),
		zap.Int64("processed_failed", result.ProcessedFailed),
		zap.Int64("invalid", result.Invalid),
		zap.Int64("duplicates", result.Duplicates),
		zap.Int64("items_detected", result.ItemsDetected),
		zap.Duration("total_duration", result.Duration),
		zap.Duration("scan_time", result.ScanTime),
		zap.Duration("database_time", result.DatabaseTime))

	return result, nil
}

// recordReader yields records until io.EOF. Rows that cannot be decoded
// come back as errMalformed and are skipped.
type recordReader interface {
	Next() (Record, error)
}

func (p *Pipeline) open(format FileFormat, r io.Reader) (recordReader, error) {
	switch format {
	case FormatCSV:
		return newCSVRecords(r)
	case FormatJSON:
		return newJSONRecords(r, p.config.MaxTextBytes), nil
	case FormatParquet:
		ra, ok := r.(io.ReaderAt)
		if !ok {
			data, err := io.ReadAll(r)
			if err != nil {
				return nil, fmt.Errorf("failed to read parquet input: %w", err)
			}
			ra = bytes.NewReader(data)
		}
		return &parquetRecords{reader: parquet.NewReader(ra)}, nil
	default:
		return nil, fmt.Errorf("unsupported file format: %s", format)
	}
}

type csvRecords struct {
	reader  *csv.Reader
	idCol   int
	textCol int
	row     int
}

// newCSVRecords reads the header row; a "text" column is required and an
// "id" column is optional.
func newCSVRecords(r io.Reader) (*csvRecords, error) {
	reader := csv.NewReader(r)
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	c := &csvRecords{reader: reader, idCol: -1, textCol: -1}
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))) {
		case "id":
			c.idCol = i
		case "text":
			c.textCol = i
		}
	}
	if c.textCol < 0 {
		return nil, fmt.Errorf("CSV header has no text column: %v", header)
	}
	return c, nil
}

func (c *csvRecords) Next() (Record, error) {
	row, err := c.reader.Read()
	if err == io.EOF {
		return Record{}, io.EOF
	}
	c.row++
	if err != nil {
		return Record{}, fmt.Errorf("%w: row %d: %v", errMalformed, c.row, err)
	}

	rec := Record{ID: strconv.Itoa(c.row), Text: row[c.textCol]}
	if c.idCol >= 0 {
		rec.ID = strings.TrimSpace(row[c.idCol])
	}
	return rec, nil
}

type jsonRecords struct {
	scanner *bufio.Scanner
	line    int
}

func newJSONRecords(r io.Reader, maxText int) *jsonRecords {
	if maxText <= 0 {
		maxText = 1 << 20
	}
	scanner := bufio.NewScanner(r)
	// Escaping can double a text; leave room for the other fields
	scanner.Buffer(make([]byte, 0, 64*1024), 2*maxText+4096)
	return &jsonRecords{scanner: scanner}
}

func (j *jsonRecords) Next() (Record, error) {
	for j.scanner.Scan() {
		j.line++
		line := bytes.TrimSpace(j.scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var raw struct {
			ID   json.RawMessage `json:"id"`
			Text string          `json:"text"`
		}
		if err := json.Unmarshal(line, &raw); err != nil {
			return Record{}, fmt.Errorf("%w: line %d: %v", errMalformed, j.line, err)
		}
		return Record{ID: jsonID(raw.ID, j.line), Text: raw.Text}, nil
	}
	if err := j.scanner.Err(); err != nil {
		return Record{}, fmt.Errorf("failed to read JSON lines: %w", err)
	}
	return Record{}, io.EOF
}

// jsonID accepts string and numeric IDs
func jsonID(raw json.RawMessage, line int) string {
	if len(raw) == 0 || string(raw) == "null" {
		return strconv.Itoa(line)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

type parquetRecords struct {
	reader *parquet.Reader
	row    int
}

func (pr *parquetRecords) Next() (Record, error) {
	var rec Record
	if err := pr.reader.Read(&rec); err != nil {
		if err == io.EOF {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("failed to read parquet row %d: %w", pr.row+1, err)
	}
	pr.row++
	if rec.ID == "" {
		rec.ID = strconv.Itoa(pr.row)
	}
	return rec, nil
}

func (pr *parquetRecords) Close() error {
	return pr.reader.Close()
}

// processBatches reads batches from src until EOF and processes each one
func (p *Pipeline) processBatches(ctx context.Context, src recordReader, result *ProcessingResult) error {
	seen := make(map[string]struct{})
	var reported int64

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch, eof, err := p.readBatch(src, seen, result)
		if err != nil {
			return fmt.Errorf("failed to read batch: %w", err)
		}

		if len(batch) > 0 {
			if err := p.processBatch(ctx, batch, result); err != nil {
				return err
			}
		}

		if every := int64(p.config.ProgressReport); every > 0 && result.TotalRecords/every > reported {
			reported = result.TotalRecords / every
			p.reportProgress(result)
		}

		if eof {
			return nil
		}
	}
}

// readBatch collects up to BatchSize valid records. Invalid and duplicate
// records are counted and dropped.
func (p *Pipeline) readBatch(src recordReader, seen map[string]struct{}, result *ProcessingResult) ([]Record, bool, error) {
	size := p.batchSize()
	batch := make([]Record, 0, size)

	for len(batch) < size {
		rec, err := src.Next()
		if err == io.EOF {
			return batch, true, nil
		}
		if errors.Is(err, errMalformed) {
			result.TotalRecords++
			p.skipInvalid(result, err.Error())
			continue
		}
		if err != nil {
			return batch, false, err
		}
		result.TotalRecords++

		p.mu.Lock()
		p.stats.RecordsRead++
		p.mu.Unlock()

		if reason := p.validateRecord(rec); reason != "" {
			p.skipInvalid(result, fmt.Sprintf("record %s: %s", rec.ID, reason))
			continue
		}

		if p.config.SkipDuplicates {
			hash := history.HashText(rec.Text)
			if _, dup := seen[hash]; dup {
				result.Duplicates++
				p.recordETL("duplicate", 1)
				continue
			}
			seen[hash] = struct{}{}
		}

		p.mu.Lock()
		p.stats.RecordsValid++
		p.mu.Unlock()
		batch = append(batch, rec)
	}
	return batch, false, nil
}

func (p *Pipeline) skipInvalid(result *ProcessingResult, reason string) {
	result.Invalid++
	addError(result, reason)
	p.recordETL("invalid", 1)

	p.mu.Lock()
	p.stats.RecordsInvalid++
	p.mu.Unlock()
	p.logger.Debug("Skipping invalid record", zap.String("reason", reason))
}

type scanned struct {
	record *history.ScanRecord
	items  []sensitive.Item
	err    error
}

// processBatch scans a batch with WorkerCount workers and stores the records
func (p *Pipeline) processBatch(ctx context.Context, batch []Record, result *ProcessingResult) error {
	ctx, span := telemetry.Tracer().Start(ctx, "etl.batch")
	defer span.End()
	span.SetAttributes(attribute.Int("etl.batch_size", len(batch)))

	p.mu.Lock()
	p.stats.CurrentBatch++
	p.mu.Unlock()

	scanStart := time.Now()
	outcomes := p.scanBatch(ctx, batch)
	result.ScanTime += time.Since(scanStart)
	if err := ctx.Err(); err != nil {
		return err
	}

	records := make([]*history.ScanRecord, 0, len(batch))
	texts := make([]string, 0, len(batch))
	found := make([][]sensitive.Item, 0, len(batch))
	for i, out := range outcomes {
		if out.err != nil {
			result.ProcessedFailed++
			addError(result, fmt.Sprintf("record %s: %v", batch[i].ID, out.err))
			continue
		}
		result.ItemsDetected += int64(len(out.items))
		result.ByRiskLevel[out.record.RiskLevel]++
		records = append(records, out.record)
		texts = append(texts, batch[i].Text)
		found = append(found, out.items)
	}
	if failed := len(batch) - len(records); failed > 0 {
		p.recordETL("failed", failed)
	}

	if p.cache != nil && p.config.UpdateCache && !p.config.DryRun && len(texts) > 0 {
		cacheStart := time.Now()
		if err := p.cache.StoreBatch(ctx, p.variant, texts, found); err != nil {
			p.logger.Warn("Failed to update cache", zap.Error(err))
		}
		result.CacheTime += time.Since(cacheStart)
	}

	if p.config.DryRun || p.sink == nil || len(records) == 0 {
		result.ProcessedOK += int64(len(records))
		p.recordETL("ok", len(records))
		return nil
	}

	dbStart := time.Now()
	inserted, err := p.sink.BatchInsert(ctx, records)
	result.DatabaseTime += time.Since(dbStart)
	if err != nil {
		p.logger.Error("Batch insert failed", zap.Int("batch_size", len(records)), zap.Error(err))
		result.ProcessedFailed += int64(len(records))
		addError(result, err.Error())
		p.recordETL("failed", len(records))
		return nil
	}

	result.ProcessedOK += int64(len(records))
	result.Duplicates += inserted.Duplicates
	p.recordETL("ok", len(records))
	if inserted.Duplicates > 0 {
		p.recordETL("duplicate", int(inserted.Duplicates))
	}

	p.mu.Lock()
	p.stats.DatabaseWrites += inserted.Inserted
	p.mu.Unlock()

	p.logger.Debug("Batch processed",
		zap.Int("batch_size", len(batch)),
		zap.Int64("inserted", inserted.Inserted),
		zap.Int64("duplicates", inserted.Duplicates),
		zap.Duration("database_time", time.Since(dbStart)))
	return nil
}

// scanBatch fans the batch out to the workers. Results keep batch order.
func (p *Pipeline) scanBatch(ctx context.Context, batch []Record) []scanned {
	outcomes := make([]scanned, len(batch))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < p.workers(); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				outcomes[i] = p.scanRecord(ctx, batch[i])
			}
		}()
	}

feed:
	for i := range batch {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	return outcomes
}

func (p *Pipeline) scanRecord(ctx context.Context, rec Record) scanned {
	start := time.Now()
	items, err := p.scanner.Scan(ctx, rec.Text)
	if err != nil {
		if p.metrics != nil {
			p.metrics.RecordScanError(Source)
		}
		return scanned{err: err}
	}

	report := sensitive.BuildReport(items)
	if p.metrics != nil {
		p.metrics.RecordScan(Source, report, time.Since(start))
	}

	p.mu.Lock()
	p.stats.RecordsScanned++
	p.mu.Unlock()

	return scanned{record: history.NewRecord(Source, rec.Text, report), items: items}
}

// validateRecord returns why rec cannot be scanned, or ""
func (p *Pipeline) validateRecord(rec Record) string {
	if !p.config.ValidateData {
		return ""
	}
	if strings.TrimSpace(rec.Text) == "" {
		return "empty text"
	}
	if p.config.MaxTextBytes > 0 && len(rec.Text) > p.config.MaxTextBytes {
		return fmt.Sprintf("text too long (%d bytes)", len(rec.Text))
	}
	return ""
}

func (p *Pipeline) recordETL(status string, n int) {
	if p.metrics != nil && n > 0 {
		p.metrics.RecordETLRecords(status, n)
	}
}

func addError(result *ProcessingResult, msg string) {
	if len(result.Errors) < maxErrors {
		result.Errors = append(result.Errors, msg)
	}
}

// reportProgress reports current processing progress
func (p *Pipeline) reportProgress(result *ProcessingResult) {
	p.mu.Lock()
	elapsed := time.Since(p.stats.StartTime)
	rate := float64(result.TotalRecords) / elapsed.Seconds()
	p.stats.ProcessingRate = rate
	p.mu.Unlock()

	p.logger.Info("Processing progress",
		zap.Int64("records_processed", result.TotalRecords),
		zap.Int64("records_ok", result.ProcessedOK),
		zap.Int64("records_failed", result.ProcessedFailed),
		zap.Int64("records_invalid", result.Invalid),
		zap.Float64("rate_per_sec", rate),
		zap.Duration("elapsed", elapsed))
}

func (p *Pipeline) batchSize() int {
	if p.config.BatchSize > 0 {
		return p.config.BatchSize
	}
	return 500
}

func (p *Pipeline) workers() int {
	if p.config.WorkerCount > 0 {
		return p.config.WorkerCount
	}
	return 1
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

	stats := *p.stats
	return &stats
}
