package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/raaihank/contract-sentinel/internal/cache"
	"github.com/raaihank/contract-sentinel/internal/config"
	"github.com/raaihank/contract-sentinel/internal/etl"
	"github.com/raaihank/contract-sentinel/internal/history"
	"github.com/raaihank/contract-sentinel/internal/logger"
	"github.com/raaihank/contract-sentinel/internal/privacy"
)

func main() {
	var (
		configPath     = flag.String("config", "", "Configuration file path")
		inputFile      = flag.String("input", "", "Input dataset file (CSV, Parquet, or JSON lines)")
		batchSize      = flag.Int("batch-size", 500, "Batch size for processing")
		workers        = flag.Int("workers", 4, "Number of scan workers")
		keepDuplicates = flag.Bool("keep-duplicates", false, "Scan repeated texts again")
		skipCache      = flag.Bool("skip-cache", false, "Skip warming the Redis report cache")
		dryRun         = flag.Bool("dry-run", false, "Scan without writing to the database or the report cache")
		timeout        = flag.Duration("timeout", 0, "Abort after this long (0 = no limit)")
		showStats      = flag.Bool("stats", false, "Show scan history statistics and exit")
	)
	flag.Parse()

	if *inputFile == "" && !*showStats {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s --input contracts.csv --batch-size 200\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --input contracts.parquet --workers 8\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --input contracts.jsonl --dry-run\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --stats\n", os.Args[0])
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting contract-sentinel ETL pipeline",
		zap.String("version", "0.1.0"),
		zap.String("config", *configPath))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Received shutdown signal, cancelling operations...")
		cancel()
	}()

	needDB := *showStats || !*dryRun
	services, err := initializeServices(ctx, cfg, log, needDB, !*skipCache && !*dryRun)
	if err != nil {
		log.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.cleanup()

	if *showStats {
		if err := showHistoryStats(ctx, services); err != nil {
			log.Fatal("Failed to show stats", zap.Error(err))
		}
		return
	}

	etlConfig := etl.DefaultConfig()
	etlConfig.BatchSize = *batchSize
	etlConfig.WorkerCount = *workers
	etlConfig.SkipDuplicates = !*keepDuplicates
	etlConfig.UpdateCache = !*skipCache
	etlConfig.DryRun = *dryRun
	etlConfig.Timeout = *timeout

	if err := processDataset(ctx, services, etlConfig, *inputFile, log); err != nil {
		log.Fatal("ETL processing failed", zap.Error(err))
	}

	log.Info("ETL pipeline completed successfully")
}

// services holds all initialized services
type services struct {
	detector *privacy.Detector
	history  *history.Store
	cache    *cache.ReportCache
	closers  []func() error
}

func (s *services) cleanup() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		_ = s.closers[i]()
	}
}

// initializeServices builds the detector and, when configured, the history
// store and report cache
func initializeServices(ctx context.Context, cfg *config.Config, log *logger.Logger, needDB, warmCache bool) (*services, error) {
	s := &services{}

	detector, err := privacy.New(cfg.Privacy, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create detector: %w", err)
	}
	s.detector = detector

	if needDB {
		if !cfg.Database.Enabled {
			return nil, fmt.Errorf("database is disabled; enable it in the config or use --dry-run")
		}
		log.Info("Opening scan history...")
		store, err := history.Open(ctx, &history.Config{
			DatabaseURL:     cfg.Database.URL,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		}, log.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open scan history: %w", err)
		}
		s.history = store
		s.closers = append(s.closers, store.Close)
	}

	if warmCache && cfg.Redis.Enabled {
		cacheConfig := &cache.Config{
			RedisURL:       cfg.Redis.URL,
			MaxConnections: cfg.Redis.MaxConnections,
			MinIdleConns:   cfg.Redis.MinIdleConns,
			DefaultTTL:     cfg.Redis.ReportTTL,
			KeyPrefix:      cfg.Redis.KeyPrefix,
		}
		client, err := cache.Connect(ctx, cacheConfig, log.Logger)
		if err != nil {
			log.Warn("Redis unavailable, not warming the report cache", zap.Error(err))
		} else {
			s.cache = cache.NewReportCache(client, cacheConfig, log.Logger)
			s.closers = append(s.closers, client.Close)
		}
	}

	return s, nil
}

// processDataset processes the input dataset file
func processDataset(ctx context.Context, services *services, etlConfig *etl.Config, inputFile string, log *logger.Logger) error {
	log.Info("Processing dataset",
		zap.String("file", inputFile),
		zap.Bool("dry_run", etlConfig.DryRun))

	if _, err := os.Stat(inputFile); os.IsNotExist(err) {
		return fmt.Errorf("input file does not exist: %s", inputFile)
	}

	var sink etl.Sink
	if services.history != nil {
		sink = services.history
	}
	pipeline := etl.NewPipeline(services.detector, sink, nil, etlConfig, log.Logger)
	if services.cache != nil {
		pipeline.SetCache(services.cache, cache.Variant(services.detector.GetEnabledRules()))
	}

	result, err := pipeline.ProcessFile(ctx, inputFile)
	if err != nil {
		return fmt.Errorf("pipeline processing failed: %w", err)
	}

	rate := 0.0
	if secs := result.Duration.Seconds(); secs > 0 {
		rate = float64(result.TotalRecords) / secs
	}
	log.Info("Dataset processing completed",
		zap.String("file", inputFile),
		zap.Int64("total_records", result.TotalRecords),
		zap.Int64("processed_ok", result.ProcessedOK),
		zap.Int64("processed_failed", result.ProcessedFailed),
		zap.Int64("invalid", result.Invalid),
		zap.Int64("duplicates", result.Duplicates),
		zap.Int64("items_detected", result.ItemsDetected),
		zap.Any("by_risk_level", result.ByRiskLevel),
		zap.Duration("total_duration", result.Duration),
		zap.Duration("scan_time", result.ScanTime),
		zap.Duration("database_time", result.DatabaseTime),
		zap.Duration("cache_time", result.CacheTime),
		zap.Float64("records_per_second", rate))

	if len(result.Errors) > 0 {
		log.Warn("Processing completed with errors", zap.Strings("errors", result.Errors))
	}

	return nil
}

// showHistoryStats prints aggregate scan history and cache statistics
func showHistoryStats(ctx context.Context, services *services) error {
	stats, err := services.history.GetStats(ctx)
	if err != nil {
		return fmt.Errorf("failed to get history stats: %w", err)
	}

	fmt.Printf("\n=== Contract Sentinel Scan History ===\n")
	fmt.Printf("Total Scans:        %d\n", stats.TotalScans)
	fmt.Printf("Items Detected:     %d\n", stats.TotalItems)
	for _, level := range []string{"CRITICAL", "HIGH", "MEDIUM", "LOW"} {
		n := stats.ByRiskLevel[level]
		pct := 0.0
		if stats.TotalScans > 0 {
			pct = float64(n) / float64(stats.TotalScans) * 100
		}
		fmt.Printf("%-19s %d (%.1f%%)\n", level+":", n, pct)
	}
	if stats.LastScanAt != nil {
		fmt.Printf("Last Scan:          %s\n", stats.LastScanAt.Format(time.RFC3339))
	}

	if services.cache != nil {
		cacheStats, err := services.cache.GetStats(ctx)
		if err == nil {
			fmt.Printf("\n=== Report Cache ===\n")
			fmt.Printf("Total Keys:         %d\n", cacheStats.TotalKeys)
			fmt.Printf("Memory Usage:       %.2f MB\n", float64(cacheStats.MemoryUsage)/1024/1024)
		}
	}

	return nil
}
