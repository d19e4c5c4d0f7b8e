package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/raaihank/contract-sentinel/internal/cache"
	"github.com/raaihank/contract-sentinel/internal/config"
	"github.com/raaihank/contract-sentinel/internal/contracts"
	"github.com/raaihank/contract-sentinel/internal/history"
	"github.com/raaihank/contract-sentinel/internal/logger"
	"github.com/raaihank/contract-sentinel/internal/metrics"
	"github.com/raaihank/contract-sentinel/internal/privacy"
	"github.com/raaihank/contract-sentinel/internal/server"
	"github.com/raaihank/contract-sentinel/internal/session"
	"github.com/raaihank/contract-sentinel/internal/telemetry"
	"github.com/raaihank/contract-sentinel/internal/websocket"
	"go.uber.org/zap"
)

var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

const statusInterval = 30 * time.Second

func main() {
	var (
		configPath  = flag.String("config", "", "Path to configuration file")
		showVersion = flag.Bool("version", false, "Show version information")
		healthCheck = flag.String("health-check", "", "Check the health endpoint at this base URL and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("contract-sentinel %s (commit: %s, built: %s)\n", version, commit, date)
		os.Exit(0)
	}

	if *healthCheck != "" {
		performHealthCheck(*healthCheck)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	loggerConfig := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}
	if cfg.Logging.File.Enabled {
		loggerConfig.File = &logger.FileConfig{
			Enabled: true,
			Path:    cfg.Logging.File.Path,
		}
	}

	log, err := logger.New(loggerConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting contract-sentinel",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_date", date),
		zap.Int("port", cfg.Server.Port),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("contract-sentinel stopped with error", zap.Error(err))
		log.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	server.Version = version

	shutdownTracing, err := telemetry.SetupProvider(ctx, telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     version,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			log.Warn("Failed to flush traces", zap.Error(err))
		}
	}()

	detector, err := privacy.New(cfg.Privacy, log)
	if err != nil {
		return fmt.Errorf("failed to create detector: %w", err)
	}

	deps := server.Deps{
		Config:   cfg,
		Logger:   log,
		Detector: detector,
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		deps.Metrics = m
	}

	if cfg.Redis.Enabled {
		cacheConfig := &cache.Config{
			RedisURL:       cfg.Redis.URL,
			MaxConnections: cfg.Redis.MaxConnections,
			MinIdleConns:   cfg.Redis.MinIdleConns,
			DefaultTTL:     cfg.Redis.ReportTTL,
			KeyPrefix:      cfg.Redis.KeyPrefix,
		}
		client, err := cache.Connect(ctx, cacheConfig, log.Logger)
		if err != nil {
			// Scans still work without the cache; sessions fall back to memory
			log.Warn("Redis unavailable, running without report cache", zap.Error(err))
		} else {
			defer client.Close()
			deps.Cache = cache.NewReportCache(client, cacheConfig, log.Logger)
			deps.Sessions = session.NewRedisStore(client, cfg.Redis.KeyPrefix, cfg.Server.SessionTTL)
		}
	}

	if cfg.Database.Enabled {
		store, err := history.Open(ctx, &history.Config{
			DatabaseURL:     cfg.Database.URL,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		}, log.Logger)
		if err != nil {
			return fmt.Errorf("failed to open scan history: %w", err)
		}
		defer store.Close()
		deps.History = store
	}

	if cfg.Upstream.AuthURL != "" && cfg.Upstream.APIURL != "" {
		client, err := contracts.NewClient(contracts.Config{
			AuthURL: cfg.Upstream.AuthURL,
			APIURL:  cfg.Upstream.APIURL,
			Timeout: cfg.Upstream.Timeout,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to create contract platform client: %w", err)
		}
		deps.Contracts = client
	}

	var hub *websocket.Hub
	if cfg.WebSocket.Enabled {
		hub = websocket.NewHub(&websocket.HubConfig{
			BroadcastScans:       cfg.WebSocket.Events.BroadcastScans,
			BroadcastSystem:      cfg.WebSocket.Events.BroadcastSystem,
			BroadcastConnections: cfg.WebSocket.Events.BroadcastConnections,
			Username:             cfg.WebSocket.Username,
			Password:             cfg.WebSocket.Password,
			AllowedOrigins:       cfg.WebSocket.AllowedOrigins,
			ReadBufferSize:       cfg.WebSocket.ReadBufferSize,
			WriteBufferSize:      cfg.WebSocket.WriteBufferSize,
			WriteWait:            cfg.WebSocket.WriteTimeout,
			PongWait:             cfg.WebSocket.PongTimeout,
			MaxMessageSize:       cfg.WebSocket.MaxMessageSize,
			MaxConnections:       cfg.WebSocket.MaxConnections,
		}, log.Logger)
		go hub.Run(ctx)
		deps.Hub = hub
	}

	srv, err := server.New(deps)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	if hub != nil {
		hub.StartStatusBroadcast(ctx, statusInterval, srv.SystemStatus)
	}
	srv.RateLimiter().StartCleanupRoutine(ctx)

	watchConfig(detector, m, log)

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.Int("port", cfg.Server.Port))
		serverErrors <- srv.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return err
	case sig := <-shutdown:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))

		// Give outstanding requests 30 seconds to complete
		stopCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
		defer stop()

		if err := srv.Stop(stopCtx); err != nil {
			return fmt.Errorf("failed to shutdown server gracefully: %w", err)
		}
		log.Info("Server shutdown complete")
		return nil
	}
}

// watchConfig applies detector settings from config file edits
func watchConfig(detector *privacy.Detector, m *metrics.Metrics, log *logger.Logger) {
	record := func(status string) {
		if m != nil {
			m.RecordConfigReload(status)
		}
	}

	err := config.Watch(func(newConfig *config.Config) {
		if err := detector.UpdateConfig(newConfig.Privacy); err != nil {
			log.Warn("Rejected privacy settings from reloaded config", zap.Error(err))
			record("error")
			return
		}
		log.Info("Configuration reloaded", zap.Strings("detectors", newConfig.Privacy.Detectors))
		record("success")
	}, func(err error) {
		log.Warn("Ignoring invalid configuration change", zap.Error(err))
		record("error")
	})
	if err != nil {
		log.Debug("Config hot reload disabled", zap.Error(err))
	}
}

// performHealthCheck performs a health check against a running server
func performHealthCheck(baseURL string) {
	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	resp, err := client.Get(baseURL + "/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: HTTP %d\n", resp.StatusCode)
		os.Exit(1)
	}

	fmt.Println("Health check passed")
}
