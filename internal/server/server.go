// Package server exposes the scanner, the document extractor and the
// contract platform gateway over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/raaihank/contract-sentinel/internal/cache"
	"github.com/raaihank/contract-sentinel/internal/config"
	"github.com/raaihank/contract-sentinel/internal/contracts"
	"github.com/raaihank/contract-sentinel/internal/extractor"
	"github.com/raaihank/contract-sentinel/internal/history"
	"github.com/raaihank/contract-sentinel/internal/logger"
	"github.com/raaihank/contract-sentinel/internal/metrics"
	"github.com/raaihank/contract-sentinel/internal/privacy"
	"github.com/raaihank/contract-sentinel/internal/security"
	"github.com/raaihank/contract-sentinel/internal/sensitive"
	"github.com/raaihank/contract-sentinel/internal/session"
	"github.com/raaihank/contract-sentinel/internal/web"
	"github.com/raaihank/contract-sentinel/internal/websocket"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// Version is reported by /info
var Version = "0.1.0"

// ReportCache is the subset of cache.ReportCache used by the server
type ReportCache interface {
	Get(ctx context.Context, variant, text string) (*cache.CachedReport, bool)
	Store(ctx context.Context, variant, text string, items []sensitive.Item) error
}

// HistoryStore is the subset of history.Store used by the server
type HistoryStore interface {
	Insert(ctx context.Context, rec *history.ScanRecord) error
	Recent(ctx context.Context, limit int) ([]history.ScanRecord, error)
	GetStats(ctx context.Context) (*history.Stats, error)
}

// Deps are the collaborators of a Server. Config, Logger and Detector are
// required; a nil optional dependency disables the routes or side effects
// that need it.
type Deps struct {
	Config     *config.Config
	Logger     *logger.Logger
	Detector   *privacy.Detector
	Extractors *extractor.Factory
	Sessions   session.Store
	Contracts  *contracts.Client
	Hub        *websocket.Hub
	Metrics    *metrics.Metrics
	Cache      ReportCache
	History    HistoryStore
}

// Server represents the HTTP API server
type Server struct {
	config     *config.Config
	logger     *logger.Logger
	detector   *privacy.Detector
	extractors *extractor.Factory
	sessions   session.Store
	contracts  *contracts.Client
	wsHub      *websocket.Hub
	metrics    *metrics.Metrics
	cache      ReportCache
	history    HistoryStore
	limiter    *security.RateLimiter

	router    *mux.Router
	server    *http.Server
	startedAt time.Time
}

// New creates a new server instance
func New(deps Deps) (*Server, error) {
	if deps.Config == nil || deps.Detector == nil {
		return nil, errors.New("server requires a config and a detector")
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewNop()
	}
	if deps.Extractors == nil {
		deps.Extractors = extractor.NewFactory()
	}
	if deps.Sessions == nil {
		deps.Sessions = session.NewMemoryStore(deps.Config.Server.SessionTTL)
	}

	cfg := deps.Config
	s := &Server{
		config:     cfg,
		logger:     deps.Logger.WithComponent("server"),
		detector:   deps.Detector,
		extractors: deps.Extractors,
		sessions:   deps.Sessions,
		contracts:  deps.Contracts,
		wsHub:      deps.Hub,
		metrics:    deps.Metrics,
		cache:      deps.Cache,
		history:    deps.History,
		limiter:    security.NewRateLimiter(cfg.RateLimit),
		router:     mux.NewRouter(),
		startedAt:  time.Now(),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return s, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	if s.metrics != nil {
		s.router.Use(s.metrics.Middleware)
	}

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)

	s.router.HandleFunc("/", web.ServeDashboard).Methods(http.MethodGet)
	s.router.HandleFunc("/dashboard", web.ServeDashboard).Methods(http.MethodGet)

	if s.wsHub != nil {
		s.router.HandleFunc(s.wsPath(), s.wsHub.HandleWebSocket).Methods(http.MethodGet)
	}
	if s.metrics != nil && s.config.Metrics.Enabled {
		s.router.Handle(s.config.Metrics.Path, s.metrics.Handler()).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.loggingMiddleware)
	api.Use(s.rateLimitMiddleware)

	api.HandleFunc("/scan", s.handleScan).Methods(http.MethodPost)
	api.HandleFunc("/mask", s.handleMask).Methods(http.MethodPost)
	api.HandleFunc("/anonymize", s.handleAnonymize).Methods(http.MethodPost)
	api.HandleFunc("/extract", s.handleExtract).Methods(http.MethodPost)

	api.HandleFunc("/rules", s.handleListRules).Methods(http.MethodGet)
	api.HandleFunc("/rules/{name}", s.handleSetRule).Methods(http.MethodPut)

	api.HandleFunc("/history", s.handleHistory).Methods(http.MethodGet)
	api.HandleFunc("/history/stats", s.handleHistoryStats).Methods(http.MethodGet)

	api.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)
	api.HandleFunc("/auth/register", s.handleRegister).Methods(http.MethodPost)
	api.HandleFunc("/auth/logout", s.handleLogout).Methods(http.MethodPost)
	api.HandleFunc("/auth/me", s.handleMe).Methods(http.MethodGet)

	api.HandleFunc("/contracts", s.handleListContracts).Methods(http.MethodGet)
	api.HandleFunc("/contracts", s.handleUploadContract).Methods(http.MethodPost)
	api.HandleFunc("/contracts/{id}", s.handleGetContract).Methods(http.MethodGet)
	api.HandleFunc("/contracts/{id}", s.handleUpdateContract).Methods(http.MethodPut)
	api.HandleFunc("/contracts/{id}", s.handleDeleteContract).Methods(http.MethodDelete)

	api.HandleFunc("/user", s.handleDeleteAccount).Methods(http.MethodDelete)
	api.HandleFunc("/user/profile", s.handleUpdateProfile).Methods(http.MethodPatch)
	api.HandleFunc("/user/stats", s.handleUserStats).Methods(http.MethodGet)
	api.HandleFunc("/user/activity", s.handleUserActivity).Methods(http.MethodGet)
	api.HandleFunc("/user/password", s.handleChangePassword).Methods(http.MethodPost)
	api.HandleFunc("/user/export", s.handleExportUserData).Methods(http.MethodGet)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
}

func (s *Server) wsPath() string {
	if s.config.WebSocket.Path != "" {
		return s.config.WebSocket.Path
	}
	return "/ws"
}

// Handler returns the root handler, traced with otelhttp
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "sentinel",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}))
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("Starting contract-sentinel server",
		zap.Int("port", s.config.Server.Port),
		zap.String("upstream_api", s.config.Upstream.APIURL),
		zap.Bool("privacy_enabled", s.config.Privacy.Enabled),
		zap.Bool("cache_enabled", s.cache != nil),
		zap.Bool("history_enabled", s.history != nil),
	)

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping contract-sentinel server")
	return s.server.Shutdown(ctx)
}

// RateLimiter exposes the limiter so its cleanup routine can be started
func (s *Server) RateLimiter() *security.RateLimiter {
	return s.limiter
}
