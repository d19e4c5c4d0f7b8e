package logger

import (
	"os"
	"strings"
	"time"

	"github.com/raaihank/contract-sentinel/internal/sensitive"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.Logger with request and scan helpers
type Logger struct {
	*zap.Logger
}

// Config contains logger configuration
type Config struct {
	Level  string
	Format string // json or console
	File   *FileConfig
}

// FileConfig contains file logging configuration
type FileConfig struct {
	Enabled bool
	Path    string
}

// DefaultSensitiveHeaders are redacted by LogRequest and LogResponse
var DefaultSensitiveHeaders = []string{
	"authorization",
	"x-api-key",
	"cookie",
	"x-auth-token",
	"x-access-token",
	"x-session-id",
	"bearer",
}

// New creates a new logger instance
func New(config Config) (*Logger, error) {
	level, err := zapcore.ParseLevel(config.Level)
	if err != nil {
		return nil, err
	}

	cores := []zapcore.Core{
		zapcore.NewCore(newEncoder(config.Format), zapcore.AddSync(os.Stdout), level),
	}

	// File output is always JSON so it can be shipped as is
	if config.File != nil && config.File.Enabled {
		file, err := os.OpenFile(config.File.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return nil, err
		}
		cores = append(cores, zapcore.NewCore(newEncoder("json"), zapcore.AddSync(file), level))
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return &Logger{Logger: logger}, nil
}

// NewNop returns a logger that discards everything
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// Wrap adapts an existing zap logger
func Wrap(l *zap.Logger) *Logger {
	if l == nil {
		return NewNop()
	}
	return &Logger{Logger: l}
}

func newEncoder(format string) zapcore.Encoder {
	if format == "console" {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		return zapcore.NewConsoleEncoder(cfg)
	}

	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "timestamp"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return zapcore.NewJSONEncoder(cfg)
}

// WithRequestID adds a request ID to the logger context
func (l *Logger) WithRequestID(requestID string) *Logger {
	return &Logger{Logger: l.Logger.With(zap.String("request_id", requestID))}
}

// WithComponent adds a component name to the logger context
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{Logger: l.Logger.With(zap.String("component", component))}
}

// LogRequest logs an incoming HTTP request. Bodies are never logged; they
// carry contract text.
func (l *Logger) LogRequest(method, path string, headers map[string][]string, size int64) {
	l.Info("HTTP request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Any("headers", RedactHeaders(headers, DefaultSensitiveHeaders)),
		zap.Int64("content_length", size),
	)
}

// LogResponse logs the outcome of an HTTP request
func (l *Logger) LogResponse(statusCode int, headers map[string][]string, duration time.Duration) {
	l.Info("HTTP response",
		zap.Int("status_code", statusCode),
		zap.Any("headers", RedactHeaders(headers, DefaultSensitiveHeaders)),
		zap.Duration("duration", duration),
	)
}

// LogScan records the outcome of a scan. Only counts and types are logged,
// never matched values.
func (l *Logger) LogScan(source string, report sensitive.Report, duration time.Duration) {
	byType := make(map[string]int, len(report.ByType))
	for t, n := range report.ByType {
		byType[string(t)] = n
	}

	fields := []zap.Field{
		zap.String("source", source),
		zap.Int("total", report.Total),
		zap.String("risk_level", string(report.RiskLevel)),
		zap.Any("by_type", byType),
		zap.Duration("duration", duration),
	}

	if report.RiskLevel == sensitive.RiskCritical {
		l.Warn("Critical sensitive data detected", fields...)
		return
	}
	l.Info("Scan completed", fields...)
}

// RedactHeaders flattens headers, replacing the value of any header whose
// name contains one of names (case-insensitive).
func RedactHeaders(headers map[string][]string, names []string) map[string]string {
	safe := make(map[string]string, len(headers))
	for k, v := range headers {
		switch {
		case isSensitiveHeader(k, names):
			safe[k] = "[REDACTED]"
		case len(v) > 0:
			safe[k] = v[0]
		}
	}
	return safe
}

func isSensitiveHeader(header string, names []string) bool {
	headerLower := strings.ToLower(header)
	for _, name := range names {
		if name != "" && strings.Contains(headerLower, strings.ToLower(name)) {
			return true
		}
	}
	return false
}
