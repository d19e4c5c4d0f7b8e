package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/raaihank/contract-sentinel/internal/cache"
	"github.com/raaihank/contract-sentinel/internal/contractinfo"
	"github.com/raaihank/contract-sentinel/internal/extractor"
	"github.com/raaihank/contract-sentinel/internal/history"
	"github.com/raaihank/contract-sentinel/internal/sensitive"
	"github.com/raaihank/contract-sentinel/internal/telemetry"
	"github.com/raaihank/contract-sentinel/internal/websocket"
	"go.uber.org/zap"
)

// Scan sources recorded in metrics and history
const (
	sourceAPI     = "api"
	sourceExtract = "extract"
	sourceUpload  = "upload"
)

// textRequest is the body of /api/scan, /api/mask and /api/anonymize
type textRequest struct {
	Text        string           `json:"text"`
	Items       []sensitive.Item `json:"items,omitempty"`
	Placeholder string           `json:"placeholder,omitempty"`
	ByType      bool             `json:"by_type,omitempty"`
}

type scanResponse struct {
	Items           []sensitive.Item      `json:"items"`
	Report          sensitive.Report      `json:"report"`
	Highlights      []sensitive.Highlight `json:"highlights"`
	HighlightedHTML string                `json:"highlighted_html"`
	Cached          bool                  `json:"cached"`
}

type transformResponse struct {
	Text  string           `json:"text"`
	Items []sensitive.Item `json:"items"`
}

type extractResponse struct {
	Filename string              `json:"filename"`
	Text     string              `json:"text"`
	Items    []sensitive.Item    `json:"items"`
	Report   sensitive.Report    `json:"report"`
	Info     contractinfo.Info   `json:"info"`
	Risks    []contractinfo.Risk `json:"risks"`
}

// scanOutcome is the result of runScan
type scanOutcome struct {
	items  []sensitive.Item
	report sensitive.Report
	cached bool
}

// runScan scans text with the enabled detectors and records the outcome in
// the cache, metrics, history and live feed.
func (s *Server) runScan(ctx context.Context, r *http.Request, source, text string) (scanOutcome, error) {
	start := time.Now()
	ctx, span := telemetry.StartScanSpan(ctx, source, len(text))
	log := s.requestLogger(r)

	variant := cache.Variant(s.detector.GetEnabledRules())
	var out scanOutcome

	if s.cache != nil {
		if cached, ok := s.cache.Get(ctx, variant, text); ok {
			out = scanOutcome{items: cached.Report.Items, report: cached.Report, cached: true}
		}
		if s.metrics != nil {
			s.metrics.RecordCacheLookup(out.cached)
		}
	}

	if !out.cached {
		items, err := s.detector.Scan(ctx, text)
		if err != nil {
			telemetry.EndScanSpan(span, 0, "", err)
			if s.metrics != nil {
				s.metrics.RecordScanError(source)
			}
			log.Warn("Scan failed", zap.String("source", source), zap.Error(err))
			return scanOutcome{}, err
		}
		out = scanOutcome{items: items, report: sensitive.BuildReport(items)}

		if s.cache != nil {
			if err := s.cache.Store(ctx, variant, text, items); err != nil {
				log.Warn("Failed to cache report", zap.Error(err))
			}
		}
	}
	if out.items == nil {
		out.items = []sensitive.Item{}
	}

	duration := time.Since(start)
	telemetry.EndScanSpan(span, out.report.Total, string(out.report.RiskLevel), nil)
	log.LogScan(source, out.report, duration)

	if s.metrics != nil {
		s.metrics.RecordScan(source, out.report, duration)
	}
	if s.history != nil {
		if err := s.history.Insert(ctx, history.NewRecord(source, text, out.report)); err != nil {
			log.Warn("Failed to record scan history", zap.Error(err))
		}
	}
	if s.wsHub != nil {
		s.wsHub.BroadcastScan(websocket.ScanCompletedEvent{
			RequestID:    requestID(r.Context()),
			Source:       source,
			ClientIP:     websocket.ClientIP(r),
			Total:        out.report.Total,
			ByType:       out.report.ByType,
			RiskLevel:    out.report.RiskLevel,
			ProcessingMS: float64(duration.Microseconds()) / 1000,
		})
	}

	return out, nil
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleInfo handles info requests
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	info := map[string]any{
		"name":            "contract-sentinel",
		"version":         Version,
		"uptime":          time.Since(s.startedAt).Round(time.Second).String(),
		"privacy_enabled": s.config.Privacy.Enabled,
		"masking_mode":    s.config.Privacy.Masking.Mode,
		"detectors":       s.detector.GetEnabledRules(),
		"cache_enabled":   s.cache != nil,
		"history_enabled": s.history != nil,
		"gateway_enabled": s.contracts != nil,
	}
	if s.wsHub != nil {
		info["websocket"] = s.wsHub.GetStats()
	}
	writeJSON(w, http.StatusOK, info)
}

// SystemStatus summarizes the process for the live feed
func (s *Server) SystemStatus() websocket.SystemStatusEvent {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	status := websocket.SystemStatusEvent{
		Status:          "healthy",
		Uptime:          time.Since(s.startedAt).Round(time.Second).String(),
		ActiveDetectors: len(s.detector.GetEnabledRules()),
		MemoryUsage:     fmt.Sprintf("%.1f MB", float64(mem.Alloc)/1024/1024),
	}
	if s.wsHub != nil {
		status.ConnectedClients = int(s.wsHub.GetStats().ActiveConnections)
	}
	if s.history != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if stats, err := s.history.GetStats(ctx); err == nil {
			status.TotalScans = stats.TotalScans
			status.TotalDetections = stats.TotalItems
		}
	}
	return status
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if !s.decodeRequest(w, r, &req) {
		return
	}

	out, err := s.runScan(r.Context(), r, sourceAPI, req.Text)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, scanResponse{
		Items:           out.items,
		Report:          out.report,
		Highlights:      sensitive.Highlights(req.Text, out.items),
		HighlightedHTML: sensitive.HighlightHTML(req.Text, out.items),
		Cached:          out.cached,
	})
}

// itemsFor returns the caller supplied items or scans text
func (s *Server) itemsFor(w http.ResponseWriter, r *http.Request, req textRequest) ([]sensitive.Item, bool) {
	if req.Items != nil {
		for i, it := range req.Items {
			if !it.Within(req.Text) {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("item %d is outside the text", i))
				return nil, false
			}
		}
		return req.Items, true
	}
	out, err := s.runScan(r.Context(), r, sourceAPI, req.Text)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return nil, false
	}
	return out.items, true
}

func (s *Server) handleMask(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if !s.decodeRequest(w, r, &req) {
		return
	}
	items, ok := s.itemsFor(w, r, req)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, transformResponse{Text: sensitive.Mask(req.Text, items), Items: items})
}

func (s *Server) handleAnonymize(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if !s.decodeRequest(w, r, &req) {
		return
	}
	items, ok := s.itemsFor(w, r, req)
	if !ok {
		return
	}

	var text string
	if req.ByType {
		text = sensitive.AnonymizeByType(req.Text, items)
	} else {
		placeholder := req.Placeholder
		if placeholder == "" {
			placeholder = s.config.Privacy.Masking.Placeholder
		}
		text = sensitive.Anonymize(req.Text, items, placeholder)
	}
	writeJSON(w, http.StatusOK, transformResponse{Text: text, Items: items})
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.config.Extract.MaxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	text, err := s.extractors.Extract(header.Filename, file)
	if err != nil {
		status := http.StatusUnprocessableEntity
		if errors.Is(err, extractor.ErrUnsupported) {
			status = http.StatusUnsupportedMediaType
		}
		writeError(w, status, err.Error())
		return
	}

	out, err := s.runScan(r.Context(), r, sourceExtract, text)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, extractResponse{
		Filename: header.Filename,
		Text:     text,
		Items:    out.items,
		Report:   out.report,
		Info:     contractinfo.Extract(text),
		Risks:    contractinfo.AnalyzeRisks(text),
	})
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	enabled := make(map[sensitive.Type]bool)
	for _, t := range s.detector.GetEnabledRules() {
		enabled[t] = true
	}

	type rule struct {
		Type     sensitive.Type `json:"type"`
		Priority int            `json:"priority"`
		Enabled  bool           `json:"enabled"`
	}
	rules := []rule{}
	for _, t := range sensitive.DefaultBank().Types() {
		rules = append(rules, rule{Type: t, Priority: sensitive.Priority(t), Enabled: enabled[t]})
	}
	writeJSON(w, http.StatusOK, rules)
}

func (s *Server) handleSetRule(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if !s.decodeRequest(w, r, &req) {
		return
	}
	if req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "enabled is required")
		return
	}

	name := mux.Vars(r)["name"]
	var err error
	if *req.Enabled {
		err = s.detector.EnableRule(name)
	} else {
		err = s.detector.DisableRule(name)
	}
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"detectors": s.detector.GetEnabledRules()})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "scan history is disabled")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	records, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.requestLogger(r).Error("Failed to list scan history", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list scan history")
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleHistoryStats(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "scan history is disabled")
		return
	}
	stats, err := s.history.GetStats(r.Context())
	if err != nil {
		s.requestLogger(r).Error("Failed to read scan stats", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read scan stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// decodeRequest reads a JSON body bounded by the upload limit. It writes
// the error response itself and reports whether decoding succeeded.
func (s *Server) decodeRequest(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, s.config.Extract.MaxUploadBytes)
	dec := json.NewDecoder(body)
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		case errors.Is(err, io.EOF):
			writeError(w, http.StatusBadRequest, "request body is empty")
		default:
			writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		}
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": strings.TrimSpace(message)})
}
