package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/raaihank/contract-sentinel/internal/contracts"
	"github.com/raaihank/contract-sentinel/internal/privacy"
	"github.com/raaihank/contract-sentinel/internal/sensitive"
	"github.com/raaihank/contract-sentinel/internal/session"
	"go.uber.org/zap"
)

// Session IDs travel in this cookie or header
const (
	SessionCookie = "sentinel_session"
	SessionHeader = "X-Session-ID"
)

type loginResponse struct {
	SessionID string         `json:"session_id"`
	User      contracts.User `json:"user"`
}

type uploadRequest struct {
	Title        string `json:"title"`
	FileName     string `json:"file_name"`
	ContractType string `json:"contract_type"`
	Text         string `json:"text"`
	Mode         string `json:"mode"`
	Analyze      bool   `json:"analyze"`
}

type updateContractRequest struct {
	Title        *string `json:"title"`
	ContractType *string `json:"contract_type"`
	Status       *string `json:"status"`
	Text         *string `json:"text"`
	Mode         string  `json:"mode"`
}

type profileRequest struct {
	Firstname *string `json:"firstname"`
	Lastname  *string `json:"lastname"`
	Email     *string `json:"email"`
}

type uploadResponse struct {
	Contract contracts.Contract `json:"contract"`
	Report   sensitive.Report   `json:"report"`
	Mode     privacy.Mode       `json:"mode"`
}

func (s *Server) requireGateway(w http.ResponseWriter) bool {
	if s.contracts == nil {
		writeError(w, http.StatusServiceUnavailable, "contract platform gateway is disabled")
		return false
	}
	return true
}

func sessionID(r *http.Request) string {
	if id := r.Header.Get(SessionHeader); id != "" {
		return id
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		return c.Value
	}
	return ""
}

// loadSession returns the platform session of the caller or writes a 401
func (s *Server) loadSession(w http.ResponseWriter, r *http.Request) (string, *contracts.Session, bool) {
	id := sessionID(r)
	if id == "" {
		writeError(w, http.StatusUnauthorized, "not signed in")
		return "", nil, false
	}
	sess, err := s.sessions.Get(r.Context(), id)
	if errors.Is(err, session.ErrNotFound) {
		writeError(w, http.StatusUnauthorized, "session expired")
		return "", nil, false
	} else if err != nil {
		s.requestLogger(r).Error("Failed to load session", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return "", nil, false
	}
	return id, sess, true
}

// startSession stores sess under a new ID and sets the session cookie
func (s *Server) startSession(w http.ResponseWriter, r *http.Request, sess *contracts.Session) {
	id := session.NewID()
	if err := s.sessions.Save(r.Context(), id, sess); err != nil {
		s.requestLogger(r).Error("Failed to store session", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to store session")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    id,
		Path:     "/",
		MaxAge:   int(s.config.Server.SessionTTL / time.Second),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, loginResponse{SessionID: id, User: sess.User})
}

// writeUpstreamError maps a contracts client error to a response
func (s *Server) writeUpstreamError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *contracts.APIError
	switch {
	case errors.Is(err, contracts.ErrNotAuthenticated), errors.Is(err, contracts.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500:
		writeError(w, apiErr.StatusCode, apiErr.Message)
	default:
		s.requestLogger(r).Error("Contract platform request failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "contract platform unavailable")
	}
}

// upstreamFailed is writeUpstreamError that also drops the stored session
// once the platform has rejected its token
func (s *Server) upstreamFailed(w http.ResponseWriter, r *http.Request, id string, err error) {
	if errors.Is(err, contracts.ErrUnauthorized) {
		if err := s.sessions.Delete(r.Context(), id); err != nil {
			s.requestLogger(r).Warn("Failed to delete session", zap.Error(err))
		}
	}
	s.writeUpstreamError(w, r, err)
}

// approveText re-scans text and applies the transform named by modeName
// (empty means the configured one). Only its result may leave the server.
func (s *Server) approveText(w http.ResponseWriter, r *http.Request, text, modeName string) (string, scanOutcome, privacy.Mode, bool) {
	mode, err := privacy.ParseMode(modeName)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", scanOutcome{}, "", false
	}
	if mode == "" {
		mode = privacy.Mode(s.config.Privacy.Masking.Mode)
	}

	out, err := s.runScan(r.Context(), r, sourceUpload, text)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return "", scanOutcome{}, "", false
	}
	return s.detector.Transform(text, out.items, mode), out, mode, true
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.requireGateway(w) {
		return
	}
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !s.decodeRequest(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	sess, err := s.contracts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.writeUpstreamError(w, r, err)
		return
	}
	s.startSession(w, r, sess)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !s.requireGateway(w) {
		return
	}
	var req contracts.RegisterRequest
	if !s.decodeRequest(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" || req.Firstname == "" || req.Lastname == "" {
		writeError(w, http.StatusBadRequest, "all fields are required")
		return
	}

	sess, err := s.contracts.Register(r.Context(), req)
	if err != nil {
		s.writeUpstreamError(w, r, err)
		return
	}
	if !sess.Authenticated() {
		writeJSON(w, http.StatusCreated, map[string]any{"user": sess.User})
		return
	}
	s.startSession(w, r, sess)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if id := sessionID(r); id != "" {
		if sess, err := s.sessions.Get(r.Context(), id); err == nil && s.contracts != nil {
			s.contracts.Logout(r.Context(), sess)
		}
		if err := s.sessions.Delete(r.Context(), id); err != nil {
			s.requestLogger(r).Warn("Failed to delete session", zap.Error(err))
		}
	}

	http.SetCookie(w, &http.Cookie{Name: SessionCookie, Value: "", Path: "/", MaxAge: -1, HttpOnly: true})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	if !s.requireGateway(w) {
		return
	}
	id, sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}

	user, err := s.contracts.Me(r.Context(), sess)
	if err != nil {
		if !sess.Authenticated() {
			_ = s.sessions.Delete(r.Context(), id)
		}
		s.writeUpstreamError(w, r, err)
		return
	}
	if err := s.sessions.Save(r.Context(), id, sess); err != nil {
		s.requestLogger(r).Warn("Failed to refresh session", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleListContracts(w http.ResponseWriter, r *http.Request) {
	if !s.requireGateway(w) {
		return
	}
	_, sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}

	list, err := s.contracts.ListContracts(r.Context(), sess)
	if err != nil {
		s.writeUpstreamError(w, r, err)
		return
	}
	if list == nil {
		list = []contracts.Contract{}
	}
	writeJSON(w, http.StatusOK, list)
}

// handleUploadContract re-scans the text, applies the requested transform
// and sends only the transformed text to the platform
func (s *Server) handleUploadContract(w http.ResponseWriter, r *http.Request) {
	if !s.requireGateway(w) {
		return
	}
	id, sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}

	var req uploadRequest
	if !s.decodeRequest(w, r, &req) {
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	approved, out, mode, ok := s.approveText(w, r, req.Text, req.Mode)
	if !ok {
		return
	}

	var (
		contract contracts.Contract
		err      error
	)
	activity := "upload"
	if req.Analyze {
		activity = "analysis"
		contract, err = s.contracts.AnalyzeContract(r.Context(), sess, approved)
	} else {
		contract, err = s.contracts.UploadContract(r.Context(), sess, contracts.ContractUpload{
			Title:        req.Title,
			FileName:     req.FileName,
			FileSize:     int64(len(approved)),
			ContractType: req.ContractType,
			Content:      approved,
		})
	}
	if err != nil {
		s.upstreamFailed(w, r, id, err)
		return
	}

	// Counts only; detected values never reach the activity log
	s.contracts.LogActivity(r.Context(), sess, activity, map[string]any{
		"contractId":    contract.ID,
		"contractTitle": req.Title,
		"mode":          mode,
		"itemsDetected": out.report.Total,
		"riskLevel":     out.report.RiskLevel,
	})

	writeJSON(w, http.StatusCreated, uploadResponse{Contract: contract, Report: out.report, Mode: mode})
}

func (s *Server) handleGetContract(w http.ResponseWriter, r *http.Request) {
	if !s.requireGateway(w) {
		return
	}
	_, sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}

	contract, err := s.contracts.GetContract(r.Context(), sess, mux.Vars(r)["id"])
	if err != nil {
		s.writeUpstreamError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, contract)
}

func (s *Server) handleDeleteContract(w http.ResponseWriter, r *http.Request) {
	if !s.requireGateway(w) {
		return
	}
	_, sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}

	if err := s.contracts.DeleteContract(r.Context(), sess, mux.Vars(r)["id"]); err != nil {
		s.writeUpstreamError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUserStats(w http.ResponseWriter, r *http.Request) {
	if !s.requireGateway(w) {
		return
	}
	_, sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}

	stats, err := s.contracts.UserStats(r.Context(), sess)
	if err != nil {
		s.writeUpstreamError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleUpdateContract patches contract metadata. New text goes through the
// same scan and transform as an upload.
func (s *Server) handleUpdateContract(w http.ResponseWriter, r *http.Request) {
	if !s.requireGateway(w) {
		return
	}
	id, sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}

	var req updateContractRequest
	if !s.decodeRequest(w, r, &req) {
		return
	}

	updates := make(map[string]any)
	if req.Title != nil {
		updates["title"] = *req.Title
	}
	if req.ContractType != nil {
		updates["contractType"] = *req.ContractType
	}
	if req.Status != nil {
		updates["status"] = *req.Status
	}
	var report *sensitive.Report
	if req.Text != nil {
		if *req.Text == "" {
			writeError(w, http.StatusBadRequest, "text must not be empty")
			return
		}
		approved, out, _, ok := s.approveText(w, r, *req.Text, req.Mode)
		if !ok {
			return
		}
		updates["content"] = approved
		updates["fileSize"] = len(approved)
		report = &out.report
	}
	if len(updates) == 0 {
		writeError(w, http.StatusBadRequest, "nothing to update")
		return
	}

	contract, err := s.contracts.UpdateContract(r.Context(), sess, mux.Vars(r)["id"], updates)
	if err != nil {
		s.upstreamFailed(w, r, id, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"contract": contract, "report": report})
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	if !s.requireGateway(w) {
		return
	}
	id, sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}

	var req profileRequest
	if !s.decodeRequest(w, r, &req) {
		return
	}
	updates := make(map[string]any)
	if req.Firstname != nil {
		updates["firstname"] = *req.Firstname
	}
	if req.Lastname != nil {
		updates["lastname"] = *req.Lastname
	}
	if req.Email != nil {
		if *req.Email == "" {
			writeError(w, http.StatusBadRequest, "email must not be empty")
			return
		}
		updates["email"] = *req.Email
	}
	if len(updates) == 0 {
		writeError(w, http.StatusBadRequest, "nothing to update")
		return
	}

	user, err := s.contracts.UpdateProfile(r.Context(), sess, sess.User.ID, updates)
	if err != nil {
		s.upstreamFailed(w, r, id, err)
		return
	}
	if err := s.sessions.Save(r.Context(), id, sess); err != nil {
		s.requestLogger(r).Warn("Failed to refresh session", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleUserActivity(w http.ResponseWriter, r *http.Request) {
	if !s.requireGateway(w) {
		return
	}
	id, sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}

	activity, err := s.contracts.UserActivity(r.Context(), sess, sess.User.ID, r.URL.Query().Get("type"))
	if err != nil {
		s.upstreamFailed(w, r, id, err)
		return
	}
	writeJSON(w, http.StatusOK, activity)
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	if !s.requireGateway(w) {
		return
	}
	_, sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}

	var req struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if !s.decodeRequest(w, r, &req) {
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "current_password and new_password are required")
		return
	}

	// A 401 here may only mean a wrong current password; the session stays
	if err := s.contracts.ChangePassword(r.Context(), sess, req.CurrentPassword, req.NewPassword); err != nil {
		s.writeUpstreamError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExportUserData(w http.ResponseWriter, r *http.Request) {
	if !s.requireGateway(w) {
		return
	}
	id, sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}

	data, err := s.contracts.ExportUserData(r.Context(), sess)
	if err != nil {
		s.upstreamFailed(w, r, id, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="user-data.json"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// handleDeleteAccount deletes the platform account and ends the session
func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	if !s.requireGateway(w) {
		return
	}
	id, sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}

	var req struct {
		Password string `json:"password"`
	}
	if !s.decodeRequest(w, r, &req) {
		return
	}
	if req.Password == "" {
		writeError(w, http.StatusBadRequest, "password is required")
		return
	}

	if err := s.contracts.DeleteAccount(r.Context(), sess, req.Password); err != nil {
		s.writeUpstreamError(w, r, err)
		return
	}
	if err := s.sessions.Delete(r.Context(), id); err != nil {
		s.requestLogger(r).Warn("Failed to delete session", zap.Error(err))
	}
	http.SetCookie(w, &http.Cookie{Name: SessionCookie, Value: "", Path: "/", MaxAge: -1, HttpOnly: true})
	w.WriteHeader(http.StatusNoContent)
}
