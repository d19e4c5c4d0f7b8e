// Package contracts is a client for the contract platform REST APIs
// (authentication, contracts, user profile). Every authenticated call takes
// an explicit *Session.
package contracts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/raaihank/contract-sentinel/internal/logger"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// Config contains client configuration
type Config struct {
	AuthURL string
	APIURL  string
	Timeout time.Duration

	// Transport defaults to an otelhttp-instrumented http.DefaultTransport
	Transport http.RoundTripper
}

// Client talks to the auth and data APIs
type Client struct {
	authURL string
	apiURL  string
	http    *http.Client
	logger  *logger.Logger
}

// NewClient creates a new platform client
func NewClient(cfg Config, log *logger.Logger) (*Client, error) {
	if cfg.AuthURL == "" || cfg.APIURL == "" {
		return nil, fmt.Errorf("auth and api base URLs are required")
	}
	if log == nil {
		log = logger.NewNop()
	}

	transport := cfg.Transport
	if transport == nil {
		transport = otelhttp.NewTransport(http.DefaultTransport)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		authURL: strings.TrimRight(cfg.AuthURL, "/"),
		apiURL:  strings.TrimRight(cfg.APIURL, "/"),
		http:    &http.Client{Timeout: timeout, Transport: transport},
		logger:  log.WithComponent("contracts"),
	}, nil
}

// Login signs in and returns a new session
func (c *Client) Login(ctx context.Context, email, password string) (*Session, error) {
	if email == "" || password == "" {
		return nil, fmt.Errorf("email and password are required")
	}

	var session Session
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, c.authURL+"/auth/login", nil, body, &session); err != nil {
		return nil, fmt.Errorf("login failed: %w", err)
	}
	if session.Token == "" {
		return nil, fmt.Errorf("login failed: no token returned")
	}

	c.logger.Info("User signed in", zap.String("user_id", session.User.ID))
	return &session, nil
}

// Register creates an account and returns its session
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*Session, error) {
	if req.Email == "" || req.Password == "" || req.Firstname == "" || req.Lastname == "" {
		return nil, fmt.Errorf("all fields are required")
	}

	var session Session
	body := map[string]RegisterRequest{"user": req}
	if err := c.do(ctx, http.MethodPost, c.authURL+"/auth/register", nil, body, &session); err != nil {
		return nil, fmt.Errorf("registration failed: %w", err)
	}
	return &session, nil
}

// Me returns the current user and refreshes s.User. A 401 clears s.
func (c *Client) Me(ctx context.Context, s *Session) (User, error) {
	if !s.Authenticated() {
		return User{}, ErrNotAuthenticated
	}

	var user User
	if err := c.do(ctx, http.MethodGet, c.authURL+"/auth/me", s, nil, &user); err != nil {
		if errors.Is(err, ErrUnauthorized) {
			s.Clear()
		}
		return User{}, fmt.Errorf("failed to get user profile: %w", err)
	}

	s.User = user
	return user, nil
}

// UpdateProfile patches the user and refreshes s.User
func (c *Client) UpdateProfile(ctx context.Context, s *Session, userID string, updates map[string]any) (User, error) {
	if !s.Authenticated() {
		return User{}, ErrNotAuthenticated
	}

	var user User
	if err := c.do(ctx, http.MethodPatch, c.apiPath("user", userID), s, updates, &user); err != nil {
		return User{}, fmt.Errorf("failed to update profile: %w", err)
	}

	s.User = user
	return user, nil
}

// Logout signs out server side when possible. s is always cleared.
func (c *Client) Logout(ctx context.Context, s *Session) {
	if !s.Authenticated() {
		return
	}
	defer s.Clear()

	if err := c.do(ctx, http.MethodPost, c.authURL+"/auth/logout", s, nil, nil); err != nil {
		c.logger.Warn("Logout request failed", zap.Error(err))
	}
}

// ListContracts returns the contracts of the signed-in user
func (c *Client) ListContracts(ctx context.Context, s *Session) ([]Contract, error) {
	if !s.Authenticated() {
		return nil, ErrNotAuthenticated
	}

	contracts := make([]Contract, 0)
	if err := c.do(ctx, http.MethodGet, c.apiPath("contracts"), s, nil, &contracts); err != nil {
		return nil, fmt.Errorf("failed to fetch contracts: %w", err)
	}
	return contracts, nil
}

// GetContract returns one contract with its decoded analysis. s may be nil.
func (c *Client) GetContract(ctx context.Context, s *Session, id string) (Contract, error) {
	var contract Contract
	if err := c.do(ctx, http.MethodGet, c.apiPath("contract", id, "info"), s, nil, &contract); err != nil {
		return Contract{}, fmt.Errorf("failed to fetch contract %s: %w", id, err)
	}
	return contract, nil
}

// UploadContract stores a new contract
func (c *Client) UploadContract(ctx context.Context, s *Session, upload ContractUpload) (Contract, error) {
	if !s.Authenticated() {
		return Contract{}, ErrNotAuthenticated
	}

	var contract Contract
	if err := c.do(ctx, http.MethodPost, c.apiPath("contracts"), s, upload, &contract); err != nil {
		return Contract{}, fmt.Errorf("failed to upload contract: %w", err)
	}

	c.logger.Info("Contract uploaded", zap.String("contract_id", contract.ID), zap.Int("bytes", len(upload.Content)))
	return contract, nil
}

// AnalyzeContract submits text for AI analysis and returns the saved
// contract with its analysis
func (c *Client) AnalyzeContract(ctx context.Context, s *Session, text string) (Contract, error) {
	if !s.Authenticated() {
		return Contract{}, ErrNotAuthenticated
	}

	text = strings.Trim(text, `"`)
	var contract Contract
	if err := c.do(ctx, http.MethodPost, c.apiPath("contract", "save"), s, map[string]string{"text": text}, &contract); err != nil {
		return Contract{}, fmt.Errorf("failed to analyze contract: %w", err)
	}
	return contract, nil
}

// UpdateContract patches a contract
func (c *Client) UpdateContract(ctx context.Context, s *Session, id string, updates map[string]any) (Contract, error) {
	if !s.Authenticated() {
		return Contract{}, ErrNotAuthenticated
	}

	var contract Contract
	if err := c.do(ctx, http.MethodPatch, c.apiPath("contracts", id), s, updates, &contract); err != nil {
		return Contract{}, fmt.Errorf("failed to update contract %s: %w", id, err)
	}
	return contract, nil
}

// DeleteContract removes a contract
func (c *Client) DeleteContract(ctx context.Context, s *Session, id string) error {
	if !s.Authenticated() {
		return ErrNotAuthenticated
	}

	if err := c.do(ctx, http.MethodDelete, c.apiPath("contracts", id), s, nil, nil); err != nil {
		return fmt.Errorf("failed to delete contract %s: %w", id, err)
	}
	return nil
}

// UserStats returns the usage statistics of the signed-in user
func (c *Client) UserStats(ctx context.Context, s *Session) (map[string]any, error) {
	if !s.Authenticated() {
		return nil, ErrNotAuthenticated
	}

	stats := make(map[string]any)
	if err := c.do(ctx, http.MethodGet, c.apiPath("user", "stats"), s, nil, &stats); err != nil {
		return nil, fmt.Errorf("failed to get user stats: %w", err)
	}
	return stats, nil
}

// UserActivity returns the activity history of userID. filter "all" or
// empty returns every type.
func (c *Client) UserActivity(ctx context.Context, s *Session, userID, filter string) ([]Activity, error) {
	if !s.Authenticated() {
		return nil, ErrNotAuthenticated
	}

	endpoint := c.apiPath("user", userID, "activity")
	if filter != "" && filter != "all" {
		endpoint += "?" + url.Values{"type": {filter}}.Encode()
	}

	activity := make([]Activity, 0)
	if err := c.do(ctx, http.MethodGet, endpoint, s, nil, &activity); err != nil {
		return nil, fmt.Errorf("failed to get user activity: %w", err)
	}
	return activity, nil
}

// LogActivity records an activity entry. It is best effort: failures are
// logged, never returned.
func (c *Client) LogActivity(ctx context.Context, s *Session, kind string, details map[string]any) {
	if !s.Authenticated() {
		return
	}

	body := map[string]any{"type": kind, "details": details}
	if err := c.do(ctx, http.MethodPost, c.apiPath("user", "activity"), s, body, nil); err != nil {
		c.logger.Debug("Activity logging failed", zap.String("type", kind), zap.Error(err))
	}
}

// ChangePassword changes the password of the signed-in user
func (c *Client) ChangePassword(ctx context.Context, s *Session, current, next string) error {
	if !s.Authenticated() {
		return ErrNotAuthenticated
	}

	body := map[string]string{"currentPassword": current, "newPassword": next}
	if err := c.do(ctx, http.MethodPost, c.apiPath("user", "change-password"), s, body, nil); err != nil {
		return fmt.Errorf("failed to change password: %w", err)
	}
	return nil
}

// ExportUserData downloads the data export of the signed-in user
func (c *Client) ExportUserData(ctx context.Context, s *Session) ([]byte, error) {
	if !s.Authenticated() {
		return nil, ErrNotAuthenticated
	}

	resp, err := c.send(ctx, http.MethodGet, c.apiPath("user", "export"), s, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to export user data: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read export: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("failed to export user data: %w", apiError(resp.StatusCode, data))
	}
	return data, nil
}

// DeleteAccount deletes the signed-in account and clears s
func (c *Client) DeleteAccount(ctx context.Context, s *Session, password string) error {
	if !s.Authenticated() {
		return ErrNotAuthenticated
	}

	if err := c.do(ctx, http.MethodDelete, c.apiPath("user", "delete"), s, map[string]string{"password": password}, nil); err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	s.Clear()
	return nil
}

func (c *Client) apiPath(elems ...string) string {
	escaped := make([]string, len(elems))
	for i, e := range elems {
		escaped[i] = url.PathEscape(e)
	}
	return c.apiURL + "/" + strings.Join(escaped, "/")
}

func (c *Client) send(ctx context.Context, method, endpoint string, s *Session, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.Authenticated() {
		req.Header.Set("Authorization", "Bearer "+s.Token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("Upstream call",
		zap.String("method", method),
		zap.String("path", req.URL.Path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)
	return resp, nil
}

// do sends a JSON request and decodes the answer into out (if not nil).
// Enveloped answers are unwrapped; bare JSON is decoded as is.
func (c *Client) do(ctx context.Context, method, endpoint string, s *Session, body, out any) error {
	resp, err := c.send(ctx, method, endpoint, s, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apiError(resp.StatusCode, data)
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	return decodeBody(data, out)
}

func decodeBody(data []byte, out any) error {
	trimmed := bytes.TrimSpace(data)
	if trimmed[0] == '{' {
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &probe); err == nil {
			if _, ok := probe["data"]; ok {
				var env envelope
				if err := json.Unmarshal(trimmed, &env); err != nil {
					return fmt.Errorf("failed to decode response: %w", err)
				}
				if len(env.Data) == 0 || string(env.Data) == "null" {
					return nil
				}
				trimmed = env.Data
			}
		}
	}

	if err := json.Unmarshal(trimmed, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func apiError(status int, data []byte) *APIError {
	apiErr := &APIError{StatusCode: status}

	var env envelope
	if err := json.Unmarshal(data, &env); err == nil && env.Message != "" {
		apiErr.Message = env.Message
	} else {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}
