package contracts

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrNotAuthenticated is returned before any call that needs a token
	// when the session has none.
	ErrNotAuthenticated = errors.New("no authentication token found")
	// ErrUnauthorized matches APIErrors with status 401.
	ErrUnauthorized = errors.New("unauthorized")
)

// APIError is a non-2xx answer of the platform
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("api error: HTTP %d: %s", e.StatusCode, e.Message)
}

// Unwrap lets errors.Is(err, ErrUnauthorized) match 401 answers
func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	return nil
}

// Session carries the credentials of a signed-in user. It is created by
// Login or Register and emptied by Logout.
type Session struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// Authenticated reports whether s holds a token
func (s *Session) Authenticated() bool {
	return s != nil && s.Token != ""
}

// Clear forgets the token and user
func (s *Session) Clear() {
	if s == nil {
		return
	}
	*s = Session{}
}

// User is a platform account
type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Firstname string `json:"firstname,omitempty"`
	Lastname  string `json:"lastname,omitempty"`
}

// UnmarshalJSON accepts both "id" and "_id"
func (u *User) UnmarshalJSON(data []byte) error {
	type alias User
	var raw struct {
		alias
		MongoID string `json:"_id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*u = User(raw.alias)
	if u.ID == "" {
		u.ID = raw.MongoID
	}
	return nil
}

// RegisterRequest holds the fields required to create an account
type RegisterRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	Firstname string `json:"firstname"`
	Lastname  string `json:"lastname"`
}

// ContractUpload is the payload of UploadContract. Content must already be
// reviewed by the user.
type ContractUpload struct {
	Title        string `json:"title,omitempty"`
	FileName     string `json:"fileName,omitempty"`
	FileSize     int64  `json:"fileSize,omitempty"`
	ContractType string `json:"contractType,omitempty"`
	Content      string `json:"content"`
}

// Contract as stored by the platform
type Contract struct {
	ID           string           `json:"id"`
	Title        string           `json:"title,omitempty"`
	FileName     string           `json:"fileName,omitempty"`
	FileSize     int64            `json:"fileSize,omitempty"`
	Content      string           `json:"content,omitempty"`
	ContractType string           `json:"contractType,omitempty"`
	Status       string           `json:"status,omitempty"`
	RiskLevel    string           `json:"riskLevel,omitempty"`
	UploadDate   *time.Time       `json:"uploadDate,omitempty"`
	CreatedAt    *time.Time       `json:"createdAt,omitempty"`
	LastAnalyzed *time.Time       `json:"lastAnalyzed,omitempty"`
	Analyses     []AnalysisRecord `json:"analyses,omitempty"`

	// Analysis is the decoded latest analysis, nil when there is none or
	// when it could not be decoded (see AnalysisError).
	Analysis      *Analysis `json:"analysis,omitempty"`
	AnalysisError string    `json:"analysisError,omitempty"`
}

// UnmarshalJSON accepts "_id" and decodes the latest analysis once
func (c *Contract) UnmarshalJSON(data []byte) error {
	type alias Contract
	var raw struct {
		alias
		MongoID string `json:"_id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = Contract(raw.alias)
	if c.ID == "" {
		c.ID = raw.MongoID
	}

	c.Analysis, c.AnalysisError = nil, ""
	if len(c.Analyses) > 0 {
		analysis, err := c.Analyses[0].Decode()
		if err != nil {
			c.AnalysisError = err.Error()
		} else {
			c.Analysis = analysis
		}
	}
	return nil
}

// EffectiveRiskLevel is the latest analysis risk level, else the contract
// one, else "low".
func (c Contract) EffectiveRiskLevel() string {
	if len(c.Analyses) > 0 && c.Analyses[0].RiskLevel != "" {
		return c.Analyses[0].RiskLevel
	}
	if c.RiskLevel != "" {
		return c.RiskLevel
	}
	return "low"
}

// AnalysisRecord is an analysis as stored. Result holds the AI output,
// either as an object or as a JSON document encoded in a string.
type AnalysisRecord struct {
	ID           string          `json:"id,omitempty"`
	RiskLevel    string          `json:"riskLevel,omitempty"`
	AnalysisDate *time.Time      `json:"analysisDate,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
}

// Analysis is the structured AI analysis of a contract
type Analysis struct {
	Overview       string          `json:"overview"`
	Risks          []AnalysisRisk  `json:"risks"`
	AbusiveClauses []AbusiveClause `json:"clauses_abusives"`
	RiskLevel      string          `json:"riskLevel,omitempty"`
	AnalysisDate   *time.Time      `json:"analysisDate,omitempty"`
}

// AnalysisRisk is one risk raised by the analysis
type AnalysisRisk struct {
	Risk              string `json:"risk"`
	Severity          string `json:"severity"`
	Explanation       string `json:"explanation"`
	SuggestedSolution string `json:"suggested_solution,omitempty"`
}

// AbusiveClause is a clause the analysis flags as abusive
type AbusiveClause struct {
	Clause          string `json:"clause"`
	Explanation     string `json:"explanation"`
	SuggestedChange string `json:"suggested_change,omitempty"`
}

// Decode parses Result. The summary may be wrapped in "analysis_summary".
func (r AnalysisRecord) Decode() (*Analysis, error) {
	payload := []byte(strings.TrimSpace(string(r.Result)))
	if len(payload) == 0 || string(payload) == "null" {
		return nil, fmt.Errorf("empty analysis result")
	}

	// Stored as a string holding JSON
	if payload[0] == '"' {
		var inner string
		if err := json.Unmarshal(payload, &inner); err != nil {
			return nil, fmt.Errorf("invalid analysis data: %w", err)
		}
		payload = []byte(inner)
	}

	var wrapped struct {
		Summary *Analysis `json:"analysis_summary"`
	}
	if err := json.Unmarshal(payload, &wrapped); err != nil {
		return nil, fmt.Errorf("invalid analysis data: %w", err)
	}

	analysis := wrapped.Summary
	if analysis == nil {
		analysis = &Analysis{}
		if err := json.Unmarshal(payload, analysis); err != nil {
			return nil, fmt.Errorf("invalid analysis data: %w", err)
		}
	}

	if analysis.Risks == nil {
		analysis.Risks = []AnalysisRisk{}
	}
	if analysis.AbusiveClauses == nil {
		analysis.AbusiveClauses = []AbusiveClause{}
	}
	analysis.RiskLevel = r.RiskLevel
	analysis.AnalysisDate = r.AnalysisDate
	return analysis, nil
}

// Activity is an entry of the user activity history
type Activity struct {
	ID        string         `json:"id,omitempty"`
	Type      string         `json:"type"`
	Details   map[string]any `json:"details,omitempty"`
	CreatedAt *time.Time     `json:"createdAt,omitempty"`
}

// envelope is the common answer shape of the platform
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}
