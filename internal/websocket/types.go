package websocket

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/raaihank/contract-sentinel/internal/sensitive"
)

// EventType represents the type of WebSocket event
type EventType string

const (
	// EventTypeScanCompleted is sent after every scan served by the API
	EventTypeScanCompleted EventType = "scan_completed"
	// EventTypeSystemStatus represents a system status event
	EventTypeSystemStatus EventType = "system_status"
	// EventTypeConnection represents connection events
	EventTypeConnection EventType = "connection"

	// EventTypePong answers a client ping
	EventTypePong EventType = "pong"
)

// Event represents a WebSocket event sent to clients
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
	RequestID string    `json:"request_id,omitempty"`
}

// ScanCompletedEvent summarizes one scan. Detected values are never sent.
type ScanCompletedEvent struct {
	RequestID    string                 `json:"request_id"`
	Source       string                 `json:"source"`
	ClientIP     string                 `json:"client_ip"`
	Total        int                    `json:"total"`
	ByType       map[sensitive.Type]int `json:"by_type"`
	RiskLevel    sensitive.RiskLevel    `json:"risk_level"`
	Transformed  bool                   `json:"transformed"`
	ProcessingMS float64                `json:"processing_ms"`
}

// SystemStatusEvent represents system status information
type SystemStatusEvent struct {
	Status           string `json:"status"`
	Uptime           string `json:"uptime"`
	TotalScans       int64  `json:"total_scans"`
	TotalDetections  int64  `json:"total_detections"`
	ActiveDetectors  int    `json:"active_detectors"`
	ConnectedClients int    `json:"connected_clients"`
	MemoryUsage      string `json:"memory_usage"`
}

// ConnectionEvent represents WebSocket connection events
type ConnectionEvent struct {
	Action    string `json:"action"` // "connected", "disconnected"
	ClientID  string `json:"client_id"`
	ClientIP  string `json:"client_ip"`
	UserAgent string `json:"user_agent,omitempty"`
	Message   string `json:"message,omitempty"`
}

// ClientMessage represents messages sent from clients to server
type ClientMessage struct {
	Type string              `json:"type"`
	Data SubscriptionRequest `json:"data"`
}

// SubscriptionRequest represents a client subscription request
type SubscriptionRequest struct {
	Events []EventType  `json:"events"`
	Filter *EventFilter `json:"filter,omitempty"`
}

// EventFilter narrows scan_completed events
type EventFilter struct {
	MinRiskLevel sensitive.RiskLevel `json:"min_risk_level,omitempty"`
	Types        []sensitive.Type    `json:"types,omitempty"`
	Sources      []string            `json:"sources,omitempty"`
}

// Client represents a WebSocket client connection
type Client struct {
	ID           string
	Conn         *websocket.Conn
	Send         chan Event
	Subscription *SubscriptionRequest
	ConnectedAt  time.Time
	LastPing     time.Time
	IP           string
	UserAgent    string
}
