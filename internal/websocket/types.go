package websocket

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/raaihank/pii-sentinel/internal/privacy"
)

// EventType represents the type of WebSocket event
type EventType string

const (
	// EventTypePIIDetection represents a PII detection event
	EventTypePIIDetection EventType = "pii_detection"
	// EventTypeRequestLog represents a request logging event
	EventTypeRequestLog EventType = "request_log"
	// EventTypeSystemStatus represents a system status event
	EventTypeSystemStatus EventType = "system_status"
	// EventTypeConnection represents connection events
	EventTypeConnection EventType = "connection"
	// EventTypePong answers a client ping
	EventTypePong EventType = "pong"
)

// Event represents a WebSocket event sent to clients
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
	RequestID string      `json:"request_id,omitempty"`
}

// FindingSummary describes a finding without its value. Detected values are
// never broadcast.
type FindingSummary struct {
	PIIType string `json:"pii_type"`
	Start   int    `json:"start"`
	End     int    `json:"end"`
}

// PIIDetectionEvent represents a PII detection event
type PIIDetectionEvent struct {
	RequestID     string           `json:"request_id"`
	Method        string           `json:"method"`
	Path          string           `json:"path"`
	ClientIP      string           `json:"client_ip"`
	UserAgent     string           `json:"user_agent,omitempty"`
	Backend       string           `json:"backend"`
	Findings      []FindingSummary `json:"findings"`
	TotalFindings int              `json:"total_findings"`
	MaskedContent bool             `json:"masked_content"`
	ProcessingMS  float64          `json:"processing_ms"`
}

// Summarize strips values from findings.
func Summarize(findings []privacy.Finding) []FindingSummary {
	summaries := make([]FindingSummary, 0, len(findings))
	for _, f := range findings {
		summaries = append(summaries, FindingSummary{PIIType: f.PIIType, Start: f.Start, End: f.End})
	}
	return summaries
}

// RequestLogEvent represents a request logging event
type RequestLogEvent struct {
	RequestID    string  `json:"request_id"`
	Method       string  `json:"method"`
	Path         string  `json:"path"`
	StatusCode   int     `json:"status_code"`
	ClientIP     string  `json:"client_ip"`
	UserAgent    string  `json:"user_agent,omitempty"`
	DurationMS   float64 `json:"duration_ms"`
	RequestSize  int64   `json:"request_size"`
	ResponseSize int64   `json:"response_size"`
}

// SystemStatusEvent represents system status information
type SystemStatusEvent struct {
	Status           string `json:"status"`
	Uptime           string `json:"uptime"`
	Backend          string `json:"backend"`
	ActiveRules      int    `json:"active_rules"`
	RulesFingerprint string `json:"rules_fingerprint"`
	ConnectedClients int    `json:"connected_clients"`
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
	Type string               `json:"type"`
	Data *SubscriptionRequest `json:"data,omitempty"`
}

// SubscriptionRequest represents a client subscription request
type SubscriptionRequest struct {
	Events []EventType  `json:"events"`
	Filter *EventFilter `json:"filter,omitempty"`
}

// EventFilter represents filtering options for events
type EventFilter struct {
	PIITypes      []string `json:"pii_types,omitempty"`
	PathPrefixes  []string `json:"path_prefixes,omitempty"`
	ExcludeHealth bool     `json:"exclude_health,omitempty"`
}

// Client represents a WebSocket client connection
type Client struct {
	ID           string
	Conn         *websocket.Conn
	Send         chan Event
	Subscription *SubscriptionRequest
	ConnectedAt  time.Time
	IP           string
	UserAgent    string
}
