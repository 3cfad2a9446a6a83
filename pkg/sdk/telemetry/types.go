package telemetry

import (
	"strings"
	"time"
)

// Priority controls delivery order within a flush.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Rank orders priorities for sorting: high sorts first. Unknown values
// rank as normal.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityLow:
		return 2
	default:
		return 1
	}
}

// ParsePriority is case-insensitive. Empty or unknown input yields normal.
func ParsePriority(s string) Priority {
	switch Priority(strings.ToLower(strings.TrimSpace(s))) {
	case PriorityHigh:
		return PriorityHigh
	case PriorityLow:
		return PriorityLow
	default:
		return PriorityNormal
	}
}

// Item describes one instrumented call. Items are built once, after the
// call completes, and never modified afterwards.
type Item struct {
	Name         string         `json:"name"`
	Input        any            `json:"prompt"`
	Output       any            `json:"response"`
	DurationMs   int64          `json:"durationMs"`
	Timestamp    time.Time      `json:"timestamp"`
	Error        bool           `json:"error,omitempty"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	StackTrace   string         `json:"stackTrace,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	UserID       string         `json:"userId,omitempty"`
	SessionID    string         `json:"chatId,omitempty"`
	Environment  string         `json:"environment,omitempty"`
	Version      string         `json:"version,omitempty"`
}

// Batch is the request body used when more than one item is sent.
type Batch struct {
	Batch []Item `json:"batch"`
}

// Response is the collector's reply convention. Fields are optional; the
// body is otherwise opaque.
type Response struct {
	Success bool     `json:"success"`
	Message string   `json:"message,omitempty"`
	Errors  []string `json:"errors,omitempty"`
}
