package metrics

import "time"

// Sample is one recorded call in a function's history
type Sample struct {
	Timestamp  time.Time `json:"timestamp"`
	DurationMs float64   `json:"duration"`
	Success    bool      `json:"success"`
}

// Snapshot summarizes one function. Rates are percentages.
type Snapshot struct {
	TotalCalls        int64     `json:"totalCalls"`
	SuccessRate       float64   `json:"successRate"`
	ErrorRate         float64   `json:"errorRate"`
	AverageDurationMs float64   `json:"averageDuration"`
	LastError         string    `json:"lastError,omitempty"`
	LastErrorTime     time.Time `json:"lastErrorTime,omitempty"`
}

// Record is the raw per-function state included in exports
type Record struct {
	TotalCalls      int64     `json:"totalCalls"`
	SuccessfulCalls int64     `json:"successfulCalls"`
	FailedCalls     int64     `json:"failedCalls"`
	TotalDurationMs float64   `json:"totalDuration"`
	LastError       string    `json:"lastError,omitempty"`
	LastErrorTime   time.Time `json:"lastErrorTime,omitempty"`
	CallHistory     []Sample  `json:"callHistory"`
}

// Export is a point-in-time dump for external analysis
type Export struct {
	Timestamp time.Time           `json:"timestamp"`
	Metrics   map[string]Record   `json:"metrics"`
	Summary   map[string]Snapshot `json:"summary"`
}

// DefaultPercentiles are used when Percentiles is called without any
var DefaultPercentiles = []float64{50, 90, 95, 99}
