package main

import (
	"net/http"
	"time"

	"github.com/nicktill/tinymon/pkg/sdk/metrics"
)

// functionStats is one row of /api/stats
type functionStats struct {
	metrics.Snapshot
	Percentiles map[string]float64 `json:"percentilesMs"`
}

// handleStats reports what the client has seen so far, straight from its
// in-memory aggregator
func (s *service) handleStats(w http.ResponseWriter, r *http.Request) {
	agg := s.client.Metrics()

	functions := make(map[string]functionStats)
	for name, snap := range agg.Snapshots() {
		functions[name] = functionStats{Snapshot: snap, Percentiles: agg.Percentiles(name)}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"functions":     functions,
		"errorPatterns": agg.ErrorPatterns(),
		"queued":        s.client.QueueSize(),
		"middleware":    s.client.Middleware(),
		"uptime":        time.Since(startTime).Round(time.Second).String(),
	})
}
