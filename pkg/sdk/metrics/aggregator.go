// Package metrics keeps per-function call statistics in memory:
// counts, success and error rates, latency percentiles over a bounded
// history, and last-seen error messages. It is independent of telemetry
// delivery.
package metrics

import (
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/nicktill/tinymon/pkg/clock"
	"github.com/nicktill/tinymon/pkg/config"
)

// record is the running state of one function
type record struct {
	total         int64
	successes     int64
	failures      int64
	totalDuration time.Duration
	lastError     string
	lastErrorTime time.Time

	// ring buffer, oldest at head once full
	history []Sample
	head    int
}

func (r *record) push(s Sample, capacity int) {
	if len(r.history) < capacity {
		r.history = append(r.history, s)
		return
	}
	r.history[r.head] = s
	r.head = (r.head + 1) % capacity
}

// ordered returns the history oldest first
func (r *record) ordered() []Sample {
	out := make([]Sample, 0, len(r.history))
	out = append(out, r.history[r.head:]...)
	return append(out, r.history[:r.head]...)
}

func (r *record) snapshot() Snapshot {
	if r.total == 0 {
		return Snapshot{}
	}
	n := float64(r.total)
	return Snapshot{
		TotalCalls:        r.total,
		SuccessRate:       float64(r.successes) / n * 100,
		ErrorRate:         float64(r.failures) / n * 100,
		AverageDurationMs: ms(r.totalDuration) / n,
		LastError:         r.lastError,
		LastErrorTime:     r.lastErrorTime,
	}
}

// Aggregator records calls keyed by function name. Safe for concurrent use.
type Aggregator struct {
	clock    clock.Clock
	capacity int

	mu      sync.RWMutex
	records map[string]*record
}

// NewAggregator creates an empty aggregator keeping config.HistorySize
// samples per function
func NewAggregator(clk clock.Clock) *Aggregator {
	if clk == nil {
		clk = clock.Real()
	}
	return &Aggregator{
		clock:    clk,
		capacity: config.HistorySize,
		records:  make(map[string]*record),
	}
}

// RecordCall adds one call. errMsg is kept as the last error when the
// call failed and errMsg is not empty.
func (a *Aggregator) RecordCall(name string, d time.Duration, success bool, errMsg string) {
	now := a.clock.Now()

	a.mu.Lock()
	defer a.mu.Unlock()

	r, ok := a.records[name]
	if !ok {
		r = &record{}
		a.records[name] = r
	}
	r.total++
	r.totalDuration += d
	if success {
		r.successes++
	} else {
		r.failures++
		if errMsg != "" {
			r.lastError = errMsg
			r.lastErrorTime = now
		}
	}
	r.push(Sample{Timestamp: now, DurationMs: ms(d), Success: success}, a.capacity)
}

// Snapshot summarizes name. Unknown names yield a zero Snapshot.
func (a *Aggregator) Snapshot(name string) Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if r, ok := a.records[name]; ok {
		return r.snapshot()
	}
	return Snapshot{}
}

// Snapshots summarizes every recorded function
func (a *Aggregator) Snapshots() map[string]Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]Snapshot, len(a.records))
	for name, r := range a.records {
		out[name] = r.snapshot()
	}
	return out
}

// Percentiles computes duration percentiles in milliseconds over the
// current history, keyed "p50", "p99.9" and so on. The value for p is
// the sorted sample at index ceil(p/100*n)-1. No history yields an
// empty map.
func (a *Aggregator) Percentiles(name string, ps ...float64) map[string]float64 {
	if len(ps) == 0 {
		ps = DefaultPercentiles
	}

	a.mu.RLock()
	r, ok := a.records[name]
	var durations []float64
	if ok {
		durations = make([]float64, len(r.history))
		for i, s := range r.history {
			durations[i] = s.DurationMs
		}
	}
	a.mu.RUnlock()

	out := make(map[string]float64, len(ps))
	if len(durations) == 0 {
		return out
	}
	sort.Float64s(durations)
	for _, p := range ps {
		out[percentileKey(p)] = percentile(durations, p)
	}
	return out
}

// ErrorPatterns counts how many functions last failed with each message.
// With no names, every recorded function is considered.
func (a *Aggregator) ErrorPatterns(names ...string) map[string]int {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if len(names) == 0 {
		names = make([]string, 0, len(a.records))
		for name := range a.records {
			names = append(names, name)
		}
	}
	out := make(map[string]int)
	for _, name := range names {
		if r, ok := a.records[name]; ok && r.lastError != "" {
			out[r.lastError]++
		}
	}
	return out
}

// History returns up to limit of the most recent samples, oldest first.
// limit <= 0 returns the whole history.
func (a *Aggregator) History(name string, limit int) []Sample {
	a.mu.RLock()
	defer a.mu.RUnlock()
	r, ok := a.records[name]
	if !ok {
		return nil
	}
	h := r.ordered()
	if limit > 0 && limit < len(h) {
		h = h[len(h)-limit:]
	}
	return h
}

// Reset forgets the named functions, or everything when none are named
func (a *Aggregator) Reset(names ...string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(names) == 0 {
		a.records = make(map[string]*record)
		return
	}
	for _, name := range names {
		delete(a.records, name)
	}
}

// Export dumps raw records and summaries
func (a *Aggregator) Export() Export {
	now := a.clock.Now()

	a.mu.RLock()
	defer a.mu.RUnlock()

	out := Export{
		Timestamp: now,
		Metrics:   make(map[string]Record, len(a.records)),
		Summary:   make(map[string]Snapshot, len(a.records)),
	}
	for name, r := range a.records {
		out.Metrics[name] = Record{
			TotalCalls:      r.total,
			SuccessfulCalls: r.successes,
			FailedCalls:     r.failures,
			TotalDurationMs: ms(r.totalDuration),
			LastError:       r.lastError,
			LastErrorTime:   r.lastErrorTime,
			CallHistory:     r.ordered(),
		}
		out.Summary[name] = r.snapshot()
	}
	return out
}

// percentile expects sorted input
func percentile(sorted []float64, p float64) float64 {
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// percentileKey formats p as "p50", "p99.9"
func percentileKey(p float64) string {
	return "p" + strconv.FormatFloat(p, 'f', -1, 64)
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
