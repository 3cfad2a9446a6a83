// Package collector is a local stand-in for the telemetry collector. It
// accepts the client's wire format, keeps the most recent items in
// memory and streams them to WebSocket subscribers. It can inject
// failures so retry and offline behavior can be observed by hand.
package collector

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/gzip"
	"github.com/nicktill/tinymon/pkg/sdk/telemetry"
	"github.com/nicktill/tinymon/pkg/sdk/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

const (
	// DefaultRecent is how many received items are kept for /v1/items
	DefaultRecent = 1000

	maxBodyBytes = 10 << 20
	// seenCapacity bounds the call IDs remembered for duplicate detection
	seenCapacity = 10000
)

// Config configures a Handler
type Config struct {
	// APIKey, when set, must match the x-api-key header
	APIKey string
	// FailRate is the fraction of ingest requests answered with 503
	FailRate float64
	// Recent is the capacity of the received items ring
	Recent     int
	Registerer prometheus.Registerer
	Logger     zerolog.Logger
}

// Received is one item as the collector saw it
type Received struct {
	telemetry.Item
	ReceivedAt time.Time `json:"receivedAt"`
	Duplicate  bool      `json:"duplicate,omitempty"`
}

// Handler serves the ingest and query endpoints
type Handler struct {
	apiKey   string
	failRate float64
	hub      *Hub
	log      zerolog.Logger

	received   *prometheus.CounterVec
	requests   *prometheus.CounterVec
	duplicates prometheus.Counter

	mu     sync.RWMutex
	recent []Received
	head   int
	cap    int
	seen   map[uint64]struct{}
	order  []uint64
}

// NewHandler creates a new collector handler. hub may be nil.
func NewHandler(cfg Config, hub *Hub) *Handler {
	if cfg.Recent <= 0 {
		cfg.Recent = DefaultRecent
	}
	h := &Handler{
		apiKey:   cfg.APIKey,
		failRate: cfg.FailRate,
		hub:      hub,
		log:      cfg.Logger.With().Str("component", "collector").Logger(),
		cap:      cfg.Recent,
		seen:     make(map[uint64]struct{}),
		received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tinymon_collector_items_received_total",
			Help: "Telemetry items accepted, by function.",
		}, []string{"function"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tinymon_collector_requests_total",
			Help: "Ingest requests, by HTTP status code.",
		}, []string{"code"}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tinymon_collector_duplicates_total",
			Help: "Items whose call ID was already received, i.e. redeliveries.",
		}),
	}
	if cfg.Registerer != nil {
		cfg.Registerer.MustRegister(h.received, h.requests, h.duplicates)
	}
	return h
}

// HandleIngest accepts a bare item or a {"batch": [...]} envelope,
// optionally gzip encoded
func (h *Handler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	if h.apiKey != "" && r.Header.Get(transport.APIKeyHeader) != h.apiKey {
		h.fail(w, http.StatusUnauthorized, "invalid or missing API key")
		return
	}
	if h.failRate > 0 && rand.Float64() < h.failRate {
		h.fail(w, http.StatusServiceUnavailable, "injected failure")
		return
	}

	body, err := readBody(r)
	if err != nil {
		h.fail(w, http.StatusBadRequest, err.Error())
		return
	}
	items, err := decodeItems(body)
	if err != nil {
		h.fail(w, http.StatusBadRequest, err.Error())
		return
	}

	now := time.Now()
	stored := h.store(items, now)
	for _, rec := range stored {
		h.received.WithLabelValues(rec.Name).Inc()
		if h.hub != nil {
			if err := h.hub.Publish(rec); err != nil {
				h.log.Warn().Err(err).Str("function", rec.Name).Msg("failed to publish item")
			}
		}
	}

	h.requests.WithLabelValues(strconv.Itoa(http.StatusOK)).Inc()
	h.log.Debug().Int("items", len(items)).Msg("telemetry received")
	respondJSON(h.log, w, http.StatusOK, telemetry.Response{
		Success: true,
		Message: fmt.Sprintf("received %d items", len(items)),
	})
}

func (h *Handler) fail(w http.ResponseWriter, status int, message string) {
	h.requests.WithLabelValues(strconv.Itoa(status)).Inc()
	respondJSON(h.log, w, status, telemetry.Response{Success: false, Message: message, Errors: []string{http.StatusText(status)}})
}

// HandleRecent returns received items, newest last. Query parameters:
// limit (default all), name (exact function name), errors=true.
func (h *Handler) HandleRecent(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(h.log, w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	name := q.Get("name")
	onlyErrors := q.Get("errors") == "true"

	var out []Received
	for _, rec := range h.Recent() {
		if name != "" && rec.Name != name {
			continue
		}
		if onlyErrors && !rec.Error {
			continue
		}
		out = append(out, rec)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	if out == nil {
		out = []Received{}
	}
	respondJSON(h.log, w, http.StatusOK, map[string]any{"items": out, "count": len(out)})
}

// Recent returns the received items ring, oldest first
func (h *Handler) Recent() []Received {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Received, 0, len(h.recent))
	out = append(out, h.recent[h.head:]...)
	return append(out, h.recent[:h.head]...)
}

// Clear forgets every received item
func (h *Handler) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.recent, h.head = nil, 0
	h.seen = make(map[uint64]struct{})
	h.order = nil
}

func (h *Handler) store(items []telemetry.Item, now time.Time) []Received {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Received, 0, len(items))
	for _, item := range items {
		rec := Received{Item: item, ReceivedAt: now, Duplicate: h.markSeenLocked(item)}
		if rec.Duplicate {
			h.duplicates.Inc()
		}
		if len(h.recent) < h.cap {
			h.recent = append(h.recent, rec)
		} else {
			h.recent[h.head] = rec
			h.head = (h.head + 1) % h.cap
		}
		out = append(out, rec)
	}
	return out
}

// markSeenLocked records the item's call ID and reports whether it was
// seen before. Items without a call ID are never duplicates.
func (h *Handler) markSeenLocked(item telemetry.Item) bool {
	id, _ := item.Metadata["callId"].(string)
	if id == "" {
		return false
	}
	key := xxhash.Sum64String(id)
	if _, ok := h.seen[key]; ok {
		return true
	}
	h.seen[key] = struct{}{}
	h.order = append(h.order, key)
	if len(h.order) > seenCapacity {
		delete(h.seen, h.order[0])
		h.order = h.order[1:]
	}
	return false
}

// HandleHealth reports liveness
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	n := len(h.recent)
	h.mu.RUnlock()
	clients := 0
	if h.hub != nil {
		clients = h.hub.Clients()
	}
	respondJSON(h.log, w, http.StatusOK, map[string]any{
		"status":         "healthy",
		"uptime":         time.Since(startTime).String(),
		"items":          n,
		"stream_clients": clients,
	})
}

var startTime = time.Now()

func readBody(r *http.Request) ([]byte, error) {
	var src io.Reader = http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	if r.Header.Get("Content-Encoding") == "gzip" {
		zr, err := gzip.NewReader(src)
		if err != nil {
			return nil, fmt.Errorf("invalid gzip body: %w", err)
		}
		defer zr.Close()
		src = io.LimitReader(zr, maxBodyBytes)
	}
	body, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// decodeItems tells a batch envelope from a bare item by the "batch" key
func decodeItems(body []byte) ([]telemetry.Item, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, fmt.Errorf("empty body")
	}

	var envelope struct {
		Batch *[]telemetry.Item `json:"batch"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if envelope.Batch != nil {
		return *envelope.Batch, nil
	}

	var item telemetry.Item
	if err := json.Unmarshal(body, &item); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if item.Name == "" {
		return nil, fmt.Errorf("item has no name")
	}
	return []telemetry.Item{item}, nil
}
