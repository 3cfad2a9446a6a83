package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nicktill/tinymon/pkg/clock"
	"github.com/nicktill/tinymon/pkg/config"
	"github.com/nicktill/tinymon/pkg/sdk/sdkerr"
	"github.com/nicktill/tinymon/pkg/sdk/stats"
	"github.com/nicktill/tinymon/pkg/sdk/telemetry"
	"github.com/nicktill/tinymon/pkg/storage"
	"github.com/rs/zerolog"
)

// Entry is one queued telemetry item.
type Entry struct {
	ID         string             `json:"id"`
	Item       telemetry.Item     `json:"payload"`
	EnqueuedAt int64              `json:"timestamp"` // unix millis
	Retries    int                `json:"retries"`
	Priority   telemetry.Priority `json:"priority"`

	// payload is Item encoded once at enqueue; snapshots reuse it
	payload json.RawMessage
}

// record is the snapshot form of an Entry
type record struct {
	ID         string             `json:"id"`
	Payload    json.RawMessage    `json:"payload"`
	EnqueuedAt int64              `json:"timestamp"`
	Retries    int                `json:"retries"`
	Priority   telemetry.Priority `json:"priority"`
}

func (e Entry) record() record {
	return record{ID: e.ID, Payload: e.payload, EnqueuedAt: e.EnqueuedAt, Retries: e.Retries, Priority: e.Priority}
}

// Config holds the durable mirror settings
type Config struct {
	// Store receives the serialized queue. Nil disables the mirror.
	Store storage.KV
	Key   string

	// MaxBytes bounds the serialized mirror. 0 means unbounded.
	MaxBytes int
}

// Queue is the ordered set of pending telemetry. The in-memory slice is
// authoritative; the store holds a snapshot rewritten after every
// mutation. All mutations, storage write included, run under one lock.
type Queue struct {
	cfg   Config
	clock clock.Clock
	log   zerolog.Logger
	rep   sdkerr.Reporter
	stats *stats.Stats

	mu      sync.Mutex
	entries []Entry
}

// New creates an empty queue. Call Load to recover a persisted snapshot.
func New(cfg Config, clk clock.Clock, rep sdkerr.Reporter, st *stats.Stats) *Queue {
	if clk == nil {
		clk = clock.Real()
	}
	return &Queue{
		cfg:   cfg,
		clock: clk,
		log:   rep.Log.With().Str("component", "queue").Logger(),
		rep:   rep,
		stats: st,
	}
}

// Load reads the persisted snapshot once and prepends it to the queue.
// A missing, unreadable or corrupt snapshot counts as empty. Returns the
// number of recovered entries.
func (q *Queue) Load(ctx context.Context) int {
	if q.cfg.Store == nil {
		return 0
	}

	raw, err := q.cfg.Store.Get(ctx, q.cfg.Key)
	if errors.Is(err, storage.ErrNotFound) {
		return 0
	}
	if err != nil {
		q.rep.Report(&sdkerr.PersistenceError{Op: "load", Key: q.cfg.Key, Err: err})
		return 0
	}

	var records []record
	if err := json.Unmarshal(raw, &records); err != nil {
		q.rep.Report(&sdkerr.PersistenceError{Op: "decode", Key: q.cfg.Key, Err: err})
		return 0
	}
	loaded := make([]Entry, 0, len(records))
	for _, r := range records {
		e := Entry{ID: r.ID, EnqueuedAt: r.EnqueuedAt, Retries: r.Retries, Priority: r.Priority, payload: r.Payload}
		if err := json.Unmarshal(r.Payload, &e.Item); err != nil {
			q.rep.Report(&sdkerr.PersistenceError{Op: "decode", Key: q.cfg.Key, Err: err})
			continue
		}
		loaded = append(loaded, e)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(loaded, q.entries...)
	q.stats.QueueLength(len(q.entries))
	q.log.Debug().Int("entries", len(loaded)).Msg("loaded persisted queue")
	return len(loaded)
}

// Enqueue appends item and rewrites the durable mirror. An item that
// cannot be encoded is rejected with an InstrumentationError and leaves
// the queue untouched.
func (q *Queue) Enqueue(ctx context.Context, item telemetry.Item, priority telemetry.Priority) (Entry, error) {
	if priority == "" {
		priority = telemetry.PriorityNormal
	}
	payload, err := json.Marshal(item)
	if err != nil {
		q.stats.Dropped("unencodable")
		return Entry{}, &sdkerr.InstrumentationError{Stage: "encode", Name: item.Name, Err: err}
	}
	e := Entry{
		ID:         uuid.NewString(),
		Item:       item,
		EnqueuedAt: q.clock.Now().UnixMilli(),
		Priority:   priority,
		payload:    payload,
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, e)
	q.stats.Enqueued(string(priority))
	q.persistLocked(ctx)
	return e, nil
}

// Batches stably sorts the queue by priority (high, normal, low; ties
// keep enqueue order) and returns the sorted view cut into batches of
// at most size entries. The returned slices are copies.
func (q *Queue) Batches(size int) [][]Entry {
	if size <= 0 {
		size = 1
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	sort.SliceStable(q.entries, func(i, j int) bool {
		return q.entries[i].Priority.Rank() < q.entries[j].Priority.Rank()
	})

	var out [][]Entry
	for i := 0; i < len(q.entries); i += size {
		end := i + size
		if end > len(q.entries) {
			end = len(q.entries)
		}
		batch := make([]Entry, end-i)
		copy(batch, q.entries[i:end])
		out = append(out, batch)
	}
	return out
}

// RemovePrefix drops the first n entries in queue order and rewrites the
// mirror. n larger than the queue empties it.
func (q *Queue) RemovePrefix(ctx context.Context, n int) int {
	if n <= 0 {
		return 0
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if n > len(q.entries) {
		n = len(q.entries)
	}
	q.entries = append([]Entry(nil), q.entries[n:]...)
	q.persistLocked(ctx)
	return n
}

// Acknowledge removes the delivered entries by ID and rewrites the
// mirror. Entries that were evicted or cleared while their batch was in
// flight are skipped, so a concurrent mutation can never cause an
// undelivered entry to be removed in their place. Returns the number
// removed.
func (q *Queue) Acknowledge(ctx context.Context, delivered []Entry) int {
	if len(delivered) == 0 {
		return 0
	}
	ids := make(map[string]struct{}, len(delivered))
	for _, e := range delivered {
		ids[e.ID] = struct{}{}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.entries[:0:0]
	for _, e := range q.entries {
		if _, ok := ids[e.ID]; !ok {
			kept = append(kept, e)
		}
	}
	removed := len(q.entries) - len(kept)
	q.entries = kept
	if removed > 0 {
		q.persistLocked(ctx)
	}
	return removed
}

// MarkAttempt bumps the retry counter of the given entries.
func (q *Queue) MarkAttempt(ctx context.Context, attempted []Entry) {
	if len(attempted) == 0 {
		return
	}
	ids := make(map[string]struct{}, len(attempted))
	for _, e := range attempted {
		ids[e.ID] = struct{}{}
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.entries {
		if _, ok := ids[q.entries[i].ID]; ok {
			q.entries[i].Retries++
		}
	}
	q.persistLocked(ctx)
}

// Size returns the number of queued entries
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Entries returns a copy of the queue in its current order
func (q *Queue) Entries() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Entry, len(q.entries))
	copy(out, q.entries)
	return out
}

// Clear empties the queue and deletes the durable mirror
func (q *Queue) Clear(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.entries = nil
	q.stats.QueueLength(0)
	if q.cfg.Store == nil {
		return
	}
	if err := q.cfg.Store.Remove(ctx, q.cfg.Key); err != nil {
		q.stats.PersistFailed()
		q.rep.Report(&sdkerr.PersistenceError{Op: "remove", Key: q.cfg.Key, Err: err})
	}
}

// persistLocked serializes the queue into the store. When the snapshot
// exceeds MaxBytes, entries are evicted from the head until it fits in
// config.EvictionTarget of the budget. Caller holds q.mu.
func (q *Queue) persistLocked(ctx context.Context) {
	defer func() { q.stats.QueueLength(len(q.entries)) }()

	if q.cfg.Store == nil {
		return
	}

	encoded := make([][]byte, len(q.entries))
	total := 2 // []
	for i, e := range q.entries {
		// payload is valid JSON, so only the envelope is encoded here
		raw, err := json.Marshal(e.record())
		if err != nil {
			q.stats.PersistFailed()
			q.rep.Report(&sdkerr.PersistenceError{Op: "encode", Key: q.cfg.Key, Err: err})
			return
		}
		encoded[i] = raw
		total += len(raw)
	}
	if len(encoded) > 1 {
		total += len(encoded) - 1 // commas
	}

	if q.cfg.MaxBytes > 0 && total > q.cfg.MaxBytes {
		target := int(float64(q.cfg.MaxBytes) * config.EvictionTarget)
		evict := 0
		for total > target && evict < len(encoded) {
			total -= len(encoded[evict])
			if len(encoded)-evict > 1 {
				total-- // its comma
			}
			evict++
		}
		q.entries = append([]Entry(nil), q.entries[evict:]...)
		encoded = encoded[evict:]
		q.stats.Evicted(evict)
		q.log.Debug().Int("evicted", evict).Int("bytes", total).Msg("queue over storage budget")
	}

	if err := q.cfg.Store.Set(ctx, q.cfg.Key, join(encoded, total)); err != nil {
		q.stats.PersistFailed()
		q.rep.Report(&sdkerr.PersistenceError{Op: "write", Key: q.cfg.Key, Err: err})
	}
}

// join builds the JSON array from pre-encoded elements
func join(encoded [][]byte, size int) []byte {
	buf := make([]byte, 0, size)
	buf = append(buf, '[')
	for i, raw := range encoded {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, raw...)
	}
	return append(buf, ']')
}

// Age returns how long an entry has been waiting
func (e Entry) Age(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(e.EnqueuedAt))
}
