package batch

import (
	"context"
	"sync"
	"time"

	"github.com/nicktill/tinymon/pkg/clock"
	"github.com/nicktill/tinymon/pkg/config"
	"github.com/nicktill/tinymon/pkg/sdk/netstate"
	"github.com/nicktill/tinymon/pkg/sdk/queue"
	"github.com/nicktill/tinymon/pkg/sdk/stats"
	"github.com/nicktill/tinymon/pkg/sdk/telemetry"
	"github.com/rs/zerolog"
)

// State of the scheduler
type State int

const (
	// Idle: no timer pending and no cycle running
	Idle State = iota
	// TimerArmed: one deferred flush is scheduled
	TimerArmed
	// Flushing: a cycle is running; further flush requests are no-ops
	Flushing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case TimerArmed:
		return "timer_armed"
	case Flushing:
		return "flushing"
	default:
		return "unknown"
	}
}

// Delivery sends one batch with retries. *retry.Engine implements it.
type Delivery interface {
	Send(ctx context.Context, items []telemetry.Item) bool
}

// Config holds configuration for the scheduler
type Config struct {
	BatchSize    int
	BatchTimeout time.Duration
}

// Scheduler decides when queued telemetry is flushed: on the batch
// timer, when the queue reaches BatchSize, on high priority, and when
// connectivity returns. While offline it stays quiesced.
type Scheduler struct {
	config   Config
	queue    *queue.Queue
	delivery Delivery
	signal   netstate.Signal
	clock    clock.Clock
	log      zerolog.Logger
	stats    *stats.Stats

	// connectivity transitions, subscribed from New so none are missed
	changes     <-chan bool
	unsubscribe func()

	// ctx bounds flushes the scheduler starts on its own
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	state    State
	timer    *clock.Timer
	quiesced bool
	stopped  bool
}

// New creates a new scheduler. A nil signal means always online.
func New(cfg Config, q *queue.Queue, d Delivery, signal netstate.Signal, clk clock.Clock, log zerolog.Logger, st *stats.Stats) *Scheduler {
	if signal == nil {
		signal = netstate.Static(true)
	}
	if clk == nil {
		clk = clock.Real()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = config.DefaultBatchSize
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = config.DefaultBatchTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	changes, unsubscribe := signal.Subscribe()
	return &Scheduler{
		config:      cfg,
		queue:       q,
		delivery:    d,
		signal:      signal,
		clock:       clk,
		log:         log.With().Str("component", "batch").Logger(),
		stats:       st,
		changes:     changes,
		unsubscribe: unsubscribe,
		ctx:         ctx,
		cancel:      cancel,
		quiesced:    !signal.Online(),
	}
}

// Notify tells the scheduler an entry of the given priority was queued.
// High priority and a full batch flush immediately; anything else arms
// the timer if it is not armed already.
func (s *Scheduler) Notify(priority telemetry.Priority) {
	if priority == telemetry.PriorityHigh || s.queue.Size() >= s.config.BatchSize {
		s.spawnFlush()
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Idle && s.signal.Online() {
		s.armTimerLocked()
	}
}

// Flush runs one flush cycle and reports whether it ran. It is a no-op
// while another cycle is running, and while offline.
//
// Batches are sent in priority order. The cycle stops at the first batch
// that fails after retries, so only a contiguous prefix of batches is
// removed from the queue and later batches keep their place.
func (s *Scheduler) Flush(ctx context.Context) bool {
	s.mu.Lock()
	if s.state == Flushing {
		s.mu.Unlock()
		return false
	}
	s.stopTimerLocked()
	if !s.signal.Online() {
		s.quiesced = true
		s.state = Idle
		s.mu.Unlock()
		s.log.Debug().Msg("offline, flush suppressed")
		return false
	}
	s.quiesced = false
	s.state = Flushing
	s.mu.Unlock()

	start := s.clock.Now()
	sent, failed := 0, false
	for _, b := range s.queue.Batches(s.config.BatchSize) {
		items := make([]telemetry.Item, len(b))
		for i, e := range b {
			items[i] = e.Item
		}

		if !s.delivery.Send(ctx, items) {
			s.queue.MarkAttempt(ctx, b)
			failed = true
			break
		}
		s.queue.Acknowledge(ctx, b)
		sent += len(b)
	}
	s.stats.FlushSeconds(s.clock.Now().Sub(start).Seconds())

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Idle
	remaining := s.queue.Size()
	if remaining > 0 && !s.stopped && !s.quiesced {
		s.armTimerLocked()
	}
	s.log.Debug().Int("sent", sent).Int("remaining", remaining).Bool("failed", failed).Msg("flush cycle finished")
	return true
}

// Run follows the connectivity signal until ctx is done: going offline
// quiesces the scheduler, coming back online flushes immediately.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case online := <-s.changes:
			if online {
				s.log.Debug().Msg("back online")
				s.mu.Lock()
				s.quiesced = false
				s.mu.Unlock()
				s.spawnFlush()
				continue
			}
			s.log.Debug().Msg("went offline")
			s.mu.Lock()
			s.quiesced = true
			s.stopTimerLocked()
			if s.state == TimerArmed {
				s.state = Idle
			}
			s.mu.Unlock()
		}
	}
}

// Stop cancels the timer, aborts retry waits of scheduler-started
// flushes, and waits for them to return. Flush stays usable afterwards
// for a final drain.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.stopTimerLocked()
	if s.state == TimerArmed {
		s.state = Idle
	}
	s.mu.Unlock()

	s.unsubscribe()
	s.cancel()
	s.wg.Wait()
}

// State reports the current state
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Quiesced reports whether flushing is suspended for lack of connectivity
func (s *Scheduler) Quiesced() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quiesced
}

// spawnFlush starts a cycle in the background unless stopped
func (s *Scheduler) spawnFlush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Flush(s.ctx)
	}()
}

func (s *Scheduler) armTimerLocked() {
	if s.stopped {
		return
	}
	var t *clock.Timer
	t = s.clock.AfterFunc(s.config.BatchTimeout, func() {
		s.mu.Lock()
		if s.timer != t {
			s.mu.Unlock()
			return
		}
		s.timer = nil
		if s.state == TimerArmed {
			s.state = Idle
		}
		s.mu.Unlock()
		s.spawnFlush()
	})
	s.timer = t
	s.state = TimerArmed
}

func (s *Scheduler) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
