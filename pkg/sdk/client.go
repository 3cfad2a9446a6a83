package sdk

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/nicktill/tinymon/pkg/clock"
	"github.com/nicktill/tinymon/pkg/config"
	"github.com/nicktill/tinymon/pkg/sdk/batch"
	"github.com/nicktill/tinymon/pkg/sdk/metrics"
	"github.com/nicktill/tinymon/pkg/sdk/middleware"
	"github.com/nicktill/tinymon/pkg/sdk/netstate"
	"github.com/nicktill/tinymon/pkg/sdk/queue"
	"github.com/nicktill/tinymon/pkg/sdk/redact"
	"github.com/nicktill/tinymon/pkg/sdk/retry"
	"github.com/nicktill/tinymon/pkg/sdk/sdkerr"
	"github.com/nicktill/tinymon/pkg/sdk/stats"
	"github.com/nicktill/tinymon/pkg/sdk/telemetry"
	"github.com/nicktill/tinymon/pkg/sdk/transport"
	"github.com/nicktill/tinymon/pkg/storage"
	"github.com/nicktill/tinymon/pkg/storage/badger"
	"github.com/nicktill/tinymon/pkg/storage/memory"
	"github.com/rs/zerolog"
)

// gcInterval is how often an owned badger store reclaims value log space
const gcInterval = 5 * time.Minute

// Client owns one telemetry pipeline: queue, scheduler, middleware chain
// and metrics. Everything a monitored function touches hangs off the
// Client, so several clients can coexist in one process.
type Client struct {
	cfg      config.Config
	log      zerolog.Logger
	reporter sdkerr.Reporter
	clock    clock.Clock
	stats    *stats.Stats

	store     storage.KV
	ownsStore bool

	queue    *queue.Queue
	sched    *batch.Scheduler
	signal   netstate.Signal
	chain    *middleware.Chain
	metrics  *metrics.Aggregator
	redactor *redact.Redactor

	// background loops: scheduler, prober, store GC
	ctx    context.Context
	cancel context.CancelFunc
	bg     sync.WaitGroup

	// encoded items handed off by monitored calls, queued in call order
	// by a single worker
	obsMu   sync.RWMutex
	obs     sync.WaitGroup
	closed  bool
	pendMu  sync.Mutex
	pending []observation
	wake    chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// observation is one finished call waiting to be queued
type observation struct {
	ctx      context.Context
	item     telemetry.Item
	priority telemetry.Priority
}

// NewWithKey creates a client from a bare API key and the defaults
func NewWithKey(apiKey string, opts ...Option) (*Client, error) {
	return New(config.Config{APIKey: apiKey}, opts...)
}

// New creates and starts a client. A partial cfg is filled from
// config.Default(). Only malformed configuration fails; storage problems
// degrade to an in-memory queue and a missing API key disables sending.
//
// Zero values in a struct literal mean "use the default", so Retries: 0
// or Compress: false cannot be expressed that way. Start from
// config.Default() or use config.NewBuilder() to set explicit zeroes.
func New(cfg config.Config, opts ...Option) (*Client, error) {
	cfg = cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	redactor, err := newRedactor(cfg)
	if err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	log := zerolog.Nop()
	switch {
	case o.logger != nil:
		log = *o.logger
	case cfg.Debug:
		log = zerolog.New(os.Stderr).With().Timestamp().Logger().Level(zerolog.DebugLevel)
	}
	log = log.With().Str("service", "tinymon").Logger()

	clk := o.clock
	if clk == nil {
		clk = clock.Real()
	}
	signal := o.signal
	if signal == nil {
		signal = netstate.Static(true)
	}

	c := &Client{
		cfg:      cfg,
		log:      log,
		reporter: sdkerr.Reporter{Log: log, OnError: cfg.OnError},
		clock:    clk,
		stats:    stats.New(o.registry),
		signal:   signal,
		metrics:  metrics.NewAggregator(clk),
		redactor: redactor,
		wake:     make(chan struct{}, 1),
	}
	c.chain = middleware.NewChain(c.reporter.Report)

	if o.registry != nil {
		if err := o.registry.Register(c.metrics); err != nil {
			log.Warn().Err(err).Msg("function metrics not registered")
		}
	}

	c.openStore(o.store)

	sender := o.sender
	if sender == nil {
		sender, err = transport.NewHTTP(transport.Config{
			Endpoint: cfg.Endpoint,
			APIKey:   cfg.APIKey,
			Timeout:  cfg.Timeout,
			Compress: cfg.Compress,
		})
		if err != nil {
			c.closeStore()
			return nil, fmt.Errorf("failed to create sender: %w", err)
		}
	}

	c.queue = queue.New(queue.Config{
		Store:    c.store,
		Key:      cfg.StorageKey,
		MaxBytes: cfg.MaxStorageBytes,
	}, clk, c.reporter, c.stats)

	engine := &retry.Engine{
		Sender:     sender,
		MaxRetries: cfg.Retries,
		Clock:      clk,
		Reporter:   sdkerr.Reporter{Log: log.With().Str("component", "retry").Logger(), OnError: cfg.OnError},
		Stats:      c.stats,
	}
	c.sched = batch.New(batch.Config{
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
	}, c.queue, engine, signal, clk, log, c.stats)

	if cfg.APIKey == "" {
		c.reporter.Report(&sdkerr.ConfigurationError{Field: "api_key", Err: sdkerr.ErrMissingCredential})
	}

	c.start()

	recovered := c.queue.Load(context.Background())
	log.Debug().
		Str("endpoint", cfg.Endpoint).
		Int("batch_size", cfg.BatchSize).
		Dur("batch_timeout", cfg.BatchTimeout).
		Int("retries", cfg.Retries).
		Bool("persistence", c.store != nil).
		Int("recovered", recovered).
		Msg("client initialized")
	if recovered > 0 && signal.Online() {
		// recovered entries flush now rather than after the batch timeout
		c.sched.Notify(telemetry.PriorityHigh)
	}

	return c, nil
}

// newRedactor uses the configured patterns, or redact.DefaultPatterns
// when none are configured
func newRedactor(cfg config.Config) (*redact.Redactor, error) {
	if len(cfg.SanitizePatterns) == 0 {
		return redact.Compile(redact.DefaultPatterns...)
	}
	patterns, err := cfg.Patterns()
	if err != nil {
		return nil, err
	}
	return redact.New(patterns), nil
}

// openStore picks the durable mirror: the supplied KV, a badger
// directory, or process memory. Open failures fall back to memory.
func (c *Client) openStore(supplied storage.KV) {
	switch {
	case c.cfg.DisablePersistence:
		return
	case supplied != nil:
		c.store = supplied
		return
	case c.cfg.StoragePath != "":
		db, err := badger.New(badger.Config{Path: c.cfg.StoragePath})
		if err == nil {
			c.store, c.ownsStore = db, true
			return
		}
		c.reporter.Report(&sdkerr.PersistenceError{Op: "open", Key: c.cfg.StoragePath, Err: err})
	}
	c.store, c.ownsStore = memory.New(), true
}

func (c *Client) start() {
	c.ctx, c.cancel = context.WithCancel(context.Background())

	c.bg.Add(2)
	go func() {
		defer c.bg.Done()
		c.sched.Run(c.ctx)
	}()
	go func() {
		defer c.bg.Done()
		c.runObservations()
	}()

	if runner, ok := c.signal.(interface{ Run(context.Context) }); ok {
		c.bg.Add(1)
		go func() {
			defer c.bg.Done()
			runner.Run(c.ctx)
		}()
	}

	if gc, ok := c.store.(interface{ RunGC(float64) error }); ok && c.ownsStore {
		c.bg.Add(1)
		go func() {
			defer c.bg.Done()
			c.collectGarbage(gc)
		}()
	}
}

func (c *Client) collectGarbage(gc interface{ RunGC(float64) error }) {
	ticker := c.clock.NewTicker(gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if err := gc.RunGC(0.5); err != nil {
				c.log.Debug().Err(err).Msg("value log gc failed")
			}
		}
	}
}

// observe hands a finished item to the observation worker unless the
// client is closed. Items are queued in the order observe is called.
func (c *Client) observe(ctx context.Context, item telemetry.Item, priority telemetry.Priority) {
	c.obsMu.RLock()
	defer c.obsMu.RUnlock()
	if c.closed {
		return
	}

	c.obs.Add(1)
	c.pendMu.Lock()
	c.pending = append(c.pending, observation{ctx: context.WithoutCancel(ctx), item: item, priority: priority})
	c.pendMu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Client) isClosed() bool {
	c.obsMu.RLock()
	defer c.obsMu.RUnlock()
	return c.closed
}

// runObservations queues handed-off items one at a time until the
// client stops, then drains what is left
func (c *Client) runObservations() {
	for {
		select {
		case <-c.wake:
			c.drainObservations()
		case <-c.ctx.Done():
			c.drainObservations()
			return
		}
	}
}

func (c *Client) drainObservations() {
	for {
		c.pendMu.Lock()
		batch := c.pending
		c.pending = nil
		c.pendMu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, o := range batch {
			c.record(o)
			c.obs.Done()
		}
	}
}

// record queues one observation. A panic is reported and contained.
func (c *Client) record(o observation) {
	defer func() {
		if v := recover(); v != nil {
			c.reporter.Report(&sdkerr.InstrumentationError{Stage: "observe", Name: o.item.Name, Err: sdkerr.FromPanic(v)})
		}
	}()
	c.enqueue(o.ctx, o.item, o.priority)
}

// enqueue queues one telemetry item and notifies the scheduler. Without
// an API key nothing could ever be delivered, so the item is dropped.
func (c *Client) enqueue(ctx context.Context, item telemetry.Item, priority telemetry.Priority) {
	if c.cfg.APIKey == "" {
		c.stats.Dropped("missing_credential")
		c.log.Debug().Str("function", item.Name).Msg("api key not set, telemetry dropped")
		return
	}
	if _, err := c.queue.Enqueue(ctx, item, priority); err != nil {
		c.reporter.Report(err)
		return
	}
	c.sched.Notify(priority)
}

// QueueSize returns the number of undelivered telemetry items
func (c *Client) QueueSize() int {
	return c.queue.Size()
}

// ClearQueue drops every undelivered item and its durable mirror
func (c *Client) ClearQueue(ctx context.Context) {
	c.queue.Clear(ctx)
}

// Flush runs one flush cycle now and reports whether it ran. It does
// not run while another cycle is in progress or while offline.
func (c *Client) Flush(ctx context.Context) bool {
	return c.sched.Flush(ctx)
}

// Config returns a copy of the effective configuration
func (c *Client) Config() config.Config {
	return c.cfg.Clone()
}

// Use appends middleware to the chain
func (c *Client) Use(m middleware.Middleware) {
	c.chain.Add(m)
}

// RemoveMiddleware removes the first middleware with the given name
func (c *Client) RemoveMiddleware(name string) bool {
	return c.chain.Remove(name)
}

// Middleware lists registered middleware names in order
func (c *Client) Middleware() []string {
	return c.chain.Names()
}

// Metrics returns the per-function statistics
func (c *Client) Metrics() *metrics.Aggregator {
	return c.metrics
}

// Sync waits until telemetry from every monitored call so far has been
// queued.
func (c *Client) Sync() {
	c.obs.Wait()
}

// Close stops the pipeline. It waits for pending observations, stops
// the scheduler and attempts one final flush bounded by ctx. Monitored
// functions keep working after Close but are no longer observed.
func (c *Client) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		c.obsMu.Lock()
		c.closed = true
		c.obsMu.Unlock()

		done := make(chan struct{})
		go func() {
			c.obs.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			c.log.Debug().Msg("close deadline reached before pending observations finished")
		}

		// the observation worker drains what is still pending before
		// the scheduler stops
		c.cancel()
		c.bg.Wait()
		c.sched.Stop()

		if c.queue.Size() > 0 && ctx.Err() == nil {
			c.sched.Flush(ctx)
		}
		if n := c.queue.Size(); n > 0 {
			c.log.Debug().Int("remaining", n).Msg("closing with undelivered telemetry")
		}

		c.closeErr = c.closeStore()
	})
	return c.closeErr
}

func (c *Client) closeStore() error {
	if !c.ownsStore || c.store == nil {
		return nil
	}
	if err := c.store.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}
