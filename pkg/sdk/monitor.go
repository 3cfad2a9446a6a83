package sdk

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/nicktill/tinymon/pkg/sdk/middleware"
	"github.com/nicktill/tinymon/pkg/sdk/sdkerr"
	"github.com/nicktill/tinymon/pkg/sdk/telemetry"
)

// Func is the shape of a function that can be monitored. Functions with
// several arguments take a struct.
type Func[A, R any] func(ctx context.Context, args A) (R, error)

// Captured is what a capture function extracts from a call
type Captured struct {
	Input    any
	Output   any
	Metadata map[string]any
}

// Options configures one monitored function
type Options[A, R any] struct {
	// Name identifies the function in telemetry and metrics
	Name string

	// Capture builds the telemetry payload of a successful call. Nil
	// captures the arguments and the result as they are.
	Capture func(args A, result R) Captured

	// CaptureError builds the payload of a failed call. Nil means failed
	// calls are counted in metrics but produce no telemetry item.
	CaptureError func(err error, args A) Captured

	// Disabled turns off observation entirely
	Disabled bool

	// Filter decides per call whether to observe. Nil observes every call.
	Filter func(args A) bool

	// SampleRate is the fraction of calls observed, 0 to 1. Nil means 1.
	SampleRate *float64

	Tags []string

	// Sanitize redacts captured payloads with the configured patterns
	Sanitize bool

	// Priority of successful calls. Failures are always high.
	Priority telemetry.Priority
}

// Rate is a helper for Options.SampleRate
func Rate(r float64) *float64 { return &r }

// Unencodable replaces a captured payload that cannot be encoded as JSON
const Unencodable = "[UNENCODABLE]"

// Monitor returns a decorator that observes every call of the function it
// wraps. The wrapped function returns exactly what the original returns.
// Capture and encoding finish before the call returns, so the caller may
// freely mutate the result; queueing happens in the background, in call
// order.
func Monitor[A, R any](c *Client, opts Options[A, R]) func(Func[A, R]) Func[A, R] {
	priority := opts.Priority
	if priority == "" {
		priority = telemetry.PriorityNormal
	}

	return func(fn Func[A, R]) Func[A, R] {
		return func(ctx context.Context, args A) (R, error) {
			if !sampled(c, opts, args) {
				return fn(ctx, args)
			}

			call := middleware.Call{Name: opts.Name, ID: uuid.NewString()}
			callArgs := middleware.RunBefore(ctx, c.chain, call, args)

			start := c.clock.Now()
			result, err := fn(ctx, callArgs)
			elapsed := c.clock.Now().Sub(start)

			if err != nil {
				stack := string(debug.Stack())
				c.metrics.RecordCall(opts.Name, elapsed, false, err.Error())
				if item, ok := failureItem(ctx, c, opts, call, callArgs, err, elapsed, start, stack); ok {
					c.observe(ctx, item, telemetry.PriorityHigh)
				}
				return result, err
			}

			c.metrics.RecordCall(opts.Name, elapsed, true, "")
			if item, ok := successItem(ctx, c, opts, priority, call, callArgs, result, elapsed, start); ok {
				c.observe(ctx, item, priority)
			}
			return result, nil
		}
	}
}

// Wrap monitors fn with opts
func Wrap[A, R any](c *Client, opts Options[A, R], fn Func[A, R]) Func[A, R] {
	return Monitor(c, opts)(fn)
}

// sampled reports whether this call is observed. A panicking filter
// is reported and suppresses observation for the call.
func sampled[A, R any](c *Client, opts Options[A, R], args A) (ok bool) {
	if opts.Disabled {
		return false
	}
	if opts.SampleRate != nil && rand.Float64() >= *opts.SampleRate {
		return false
	}
	if opts.Filter == nil {
		return true
	}
	defer func() {
		if v := recover(); v != nil {
			c.reporter.Report(&sdkerr.InstrumentationError{Stage: "filter", Name: opts.Name, Err: sdkerr.FromPanic(v)})
			ok = false
		}
	}()
	return opts.Filter(args)
}

// successItem runs the afterCall hooks and the capture function and
// returns the encoded item
func successItem[A, R any](ctx context.Context, c *Client, opts Options[A, R], priority telemetry.Priority,
	call middleware.Call, args A, result R, elapsed time.Duration, start time.Time) (telemetry.Item, bool) {
	if c.isClosed() {
		return telemetry.Item{}, false
	}
	result = middleware.RunAfter(ctx, c.chain, call, result, args)

	captured := Captured{Input: args, Output: result}
	if opts.Capture != nil {
		var ok bool
		if captured, ok = capture(c, "capture", opts.Name, func() Captured { return opts.Capture(args, result) }); !ok {
			return telemetry.Item{}, false
		}
	}

	return c.item(opts.Name, opts.Tags, opts.Sanitize, captured, priority, call, elapsed, start), true
}

func failureItem[A, R any](ctx context.Context, c *Client, opts Options[A, R], call middleware.Call,
	args A, err error, elapsed time.Duration, start time.Time, stack string) (telemetry.Item, bool) {
	if c.isClosed() {
		return telemetry.Item{}, false
	}
	c.chain.RunOnError(ctx, call, err, args)
	if opts.CaptureError == nil {
		return telemetry.Item{}, false
	}

	captured, ok := capture(c, "captureError", opts.Name, func() Captured { return opts.CaptureError(err, args) })
	if !ok {
		return telemetry.Item{}, false
	}

	item := c.item(opts.Name, opts.Tags, opts.Sanitize, captured, telemetry.PriorityHigh, call, elapsed, start)
	item.Error = true
	item.ErrorMessage = err.Error()
	item.StackTrace = stack
	return item, true
}

// capture runs a user capture function, reporting a panic instead of
// propagating it
func capture(c *Client, stage, name string, fn func() Captured) (out Captured, ok bool) {
	defer func() {
		if v := recover(); v != nil {
			c.reporter.Report(&sdkerr.InstrumentationError{Stage: stage, Name: name, Err: sdkerr.FromPanic(v)})
			ok = false
		}
	}()
	return fn(), true
}

// item assembles the telemetry record of one call. Input, Output and
// Metadata are encoded here, so the item shares no memory with the
// caller's values.
func (c *Client) item(name string, tags []string, sanitize bool, captured Captured, priority telemetry.Priority,
	call middleware.Call, elapsed time.Duration, start time.Time) telemetry.Item {
	input := c.payload(name, captured.Input, sanitize)
	output := c.payload(name, captured.Output, sanitize)

	meta := make(map[string]any, len(captured.Metadata)+3)
	if len(captured.Metadata) > 0 {
		raw, err := encodeJSON(captured.Metadata)
		if err == nil {
			err = json.Unmarshal(raw, &meta)
		}
		if err != nil {
			c.reporter.Report(&sdkerr.InstrumentationError{Stage: "encode", Name: name, Err: err})
			meta = make(map[string]any, 3)
		}
	}
	meta["callId"] = call.ID
	meta["priority"] = string(priority)
	if len(tags) > 0 {
		meta["tags"] = append([]string(nil), tags...)
	}

	return telemetry.Item{
		Name:        name,
		Input:       input,
		Output:      output,
		DurationMs:  elapsed.Milliseconds(),
		Timestamp:   start,
		Metadata:    meta,
		UserID:      c.cfg.UserID,
		SessionID:   c.cfg.SessionID,
		Environment: c.cfg.Environment,
		Version:     c.cfg.Version,
	}
}

// payload encodes one captured value, redacted when asked. A value that
// cannot be encoded is reported and replaced by Unencodable.
func (c *Client) payload(name string, v any, sanitize bool) json.RawMessage {
	raw, err := encodeJSON(v)
	if err != nil {
		c.reporter.Report(&sdkerr.InstrumentationError{Stage: "encode", Name: name, Err: err})
		return json.RawMessage(`"` + Unencodable + `"`)
	}
	if sanitize {
		raw = c.redactor.ApplyJSON(raw)
	}
	return raw
}

// encodeJSON is json.Marshal with a panicking MarshalJSON turned into an
// error
func encodeJSON(v any) (raw json.RawMessage, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = sdkerr.FromPanic(p)
		}
	}()
	return json.Marshal(v)
}
