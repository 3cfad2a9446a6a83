// Package retry wraps a single-attempt Sender with bounded exponential
// backoff.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/nicktill/tinymon/pkg/clock"
	"github.com/nicktill/tinymon/pkg/config"
	"github.com/nicktill/tinymon/pkg/sdk/sdkerr"
	"github.com/nicktill/tinymon/pkg/sdk/stats"
	"github.com/nicktill/tinymon/pkg/sdk/telemetry"
	"github.com/nicktill/tinymon/pkg/sdk/transport"
)

// Backoff returns the delay before retry k (1-indexed after the first
// failure): 1s, 2s, 4s, ... capped at 30s.
func Backoff(k int) time.Duration {
	if k < 1 {
		return 0
	}
	d := config.RetryBaseDelay
	for i := 1; i < k; i++ {
		d *= 2
		if d >= config.RetryMaxDelay {
			return config.RetryMaxDelay
		}
	}
	return d
}

// Engine calls a Sender up to MaxRetries+1 times
type Engine struct {
	Sender     transport.Sender
	MaxRetries int
	Clock      clock.Clock
	Reporter   sdkerr.Reporter
	Stats      *stats.Stats
}

// Send delivers items and reports whether any attempt succeeded. It
// never returns an error: when every attempt fails, the last error goes
// to the Reporter once. Non-retryable errors and ctx cancellation end
// the loop early.
func (e *Engine) Send(ctx context.Context, items []telemetry.Item) bool {
	clk := e.Clock
	if clk == nil {
		clk = clock.Real()
	}
	log := e.Reporter.Log

	var lastErr error
	attempts := e.MaxRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			delay := Backoff(attempt - 1)
			log.Debug().Int("attempt", attempt).Dur("delay", delay).Msg("retrying send")
			select {
			case <-clk.After(delay):
			case <-ctx.Done():
				e.Reporter.Report(errors.Join(lastErr, ctx.Err()))
				return false
			}
		}

		resp, err := e.Sender.Send(ctx, items)
		if err == nil {
			e.Stats.Attempt("success")
			e.Stats.Delivered(len(items))
			ev := log.Debug().Int("attempt", attempt).Int("batch_size", len(items))
			if resp != nil && resp.Message != "" {
				ev = ev.Str("message", resp.Message)
			}
			ev.Msg("send succeeded")
			return true
		}

		lastErr = err
		e.Stats.Attempt(class(err))
		log.Debug().Err(err).Int("attempt", attempt).Int("batch_size", len(items)).Msg("send failed")

		if !sdkerr.Retryable(err) || ctx.Err() != nil {
			break
		}
	}

	e.Stats.Exhausted()
	e.Reporter.Report(lastErr)
	return false
}

// class labels an attempt failure for stats
func class(err error) string {
	var (
		cfgErr     *sdkerr.ConfigurationError
		instErr    *sdkerr.InstrumentationError
		timeoutErr *sdkerr.TimeoutError
		netErr     *sdkerr.NetworkError
	)
	switch {
	case errors.As(err, &cfgErr):
		return "configuration"
	case errors.As(err, &instErr):
		return "encode"
	case errors.As(err, &timeoutErr):
		return "timeout"
	case errors.As(err, &netErr):
		return "network"
	default:
		return "other"
	}
}
