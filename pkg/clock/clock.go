// Package clock abstracts the time operations the telemetry pipeline
// depends on (batch timers, retry backoff, connectivity probes) so tests
// can drive them deterministically.
//
// Production code uses Real(). Tests use Fake() and move time forward
// with Advance:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go engine.Send(ctx, items)
//	c.WaitForTimers(1)      // the engine is now sleeping on its backoff
//	c.Advance(time.Second)  // first retry fires
package clock

import "time"

// Clock is the subset of the time package used by the SDK.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once d has
	// elapsed. If d <= 0 the channel receives immediately.
	After(d time.Duration) <-chan time.Time

	// AfterFunc calls f after d. The returned Timer can cancel it.
	AfterFunc(d time.Duration, f func()) *Timer

	// NewTicker delivers ticks on C every d. Panics if d <= 0.
	NewTicker(d time.Duration) *Ticker
}

// Timer is a scheduled callback created by AfterFunc.
type Timer struct {
	stopFunc func() bool
}

// Stop prevents the Timer from firing. It returns false if the timer
// already fired or was already stopped.
func (t *Timer) Stop() bool { return t.stopFunc() }

// Ticker delivers periodic ticks. C has capacity 1; slow consumers miss
// ticks rather than queueing them.
type Ticker struct {
	C <-chan time.Time

	stopFunc func()
}

// Stop turns off the ticker. It does not close C.
func (t *Ticker) Stop() { t.stopFunc() }
