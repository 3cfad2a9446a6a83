package clock

import (
	"sort"
	"sync"
	"time"
)

// FakeClock is a deterministic Clock. Time only moves when Advance is
// called. It is safe for concurrent use.
//
// AfterFunc callbacks run synchronously inside Advance, in deadline
// order. A callback must not call Advance itself.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*waiter
	changed *sync.Cond
}

type waiter struct {
	deadline time.Time
	ch       chan time.Time // After and tickers
	fn       func()         // AfterFunc
	interval time.Duration  // tickers only
	stopped  bool
	fired    bool
}

// Fake returns a FakeClock set to initial.
func Fake(initial time.Time) *FakeClock {
	c := &FakeClock{now: initial}
	c.changed = sync.NewCond(&c.mu)
	return c
}

// Now returns the fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After registers a one-shot waiter.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.addLocked(&waiter{deadline: c.now.Add(d), ch: ch})
	return ch
}

// AfterFunc registers f to run when the clock passes now+d. If d <= 0, f
// runs synchronously before AfterFunc returns.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	if d <= 0 {
		f()
		return &Timer{stopFunc: func() bool { return false }}
	}

	c.mu.Lock()
	w := &waiter{deadline: c.now.Add(d), fn: f}
	c.addLocked(w)
	c.mu.Unlock()

	return &Timer{stopFunc: func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if w.stopped || w.fired {
			return false
		}
		w.stopped = true
		c.changed.Broadcast()
		return true
	}}
}

// NewTicker registers a periodic waiter.
func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	w := &waiter{deadline: c.now.Add(d), ch: ch, interval: d}
	c.addLocked(w)

	return &Ticker{C: ch, stopFunc: func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		w.stopped = true
		c.changed.Broadcast()
	}}
}

// Advance moves the clock forward by d and fires every waiter whose
// deadline is now due.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	target := c.now
	c.mu.Unlock()

	for {
		due := c.collect(target)
		if len(due) == 0 {
			return
		}
		sort.SliceStable(due, func(i, j int) bool {
			return due[i].deadline.Before(due[j].deadline)
		})
		for _, w := range due {
			if w.fn != nil {
				w.fn()
				continue
			}
			select {
			case w.ch <- target:
			default:
			}
		}
	}
}

// WaitForTimers blocks until at least n waiters are pending. Use it to
// avoid racing a goroutine that is about to register a timer.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.pendingLocked() < n {
		c.changed.Wait()
	}
}

// Pending returns the number of active waiters.
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingLocked()
}

func (c *FakeClock) addLocked(w *waiter) {
	c.waiters = append(c.waiters, w)
	c.changed.Broadcast()
}

func (c *FakeClock) pendingLocked() int {
	n := 0
	for _, w := range c.waiters {
		if !w.stopped {
			n++
		}
	}
	return n
}

// collect removes due waiters, reschedules tickers and returns what
// should fire.
func (c *FakeClock) collect(target time.Time) []*waiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	var due, remaining []*waiter
	for _, w := range c.waiters {
		switch {
		case w.stopped:
		case !w.deadline.After(target):
			due = append(due, w)
		default:
			remaining = append(remaining, w)
		}
	}
	for _, w := range due {
		if w.interval > 0 {
			w.deadline = w.deadline.Add(w.interval)
			remaining = append(remaining, w)
		} else {
			w.fired = true
		}
	}
	c.waiters = remaining
	return due
}
