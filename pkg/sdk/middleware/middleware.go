// Package middleware is the ordered hook chain run around every
// monitored call.
//
// A middleware is any value with a Name that implements one or more of
// BeforeCaller, AfterCaller and ErrorObserver. Hooks run sequentially in
// registration order. Before hooks chain transformations of the call
// arguments, after hooks chain transformations of the result, and error
// hooks only observe. A hook that fails or panics is reported and
// skipped; the chain continues with the previous value.
//
//	chain := middleware.NewChain(reporter.Report)
//	chain.Add(middleware.Logging(logger))
//	chain.Add(middleware.Hooks{
//	    ID: "trim",
//	    Before: func(ctx context.Context, call middleware.Call, args any) (any, error) {
//	        if s, ok := args.(string); ok {
//	            return strings.TrimSpace(s), nil
//	        }
//	        return nil, nil
//	    },
//	})
package middleware

import (
	"context"
	"fmt"
	"sync"

	"github.com/nicktill/tinymon/pkg/sdk/sdkerr"
)

// Call identifies the monitored invocation a hook runs for
type Call struct {
	Name string // monitored function name
	ID   string // unique per invocation
}

// Middleware is the registration handle. Hooks are discovered through
// the capability interfaces below.
type Middleware interface {
	Name() string
}

// BeforeCaller transforms call arguments. Returning nil leaves them
// unchanged.
type BeforeCaller interface {
	BeforeCall(ctx context.Context, call Call, args any) (any, error)
}

// AfterCaller transforms a successful result. Returning nil leaves it
// unchanged.
type AfterCaller interface {
	AfterCall(ctx context.Context, call Call, result, args any) (any, error)
}

// ErrorObserver is told about failed calls. It cannot alter the error.
type ErrorObserver interface {
	OnError(ctx context.Context, call Call, err error, args any)
}

// Chain is an ordered, concurrency-safe list of middleware
type Chain struct {
	mu     sync.RWMutex
	items  []Middleware
	report func(error)
}

// NewChain creates an empty chain. report receives hook failures as
// *sdkerr.InstrumentationError; nil discards them.
func NewChain(report func(error)) *Chain {
	if report == nil {
		report = func(error) {}
	}
	return &Chain{report: report}
}

// Add appends m
func (c *Chain) Add(m Middleware) {
	if m == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, m)
}

// Remove deletes the first middleware named name
func (c *Chain) Remove(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, m := range c.items {
		if m.Name() == name {
			c.items = append(c.items[:i:i], c.items[i+1:]...)
			return true
		}
	}
	return false
}

// Names lists registered middleware in order
func (c *Chain) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.items))
	for i, m := range c.items {
		out[i] = m.Name()
	}
	return out
}

// Len returns the number of registered middleware
func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *Chain) snapshot() []Middleware {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Middleware(nil), c.items...)
}

// RunBefore threads args through every BeforeCaller. A hook result that
// is not an A is reported and ignored.
func RunBefore[A any](ctx context.Context, c *Chain, call Call, args A) A {
	for _, m := range c.snapshot() {
		h, ok := m.(BeforeCaller)
		if !ok {
			continue
		}
		var out any
		if !c.guard("beforeCall", m.Name(), func() (err error) {
			out, err = h.BeforeCall(ctx, call, args)
			return err
		}) {
			continue
		}
		args = adopt(c, "beforeCall", m.Name(), args, out)
	}
	return args
}

// RunAfter threads a successful result through every AfterCaller
func RunAfter[R any](ctx context.Context, c *Chain, call Call, result R, args any) R {
	for _, m := range c.snapshot() {
		h, ok := m.(AfterCaller)
		if !ok {
			continue
		}
		var out any
		if !c.guard("afterCall", m.Name(), func() (err error) {
			out, err = h.AfterCall(ctx, call, result, args)
			return err
		}) {
			continue
		}
		result = adopt(c, "afterCall", m.Name(), result, out)
	}
	return result
}

// RunOnError notifies every ErrorObserver of err
func (c *Chain) RunOnError(ctx context.Context, call Call, err error, args any) {
	for _, m := range c.snapshot() {
		h, ok := m.(ErrorObserver)
		if !ok {
			continue
		}
		c.guard("onError", m.Name(), func() error {
			h.OnError(ctx, call, err, args)
			return nil
		})
	}
}

// guard runs fn inside a recover boundary and reports any failure
func (c *Chain) guard(stage, name string, fn func() error) (ok bool) {
	defer func() {
		if v := recover(); v != nil {
			c.report(&sdkerr.InstrumentationError{Stage: stage, Name: name, Err: sdkerr.FromPanic(v)})
			ok = false
		}
	}()
	if err := fn(); err != nil {
		c.report(&sdkerr.InstrumentationError{Stage: stage, Name: name, Err: err})
		return false
	}
	return true
}

// adopt returns out as a T, or prev when out is nil or of another type
func adopt[T any](c *Chain, stage, name string, prev T, out any) T {
	if out == nil {
		return prev
	}
	v, ok := out.(T)
	if !ok {
		c.report(&sdkerr.InstrumentationError{
			Stage: stage,
			Name:  name,
			Err:   fmt.Errorf("hook returned %T, want %T", out, prev),
		})
		return prev
	}
	return v
}
