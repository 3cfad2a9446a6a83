package middleware

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/nicktill/tinymon/pkg/sdk/sdkerr"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCall = Call{Name: "summarize", ID: "call-1"}

func collect() (*[]error, func(error)) {
	var errs []error
	return &errs, func(err error) { errs = append(errs, err) }
}

func TestAddRemoveNames(t *testing.T) {
	c := NewChain(nil)
	c.Add(Hooks{ID: "a"})
	c.Add(Hooks{ID: "b"})
	c.Add(Hooks{ID: "a"})
	c.Add(nil)

	assert.Equal(t, []string{"a", "b", "a"}, c.Names())

	assert.True(t, c.Remove("a"))
	assert.Equal(t, []string{"b", "a"}, c.Names(), "only the first match is removed")
	assert.False(t, c.Remove("missing"))
	assert.Equal(t, 2, c.Len())
}

func TestBeforeHooksChainInOrder(t *testing.T) {
	c := NewChain(nil)
	c.Add(Transform("upper", func(a any) any { return strings.ToUpper(a.(string)) }, nil))
	c.Add(Hooks{ID: "noop", Before: func(context.Context, Call, any) (any, error) { return nil, nil }})
	c.Add(Transform("suffix", func(a any) any { return a.(string) + "!" }, nil))

	got := RunBefore(context.Background(), c, testCall, "hello")
	assert.Equal(t, "HELLO!", got)
}

func TestAfterHooksChainResult(t *testing.T) {
	c := NewChain(nil)
	c.Add(Transform("double", nil, func(r any) any { return r.(int) * 2 }))
	c.Add(Transform("inc", nil, func(r any) any { return r.(int) + 1 }))

	assert.Equal(t, 11, RunAfter(context.Background(), c, testCall, 5, nil))
}

func TestFailingHookIsSkipped(t *testing.T) {
	errs, report := collect()
	c := NewChain(report)
	c.Add(Transform("upper", func(a any) any { return strings.ToUpper(a.(string)) }, nil))
	c.Add(Hooks{ID: "broken", Before: func(context.Context, Call, any) (any, error) {
		return "ignored", errors.New("hook failed")
	}})
	c.Add(Hooks{ID: "panics", Before: func(context.Context, Call, any) (any, error) {
		panic("boom")
	}})
	c.Add(Transform("suffix", func(a any) any { return a.(string) + "!" }, nil))

	got := RunBefore(context.Background(), c, testCall, "hi")
	assert.Equal(t, "HI!", got)

	require.Len(t, *errs, 2)
	var instErr *sdkerr.InstrumentationError
	require.ErrorAs(t, (*errs)[0], &instErr)
	assert.Equal(t, "beforeCall", instErr.Stage)
	assert.Equal(t, "broken", instErr.Name)
	require.ErrorAs(t, (*errs)[1], &instErr)
	assert.Equal(t, "panics", instErr.Name)
}

func TestWrongTypeIsReported(t *testing.T) {
	errs, report := collect()
	c := NewChain(report)
	c.Add(Transform("bad", nil, func(any) any { return "not an int" }))

	assert.Equal(t, 3, RunAfter(context.Background(), c, testCall, 3, nil))
	require.Len(t, *errs, 1)
	assert.Contains(t, (*errs)[0].Error(), "want int")
}

func TestOnErrorObservesEveryHook(t *testing.T) {
	errs, report := collect()
	c := NewChain(report)

	var seen []string
	callErr := errors.New("call failed")
	c.Add(Hooks{ID: "first", Error: func(_ context.Context, call Call, err error, _ any) {
		assert.Equal(t, callErr, err)
		seen = append(seen, "first")
	}})
	c.Add(Hooks{ID: "panics", Error: func(context.Context, Call, error, any) { panic("observer failed") }})
	c.Add(Hooks{ID: "last", Error: func(context.Context, Call, error, any) { seen = append(seen, "last") }})

	c.RunOnError(context.Background(), testCall, callErr, nil)
	assert.Equal(t, []string{"first", "last"}, seen)
	require.Len(t, *errs, 1)
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf).Level(zerolog.DebugLevel)

	c := NewChain(nil)
	c.Add(Logging(log))

	ctx := context.Background()
	assert.Equal(t, "x", RunBefore(ctx, c, testCall, "x"))
	assert.Equal(t, "y", RunAfter(ctx, c, testCall, "y", "x"))
	c.RunOnError(ctx, testCall, errors.New("bad"), "x")

	out := buf.String()
	assert.Contains(t, out, `"message":"call started"`)
	assert.Contains(t, out, `"message":"call finished"`)
	assert.Contains(t, out, `"message":"call failed"`)
	assert.Contains(t, out, `"function":"summarize"`)
}
