package retry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nicktill/tinymon/pkg/clock"
	"github.com/nicktill/tinymon/pkg/sdk/sdkerr"
	"github.com/nicktill/tinymon/pkg/sdk/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedSender fails with errs in order, repeating the last one.
// An empty list succeeds.
type scriptedSender struct {
	clk *clock.FakeClock

	mu    sync.Mutex
	errs  []error
	calls []time.Time
}

func (s *scriptedSender) Send(ctx context.Context, items []telemetry.Item) (*telemetry.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, s.clk.Now())
	if len(s.errs) == 0 {
		return &telemetry.Response{Success: true}, nil
	}
	err := s.errs[0]
	if len(s.errs) > 1 {
		s.errs = s.errs[1:]
	}
	return nil, err
}

func (s *scriptedSender) attempts() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Time(nil), s.calls...)
}

var start = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func TestBackoff(t *testing.T) {
	tests := []struct {
		k    int
		want time.Duration
	}{
		{0, 0},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{20, 30 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Backoff(tt.k), "Backoff(%d)", tt.k)
	}
}

func TestEngineAlwaysFailingSchedule(t *testing.T) {
	clk := clock.Fake(start)
	sender := &scriptedSender{clk: clk, errs: []error{&sdkerr.NetworkError{StatusCode: 503, Status: "Service Unavailable"}}}

	var reported []error
	engine := &Engine{
		Sender:     sender,
		MaxRetries: 3,
		Clock:      clk,
		Reporter:   sdkerr.Reporter{OnError: func(err error) { reported = append(reported, err) }},
	}

	done := make(chan bool)
	go func() { done <- engine.Send(context.Background(), []telemetry.Item{{Name: "fn"}}) }()

	for k := 1; k <= 3; k++ {
		clk.WaitForTimers(1)
		clk.Advance(Backoff(k))
	}
	require.False(t, <-done)

	calls := sender.attempts()
	require.Len(t, calls, 4)
	assert.GreaterOrEqual(t, calls[1].Sub(calls[0]), time.Second)
	assert.GreaterOrEqual(t, calls[2].Sub(calls[1]), 2*time.Second)
	assert.GreaterOrEqual(t, calls[3].Sub(calls[2]), 4*time.Second)

	require.Len(t, reported, 1, "error callback runs once after exhaustion")
	var netErr *sdkerr.NetworkError
	assert.ErrorAs(t, reported[0], &netErr)
}

func TestEngineRecoversAfterFailure(t *testing.T) {
	clk := clock.Fake(start)
	sender := &scriptedSender{clk: clk, errs: []error{
		&sdkerr.TimeoutError{Timeout: time.Second, Err: context.DeadlineExceeded},
	}}

	reported := 0
	engine := &Engine{
		Sender:     sender,
		MaxRetries: 3,
		Clock:      clk,
		Reporter:   sdkerr.Reporter{OnError: func(error) { reported++ }},
	}

	done := make(chan bool)
	go func() { done <- engine.Send(context.Background(), []telemetry.Item{{Name: "fn"}}) }()

	clk.WaitForTimers(1)
	sender.mu.Lock()
	sender.errs = nil
	sender.mu.Unlock()
	clk.Advance(time.Second)

	assert.True(t, <-done)
	assert.Len(t, sender.attempts(), 2)
	assert.Zero(t, reported)
}

func TestEngineZeroRetries(t *testing.T) {
	clk := clock.Fake(start)
	sender := &scriptedSender{clk: clk, errs: []error{&sdkerr.NetworkError{Err: errors.New("refused")}}}
	engine := &Engine{Sender: sender, MaxRetries: 0, Clock: clk}

	assert.False(t, engine.Send(context.Background(), nil))
	assert.Len(t, sender.attempts(), 1)
	assert.Zero(t, clk.Pending())
}

func TestEngineStopsOnNonRetryable(t *testing.T) {
	clk := clock.Fake(start)
	sender := &scriptedSender{clk: clk, errs: []error{&sdkerr.ConfigurationError{Field: "api_key", Err: sdkerr.ErrMissingCredential}}}

	var reported error
	engine := &Engine{
		Sender:     sender,
		MaxRetries: 5,
		Clock:      clk,
		Reporter:   sdkerr.Reporter{OnError: func(err error) { reported = err }},
	}

	assert.False(t, engine.Send(context.Background(), nil))
	assert.Len(t, sender.attempts(), 1)
	assert.ErrorIs(t, reported, sdkerr.ErrMissingCredential)
}

func TestEngineDoesNotRetryEncodeFailures(t *testing.T) {
	clk := clock.Fake(start)
	sender := &scriptedSender{clk: clk, errs: []error{&sdkerr.InstrumentationError{Stage: "encode", Err: errors.New("json: unsupported value: NaN")}}}
	engine := &Engine{Sender: sender, MaxRetries: 3, Clock: clk}

	assert.False(t, engine.Send(context.Background(), nil))
	assert.Len(t, sender.attempts(), 1)
	assert.Zero(t, clk.Pending(), "no backoff is scheduled")
	assert.Equal(t, "encode", class(sender.errs[0]))
}

func TestEngineCancelledWhileWaiting(t *testing.T) {
	clk := clock.Fake(start)
	sender := &scriptedSender{clk: clk, errs: []error{&sdkerr.NetworkError{Err: errors.New("refused")}}}
	engine := &Engine{Sender: sender, MaxRetries: 3, Clock: clk}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan bool)
	go func() { done <- engine.Send(ctx, nil) }()

	clk.WaitForTimers(1)
	cancel()

	assert.False(t, <-done)
	assert.Len(t, sender.attempts(), 1)
}

func TestEngineCallbackPanicIsContained(t *testing.T) {
	clk := clock.Fake(start)
	sender := &scriptedSender{clk: clk, errs: []error{&sdkerr.NetworkError{Err: errors.New("refused")}}}
	engine := &Engine{
		Sender:   sender,
		Clock:    clk,
		Reporter: sdkerr.Reporter{OnError: func(error) { panic("callback failed") }},
	}

	assert.NotPanics(t, func() {
		assert.False(t, engine.Send(context.Background(), nil))
	})
}
