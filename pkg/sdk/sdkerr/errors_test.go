package sdkerr

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"network", &NetworkError{StatusCode: 503, Status: "Service Unavailable"}, true},
		{"timeout", &TimeoutError{Timeout: time.Second, Err: context.DeadlineExceeded}, true},
		{"wrapped network", fmt.Errorf("send: %w", &NetworkError{Err: errors.New("refused")}), true},
		{"configuration", &ConfigurationError{Field: "api_key", Err: ErrMissingCredential}, false},
		{"wrapped configuration", fmt.Errorf("send: %w", &ConfigurationError{Field: "endpoint", Err: errors.New("bad")}), false},
		{"unencodable payload", &InstrumentationError{Stage: "encode", Err: errors.New("json: unsupported value: NaN")}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Retryable(tt.err))
		})
	}
}

func TestErrorsUnwrap(t *testing.T) {
	err := &ConfigurationError{Field: "api_key", Err: ErrMissingCredential}
	assert.ErrorIs(t, err, ErrMissingCredential)

	timeout := &TimeoutError{Timeout: time.Second, Err: context.DeadlineExceeded}
	assert.ErrorIs(t, timeout, context.DeadlineExceeded)
	assert.Contains(t, timeout.Error(), "1s")

	netErr := &NetworkError{StatusCode: 502, Status: "Bad Gateway"}
	assert.Equal(t, "network: HTTP 502: Bad Gateway", netErr.Error())
}

func TestReporterSwallowsCallbackPanic(t *testing.T) {
	var got error
	r := Reporter{Log: zerolog.Nop(), OnError: func(err error) {
		got = err
		panic("callback exploded")
	}}

	want := &InstrumentationError{Stage: "capture", Name: "fn", Err: errors.New("boom")}
	assert.NotPanics(t, func() { r.Report(want) })
	assert.Equal(t, want, got)
}

func TestReporterNilError(t *testing.T) {
	called := false
	r := Reporter{OnError: func(error) { called = true }}
	r.Report(nil)
	assert.False(t, called)
}

func TestFromPanic(t *testing.T) {
	base := errors.New("boom")
	assert.ErrorIs(t, FromPanic(base), base)
	assert.EqualError(t, FromPanic("text"), "panic: text")
}
