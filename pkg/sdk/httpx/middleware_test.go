package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/nicktill/tinymon/pkg/clock"
	"github.com/nicktill/tinymon/pkg/config"
	"github.com/nicktill/tinymon/pkg/sdk"
	"github.com/nicktill/tinymon/pkg/sdk/telemetry"
	"github.com/nicktill/tinymon/pkg/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type mockSender struct {
	mu    sync.Mutex
	items []telemetry.Item
}

func (m *mockSender) Send(ctx context.Context, items []telemetry.Item) (*telemetry.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, items...)
	return &telemetry.Response{Success: true}, nil
}

func (m *mockSender) received() []telemetry.Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]telemetry.Item(nil), m.items...)
}

func newClient(t *testing.T) (*sdk.Client, *mockSender) {
	t.Helper()
	cfg := config.Default()
	cfg.APIKey = "test-key"
	sender := &mockSender{}
	c, err := sdk.New(cfg,
		sdk.WithSender(sender),
		sdk.WithStore(memory.New()),
		sdk.WithClock(clock.Fake(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))),
	)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close(context.Background()) })
	return c, sender
}

func TestMiddleware_BasicRequest(t *testing.T) {
	client, _ := newClient(t)

	handler := Middleware(client, Options{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	}))

	req := httptest.NewRequest("GET", "/api/users/123?full=1", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	client.Sync()

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
	assert.Equal(t, 1, client.QueueSize())

	s := client.Metrics().Snapshot("GET /api/users/{id}")
	assert.EqualValues(t, 1, s.TotalCalls)
	assert.Equal(t, 100.0, s.SuccessRate)
}

func TestMiddleware_ErrorStatus(t *testing.T) {
	client, sender := newClient(t)

	handler := Middleware(client, Options{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("broken"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("POST", "/orders/42", nil))
	client.Sync()

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "broken", rec.Body.String())

	// 5xx items are high priority and flush without waiting for the timer
	require.Eventually(t, func() bool { return len(sender.received()) == 1 }, time.Second, 5*time.Millisecond)
	item := sender.received()[0]
	assert.Equal(t, "POST /orders/{id}", item.Name)
	assert.True(t, item.Error)
	assert.Equal(t, "HTTP 500 Internal Server Error", item.ErrorMessage)
	raw, ok := item.Input.(json.RawMessage)
	require.True(t, ok, "captured input is encoded when the call returns")
	var in Request
	require.NoError(t, json.Unmarshal(raw, &in))
	assert.Equal(t, Request{Method: "POST", Path: "/orders/42"}, in)
	assert.Equal(t, 100.0, client.Metrics().Snapshot("POST /orders/{id}").ErrorRate)
}

func TestMiddleware_ClientErrorIsNotAFailure(t *testing.T) {
	client, _ := newClient(t)

	handler := Middleware(client, Options{})(http.NotFoundHandler())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/missing", nil))
	client.Sync()

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Zero(t, client.Metrics().Snapshot("GET /missing").ErrorRate)
}

func TestMiddleware_MultipleRequests(t *testing.T) {
	client, _ := newClient(t)

	handler := Middleware(client, Options{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	}))

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", "/test", nil))
	}
	client.Sync()

	assert.EqualValues(t, 5, client.Metrics().Snapshot("GET /test").TotalCalls)
	assert.Equal(t, 5, client.QueueSize())
}

func TestMiddleware_Skip(t *testing.T) {
	client, _ := newClient(t)

	handler := Middleware(client, Options{
		Skip: func(r *http.Request) bool { return r.URL.Path == "/health" },
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	client.Sync()

	assert.Equal(t, "OK", rec.Body.String())
	assert.Zero(t, client.QueueSize())
	assert.Empty(t, client.Metrics().Snapshots())
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/", "/"},
		{"/api/users/123", "/api/users/{id}"},
		{"/posts/456/comments", "/posts/{id}/comments"},
		{"/api/users/3f2b8c1e-9d4a-4e6b-a1c2-7f8e9d0a1b2c", "/api/users/{id}"},
		{"/api/users/me", "/api/users/me"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizePath(tt.path), tt.path)
	}
}

func TestResponseWriter_CapturesStatusCode(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, statusCode: http.StatusOK}

	rw.WriteHeader(http.StatusCreated)
	n, err := rw.Write([]byte("created"))
	require.NoError(t, err)

	assert.Equal(t, http.StatusCreated, rw.statusCode)
	assert.Equal(t, n, rw.bytes)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestResponseWriter_DefaultStatusOK(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, statusCode: http.StatusOK}

	rw.Write([]byte("body"))
	assert.Equal(t, http.StatusOK, rw.statusCode)
	assert.Equal(t, 4, rw.bytes)
}
