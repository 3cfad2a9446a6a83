package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/nicktill/tinymon/pkg/sdk/sdkerr"
	"github.com/nicktill/tinymon/pkg/sdk/telemetry"
)

// APIKeyHeader carries the credential on every request
const APIKeyHeader = "x-api-key"

// maxResponseBytes bounds how much of a response body is read
const maxResponseBytes = 1 << 20

// Sender performs one delivery attempt. It never retries.
type Sender interface {
	Send(ctx context.Context, items []telemetry.Item) (*telemetry.Response, error)
}

// Config configures an HTTPSender
type Config struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration // per attempt; 0 means no deadline beyond ctx
	Compress bool          // gzip request bodies

	// Client overrides the HTTP client. Its own Timeout is left alone.
	Client *http.Client
}

// HTTPSender implements Sender by POSTing JSON to the collector
type HTTPSender struct {
	endpoint string
	apiKey   string
	timeout  time.Duration
	compress bool
	client   *http.Client
}

// NewHTTP creates a new HTTP sender
func NewHTTP(cfg Config) (*HTTPSender, error) {
	if cfg.Endpoint == "" {
		return nil, &sdkerr.ConfigurationError{Field: "endpoint", Err: errors.New("is empty")}
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPSender{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		timeout:  cfg.Timeout,
		compress: cfg.Compress,
		client:   client,
	}, nil
}

// Send delivers items in one request. A single item is sent bare;
// several are wrapped as {"batch": [...]}.
func (s *HTTPSender) Send(ctx context.Context, items []telemetry.Item) (*telemetry.Response, error) {
	if len(items) == 0 {
		return &telemetry.Response{Success: true}, nil
	}
	if s.apiKey == "" {
		return nil, &sdkerr.ConfigurationError{Field: "api_key", Err: sdkerr.ErrMissingCredential}
	}

	body, err := encode(items, s.compress)
	if err != nil {
		return nil, &sdkerr.InstrumentationError{Stage: "encode", Err: err}
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &sdkerr.ConfigurationError{Field: "endpoint", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(APIKeyHeader, s.apiKey)
	if s.compress {
		req.Header.Set("Content-Encoding", "gzip")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &sdkerr.TimeoutError{Timeout: s.timeout, Err: err}
		}
		return nil, &sdkerr.NetworkError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, &sdkerr.TimeoutError{Timeout: s.timeout, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &sdkerr.NetworkError{
			StatusCode: resp.StatusCode,
			Status:     http.StatusText(resp.StatusCode),
			Err:        fmt.Errorf("request failed with status %d", resp.StatusCode),
		}
	}

	// The body is opaque beyond the {success, message, errors} convention.
	out := &telemetry.Response{Success: true}
	if len(raw) > 0 {
		var parsed telemetry.Response
		if json.Unmarshal(raw, &parsed) == nil {
			out.Message = parsed.Message
			out.Errors = parsed.Errors
		}
	}
	return out, nil
}

func encode(items []telemetry.Item, compress bool) ([]byte, error) {
	var payload any = telemetry.Batch{Batch: items}
	if len(items) == 1 {
		payload = items[0]
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	if !compress {
		return jsonData, nil
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(jsonData); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
