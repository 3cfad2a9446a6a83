// Package httpx monitors net/http handlers with an sdk.Client.
package httpx

import (
	"context"
	"fmt"
	"net/http"
	"regexp"

	"github.com/nicktill/tinymon/pkg/sdk"
	"github.com/nicktill/tinymon/pkg/sdk/telemetry"
)

var (
	numericSegment = regexp.MustCompile(`/\d+`)
	uuidSegment    = regexp.MustCompile(`/[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)
)

// Request is the captured input of one HTTP request
type Request struct {
	Method string `json:"method"`
	Path   string `json:"path"`
	Query  string `json:"query,omitempty"`
}

// Response is the captured output of one HTTP request
type Response struct {
	Status int `json:"status"`
	Bytes  int `json:"bytes"`
}

// Options tunes the middleware. The zero value monitors every request.
type Options struct {
	// SampleRate is passed to every route monitor
	SampleRate *float64
	Tags       []string
	// Skip excludes requests from monitoring, e.g. health checks
	Skip func(r *http.Request) bool
}

// served carries what the handler wrote back to the monitor
type served struct {
	status int
	bytes  int
}

// Middleware returns HTTP middleware that reports one telemetry item per
// request, named "<METHOD> <normalized path>". Responses with a 5xx
// status count as failures and are sent at high priority.
//
// Usage:
//
//	client, _ := sdk.NewWithKey(apiKey)
//	defer client.Close(ctx)
//
//	mux := http.NewServeMux()
//	mux.HandleFunc("/", handler)
//	http.ListenAndServe(":8080", httpx.Middleware(client, httpx.Options{})(mux))
func Middleware(client *sdk.Client, opts Options) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if opts.Skip != nil && opts.Skip(r) {
				next.ServeHTTP(w, r)
				return
			}

			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			serve := func(ctx context.Context, r *http.Request) (served, error) {
				next.ServeHTTP(rw, r)
				out := served{status: rw.statusCode, bytes: rw.bytes}
				if rw.statusCode >= http.StatusInternalServerError {
					return out, fmt.Errorf("HTTP %d %s", rw.statusCode, http.StatusText(rw.statusCode))
				}
				return out, nil
			}

			name := r.Method + " " + normalizePath(r.URL.Path)
			_, _ = sdk.Wrap(client, routeOptions(name, opts), serve)(r.Context(), r)
		})
	}
}

func routeOptions(name string, opts Options) sdk.Options[*http.Request, served] {
	return sdk.Options[*http.Request, served]{
		Name:       name,
		SampleRate: opts.SampleRate,
		Tags:       opts.Tags,
		Priority:   telemetry.PriorityNormal,
		Capture: func(r *http.Request, out served) sdk.Captured {
			return sdk.Captured{
				Input:  capturedRequest(r),
				Output: Response{Status: out.status, Bytes: out.bytes},
			}
		},
		CaptureError: func(err error, r *http.Request) sdk.Captured {
			return sdk.Captured{Input: capturedRequest(r)}
		},
	}
}

func capturedRequest(r *http.Request) Request {
	return Request{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery}
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	bytes       int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += n
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// normalizePath normalizes paths to avoid cardinality explosion.
// Examples:
//   - /api/users/123 → /api/users/{id}
//   - /posts/456/comments → /posts/{id}/comments
//   - /api/users/3f2b8c1e-9d4a-4e6b-a1c2-7f8e9d0a1b2c → /api/users/{id}
func normalizePath(path string) string {
	path = uuidSegment.ReplaceAllString(path, "/{id}")
	return numericSegment.ReplaceAllString(path, "/{id}")
}
