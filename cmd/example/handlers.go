package main

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/nicktill/tinymon/pkg/sdk"
	"github.com/nicktill/tinymon/pkg/sdk/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var errModelOverloaded = errors.New("model overloaded, try again later")

// Classification is the result of classify
type Classification struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// service holds the monitored business functions
type service struct {
	client    *sdk.Client
	summarize sdk.Func[string, string]
	classify  sdk.Func[string, Classification]
}

func newService(client *sdk.Client) *service {
	s := &service{client: client}

	s.summarize = sdk.Wrap(client, sdk.Options[string, string]{
		Name:     "summarize",
		Sanitize: true,
		Tags:     []string{"llm"},
		CaptureError: func(err error, text string) sdk.Captured {
			return sdk.Captured{Input: text}
		},
	}, summarize)

	s.classify = sdk.Wrap(client, sdk.Options[string, Classification]{
		Name:       "classify",
		Priority:   telemetry.PriorityLow,
		SampleRate: sdk.Rate(0.5),
		Capture: func(text string, c Classification) sdk.Captured {
			return sdk.Captured{
				Input:    text,
				Output:   c.Label,
				Metadata: map[string]any{"confidence": c.Confidence},
			}
		},
	}, classify)

	return s
}

func (s *service) routes(mux *http.ServeMux, reg *prometheus.Registry) {
	mux.HandleFunc("/api/summarize", s.handleSummarize)
	mux.HandleFunc("/api/classify", s.handleClassify)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/health", handleHealth)
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
}

func (s *service) handleSummarize(w http.ResponseWriter, r *http.Request) {
	summary, err := s.summarize(r.Context(), r.URL.Query().Get("text"))
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"summary": summary})
}

func (s *service) handleClassify(w http.ResponseWriter, r *http.Request) {
	c, err := s.classify(r.Context(), r.URL.Query().Get("text"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"uptime": time.Since(startTime).Round(time.Second).String(),
	})
}

// summarize pretends to call a language model: 50-150ms, 5% failures
func summarize(ctx context.Context, text string) (string, error) {
	select {
	case <-time.After(time.Duration(50+rand.IntN(100)) * time.Millisecond):
	case <-ctx.Done():
		return "", ctx.Err()
	}
	if rand.Float32() < 0.05 {
		return "", errModelOverloaded
	}
	words := strings.Fields(text)
	if len(words) > 8 {
		words = append(words[:8], "...")
	}
	return strings.Join(words, " "), nil
}

func classify(ctx context.Context, text string) (Classification, error) {
	if strings.TrimSpace(text) == "" {
		return Classification{}, errors.New("text is required")
	}
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "invoice"), strings.Contains(lower, "refund"):
		return Classification{Label: "billing", Confidence: 0.92}, nil
	case strings.Contains(lower, "password"), strings.Contains(lower, "login"):
		return Classification{Label: "account", Confidence: 0.88}, nil
	default:
		return Classification{Label: "general", Confidence: 0.51}, nil
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
