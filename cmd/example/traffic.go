package main

import (
	"context"
	"math/rand/v2"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

var samples = []string{
	"Please refund the duplicate charge on my last invoice",
	"I cannot login after resetting my password, contact me at ada@example.com",
	"What are your opening hours during the holidays and do you ship abroad",
	"Bearer sk-test-0123456789abcdefXYZ leaked in the logs, rotate it",
}

// simulateTraffic calls the app's own endpoints every second until ctx
// is done
func simulateTraffic(ctx context.Context, log zerolog.Logger, base string) {
	// give the server a moment to start
	select {
	case <-time.After(500 * time.Millisecond):
	case <-ctx.Done():
		return
	}

	client := &http.Client{Timeout: 5 * time.Second}
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	endpoints := []string{"/api/summarize", "/api/classify", "/api/classify?text="}
	for n := 0; ; n++ {
		select {
		case <-ctx.Done():
			log.Info().Int("requests", n).Msg("traffic simulator stopped")
			return
		case <-ticker.C:
		}

		target := base + endpoints[n%len(endpoints)]
		if n%len(endpoints) != 2 {
			target += "?text=" + url.QueryEscape(samples[rand.IntN(len(samples))])
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			continue
		}
		resp, err := client.Do(req)
		if err != nil {
			log.Debug().Err(err).Str("target", target).Msg("simulated request failed")
			continue
		}
		resp.Body.Close()
		log.Debug().Str("target", target).Int("status", resp.StatusCode).Msg("simulated request")
	}
}
