/*
Package sdk instruments Go functions and ships a telemetry record of every
call to a collector in the background.

# Quick Start

	client, err := sdk.New(config.Config{APIKey: os.Getenv("TINYMON_API_KEY")})
	if err != nil {
	    log.Fatal(err)
	}
	defer client.Close(context.Background())

	summarize := sdk.Wrap(client, sdk.Options[string, string]{
	    Name:     "summarize",
	    Priority: telemetry.PriorityLow,
	    CaptureError: func(err error, prompt string) sdk.Captured {
	        return sdk.Captured{Input: prompt}
	    },
	}, summarizeText)

	out, err := summarize(ctx, "...")

The wrapped function returns exactly what the original returns. The
telemetry item is built after the call, queued by priority, mirrored to
durable storage and delivered in batches by a scheduler that retries with
exponential backoff and pauses while the network is down.

# Pipeline

	Monitor ──▶ Queue ──▶ Scheduler ──▶ Retry ──▶ HTTP sender
	   │          │            ▲
	   ▼          ▼            │
	Metrics    Storage    Connectivity

Items with priority high, and every failed call, trigger an immediate
flush. Otherwise the queue is flushed once it holds BatchSize items or
BatchTimeout after the first item arrived.

# Middleware

Middleware observes or transforms calls. A hook that fails or panics is
reported through Config.OnError and skipped:

	client.Use(middleware.Logging(logger))
	client.Use(middleware.Hooks{
	    ID: "tenant",
	    Before: func(ctx context.Context, call middleware.Call, args any) (any, error) {
	        return args, nil
	    },
	})

# Metrics

Client.Metrics keeps per-function counts, rates and latency percentiles.
Register them with Prometheus through WithRegisterer.
*/
package sdk
