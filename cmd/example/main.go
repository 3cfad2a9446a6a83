// example is a small HTTP service instrumented with tinymon. Start the
// development collector first:
//
//	go run ./cmd/collector --api-key demo-key
//	go run ./cmd/example --api-key demo-key
//
// The service generates its own traffic. Watch it arrive with
// curl localhost:8080/v1/items, or look at the client side with
// curl localhost:3000/api/stats.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nicktill/tinymon/pkg/config"
	"github.com/nicktill/tinymon/pkg/sdk"
	"github.com/nicktill/tinymon/pkg/sdk/httpx"
	"github.com/nicktill/tinymon/pkg/sdk/middleware"
	"github.com/nicktill/tinymon/pkg/sdk/netstate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

var startTime = time.Now()

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var (
		addr       string
		configPath string
		apiKey     string
		endpoint   string
		storage    string
		debug      bool
	)
	flagSet := pflag.NewFlagSet("example", pflag.ContinueOnError)
	flagSet.StringVar(&addr, "addr", ":3000", "listen address")
	flagSet.StringVarP(&configPath, "config", "c", "", "YAML client configuration")
	flagSet.StringVar(&apiKey, "api-key", os.Getenv("TINYMON_API_KEY"), "collector API key")
	flagSet.StringVar(&endpoint, "endpoint", "http://localhost:8080/api/monitoring/prompt", "collector endpoint")
	flagSet.StringVar(&storage, "storage", "./data/tinymon", "queue directory (empty keeps the queue in memory)")
	flagSet.BoolVar(&debug, "debug", false, "log pipeline internals")
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).With().Timestamp().Logger()
	if !debug {
		log = log.Level(zerolog.InfoLevel)
	}

	cfg, err := loadConfig(configPath, apiKey, endpoint, storage, debug)
	if err != nil {
		return err
	}
	cfg.OnError = func(err error) {
		log.Debug().Err(err).Msg("telemetry pipeline error")
	}

	prober, err := netstate.NewProber(netstate.ProberConfig{Endpoint: cfg.Endpoint, Logger: log})
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	client, err := sdk.New(cfg,
		sdk.WithLogger(log),
		sdk.WithConnectivity(prober),
		sdk.WithRegisterer(reg),
	)
	if err != nil {
		return fmt.Errorf("failed to create tinymon client: %w", err)
	}
	client.Use(middleware.Logging(log))

	svc := newService(client)
	mux := http.NewServeMux()
	svc.routes(mux, reg)

	server := &http.Server{
		Addr: addr,
		Handler: httpx.Middleware(client, httpx.Options{
			Tags: []string{"example"},
			Skip: func(r *http.Request) bool { return r.URL.Path == "/health" || r.URL.Path == "/metrics" },
		})(mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Str("collector", cfg.Endpoint).Msg("example app listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		simulateTraffic(gctx, log, "http://localhost"+addr)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	err = g.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if cerr := client.Close(closeCtx); cerr != nil {
		log.Warn().Err(cerr).Msg("closing tinymon client")
	}
	log.Info().Int("undelivered", client.QueueSize()).Msg("example app exited")
	return err
}

// loadConfig reads the YAML file when given, then applies flags that
// were set
func loadConfig(path, apiKey, endpoint, storage string, debug bool) (config.Config, error) {
	b := config.NewBuilder()
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return config.Config{}, err
		}
		b = config.NewBuilderFrom(cfg)
	}
	if apiKey != "" {
		b = b.APIKey(apiKey)
	}
	if endpoint != "" {
		b = b.Endpoint(endpoint)
	}
	if storage != "" {
		b = b.Persistence(true, config.DefaultStorageKey, storage, config.DefaultMaxStorageBytes)
	}
	return b.Debug(debug).Environment("development").Version("0.1.0").Build()
}
