// collector is a development stand-in for the telemetry collector. It
// accepts what the tinymon client sends, shows it on /v1/items and
// streams it on /v1/stream.
//
//	collector --addr :8080 --api-key dev --fail-rate 0.3
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

	"github.com/nicktill/tinymon/pkg/collector"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

const (
	serverReadTimeout  = 10 * time.Second
	serverWriteTimeout = 10 * time.Second
	shutdownTimeout    = 15 * time.Second
)

type options struct {
	addr     string
	apiKey   string
	failRate float64
	recent   int
	level    string
	jsonLogs bool
}

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
	var opts options
	flagSet := pflag.NewFlagSet("collector", pflag.ContinueOnError)
	flagSet.StringVar(&opts.addr, "addr", ":8080", "listen address")
	flagSet.StringVar(&opts.apiKey, "api-key", os.Getenv("TINYMON_API_KEY"), "required x-api-key value (empty accepts any)")
	flagSet.Float64Var(&opts.failRate, "fail-rate", 0, "fraction of ingest requests answered with 503")
	flagSet.IntVar(&opts.recent, "recent", collector.DefaultRecent, "received items kept in memory")
	flagSet.StringVar(&opts.level, "log-level", "info", "log level (debug, info, warn, error)")
	flagSet.BoolVar(&opts.jsonLogs, "json", false, "write JSON logs instead of console output")
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	if opts.failRate < 0 || opts.failRate > 1 {
		return fmt.Errorf("--fail-rate must be between 0 and 1, got %v", opts.failRate)
	}

	log, err := newLogger(opts)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	hub := collector.NewHub(log)
	handler := collector.NewHandler(collector.Config{
		APIKey:     opts.apiKey,
		FailRate:   opts.failRate,
		Recent:     opts.recent,
		Registerer: reg,
		Logger:     log,
	}, hub)

	server := &http.Server{
		Addr:         opts.addr,
		Handler:      collector.NewRouter(handler, hub, reg),
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		log.Info().
			Str("addr", opts.addr).
			Str("ingest", collector.IngestPath).
			Bool("auth", opts.apiKey != "").
			Float64("fail_rate", opts.failRate).
			Msg("collector listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Int("items", len(handler.Recent())).Msg("collector exited cleanly")
	return nil
}

func newLogger(opts options) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(opts.level)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("--log-level: %w", err)
	}
	var log zerolog.Logger
	if opts.jsonLogs {
		log = zerolog.New(os.Stderr)
	} else {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
	return log.Level(level).With().Timestamp().Logger(), nil
}
