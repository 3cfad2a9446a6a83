package sdk

import (
	"github.com/nicktill/tinymon/pkg/clock"
	"github.com/nicktill/tinymon/pkg/sdk/netstate"
	"github.com/nicktill/tinymon/pkg/sdk/transport"
	"github.com/nicktill/tinymon/pkg/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Option customizes a Client
type Option func(*options)

type options struct {
	store    storage.KV
	signal   netstate.Signal
	clock    clock.Clock
	sender   transport.Sender
	registry prometheus.Registerer
	logger   *zerolog.Logger
}

// WithStore supplies the durable KV for the queue mirror. The client
// does not close it.
func WithStore(kv storage.KV) Option {
	return func(o *options) { o.store = kv }
}

// WithConnectivity supplies the connectivity signal. Signals with a
// Run(context.Context) method, such as *netstate.Prober, are run by the
// client until Close.
func WithConnectivity(s netstate.Signal) Option {
	return func(o *options) { o.signal = s }
}

// WithClock replaces the time source
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithSender replaces the HTTP sender
func WithSender(s transport.Sender) Option {
	return func(o *options) { o.sender = s }
}

// WithRegisterer registers the pipeline and per-function metrics
func WithRegisterer(r prometheus.Registerer) Option {
	return func(o *options) { o.registry = r }
}

// WithLogger replaces the default logger, which is silent unless Debug
// is set.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = &l }
}
