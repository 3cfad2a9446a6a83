package netstate

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/nicktill/tinymon/pkg/clock"
	"github.com/nicktill/tinymon/pkg/config"
	"github.com/rs/zerolog"
)

// DialFunc opens a connection; net.Dialer.DialContext satisfies it
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Prober derives connectivity from periodic TCP dials to the collector.
// It starts online so the first flush is not held back by the first probe.
type Prober struct {
	*Manual

	addr     string
	interval time.Duration
	timeout  time.Duration
	dial     DialFunc
	clock    clock.Clock
	log      zerolog.Logger
}

// ProberConfig configures a Prober
type ProberConfig struct {
	Endpoint string // collector URL; host and port are probed
	Interval time.Duration
	Timeout  time.Duration
	Dial     DialFunc
	Clock    clock.Clock
	Logger   zerolog.Logger
}

// NewProber creates a Prober. Call Run to start probing.
func NewProber(cfg ProberConfig) (*Prober, error) {
	addr, err := probeAddr(cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	if cfg.Interval <= 0 {
		cfg.Interval = config.ProbeInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = config.ProbeTimeout
	}
	if cfg.Dial == nil {
		var d net.Dialer
		cfg.Dial = d.DialContext
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	return &Prober{
		Manual:   NewManual(true),
		addr:     addr,
		interval: cfg.Interval,
		timeout:  cfg.Timeout,
		dial:     cfg.Dial,
		clock:    cfg.Clock,
		log:      cfg.Logger.With().Str("component", "netstate").Logger(),
	}, nil
}

// Run probes every interval until ctx is done
func (p *Prober) Run(ctx context.Context) {
	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Probe(ctx)
		}
	}
}

// Probe dials once and updates the state
func (p *Prober) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	conn, err := p.dial(ctx, "tcp", p.addr)
	online := err == nil
	if online {
		conn.Close()
	}
	if online != p.Online() {
		p.log.Debug().Str("addr", p.addr).Bool("online", online).Err(err).Msg("connectivity changed")
	}
	p.SetOnline(online)
	return online
}

func probeAddr(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("endpoint %q has no host", endpoint)
	}
	port := u.Port()
	if port == "" {
		port = "80"
		if u.Scheme == "https" {
			port = "443"
		}
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}
