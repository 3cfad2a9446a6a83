package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"time"

	"github.com/nicktill/tinymon/pkg/sdk/sdkerr"
	"gopkg.in/yaml.v3"
)

// Client defaults
const (
	DefaultEndpoint        = "https://staging.app.olakai.ai/api/monitoring/prompt"
	DefaultBatchSize       = 10
	DefaultBatchTimeout    = 5 * time.Second
	DefaultRetries         = 3
	DefaultTimeout         = 30 * time.Second
	DefaultStorageKey      = "tinymon-queue"
	DefaultMaxStorageBytes = 1_000_000
)

// Retry backoff
const (
	RetryBaseDelay = 1 * time.Second
	RetryMaxDelay  = 30 * time.Second
)

// Queue eviction target as a fraction of MaxStorageBytes
const EvictionTarget = 0.8

// Per-function call history kept by the metrics aggregator
const HistorySize = 100

// Connectivity probing
const (
	ProbeInterval = 10 * time.Second
	ProbeTimeout  = 3 * time.Second
)

// Config is the client configuration. Use Default() and override fields,
// Load a YAML file, or assemble one with NewBuilder.
type Config struct {
	APIKey   string `yaml:"api_key"`
	Endpoint string `yaml:"endpoint"`

	// Identity stamped on every telemetry item
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
	UserID      string `yaml:"user_id"`
	SessionID   string `yaml:"session_id"`

	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	Retries      int           `yaml:"retries"`
	Timeout      time.Duration `yaml:"timeout"`

	// Durable mirror of the queue
	DisablePersistence bool   `yaml:"disable_persistence"`
	StorageKey         string `yaml:"storage_key"`
	StoragePath        string `yaml:"storage_path"` // empty: in-memory KV
	MaxStorageBytes    int    `yaml:"max_storage_bytes"`

	Debug    bool `yaml:"debug"`
	Compress bool `yaml:"compress"`

	// SanitizePatterns are regular expressions whose matches are replaced
	// in captured payloads of monitors that opt into sanitizing.
	SanitizePatterns []string `yaml:"sanitize_patterns"`

	// OnError receives every absorbed pipeline error. Panics inside it
	// are recovered.
	OnError func(error) `yaml:"-"`

	// resolved marks configs derived from Default(); see Resolve
	resolved bool
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		Endpoint:        DefaultEndpoint,
		BatchSize:       DefaultBatchSize,
		BatchTimeout:    DefaultBatchTimeout,
		Retries:         DefaultRetries,
		Timeout:         DefaultTimeout,
		StorageKey:      DefaultStorageKey,
		MaxStorageBytes: DefaultMaxStorageBytes,
		resolved:        true,
	}
}

// Resolve fills a partial config from the defaults. Configs that
// already derive from Default(), Load, Parse or the Builder are returned
// as they are, so their explicit zero values survive.
func (c Config) Resolve() Config {
	if c.resolved {
		return c
	}
	return Default().Merge(c)
}

// Merge overlays every non-zero field of o onto c. Booleans can only be
// switched on this way; use Load or the Builder to express explicit zeroes.
func (c Config) Merge(o Config) Config {
	if o.APIKey != "" {
		c.APIKey = o.APIKey
	}
	if o.Endpoint != "" {
		c.Endpoint = o.Endpoint
	}
	if o.Environment != "" {
		c.Environment = o.Environment
	}
	if o.Version != "" {
		c.Version = o.Version
	}
	if o.UserID != "" {
		c.UserID = o.UserID
	}
	if o.SessionID != "" {
		c.SessionID = o.SessionID
	}
	if o.BatchSize != 0 {
		c.BatchSize = o.BatchSize
	}
	if o.BatchTimeout != 0 {
		c.BatchTimeout = o.BatchTimeout
	}
	if o.Retries != 0 {
		c.Retries = o.Retries
	}
	if o.Timeout != 0 {
		c.Timeout = o.Timeout
	}
	if o.StorageKey != "" {
		c.StorageKey = o.StorageKey
	}
	if o.StoragePath != "" {
		c.StoragePath = o.StoragePath
	}
	if o.MaxStorageBytes != 0 {
		c.MaxStorageBytes = o.MaxStorageBytes
	}
	if len(o.SanitizePatterns) > 0 {
		c.SanitizePatterns = append([]string(nil), o.SanitizePatterns...)
	}
	if o.OnError != nil {
		c.OnError = o.OnError
	}
	c.DisablePersistence = c.DisablePersistence || o.DisablePersistence
	c.Debug = c.Debug || o.Debug
	c.Compress = c.Compress || o.Compress
	return c
}

// Clone returns a deep copy
func (c Config) Clone() Config {
	c.SanitizePatterns = append([]string(nil), c.SanitizePatterns...)
	return c
}

// Load reads a YAML file on top of Default(). Keys present in the file
// win, including explicit zero values such as "retries: 0".
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(raw)
}

// Parse decodes YAML on top of Default() and validates the result
func Parse(raw []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports malformed values. A missing API key is not an error:
// the client runs and suppresses sending.
func (c Config) Validate() error {
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return &sdkerr.ConfigurationError{Field: "endpoint", Err: err}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &sdkerr.ConfigurationError{Field: "endpoint", Err: fmt.Errorf("unsupported scheme %q", u.Scheme)}
	}
	if c.BatchSize <= 0 {
		return &sdkerr.ConfigurationError{Field: "batch_size", Err: fmt.Errorf("must be positive, got %d", c.BatchSize)}
	}
	if c.BatchTimeout <= 0 {
		return &sdkerr.ConfigurationError{Field: "batch_timeout", Err: fmt.Errorf("must be positive, got %v", c.BatchTimeout)}
	}
	if c.Retries < 0 {
		return &sdkerr.ConfigurationError{Field: "retries", Err: fmt.Errorf("must not be negative, got %d", c.Retries)}
	}
	if c.Timeout <= 0 {
		return &sdkerr.ConfigurationError{Field: "timeout", Err: fmt.Errorf("must be positive, got %v", c.Timeout)}
	}
	if c.MaxStorageBytes < 0 {
		return &sdkerr.ConfigurationError{Field: "max_storage_bytes", Err: fmt.Errorf("must not be negative, got %d", c.MaxStorageBytes)}
	}
	if !c.DisablePersistence && c.StorageKey == "" {
		return &sdkerr.ConfigurationError{Field: "storage_key", Err: fmt.Errorf("required when persistence is enabled")}
	}
	if _, err := c.Patterns(); err != nil {
		return err
	}
	return nil
}

// Patterns compiles SanitizePatterns
func (c Config) Patterns() ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(c.SanitizePatterns))
	for _, expr := range c.SanitizePatterns {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, &sdkerr.ConfigurationError{Field: "sanitize_patterns", Err: err}
		}
		out = append(out, re)
	}
	return out, nil
}
