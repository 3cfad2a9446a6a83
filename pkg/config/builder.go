package config

import "time"

// Builder assembles a Config fluently, starting from Default(). Unlike
// Merge, every setter applies even when the value is zero.
//
//	cfg, err := config.NewBuilder().
//	    APIKey(os.Getenv("TINYMON_API_KEY")).
//	    BatchSize(25).
//	    Retries(0).
//	    Build()
type Builder struct {
	cfg Config
}

// NewBuilder starts from the defaults
func NewBuilder() *Builder {
	return &Builder{cfg: Default()}
}

// NewBuilderFrom starts from cfg, typically the result of Load, so flags
// can be layered over a file
func NewBuilderFrom(cfg Config) *Builder {
	return &Builder{cfg: cfg.Resolve().Clone()}
}

func (b *Builder) APIKey(key string) *Builder {
	b.cfg.APIKey = key
	return b
}

func (b *Builder) Endpoint(endpoint string) *Builder {
	b.cfg.Endpoint = endpoint
	return b
}

func (b *Builder) Environment(env string) *Builder {
	b.cfg.Environment = env
	return b
}

func (b *Builder) Version(version string) *Builder {
	b.cfg.Version = version
	return b
}

func (b *Builder) BatchSize(n int) *Builder {
	b.cfg.BatchSize = n
	return b
}

func (b *Builder) BatchTimeout(d time.Duration) *Builder {
	b.cfg.BatchTimeout = d
	return b
}

func (b *Builder) Retries(n int) *Builder {
	b.cfg.Retries = n
	return b
}

func (b *Builder) Timeout(d time.Duration) *Builder {
	b.cfg.Timeout = d
	return b
}

func (b *Builder) Debug(on bool) *Builder {
	b.cfg.Debug = on
	return b
}

func (b *Builder) Compress(on bool) *Builder {
	b.cfg.Compress = on
	return b
}

func (b *Builder) OnError(fn func(error)) *Builder {
	b.cfg.OnError = fn
	return b
}

// Identity sets the user and session stamped on every item
func (b *Builder) Identity(userID, sessionID string) *Builder {
	b.cfg.UserID = userID
	b.cfg.SessionID = sessionID
	return b
}

// Persistence configures the durable mirror. An empty path keeps the
// mirror in memory.
func (b *Builder) Persistence(enabled bool, key, path string, maxBytes int) *Builder {
	b.cfg.DisablePersistence = !enabled
	b.cfg.StorageKey = key
	b.cfg.StoragePath = path
	b.cfg.MaxStorageBytes = maxBytes
	return b
}

// Sanitize appends redaction patterns
func (b *Builder) Sanitize(patterns ...string) *Builder {
	b.cfg.SanitizePatterns = append(b.cfg.SanitizePatterns, patterns...)
	return b
}

// Build validates and returns the configuration
func (b *Builder) Build() (Config, error) {
	cfg := b.cfg.Clone()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
