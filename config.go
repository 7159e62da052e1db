package goswrcache

import (
	"net/http"
	"time"
)

const (
	DefaultNamespace         = "swr_cache_"
	DefaultTTL               = time.Hour
	DefaultPreloadTimeout    = 3 * time.Second
	DefaultBackgroundTimeout = 30 * time.Second
)

type Config struct {
	// BaseURL is prepended to every endpoint, eg. https://care.example.com. Endpoints
	// themselves (path plus query) are the logical cache keys.
	BaseURL string

	// Namespace prefixes every key written to Storage so that Clear without a key only
	// removes entries owned by this mirror.
	Namespace string

	// TTL is how long a mirrored entry stays fresh. Entries older than TTL are treated
	// as absent and removed on read.
	TTL time.Duration

	// PreloadTimeout bounds how long a Preloader keeps the loading state before it is
	// forced to complete. In-flight fetches are not cancelled.
	PreloadTimeout time.Duration

	// BackgroundTimeout bounds a single background refresh.
	BackgroundTimeout time.Duration

	// RequestsPerSecond limits outgoing requests of the Fetcher. Zero disables limiting.
	RequestsPerSecond float64
	Burst             int

	// HTTPClient is used for every request. Its transport is wrapped with the
	// cache-busting transport for reads.
	HTTPClient *http.Client
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() Config {
	return Config{
		Namespace:         DefaultNamespace,
		TTL:               DefaultTTL,
		PreloadTimeout:    DefaultPreloadTimeout,
		BackgroundTimeout: DefaultBackgroundTimeout,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Namespace == "" {
		c.Namespace = d.Namespace
	}
	if c.TTL <= 0 {
		c.TTL = d.TTL
	}
	if c.PreloadTimeout <= 0 {
		c.PreloadTimeout = d.PreloadTimeout
	}
	if c.BackgroundTimeout <= 0 {
		c.BackgroundTimeout = d.BackgroundTimeout
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	return c
}
