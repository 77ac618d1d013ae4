package netfirstcache

import (
	"net/http"
	"time"

	"github.com/dgduncan/go-netfirst-cache/caches"
)

const (
	// DefaultWriteTimeout bounds a detached snapshot write.
	DefaultWriteTimeout = 30 * time.Second
)

// Config configures a worker.
type Config struct {
	// Generation names the cache generation this worker reads from and writes
	// to, typically a build tag such as "app-v2". It is fixed for the lifetime
	// of the worker.
	Generation string

	// Methods lists the request methods that are cached and served from the
	// cache when the network fails. Other methods go straight to the network.
	Methods []string

	// WriteTimeout bounds each detached snapshot write. Zero means
	// DefaultWriteTimeout.
	WriteTimeout time.Duration
}

// DefaultConfig returns a configuration caching GET requests into generation.
func DefaultConfig(generation string) Config {
	return Config{
		Generation:   generation,
		Methods:      []string{http.MethodGet},
		WriteTimeout: DefaultWriteTimeout,
	}
}

func (c Config) cacheable(method string) bool {
	for _, m := range c.Methods {
		if m == method {
			return true
		}
	}
	return false
}

// Validate reports whether the configuration can back a worker.
func (c Config) Validate() error {
	if c.Generation == "" {
		return caches.ValidationError{Reason: "empty generation"}
	}

	for _, m := range c.Methods {
		if m == "" {
			return caches.ValidationError{Reason: "empty method"}
		}
	}

	if c.WriteTimeout < 0 {
		return caches.ValidationError{Reason: "negative write timeout"}
	}

	return nil
}
