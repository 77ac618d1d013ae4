package netfirstcache

import (
	"bufio"
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/dgduncan/go-netfirst-cache/caches"
)

var (
	// ErrNotFound is returned by Cache.Match on a miss.
	ErrNotFound = caches.ErrNoCacheItem
)

// Snapshot is the stored copy of a network response. Response holds the
// HTTP/1.1 wire form (status line, headers and body) as produced by
// httputil.DumpResponse. A snapshot is never mutated after it is stored.
type Snapshot struct {
	Key      string
	Response []byte
	StoredAt time.Time
}

// HTTPResponse rebuilds a response from the snapshot. Each call returns a
// response with its own unread body.
func (s *Snapshot) HTTPResponse(r *http.Request) (*http.Response, error) {
	return http.ReadResponse(bufio.NewReader(bytes.NewReader(s.Response)), r)
}

// Cache is the key space of a single generation.
type Cache interface {
	// Match returns the snapshot stored under k, or ErrNotFound.
	Match(ctx context.Context, k string) (*Snapshot, error)
	// Put stores v under k, replacing any previous snapshot.
	Put(ctx context.Context, k string, v *Snapshot) error
}

// Store is the substrate that holds every generation. It outlives the worker
// that writes to it.
type Store interface {
	// Open returns the generation called name, creating it if needed.
	Open(ctx context.Context, name string) (Cache, error)
	// Keys lists the names of all generations present in the store.
	Keys(ctx context.Context) ([]string, error)
	// Delete removes the generation called name and all of its snapshots.
	// It reports whether the generation existed.
	Delete(ctx context.Context, name string) (bool, error)
}
