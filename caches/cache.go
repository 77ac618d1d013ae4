package caches

import (
	"net/http"
	"time"
)

var (
	// DefaultOpenTimeout is how long a backend waits for a new generation to
	// become usable.
	DefaultOpenTimeout = 2 * time.Minute
)

// Key returns the identity of a request inside a generation: method and full
// URL, e.g. "GET#https://example.com/app.wasm".
func Key(r *http.Request) string {
	return r.Method + "#" + r.URL.String()
}
