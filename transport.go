package netfirstcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"sync"
	"time"

	"github.com/dgduncan/go-netfirst-cache/caches"
	"github.com/dgduncan/go-netfirst-cache/internal/metrics"
)

// Transport implements http.RoundTripper with a network-first policy. Every
// request goes to the wrapped RoundTripper exactly once. A response of any
// status is returned to the caller and a copy is written to the current
// generation in the background. When the wrapped RoundTripper fails, the
// snapshot stored for the request is served instead; with no snapshot the
// original error is returned.
type Transport struct {
	Wrapped http.RoundTripper

	store  Store
	logger *slog.Logger
	now    func() time.Time

	c Config

	mu      sync.RWMutex // guards retired against writes being added
	retired bool
	writes  sync.WaitGroup
}

// RoundTrip implements http.RoundTripper.
//
// The process follows these steps:
// 1. Sends the request to the network
// 2. On success, duplicates the response, stores the copy without waiting and
// returns the original
// 3. On failure, returns the snapshot from the current generation if present
// 4. Otherwise returns the network error unchanged.
func (t *Transport) RoundTrip(r *http.Request) (*http.Response, error) {
	ctx := r.Context()
	start := time.Now()

	if !t.c.cacheable(r.Method) {
		resp, err := t.Wrapped.RoundTrip(r)
		observe(metrics.OutcomeBypass, start)
		return resp, err
	}

	key := caches.Key(r)

	resp, networkErr := t.Wrapped.RoundTrip(r)
	if networkErr == nil {
		dump, err := httputil.DumpResponse(resp, true)
		if err == nil {
			if resp.StatusCode != http.StatusPartialContent {
				t.put(ctx, key, dump)
			}
			observe(metrics.OutcomeNetwork, start)
			return resp, nil
		}

		// the body failed mid-read, so the response cannot be delivered whole
		_ = resp.Body.Close()
		networkErr = fmt.Errorf("reading response body: %w", err)
	}

	t.logger.DebugContext(ctx, "network request failed, trying cache",
		"url", r.URL.String(),
		"generation", t.c.Generation,
		"error", networkErr)

	cached, err := t.match(ctx, key, r)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			t.logger.WarnContext(ctx, "error reading cache", "url", r.URL.String(), "error", err)
		}
		observe(metrics.OutcomeMiss, start)
		return nil, networkErr
	}

	t.logger.DebugContext(ctx, "serving cached response", "url", r.URL.String())
	observe(metrics.OutcomeFallback, start)
	return cached, nil
}

// Wait blocks until every detached snapshot write has finished.
func (t *Transport) Wait() {
	t.writes.Wait()
}

// retire stops new snapshot writes and waits for the pending ones. A retired
// transport still serves requests.
func (t *Transport) retire() {
	t.mu.Lock()
	t.retired = true
	t.mu.Unlock()

	t.writes.Wait()
}

func (t *Transport) resume() {
	t.mu.Lock()
	t.retired = false
	t.mu.Unlock()
}

// Generation returns the generation this transport reads from and writes to.
func (t *Transport) Generation() string {
	return t.c.Generation
}

func (t *Transport) match(ctx context.Context, key string, r *http.Request) (*http.Response, error) {
	cache, err := t.store.Open(ctx, t.c.Generation)
	if err != nil {
		return nil, err
	}

	snapshot, err := cache.Match(ctx, key)
	if err != nil {
		return nil, err
	}

	return snapshot.HTTPResponse(r)
}

// put writes the snapshot on a detached goroutine. The caller never waits for
// it and its failure never reaches the caller.
func (t *Transport) put(ctx context.Context, key string, dump []byte) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.retired {
		t.logger.DebugContext(ctx, "transport retired, not caching response", "key", key)
		return
	}

	snapshot := &Snapshot{
		Key:      key,
		Response: dump,
		StoredAt: t.now().UTC(),
	}

	t.writes.Add(1)
	go func() {
		defer t.writes.Done()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.c.WriteTimeout)
		defer cancel()

		if err := t.write(ctx, snapshot); err != nil {
			metrics.StoreWriteFailures.WithLabelValues(t.c.Generation).Inc()
			t.logger.WarnContext(ctx, "error caching response", "key", key, "error", err)
			return
		}

		t.logger.DebugContext(ctx, "cached response", "key", key, "generation", t.c.Generation)
	}()
}

func (t *Transport) write(ctx context.Context, snapshot *Snapshot) error {
	cache, err := t.store.Open(ctx, t.c.Generation)
	if err != nil {
		return err
	}

	return cache.Put(ctx, snapshot.Key, snapshot)
}

func observe(outcome string, start time.Time) {
	metrics.FetchTotal.WithLabelValues(outcome).Inc()
	metrics.FetchDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}

// New creates a transport middleware that adds network-first caching to an
// HTTP RoundTripper.
//
// Snapshots are written to the generation named by opts.Generation in store.
// If opts is nil, DefaultConfig with an empty generation is used, which makes
// every store operation fail; callers normally go through NewWorker, which
// validates the configuration.
// If the 'now' function is nil, time.Now will be used as the default time provider.
// If the 'logger' is nil, a no-op logger writing to io.Discard will be used.
func New(
	store Store,
	opts *Config,
	now func() time.Time,
	logger *slog.Logger,
) func(http.RoundTripper) *Transport {
	nowFunc := now
	if nowFunc == nil {
		nowFunc = time.Now
	}

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	var c Config
	if opts == nil {
		c = DefaultConfig("")
	} else {
		c = *opts
	}
	if len(c.Methods) == 0 {
		c.Methods = []string{http.MethodGet}
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}

	return func(rt http.RoundTripper) *Transport {
		if rt == nil {
			rt = http.DefaultTransport
		}
		return &Transport{Wrapped: rt, store: store, now: nowFunc, logger: logger, c: c}
	}
}
