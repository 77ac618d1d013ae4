package netfirstcache_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	netfirstcache "github.com/dgduncan/go-netfirst-cache"
)

var errOffline = errors.New("dial tcp: network is unreachable")

// network is a fake upstream. While offline every request fails at the
// transport level.
type network struct {
	mu      sync.Mutex
	offline bool
	status  int
	body    string
	calls   int
}

func (n *network) set(status int, body string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.offline = false
	n.status = status
	n.body = body
}

func (n *network) goOffline() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.offline = true
}

func (n *network) Calls() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls
}

func (n *network) RoundTrip(r *http.Request) (*http.Response, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.calls++
	if n.offline {
		return nil, errOffline
	}

	return response(r, n.status, n.body), nil
}

func response(r *http.Request, status int, body string) *http.Response {
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{"Content-Type": []string{"application/octet-stream"}},
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       r,
	}
}

func readBody(resp *http.Response) string {
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return string(b)
}

// brokenStore fails every operation whose error is set.
type brokenStore struct {
	netfirstcache.Store

	openErr   error
	keysErr   error
	deleteErr error
}

func (b *brokenStore) Open(ctx context.Context, name string) (netfirstcache.Cache, error) {
	if b.openErr != nil {
		return nil, b.openErr
	}
	return b.Store.Open(ctx, name)
}

func (b *brokenStore) Keys(ctx context.Context) ([]string, error) {
	if b.keysErr != nil {
		return nil, b.keysErr
	}
	return b.Store.Keys(ctx)
}

func (b *brokenStore) Delete(ctx context.Context, name string) (bool, error) {
	if b.deleteErr != nil {
		return false, b.deleteErr
	}
	return b.Store.Delete(ctx, name)
}

// gatedStore holds every Put until release is closed.
type gatedStore struct {
	netfirstcache.Store

	release chan struct{}
}

type gatedCache struct {
	netfirstcache.Cache

	release chan struct{}
}

func (g *gatedStore) Open(ctx context.Context, name string) (netfirstcache.Cache, error) {
	c, err := g.Store.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	return &gatedCache{Cache: c, release: g.release}, nil
}

func (g *gatedCache) Put(ctx context.Context, k string, v *netfirstcache.Snapshot) error {
	<-g.release
	return g.Cache.Put(ctx, k, v)
}

// host records the lifecycle calls a worker makes.
type host struct {
	skipped  bool
	claimed  bool
	claimErr error
}

func (h *host) SkipWaiting() { h.skipped = true }

func (h *host) Claim(context.Context) error {
	if h.claimErr != nil {
		return h.claimErr
	}
	h.claimed = true
	return nil
}
