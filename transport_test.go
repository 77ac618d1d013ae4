package netfirstcache_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	netfirstcache "github.com/dgduncan/go-netfirst-cache"
	"github.com/dgduncan/go-netfirst-cache/caches"
	"github.com/dgduncan/go-netfirst-cache/caches/local"
	"github.com/dgduncan/go-netfirst-cache/internal/metrics"
)

func testTime() time.Time {
	return time.Date(2023, 1, 1, 12, 0, 0, 0, time.UTC)
}

func newTransport(store netfirstcache.Store, generation string, rt http.RoundTripper) *netfirstcache.Transport {
	cfg := netfirstcache.DefaultConfig(generation)
	return netfirstcache.New(
		store,
		&cfg,
		testTime,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)(rt)
}

func stored(t *testing.T, store netfirstcache.Store, generation, key string) string {
	t.Helper()

	c, err := store.Open(context.Background(), generation)
	require.NoError(t, err)

	snapshot, err := c.Match(context.Background(), key)
	require.NoError(t, err)

	resp, err := snapshot.HTTPResponse(nil)
	require.NoError(t, err)
	return readBody(resp)
}

func TestNetworkFirst(t *testing.T) {
	t.Parallel()

	store := local.NewBasicStore()
	net := &network{}
	transport := newTransport(store, "v1", net)
	client := &http.Client{Transport: transport}

	net.set(http.StatusOK, "old bytes")
	resp, err := client.Get("http://app.test/app.js")
	require.NoError(t, err)
	assert.Equal(t, "old bytes", readBody(resp))
	transport.Wait()

	net.set(http.StatusOK, "new bytes")
	resp, err = client.Get("http://app.test/app.js")
	require.NoError(t, err)
	assert.Equal(t, "new bytes", readBody(resp), "a reachable network always wins over the cache")
	transport.Wait()

	assert.Equal(t, 2, net.Calls())
	assert.Equal(t, "new bytes", stored(t, store, "v1", "GET#http://app.test/app.js"))
	assert.Equal(t, 1, store.Len("v1"), "overwrites replace the snapshot instead of accumulating")
}

func TestOfflineFallback(t *testing.T) {
	t.Parallel()

	store := local.NewBasicStore()
	net := &network{}
	transport := newTransport(store, "v1", net)
	client := &http.Client{Transport: transport}

	net.set(http.StatusOK, "cached bytes")
	resp, err := client.Get("http://app.test/index.html")
	require.NoError(t, err)
	_ = readBody(resp)
	transport.Wait()

	net.goOffline()
	resp, err = client.Get("http://app.test/index.html")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/octet-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "cached bytes", readBody(resp))

	assert.Equal(t, 2, net.Calls(), "exactly one network attempt per request")
}

func TestOfflineMiss(t *testing.T) {
	t.Parallel()

	net := &network{}
	net.goOffline()
	client := &http.Client{Transport: newTransport(local.NewBasicStore(), "v1", net)}

	resp, err := client.Get("http://app.test/never-seen.js")
	require.Error(t, err)
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, errOffline, "the network error reaches the caller unchanged")
	assert.Equal(t, 1, net.Calls())
}

func TestHTTPErrorsAreCached(t *testing.T) {
	t.Parallel()

	store := local.NewBasicStore()
	net := &network{}
	transport := newTransport(store, "v1", net)
	client := &http.Client{Transport: transport}

	net.set(http.StatusInternalServerError, "server exploded")
	resp, err := client.Get("http://app.test/api")
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	_ = readBody(resp)
	transport.Wait()

	net.goOffline()
	resp, err = client.Get("http://app.test/api")
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "server exploded", readBody(resp))
}

func TestWritesTargetCurrentGenerationOnly(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := local.NewBasicStore()
	_, err := store.Open(ctx, "v1")
	require.NoError(t, err)

	net := &network{}
	net.set(http.StatusOK, "v2 bytes")
	transport := newTransport(store, "v2", net)

	req := httptest.NewRequest(http.MethodGet, "http://app.test/app.wasm", nil)
	resp, err := transport.RoundTrip(req)
	require.NoError(t, err)
	_ = readBody(resp)
	transport.Wait()

	assert.Equal(t, 0, store.Len("v1"))
	assert.Equal(t, 1, store.Len("v2"))
}

func TestFallbackIgnoresOtherGenerations(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := local.NewBasicStore()

	net := &network{}
	net.set(http.StatusOK, "v1 bytes")
	old := newTransport(store, "v1", net)
	resp, err := old.RoundTrip(httptest.NewRequest(http.MethodGet, "http://app.test/app.js", nil))
	require.NoError(t, err)
	_ = readBody(resp)
	old.Wait()

	net.goOffline()
	current := newTransport(store, "v2", net)
	_, err = current.RoundTrip(httptest.NewRequest(http.MethodGet, "http://app.test/app.js", nil).WithContext(ctx))
	assert.ErrorIs(t, err, errOffline)
}

func TestResponseReturnedBeforeWriteCompletes(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	backing := local.NewBasicStore()
	net := &network{}
	net.set(http.StatusOK, "payload")
	transport := newTransport(&gatedStore{Store: backing, release: release}, "v1", net)

	done := make(chan *http.Response)
	go func() {
		resp, _ := transport.RoundTrip(httptest.NewRequest(http.MethodGet, "http://app.test/big.wasm", nil))
		done <- resp
	}()

	select {
	case resp := <-done:
		require.NotNil(t, resp)
		assert.Equal(t, "payload", readBody(resp))
	case <-time.After(5 * time.Second):
		t.Fatal("response waited for the cache write")
	}

	assert.Equal(t, 0, backing.Len("v1"), "write is still pending")
	close(release)
	transport.Wait()
	assert.Equal(t, 1, backing.Len("v1"))
}

func TestStoreWriteFailureDoesNotFailRequest(t *testing.T) {
	t.Parallel()

	const generation = "write-failure"
	before := testutil.ToFloat64(metrics.StoreWriteFailures.WithLabelValues(generation))

	net := &network{}
	net.set(http.StatusOK, "still served")
	store := &brokenStore{Store: local.NewBasicStore(), openErr: errors.New("quota exceeded")}
	transport := newTransport(store, generation, net)

	resp, err := transport.RoundTrip(httptest.NewRequest(http.MethodGet, "http://app.test/app.js", nil))
	require.NoError(t, err)
	assert.Equal(t, "still served", readBody(resp))
	transport.Wait()

	after := testutil.ToFloat64(metrics.StoreWriteFailures.WithLabelValues(generation))
	assert.Equal(t, before+1, after)
}

func TestStoreReadFailureSurfacesNetworkError(t *testing.T) {
	t.Parallel()

	net := &network{}
	net.goOffline()
	store := &brokenStore{Store: local.NewBasicStore(), openErr: errors.New("store unavailable")}
	transport := newTransport(store, "v1", net)

	_, err := transport.RoundTrip(httptest.NewRequest(http.MethodGet, "http://app.test/app.js", nil))
	assert.ErrorIs(t, err, errOffline)
}

func TestUncachedMethodsBypass(t *testing.T) {
	t.Parallel()

	store := local.NewBasicStore()
	net := &network{}
	net.set(http.StatusCreated, "created")
	transport := newTransport(store, "v1", net)

	resp, err := transport.RoundTrip(httptest.NewRequest(http.MethodPost, "http://app.test/api", strings.NewReader("{}")))
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	_ = readBody(resp)
	transport.Wait()

	assert.Equal(t, 0, store.Len("v1"))

	net.goOffline()
	_, err = transport.RoundTrip(httptest.NewRequest(http.MethodPost, "http://app.test/api", strings.NewReader("{}")))
	assert.ErrorIs(t, err, errOffline)
}

func TestPartialContentNotStored(t *testing.T) {
	t.Parallel()

	store := local.NewBasicStore()
	net := &network{}
	net.set(http.StatusPartialContent, "part")
	transport := newTransport(store, "v1", net)

	resp, err := transport.RoundTrip(httptest.NewRequest(http.MethodGet, "http://app.test/video", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusPartialContent, resp.StatusCode)
	assert.Equal(t, "part", readBody(resp))
	transport.Wait()

	assert.Equal(t, 0, store.Len("v1"))
}

type failingBody struct{}

func (failingBody) Read([]byte) (int, error) { return 0, errors.New("connection reset by peer") }
func (failingBody) Close() error               { return nil }

func TestBrokenBodyFallsBackToCache(t *testing.T) {
	t.Parallel()

	store := local.NewBasicStore()
	net := &network{}
	net.set(http.StatusOK, "complete")
	transport := newTransport(store, "v1", net)

	resp, err := transport.RoundTrip(httptest.NewRequest(http.MethodGet, "http://app.test/app.js", nil))
	require.NoError(t, err)
	_ = readBody(resp)
	transport.Wait()

	broken := netfirstcache.New(store, &netfirstcache.Config{Generation: "v1"}, nil, nil)(
		roundTripFunc(func(r *http.Request) (*http.Response, error) {
			resp := response(r, http.StatusOK, "")
			resp.Body = failingBody{}
			resp.ContentLength = -1
			return resp, nil
		}),
	)

	resp, err = broken.RoundTrip(httptest.NewRequest(http.MethodGet, "http://app.test/app.js", nil))
	require.NoError(t, err)
	assert.Equal(t, "complete", readBody(resp))
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestSnapshotStoredWithRequestIdentity(t *testing.T) {
	t.Parallel()

	store := local.NewBasicStore()
	net := &network{}
	net.set(http.StatusOK, "x")
	transport := newTransport(store, "v1", net)

	req := httptest.NewRequest(http.MethodGet, "http://app.test/a?b=c", nil)
	resp, err := transport.RoundTrip(req)
	require.NoError(t, err)
	_ = readBody(resp)
	transport.Wait()

	c, err := store.Open(context.Background(), "v1")
	require.NoError(t, err)
	snapshot, err := c.Match(context.Background(), caches.Key(req))
	require.NoError(t, err)
	assert.Equal(t, "GET#http://app.test/a?b=c", snapshot.Key)
	assert.Equal(t, testTime(), snapshot.StoredAt)
}

// TestAppWasmOfflineScenario runs against a real server that is shut down
// between the two requests.
func TestAppWasmOfflineScenario(t *testing.T) {
	t.Parallel()

	b1 := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/wasm")
		w.WriteHeader(http.StatusOK)
		w.Write(b1)
	}))

	store := local.NewBasicStore()
	transport := newTransport(store, "v1", http.DefaultTransport)
	client := &http.Client{Transport: transport}

	resp, err := client.Get(server.URL + "/app.wasm")
	require.NoError(t, err)
	assert.Equal(t, string(b1), readBody(resp))
	transport.Wait()

	server.Close()

	resp, err = client.Get(server.URL + "/app.wasm")
	require.NoError(t, err)
	assert.Equal(t, "application/wasm", resp.Header.Get("Content-Type"))
	assert.Equal(t, string(b1), readBody(resp))
}
