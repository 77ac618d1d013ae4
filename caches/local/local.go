package local

import (
	"context"
	"sort"
	"sync"

	netfirstcache "github.com/dgduncan/go-netfirst-cache"
	"github.com/dgduncan/go-netfirst-cache/caches"
)

// BasicStore keeps every generation in memory. It lives as long as the
// process does.
type BasicStore struct {
	generations map[string]*BasicCache

	lock sync.RWMutex
}

func (bs *BasicStore) Open(_ context.Context, name string) (netfirstcache.Cache, error) {
	if name == "" {
		return nil, caches.ErrEmptyGeneration
	}

	bs.lock.Lock()
	defer bs.lock.Unlock()

	c, found := bs.generations[name]
	if !found {
		c = newBasicCache()
		bs.generations[name] = c
	}

	return c, nil
}

func (bs *BasicStore) Keys(_ context.Context) ([]string, error) {
	bs.lock.RLock()
	defer bs.lock.RUnlock()

	names := make([]string, 0, len(bs.generations))
	for name := range bs.generations {
		names = append(names, name)
	}
	sort.Strings(names)

	return names, nil
}

func (bs *BasicStore) Delete(_ context.Context, name string) (bool, error) {
	bs.lock.Lock()
	defer bs.lock.Unlock()

	_, found := bs.generations[name]
	delete(bs.generations, name)

	return found, nil
}

// Len returns the number of snapshots stored in the generation called name.
func (bs *BasicStore) Len(name string) int {
	bs.lock.RLock()
	c, found := bs.generations[name]
	bs.lock.RUnlock()

	if !found {
		return 0
	}

	c.lock.RLock()
	defer c.lock.RUnlock()
	return len(c.cache)
}

func NewBasicStore() *BasicStore {
	return &BasicStore{
		generations: make(map[string]*BasicCache),
	}
}

// BasicCache is a single in-memory generation.
type BasicCache struct {
	cache map[string]*netfirstcache.Snapshot

	lock sync.RWMutex
}

func (bc *BasicCache) Match(_ context.Context, key string) (*netfirstcache.Snapshot, error) {
	bc.lock.RLock()
	defer bc.lock.RUnlock()

	val, found := bc.cache[key]
	if !found {
		return nil, caches.ErrNoCacheItem
	}

	return val, nil
}

func (bc *BasicCache) Put(_ context.Context, key string, item *netfirstcache.Snapshot) error {
	bc.lock.Lock()
	defer bc.lock.Unlock()

	bc.cache[key] = item

	return nil
}

func newBasicCache() *BasicCache {
	return &BasicCache{
		cache: make(map[string]*netfirstcache.Snapshot),
	}
}
