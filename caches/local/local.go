package local

import (
	"context"
	"sort"
	"strings"
	"sync"

	goswrcache "github.com/dgduncan/go-swr-cache"
	"github.com/dgduncan/go-swr-cache/caches"
)

// BasicCache is an in-process Storage. With a non-zero MaxBytes it behaves like a
// quota-bound browser store and refuses writes that would exceed the quota.
type BasicCache struct {
	cache map[string][]byte
	size  int

	maxBytes int

	lock sync.RWMutex
}

func (bc *BasicCache) Get(_ context.Context, key string) ([]byte, error) {
	bc.lock.RLock()
	defer bc.lock.RUnlock()

	val, found := bc.cache[key]
	if !found {
		return nil, goswrcache.ErrNotFound
	}

	return append([]byte(nil), val...), nil
}

func (bc *BasicCache) Set(_ context.Context, key string, item []byte) error {
	bc.lock.Lock()
	defer bc.lock.Unlock()

	grown := bc.size + len(key) + len(item)
	if old, found := bc.cache[key]; found {
		grown -= len(key) + len(old)
	}
	if bc.maxBytes > 0 && grown > bc.maxBytes {
		return caches.ErrQuotaExceeded
	}

	bc.cache[key] = append([]byte(nil), item...)
	bc.size = grown

	return nil
}

func (bc *BasicCache) Delete(_ context.Context, key string) error {
	bc.lock.Lock()
	defer bc.lock.Unlock()

	if val, found := bc.cache[key]; found {
		bc.size -= len(key) + len(val)
		delete(bc.cache, key)
	}

	return nil
}

func (bc *BasicCache) Keys(_ context.Context, prefix string) ([]string, error) {
	bc.lock.RLock()
	defer bc.lock.RUnlock()

	keys := make([]string, 0, len(bc.cache))
	for k := range bc.cache {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	return keys, nil
}

// Len returns the number of stored items.
func (bc *BasicCache) Len() int {
	bc.lock.RLock()
	defer bc.lock.RUnlock()

	return len(bc.cache)
}

func NewBasicCache() *BasicCache {
	return NewBasicCacheWithQuota(0)
}

// NewBasicCacheWithQuota returns a cache that holds at most maxBytes of keys and
// values. Zero means unbounded.
func NewBasicCacheWithQuota(maxBytes int) *BasicCache {
	return &BasicCache{
		cache:    make(map[string][]byte),
		maxBytes: maxBytes,
	}
}
