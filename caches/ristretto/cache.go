package ristretto

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/dgraph-io/ristretto"

	goswrcache "github.com/dgduncan/go-swr-cache"
	"github.com/dgduncan/go-swr-cache/caches"
)

// Config defines the size bounds of the ristretto storage.
type Config struct {
	MaxSizeMB  int64 // maximum total size of stored values
	MaxEntries int64 // expected number of entries, used to size admission counters
}

// Cache is a bounded in-memory Storage. Admission is cost based, so a write may be
// dropped under memory pressure; that surfaces as caches.ErrRejected.
type Cache struct {
	cache *ristretto.Cache

	// ristretto only keeps key hashes, so keys are tracked to support prefix listing.
	mu   sync.Mutex
	keys map[string]struct{}
}

// New creates the storage. MaxSizeMB must be positive.
func New(config *Config) (*Cache, error) {
	if config == nil || config.MaxSizeMB <= 0 {
		return nil, caches.ValidationError{Reason: "max size must be positive"}
	}

	// NumCounters should be ~10x the number of entries
	numCounters := config.MaxEntries * 10
	if numCounters < 1000 {
		numCounters = 1000
	}

	rc, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: numCounters,
		MaxCost:     config.MaxSizeMB * 1024 * 1024,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}

	return &Cache{
		cache: rc,
		keys:  make(map[string]struct{}),
	}, nil
}

func (c *Cache) Get(_ context.Context, k string) ([]byte, error) {
	val, found := c.cache.Get(k)
	if !found {
		return nil, goswrcache.ErrNotFound
	}

	b, ok := val.([]byte)
	if !ok {
		c.cache.Del(k)
		return nil, goswrcache.ErrNotFound
	}

	return b, nil
}

func (c *Cache) Set(_ context.Context, k string, v []byte) error {
	b := append([]byte(nil), v...)
	if !c.cache.Set(k, b, int64(len(b))) {
		return caches.ErrRejected
	}
	// wait for the value to pass through the buffers so a following Get sees it
	c.cache.Wait()

	c.mu.Lock()
	c.keys[k] = struct{}{}
	c.mu.Unlock()

	return nil
}

func (c *Cache) Delete(_ context.Context, k string) error {
	c.cache.Del(k)

	c.mu.Lock()
	delete(c.keys, k)
	c.mu.Unlock()

	return nil
}

// Keys lists tracked keys with the prefix that are still resident. Keys evicted by
// ristretto are pruned as a side effect.
func (c *Cache) Keys(_ context.Context, prefix string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []string
	for k := range c.keys {
		if _, found := c.cache.Get(k); !found {
			delete(c.keys, k)
			continue
		}
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)

	return out, nil
}

// Close stops ristretto's background goroutines.
func (c *Cache) Close() {
	c.cache.Close()
}
