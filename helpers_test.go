package goswrcache_test

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	goswrcache "github.com/dgduncan/go-swr-cache"
	"github.com/dgduncan/go-swr-cache/apitest"
	"github.com/dgduncan/go-swr-cache/caches/local"
	"github.com/dgduncan/go-swr-cache/metrics"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock { return &clock{t: testTime()} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type harness struct {
	api     *apitest.API
	server  *httptest.Server
	storage *local.BasicCache
	clock   *clock
	metrics *metrics.Simple
	client  *goswrcache.Client
}

// newHarness starts a fake API and a client pointed at it. Cleanups release the
// client's background work before the server is closed.
func newHarness(t *testing.T, cfg *goswrcache.Config) *harness {
	t.Helper()

	h := &harness{
		api:     apitest.New(),
		storage: local.NewBasicCache(),
		clock:   newClock(),
		metrics: metrics.NewSimple(),
	}
	h.server = httptest.NewServer(h.api)
	t.Cleanup(h.server.Close)

	if cfg == nil {
		cfg = &goswrcache.Config{}
	}
	cfg.BaseURL = h.server.URL

	client, err := goswrcache.New(h.storage, cfg, h.clock.Now, nil, h.metrics)
	require.NoError(t, err)
	h.client = client
	t.Cleanup(client.Wait)

	return h
}

// seedMirror stores payload for key as if it had been written at the current time.
func (h *harness) seedMirror(t *testing.T, key, payload string) {
	t.Helper()
	require.True(t, h.client.Mirror().Set(context.Background(), key, []byte(payload)))
}

func (h *harness) stored(key string) string {
	v, ok := h.client.Store().Read(key)
	if !ok {
		return ""
	}
	return string(v)
}
