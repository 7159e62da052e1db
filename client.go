package goswrcache

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/dgduncan/go-swr-cache/metrics"
	"github.com/dgduncan/go-swr-cache/reactive"
)

// ErrNilStorage is returned by New when no Storage is given.
var ErrNilStorage = errors.New("nil storage")

// Client is the shared data-freshness service: one Mirror, one Fetcher and one
// reactive Store. Build a single Client in the composition root and hand it to every
// view that reads or writes server data.
type Client struct {
	cfg Config

	mirror  *Mirror
	fetcher *Fetcher
	store   *reactive.Store

	logger  *slog.Logger
	metrics metrics.Interface
	now     func() time.Time

	// persisted is the store generation last written to the mirror, per key.
	persistMu sync.Mutex
	persisted map[string]uint64
}

// New creates a Client over storage.
//
// If opts is nil, DefaultConfig is used; zero fields of opts take their defaults.
// If the 'now' function is nil, time.Now will be used as the default time provider.
// If the 'logger' is nil, a no-op logger writing to io.Discard will be used.
// If m is nil, metrics are discarded.
func New(
	storage Storage,
	opts *Config,
	now func() time.Time,
	logger *slog.Logger,
	m metrics.Interface,
) (*Client, error) {
	if storage == nil {
		return nil, ErrNilStorage
	}

	nowFunc := now
	if nowFunc == nil {
		nowFunc = time.Now
	}

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if m == nil {
		m = metrics.Noop{}
	}

	c := DefaultConfig()
	if opts != nil {
		c = opts.withDefaults()
	}

	if c.BaseURL != "" {
		if _, err := url.ParseRequestURI(c.BaseURL); err != nil {
			return nil, err
		}
	}

	client := &Client{
		cfg:       c,
		mirror:    NewMirror(storage, c.Namespace, c.TTL, nowFunc, logger, m),
		fetcher:   NewFetcher(c, nowFunc, logger, m),
		logger:    logger,
		metrics:   m,
		now:       nowFunc,
		persisted: make(map[string]uint64),
	}
	client.store = reactive.New(reactive.WithRevalidator(client.refresh))

	return client, nil
}

// Mirror returns the persistent mirror.
func (c *Client) Mirror() *Mirror { return c.mirror }

// Fetcher returns the network fetcher.
func (c *Client) Fetcher() *Fetcher { return c.fetcher }

// Store returns the reactive store views subscribe to.
func (c *Client) Store() *reactive.Store { return c.store }

// Refresh reloads key in the background. Failures are logged and never change the
// visible value.
func (c *Client) Refresh(key string) {
	c.store.Revalidate(key)
}

// Clear drops keys from the mirror, or the whole namespace when no key is given.
func (c *Client) Clear(ctx context.Context, keys ...string) {
	c.mirror.Clear(ctx, keys...)
}

// Wait blocks until every background refresh started so far has finished.
func (c *Client) Wait() {
	c.store.Wait()
}

// refresh is the store's Revalidator. It outlives the caller's context so that an
// unmounted view does not abort the write-through. The result is dropped when key was
// written or invalidated after the refresh was requested.
func (c *Client) refresh(ctx context.Context, key string, gen uint64) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.BackgroundTimeout)
	defer cancel()

	v, err := c.fetcher.Fetch(ctx, key)
	if err != nil {
		c.metrics.IncRefreshFailure()
		c.logger.WarnContext(ctx, "background refresh failed", "key", key, "error", err)
		return err
	}

	if !c.commit(ctx, key, gen, v) {
		c.logger.DebugContext(ctx, "key changed during refresh, dropping result", "key", key)
		return nil
	}
	c.logger.DebugContext(ctx, "background refresh complete", "key", key)
	return nil
}

// commit writes v through to the store and the mirror if key is still at gen.
func (c *Client) commit(ctx context.Context, key string, gen uint64, v json.RawMessage) bool {
	next, ok := c.store.CompareAndWrite(key, gen, v)
	if ok {
		c.persist(ctx, key, next, v)
	}
	return ok
}

// writeThrough writes v to the store and the mirror unconditionally.
func (c *Client) writeThrough(ctx context.Context, key string, v json.RawMessage) {
	c.persist(ctx, key, c.store.Write(key, v, reactive.WriteOptions{}), v)
}

// persist mirrors v, the value of key at store generation gen. Writes that lost the
// race to a newer generation are skipped, so the mirror ends on the store's value.
func (c *Client) persist(ctx context.Context, key string, gen uint64, v json.RawMessage) {
	c.persistMu.Lock()
	defer c.persistMu.Unlock()

	if gen <= c.persisted[key] {
		return
	}
	c.persisted[key] = gen
	c.mirror.Set(ctx, key, v)
}
