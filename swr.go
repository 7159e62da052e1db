package goswrcache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dgduncan/go-swr-cache/reactive"
)

// Resolve returns the payload for key using stale-while-revalidate:
//
//  1. The mirror is read first.
//  2. A background refresh is started whether or not the mirror had the key.
//  3. On a hit the mirrored payload is returned without waiting for the network.
//  4. On a miss the payload is fetched in the foreground, persisted and pushed to the
//     store before it is returned. Only this foreground fetch can fail the call.
//
// Readers may see a value up to one round trip old.
func (c *Client) Resolve(ctx context.Context, key string) (json.RawMessage, error) {
	cached, hit := c.mirror.Get(ctx, key)

	if hit {
		c.logger.DebugContext(ctx, "resolved from mirror", "key", key)
		// seed the store for views that mount after this read, unless something newer
		// is already there. Seeding comes first so the refresh commits over it.
		c.store.Update(key, func(_ json.RawMessage, ok bool) (json.RawMessage, bool) {
			return cached, !ok
		}, reactive.WriteOptions{})
		c.store.Revalidate(key)
		return cached, nil
	}

	c.store.Revalidate(key)

	c.logger.DebugContext(ctx, "mirror miss, fetching", "key", key)
	v, err := c.fetcher.Fetch(ctx, key)
	if err != nil {
		return nil, err
	}

	c.writeThrough(ctx, key, v)
	return v, nil
}

// ResolveAs resolves key and decodes the payload into T.
func ResolveAs[T any](ctx context.Context, c *Client, key string) (T, error) {
	var out T

	v, err := c.Resolve(ctx, key)
	if err != nil {
		return out, err
	}

	if err := json.Unmarshal(v, &out); err != nil {
		return out, fmt.Errorf("decoding %s: %w", key, err)
	}
	return out, nil
}
