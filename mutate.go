package goswrcache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/dgduncan/go-swr-cache/reactive"
)

// Create POSTs body to endpoint and prepends the returned record to the list held
// under key. A background refresh of key follows to pick up server-side ordering and
// computed fields; refreshes already in flight are superseded by it. On failure
// nothing is touched and the server's message is returned.
func (c *Client) Create(ctx context.Context, key, endpoint string, body any) (json.RawMessage, error) {
	record, err := c.fetcher.Send(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return nil, err
	}

	c.splice(ctx, key, func(list []json.RawMessage) ([]json.RawMessage, bool) {
		return append([]json.RawMessage{record}, list...), true
	})
	c.reconcile(key)

	return record, nil
}

// Update PUTs body to endpoint/id and replaces the record with the same id in the list
// held under key.
func (c *Client) Update(ctx context.Context, key, endpoint, id string, body any) (json.RawMessage, error) {
	record, err := c.fetcher.Send(ctx, http.MethodPut, itemEndpoint(endpoint, id), body)
	if err != nil {
		return nil, err
	}

	c.splice(ctx, key, func(list []json.RawMessage) ([]json.RawMessage, bool) {
		changed := false
		for i, r := range list {
			if recordID(r) == id {
				list[i] = record
				changed = true
			}
		}
		return list, changed
	})
	c.reconcile(key)

	return record, nil
}

// Delete DELETEs endpoint/id and removes the record with that id from the list held
// under key.
func (c *Client) Delete(ctx context.Context, key, endpoint, id string) error {
	if _, err := c.fetcher.Send(ctx, http.MethodDelete, itemEndpoint(endpoint, id), nil); err != nil {
		return err
	}

	c.splice(ctx, key, func(list []json.RawMessage) ([]json.RawMessage, bool) {
		out := list[:0]
		for _, r := range list {
			if recordID(r) != id {
				out = append(out, r)
			}
		}
		return out, len(out) != len(list)
	})
	c.reconcile(key)

	return nil
}

// Save PUTs body to endpoint for a single-object resource and replaces the value held
// under key with the returned object.
func (c *Client) Save(ctx context.Context, key, endpoint string, body any) (json.RawMessage, error) {
	obj, err := c.fetcher.Send(ctx, http.MethodPut, endpoint, body)
	if err != nil {
		return nil, err
	}

	c.writeThrough(ctx, key, obj)
	c.reconcile(key)

	return obj, nil
}

// reconcile refreshes key after a write the server accepted. Refreshes requested
// before the write may have read the server before it and can no longer commit.
func (c *Client) reconcile(key string) {
	c.store.Invalidate(key)
	c.store.Revalidate(key)
}

// splice applies fn to the list held under key and writes the result to the store and
// the mirror. Values that are absent or not a JSON array are left alone.
func (c *Client) splice(ctx context.Context, key string, fn func([]json.RawMessage) ([]json.RawMessage, bool)) {
	var written json.RawMessage
	gen, ok := c.store.Update(key, func(cur json.RawMessage, ok bool) (json.RawMessage, bool) {
		if !ok {
			return nil, false
		}

		var list []json.RawMessage
		if err := json.Unmarshal(cur, &list); err != nil {
			c.logger.DebugContext(ctx, "value is not a list, skipping optimistic update", "key", key)
			return nil, false
		}

		next, changed := fn(list)
		if !changed {
			return nil, false
		}

		b, err := marshalList(next)
		if err != nil {
			c.logger.WarnContext(ctx, "encoding optimistic update failed", "key", key, "error", err)
			return nil, false
		}
		written = b
		return b, true
	}, reactive.WriteOptions{})

	if ok {
		c.persist(ctx, key, gen, written)
	}
}

// marshalList joins records without re-encoding them, so every record keeps the exact
// bytes the server returned.
func marshalList(list []json.RawMessage) (json.RawMessage, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, r := range list {
		if !json.Valid(r) {
			return nil, fmt.Errorf("record %d: %w", i, ErrInvalidPayload)
		}
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(r)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// recordID returns the "id" field of a JSON object as a string. Numeric ids are
// rendered in their JSON form. It returns "" when there is no id.
func recordID(r json.RawMessage) string {
	var obj struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(r, &obj); err != nil || len(obj.ID) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(obj.ID, &s); err == nil {
		return s
	}
	return string(obj.ID)
}

func itemEndpoint(endpoint, id string) string {
	return strings.TrimRight(endpoint, "/") + "/" + url.PathEscape(id)
}
