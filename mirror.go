package goswrcache

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/dgduncan/go-swr-cache/metrics"
)

// Mirror is a namespaced, TTL-bound view over a Storage. It never returns errors:
// every storage or codec failure is logged and reported as a miss.
type Mirror struct {
	storage Storage

	namespace string
	ttl       time.Duration

	now     func() time.Time
	logger  *slog.Logger
	metrics metrics.Interface
}

// NewMirror wraps storage. Zero namespace or ttl fall back to DefaultNamespace and
// DefaultTTL. If now is nil, time.Now is used; a nil logger discards output.
func NewMirror(storage Storage, namespace string, ttl time.Duration, now func() time.Time, logger *slog.Logger, m metrics.Interface) *Mirror {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if m == nil {
		m = metrics.Noop{}
	}

	return &Mirror{
		storage:   storage,
		namespace: namespace,
		ttl:       ttl,
		now:       now,
		logger:    logger,
		metrics:   m,
	}
}

func (m *Mirror) storageKey(key string) string {
	return m.namespace + key
}

// Get returns the payload stored for key when it is younger than the TTL. A stale
// entry is removed before reporting the miss.
func (m *Mirror) Get(ctx context.Context, key string) (json.RawMessage, bool) {
	b, err := m.storage.Get(ctx, m.storageKey(key))
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			m.absorb(ctx, "read", key, err)
		}
		m.metrics.IncMirrorMiss()
		return nil, false
	}

	var e Entry
	if err := json.Unmarshal(b, &e); err != nil {
		m.absorb(ctx, "decode", key, err)
		m.metrics.IncMirrorMiss()
		return nil, false
	}

	if m.now().Sub(e.StoredAt()) > m.ttl {
		m.logger.DebugContext(ctx, "mirror entry expired", "key", key, "stored_at", e.StoredAt().UTC().Format(time.RFC3339))
		if err := m.storage.Delete(ctx, m.storageKey(key)); err != nil && !errors.Is(err, ErrNotFound) {
			m.absorb(ctx, "delete", key, err)
		}
		m.metrics.IncMirrorExpired()
		m.metrics.IncMirrorMiss()
		return nil, false
	}

	m.metrics.IncMirrorHit()
	return e.Data, true
}

// Set overwrites the entry for key. It reports whether the payload was persisted.
func (m *Mirror) Set(ctx context.Context, key string, payload json.RawMessage) bool {
	b, err := json.Marshal(Entry{Data: payload, Timestamp: m.now().UnixMilli()})
	if err != nil {
		m.absorb(ctx, "encode", key, err)
		return false
	}

	if err := m.storage.Set(ctx, m.storageKey(key), b); err != nil {
		m.absorb(ctx, "write", key, err)
		return false
	}

	return true
}

// Clear removes the given keys, or every key under the namespace when none is given.
func (m *Mirror) Clear(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		all, err := m.storage.Keys(ctx, m.namespace)
		if err != nil {
			m.absorb(ctx, "list", "", err)
			return
		}
		for _, k := range all {
			keys = append(keys, strings.TrimPrefix(k, m.namespace))
		}
	}

	for _, k := range keys {
		if err := m.storage.Delete(ctx, m.storageKey(k)); err != nil && !errors.Is(err, ErrNotFound) {
			m.absorb(ctx, "delete", k, err)
		}
	}
}

func (m *Mirror) absorb(ctx context.Context, op, key string, err error) {
	m.metrics.IncMirrorError()
	m.logger.WarnContext(ctx, "mirror storage failure", "op", op, "key", key, "error", err)
}
