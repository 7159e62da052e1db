package goswrcache

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrNotFound       = errors.New("cache item not found")
	ErrInvalidPayload = errors.New("response body is not valid JSON")
)

// Entry is the persisted form of a mirrored payload. Data is stored verbatim as the
// endpoint returned it.
type Entry struct {
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"` // unix milliseconds
}

// StoredAt returns the time the entry was written.
func (e Entry) StoredAt() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// Storage is the persistent key-value medium backing a Mirror. Implementations may
// fail on any call (quota, connectivity, serialization); the Mirror absorbs those
// failures. Get must return ErrNotFound when the key is absent.
type Storage interface {
	Get(ctx context.Context, k string) ([]byte, error)
	Set(ctx context.Context, k string, v []byte) error
	Delete(ctx context.Context, k string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
}
