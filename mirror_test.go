package goswrcache_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	goswrcache "github.com/dgduncan/go-swr-cache"
	"github.com/dgduncan/go-swr-cache/caches/local"
	"github.com/dgduncan/go-swr-cache/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type brokenStorage struct{}

var errBroken = errors.New("storage unavailable")

func (brokenStorage) Get(context.Context, string) ([]byte, error)    { return nil, errBroken }
func (brokenStorage) Set(context.Context, string, []byte) error      { return errBroken }
func (brokenStorage) Delete(context.Context, string) error           { return errBroken }
func (brokenStorage) Keys(context.Context, string) ([]string, error) { return nil, errBroken }

func TestMirrorRoundTrip(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	storage := local.NewBasicCache()
	m := goswrcache.NewMirror(storage, "", 0, clk.Now, nil, nil)

	payload := `[{"id":"p1","name":"Ayşe"},{"id":"p2","age":81.5}]`
	require.True(t, m.Set(ctx, goswrcache.KeyPatients, []byte(payload)))

	got, ok := m.Get(ctx, goswrcache.KeyPatients)
	require.True(t, ok)
	assert.Equal(t, payload, string(got))

	raw, err := storage.Get(ctx, goswrcache.DefaultNamespace+goswrcache.KeyPatients)
	require.NoError(t, err)

	var e goswrcache.Entry
	require.NoError(t, json.Unmarshal(raw, &e))
	assert.Equal(t, testTime().UnixMilli(), e.Timestamp)
	assert.Equal(t, testTime(), e.StoredAt().UTC())
}

func TestMirrorExpiry(t *testing.T) {
	tests := []struct {
		name    string
		elapsed time.Duration
		wantHit bool
	}{
		{
			name:    "fresh after 30 minutes",
			elapsed: 30 * time.Minute,
			wantHit: true,
		},
		{
			name:    "still fresh at exactly the ttl",
			elapsed: time.Hour,
			wantHit: true,
		},
		{
			name:    "expired after 61 minutes",
			elapsed: 61 * time.Minute,
			wantHit: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			clk := newClock()
			storage := local.NewBasicCache()
			counters := metrics.NewSimple()
			m := goswrcache.NewMirror(storage, "", time.Hour, clk.Now, nil, counters)

			require.True(t, m.Set(ctx, goswrcache.KeyStaff, []byte(`[]`)))
			clk.Advance(tt.elapsed)

			v, ok := m.Get(ctx, goswrcache.KeyStaff)
			assert.Equal(t, tt.wantHit, ok)

			_, err := storage.Get(ctx, goswrcache.DefaultNamespace+goswrcache.KeyStaff)
			if tt.wantHit {
				assert.Equal(t, `[]`, string(v))
				assert.NoError(t, err)
				assert.EqualValues(t, 1, counters.MirrorHit.Load())
				return
			}

			assert.Nil(t, v)
			// expired entries are removed on read
			assert.ErrorIs(t, err, goswrcache.ErrNotFound)
			assert.EqualValues(t, 1, counters.MirrorExpired.Load())
			assert.EqualValues(t, 1, counters.MirrorMiss.Load())
		})
	}
}

func TestMirrorSetOverwrites(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	m := goswrcache.NewMirror(local.NewBasicCache(), "", time.Hour, clk.Now, nil, nil)

	require.True(t, m.Set(ctx, goswrcache.KeyDesign, []byte(`{"siteTitle":"A"}`)))
	clk.Advance(50 * time.Minute)
	require.True(t, m.Set(ctx, goswrcache.KeyDesign, []byte(`{"siteTitle":"B"}`)))
	clk.Advance(50 * time.Minute)

	// the second write restarted the ttl
	v, ok := m.Get(ctx, goswrcache.KeyDesign)
	require.True(t, ok)
	assert.JSONEq(t, `{"siteTitle":"B"}`, string(v))
}

func TestMirrorClear(t *testing.T) {
	ctx := context.Background()
	storage := local.NewBasicCache()
	m := goswrcache.NewMirror(storage, "", 0, nil, nil, nil)

	require.NoError(t, storage.Set(ctx, "theme", []byte("dark")))
	for _, k := range []string{goswrcache.KeyPatients, goswrcache.KeyStaff, goswrcache.KeyDesign} {
		require.True(t, m.Set(ctx, k, []byte(`[]`)))
	}

	m.Clear(ctx, goswrcache.KeyStaff)
	_, ok := m.Get(ctx, goswrcache.KeyStaff)
	assert.False(t, ok)
	_, ok = m.Get(ctx, goswrcache.KeyPatients)
	assert.True(t, ok)

	// clearing an absent key is fine
	m.Clear(ctx, "/api/missing")

	m.Clear(ctx)
	keys, err := storage.Keys(ctx, "")
	require.NoError(t, err)
	// entries outside the namespace survive
	assert.Equal(t, []string{"theme"}, keys)
}

func TestMirrorFailOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("quota exceeded", func(t *testing.T) {
		counters := metrics.NewSimple()
		m := goswrcache.NewMirror(local.NewBasicCacheWithQuota(32), "", 0, nil, nil, counters)

		assert.False(t, m.Set(ctx, goswrcache.KeyPatients, []byte(`[{"id":"p1","name":"a long enough name"}]`)))
		_, ok := m.Get(ctx, goswrcache.KeyPatients)
		assert.False(t, ok)
		assert.EqualValues(t, 1, counters.MirrorError.Load())
	})

	t.Run("broken storage", func(t *testing.T) {
		counters := metrics.NewSimple()
		m := goswrcache.NewMirror(brokenStorage{}, "", 0, nil, nil, counters)

		assert.False(t, m.Set(ctx, goswrcache.KeyStaff, []byte(`[]`)))
		_, ok := m.Get(ctx, goswrcache.KeyStaff)
		assert.False(t, ok)
		m.Clear(ctx)
		m.Clear(ctx, goswrcache.KeyStaff)
		assert.EqualValues(t, 4, counters.MirrorError.Load())
	})

	t.Run("corrupt entry", func(t *testing.T) {
		storage := local.NewBasicCache()
		require.NoError(t, storage.Set(ctx, goswrcache.DefaultNamespace+goswrcache.KeyStaff, []byte("{not json")))
		m := goswrcache.NewMirror(storage, "", 0, nil, nil, nil)

		_, ok := m.Get(ctx, goswrcache.KeyStaff)
		assert.False(t, ok)
	})
}
