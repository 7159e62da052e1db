//go:build integration

package postgres

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	goswrcache "github.com/dgduncan/go-swr-cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) *sql.DB {
	t.Log("setup called")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		dsn = "postgresql://localhost:5455/postgresDB?user=postgresUser&password=postgresPW&sslmode=disable"
	}

	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)

	t.Cleanup(func() {
		t.Log("cleanup called")
		if _, err := db.Exec("DROP TABLE IF EXISTS mirror_entries"); err != nil {
			t.Log(err)
		}
		db.Close()
	})

	return db
}

func TestStorageIntegration(t *testing.T) {
	db := setup(t)
	ctx := context.Background()

	c, err := New(ctx, db, &Config{ItemExpiration: time.Minute})
	require.NoError(t, err)

	_, err = c.Get(ctx, "swr_cache_/api/patients")
	assert.ErrorIs(t, err, goswrcache.ErrNotFound)

	require.NoError(t, c.Set(ctx, "swr_cache_/api/patients", []byte(`{"data":[]}`)))
	require.NoError(t, c.Set(ctx, "swr_cache_/api/patients", []byte(`{"data":[1]}`)))
	require.NoError(t, c.Set(ctx, "swrXcacheX/other", []byte(`{}`)))

	v, err := c.Get(ctx, "swr_cache_/api/patients")
	require.NoError(t, err)
	assert.Equal(t, `{"data":[1]}`, string(v))

	keys, err := c.Keys(ctx, "swr_cache_")
	require.NoError(t, err)
	assert.Equal(t, []string{"swr_cache_/api/patients"}, keys)

	require.NoError(t, c.Delete(ctx, "swr_cache_/api/patients"))
	_, err = c.Get(ctx, "swr_cache_/api/patients")
	assert.ErrorIs(t, err, goswrcache.ErrNotFound)
}

func TestExpiredRowsAreHidden(t *testing.T) {
	db := setup(t)
	ctx := context.Background()

	c, err := New(ctx, db, &Config{ItemExpiration: time.Minute})
	require.NoError(t, err)

	base := time.Now()
	c.now = func() time.Time { return base }
	require.NoError(t, c.Set(ctx, "k", []byte(`1`)))

	c.now = func() time.Time { return base.Add(2 * time.Minute) }
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, goswrcache.ErrNotFound)

	require.NoError(t, deleteExpiredItems(ctx, db, c.now().UTC()))
	var n int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM mirror_entries").Scan(&n))
	assert.Equal(t, 0, n)
}
