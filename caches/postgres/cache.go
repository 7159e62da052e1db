package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	_ "github.com/lib/pq"

	goswrcache "github.com/dgduncan/go-swr-cache"
	"github.com/dgduncan/go-swr-cache/caches"
)

var (
	// ErrPingFailed is returned if the initial ping to the database returns an error
	ErrPingFailed = errors.New("ping returned error")
)

var (
	//go:embed create_table.sql
	queryCreateTable string
	//go:embed delete_expired.sql
	queryDeleteExpired string
	//go:embed fetch_by_key.sql
	queryFetchByKey string
	//go:embed upsert_item.sql
	queryUpsertItem string
	//go:embed delete_item.sql
	queryDeleteItem string
	//go:embed list_keys.sql
	queryListKeys string
)

// Config defines the configuration options for the PostgreSQL storage.
type Config struct {
	// DeleteExpiredItems enables automatic cleanup of expired rows
	// through a background task.
	DeleteExpiredItems bool

	// ExpiredTaskTimer defines the interval at which the cleanup task runs.
	// Shorter durations may impact database performance.
	ExpiredTaskTimer time.Duration

	// ItemExpiration defines how long rows remain in the database. This is separate
	// from the mirror TTL, which is checked on every read.
	ItemExpiration time.Duration

	Logger *slog.Logger
}

// Cache implements goswrcache.Storage using PostgreSQL, so mirrored payloads survive
// process restarts and can be shared by several processes.
type Cache struct {
	db *sql.DB

	expiration time.Duration
	now        func() time.Time
}

// Get retrieves the stored value for k.
// Returns goswrcache.ErrNotFound if the row doesn't exist or has expired.
func (p *Cache) Get(ctx context.Context, k string) ([]byte, error) {
	var value []byte
	err := p.db.QueryRowContext(ctx, queryFetchByKey, k, p.now().UTC()).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, goswrcache.ErrNotFound
		}
		return nil, err
	}

	return value, nil
}

// Set inserts or replaces the value for k.
func (p *Cache) Set(ctx context.Context, k string, v []byte) error {
	now := p.now().UTC()
	_, err := p.db.ExecContext(ctx, queryUpsertItem, k, v, now, now.Add(p.expiration))
	return err
}

// Delete removes k. Deleting a missing key is not an error.
func (p *Cache) Delete(ctx context.Context, k string) error {
	_, err := p.db.ExecContext(ctx, queryDeleteItem, k)
	return err
}

// Keys lists unexpired keys starting with prefix.
func (p *Cache) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, queryListKeys, likePrefix(prefix), p.now().UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}

	return keys, rows.Err()
}

func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}

func createTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, queryCreateTable)
	return err
}

func deleteExpiredItems(ctx context.Context, db *sql.DB, now time.Time) error {
	_, err := db.ExecContext(ctx, queryDeleteExpired, now)
	return err
}

func expiredTask(ctx context.Context, db *sql.DB, interval time.Duration, now func() time.Time, logger *slog.Logger) {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.DebugContext(ctx, "expired item task stopped")
			return
		case <-t.C:
			if err := deleteExpiredItems(ctx, db, now().UTC()); err != nil {
				logger.WarnContext(ctx, "error deleting expired items", "error", err)
			}
		}
	}
}

// New creates a new PostgreSQL storage with the provided configuration.
// It verifies the database connection, creates the table, and optionally starts the
// cleanup task for expired rows, which runs until ctx is done.
//
// Returns an error if:
// - The database handle is nil
// - The database connection test fails
// - Table creation fails
func New(ctx context.Context, db *sql.DB, config *Config) (*Cache, error) {
	if db == nil {
		return nil, caches.ValidationError{Reason: "nil database"}
	}

	if config == nil {
		config = &Config{}
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, errors.Join(ErrPingFailed, err)
	}

	if err := createTable(ctx, db); err != nil {
		return nil, err
	}

	itemExpiration := config.ItemExpiration
	if itemExpiration <= 0 {
		itemExpiration = caches.DefaultExpiredDuration
	}

	c := &Cache{
		db:         db,
		expiration: itemExpiration,
		now:        time.Now,
	}

	if config.DeleteExpiredItems {
		interval := config.ExpiredTaskTimer
		if interval <= 0 {
			interval = caches.DefaultExpiredTaskTimer
		}
		logger := config.Logger
		if logger == nil {
			logger = slog.New(slog.NewTextHandler(io.Discard, nil))
		}
		go expiredTask(ctx, db, interval, c.now, logger)
	}

	return c, nil
}
