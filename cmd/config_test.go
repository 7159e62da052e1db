package main

import (
	"context"
	"log/slog"
	"testing"
	"time"

	goswrcache "github.com/dgduncan/go-swr-cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("SWR_STORAGE", "Ristretto")
	t.Setenv("SWR_MANIFEST", "admin")
	t.Setenv("SWR_TTL", "90m")
	t.Setenv("SWR_RPS", "2.5")
	t.Setenv("SWR_DEMO", "true")
	t.Setenv("LOG_LEVEL", "WARN")
	t.Setenv("RISTRETTO_MAX_MB", "not a number")

	c := loadConfig()
	assert.Equal(t, "ristretto", c.Storage)
	assert.Equal(t, "admin", c.Manifest)
	assert.Equal(t, 90*time.Minute, c.TTL)
	assert.Equal(t, 2.5, c.RequestsPerSec)
	assert.True(t, c.Demo)
	assert.Equal(t, slog.LevelWarn, c.LogLevel)
	assert.EqualValues(t, 64, c.RistrettoMaxMB)
	assert.Equal(t, "swr_cache", c.DynamoTable)
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" info ":  slog.LevelInfo,
		"warning": slog.LevelWarn,
		"ERROR":   slog.LevelError,
		"":        slog.LevelInfo,
		"loud":    slog.LevelInfo,
	}

	for in, want := range tests {
		assert.Equal(t, want, parseLevel(in), in)
	}
}

func TestPickManifest(t *testing.T) {
	m, err := pickManifest("site")
	require.NoError(t, err)
	assert.Equal(t, goswrcache.SiteManifest, m)

	m, err = pickManifest("full")
	require.NoError(t, err)
	assert.Len(t, m, 7)

	_, err = pickManifest("kiosk")
	assert.Error(t, err)
}

func TestOpenStorage(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.DiscardHandler)

	s, closeFn, err := openStorage(ctx, config{Storage: "local", LocalQuotaBytes: 1024}, logger)
	require.NoError(t, err)
	defer closeFn()
	require.NoError(t, s.Set(ctx, "k", []byte("v")))

	_, _, err = openStorage(ctx, config{Storage: "postgres"}, logger)
	assert.EqualError(t, err, "DATABASE_URL not set")

	_, _, err = openStorage(ctx, config{Storage: "floppy"}, logger)
	assert.Error(t, err)
}

func TestRunDemo(t *testing.T) {
	cfg := config{
		Storage:         "local",
		Manifest:        "admin",
		Resolve:         goswrcache.KeyStaff,
		LocalQuotaBytes: 1 << 20,
		Demo:            true,
	}

	require.NoError(t, run(context.Background(), cfg, slog.New(slog.DiscardHandler)))
}
