package main

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type config struct {
	BaseURL  string
	Storage  string
	Manifest string
	Resolve  string

	MetricsAddr string
	LogLevel    slog.Level
	JSONLogs    bool

	TTL            time.Duration
	PreloadTimeout time.Duration
	RequestsPerSec float64

	DatabaseURL       string
	DynamoTable       string
	DynamoEndpoint    string
	DynamoCreateTable bool
	RistrettoMaxMB    int64
	LocalQuotaBytes   int
	Demo              bool
}

func loadConfig() config {
	return config{
		BaseURL:  getEnv("SWR_BASE_URL", "http://localhost:3000"),
		Storage:  strings.ToLower(getEnv("SWR_STORAGE", "local")),
		Manifest: strings.ToLower(getEnv("SWR_MANIFEST", "site")),
		Resolve:  os.Getenv("SWR_RESOLVE"),

		MetricsAddr: os.Getenv("SWR_METRICS_ADDR"),
		LogLevel:    parseLevel(os.Getenv("LOG_LEVEL")),
		JSONLogs:    os.Getenv("ENV") == "production",

		TTL:            getDuration("SWR_TTL", 0),
		PreloadTimeout: getDuration("SWR_PRELOAD_TIMEOUT", 0),
		RequestsPerSec: getFloat("SWR_RPS", 0),

		DatabaseURL:       os.Getenv("DATABASE_URL"),
		DynamoTable:       getEnv("DYNAMODB_TABLE", "swr_cache"),
		DynamoEndpoint:    os.Getenv("DYNAMODB_ENDPOINT"),
		DynamoCreateTable: getBool("DYNAMODB_CREATE_TABLE", false),
		RistrettoMaxMB:    int64(getInt("RISTRETTO_MAX_MB", 64)),
		LocalQuotaBytes:   getInt("SWR_LOCAL_QUOTA_BYTES", 5<<20),
		Demo:              getBool("SWR_DEMO", false),
	}
}

func newLogger(c config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel}
	if c.JSONLogs {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getInt(k string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(k)); err == nil {
		return v
	}
	return def
}

func getFloat(k string, def float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(k), 64); err == nil {
		return v
	}
	return def
}

func getBool(k string, def bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(k)); err == nil {
		return v
	}
	return def
}

func getDuration(k string, def time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(k)); err == nil {
		return v
	}
	return def
}
