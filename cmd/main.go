package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	goswrcache "github.com/dgduncan/go-swr-cache"
	"github.com/dgduncan/go-swr-cache/apitest"
	"github.com/dgduncan/go-swr-cache/caches/dynamodb"
	"github.com/dgduncan/go-swr-cache/caches/local"
	"github.com/dgduncan/go-swr-cache/caches/postgres"
	"github.com/dgduncan/go-swr-cache/caches/ristretto"
	"github.com/dgduncan/go-swr-cache/metrics"
)

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "no .env file found, using process environment")
	}

	cfg := loadConfig()
	logger := newLogger(cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("swrctl failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config, logger *slog.Logger) error {
	if cfg.Demo {
		server := httptest.NewServer(demoAPI())
		defer server.Close()
		cfg.BaseURL = server.URL
		logger.Info("serving demo api", "url", server.URL)
	}

	storage, closeStorage, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("opening %s storage: %w", cfg.Storage, err)
	}
	defer closeStorage()

	var m metrics.Interface = metrics.NewSimple()
	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		m = metrics.NewProm("swr_cache", reg)

		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		logger.Info("serving metrics", "addr", cfg.MetricsAddr)
	}

	client, err := goswrcache.New(storage, &goswrcache.Config{
		BaseURL:           cfg.BaseURL,
		TTL:               cfg.TTL,
		PreloadTimeout:    cfg.PreloadTimeout,
		RequestsPerSecond: cfg.RequestsPerSec,
	}, nil, logger, m)
	if err != nil {
		return err
	}
	defer client.Wait()

	manifest, err := pickManifest(cfg.Manifest)
	if err != nil {
		return err
	}

	p := client.Mount(manifest, goswrcache.PreloadOptions{
		OnLoading: func(loading bool) {
			logger.Info("preload", "loading", loading)
		},
	})

	select {
	case <-p.Run(ctx):
	case <-ctx.Done():
		return ctx.Err()
	}

	results := p.Results()
	for _, key := range manifest.Keys() {
		err, settled := results[key]
		switch {
		case !settled:
			fmt.Printf("%-28s pending\n", key)
		case err != nil:
			fmt.Printf("%-28s failed: %v\n", key, err)
		default:
			fmt.Printf("%-28s ok\n", key)
		}
	}
	if p.TimedOut() {
		logger.Warn("preload timed out, waiting for remaining fetches")
	}

	design, err := client.DesignSettings(ctx)
	if err != nil {
		logger.Warn("design settings unavailable, using defaults", "error", err)
	}
	fmt.Printf("site: %s (%s)\n", design.SiteTitle, design.PrimaryColor)

	if cfg.Resolve != "" {
		v, err := client.Resolve(ctx, cfg.Resolve)
		if err != nil {
			return fmt.Errorf("resolving %s: %w", cfg.Resolve, err)
		}
		fmt.Println(string(v))
	}

	select {
	case <-p.Settled():
	case <-ctx.Done():
	}

	if s, ok := m.(*metrics.Simple); ok {
		logger.Info("done",
			"mirror_hit", s.MirrorHit.Load(),
			"mirror_miss", s.MirrorMiss.Load(),
			"fetch_ok", s.FetchOK.Load(),
			"fetch_failed", s.FetchFailed.Load(),
		)
		return nil
	}

	logger.Info("done, serving metrics until interrupted")
	<-ctx.Done()
	return nil
}

func pickManifest(name string) (goswrcache.Manifest, error) {
	switch name {
	case "site":
		return goswrcache.SiteManifest, nil
	case "admin":
		return goswrcache.AdminManifest, nil
	case "full":
		return goswrcache.FullManifest, nil
	default:
		return nil, fmt.Errorf("unknown manifest %q", name)
	}
}

func openStorage(ctx context.Context, cfg config, logger *slog.Logger) (goswrcache.Storage, func(), error) {
	noop := func() {}

	switch cfg.Storage {
	case "local":
		return local.NewBasicCacheWithQuota(cfg.LocalQuotaBytes), noop, nil

	case "ristretto":
		c, err := ristretto.New(&ristretto.Config{MaxSizeMB: cfg.RistrettoMaxMB, MaxEntries: 1000})
		if err != nil {
			return nil, nil, err
		}
		return c, c.Close, nil

	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, nil, errors.New("DATABASE_URL not set")
		}
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		c, err := postgres.New(ctx, db, &postgres.Config{
			DeleteExpiredItems: true,
			Logger:             logger,
		})
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return c, func() { _ = db.Close() }, nil

	case "dynamodb":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, nil, err
		}
		client := awsdynamodb.NewFromConfig(awsCfg, func(o *awsdynamodb.Options) {
			if cfg.DynamoEndpoint != "" {
				o.BaseEndpoint = aws.String(cfg.DynamoEndpoint)
			}
		})
		if cfg.DynamoCreateTable {
			if err := dynamodb.CreateTable(ctx, client, cfg.DynamoTable); err != nil {
				logger.Warn("creating table failed", "table", cfg.DynamoTable, "error", err)
			}
		}
		c, err := dynamodb.New(ctx, client, &dynamodb.Config{
			DeleteExpiredItems: true,
			Table:              cfg.DynamoTable,
		})
		if err != nil {
			return nil, nil, err
		}
		return c, noop, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage %q", cfg.Storage)
	}
}

func demoAPI() *apitest.API {
	api := apitest.New()
	api.SetObject("design", apitest.Record{
		"siteTitle":    "Şifa Home Care",
		"primaryColor": "#10b981",
	})
	api.SetList("services",
		apitest.Record{"id": "sv1", "title": "Elderly care", "active": true},
		apitest.Record{"id": "sv2", "title": "Patient companion", "active": true},
	)
	api.SetList("patients", apitest.Record{"id": "p1", "name": "Ayşe Yılmaz"})
	api.SetList("staff", apitest.Record{"id": "s1", "name": "Zeynep Kaya"})
	api.SetList("appointments", apitest.Record{"id": "a1", "patientId": "p1", "staffId": "s1"})
	api.SetList("categories", apitest.Record{"id": "c1", "name": "Home care"})
	return api
}
