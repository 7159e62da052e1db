package goswrcache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/dgduncan/go-swr-cache/metrics"
)

const (
	messageUnknown    = "unknown error"
	messageLoadFailed = "failed to load data"
)

// FetchError is the uniform error for a non-2xx response. Message is the server's
// error text, or a generic fallback when the body carried none.
type FetchError struct {
	Status  int
	Message string
}

func (e *FetchError) Error() string {
	return e.Message
}

type errorBody struct {
	Error string `json:"error"`
}

// Fetcher performs requests against the REST API rooted at a base URL. Reads go
// through the cache-busting transport, writes do not.
type Fetcher struct {
	baseURL string

	read  *http.Client
	write *http.Client

	limiter *rate.Limiter
	logger  *slog.Logger
	metrics metrics.Interface
}

// NewFetcher builds a fetcher from c. A nil c.HTTPClient uses http.DefaultClient's
// settings with http.DefaultTransport.
func NewFetcher(c Config, now func() time.Time, logger *slog.Logger, m metrics.Interface) *Fetcher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if m == nil {
		m = metrics.Noop{}
	}

	base := c.HTTPClient
	if base == nil {
		base = &http.Client{}
	}
	read := *base
	read.Transport = NewBustTransport(now)(base.Transport)

	f := &Fetcher{
		baseURL: strings.TrimRight(c.BaseURL, "/"),
		read:    &read,
		write:   base,
		logger:  logger,
		metrics: m,
	}
	if c.RequestsPerSecond > 0 {
		f.limiter = rate.NewLimiter(rate.Limit(c.RequestsPerSecond), c.Burst)
	}

	return f
}

// Fetch GETs endpoint and returns the body verbatim. The endpoint, not the busted
// URL, is what callers use as cache key.
func (f *Fetcher) Fetch(ctx context.Context, endpoint string) (json.RawMessage, error) {
	return f.do(ctx, f.read, http.MethodGet, endpoint, nil)
}

// Send issues a write with body encoded as JSON. A nil body sends no payload.
func (f *Fetcher) Send(ctx context.Context, method, endpoint string, body any) (json.RawMessage, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		r = bytes.NewReader(b)
	}

	return f.do(ctx, f.write, method, endpoint, r)
}

func (f *Fetcher) do(ctx context.Context, client *http.Client, method, endpoint string, body io.Reader) (json.RawMessage, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, f.baseURL+endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		f.metrics.IncFetch(metrics.ResultTransportError)
		return nil, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		f.metrics.IncFetch(metrics.ResultTransportError)
		return nil, err
	}
	b = bytes.TrimSpace(b)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		f.metrics.IncFetch(metrics.ResultHTTPError)
		fe := &FetchError{Status: resp.StatusCode, Message: errorMessage(b)}
		f.logger.DebugContext(ctx, "request failed", "method", method, "endpoint", endpoint, "status", resp.StatusCode, "error", fe.Message)
		return nil, fe
	}

	if !json.Valid(b) {
		f.metrics.IncFetch(metrics.ResultHTTPError)
		return nil, fmt.Errorf("%s %s: %w", method, endpoint, ErrInvalidPayload)
	}

	f.metrics.IncFetch(metrics.ResultOK)
	f.logger.DebugContext(ctx, "request succeeded", "method", method, "endpoint", endpoint, "status", resp.StatusCode)

	return json.RawMessage(b), nil
}

func errorMessage(b []byte) string {
	var eb errorBody
	if err := json.Unmarshal(b, &eb); err != nil {
		return messageUnknown
	}
	if eb.Error == "" {
		return messageLoadFailed
	}
	return eb.Error
}
