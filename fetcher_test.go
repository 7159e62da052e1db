package goswrcache_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	goswrcache "github.com/dgduncan/go-swr-cache"
	"github.com/dgduncan/go-swr-cache/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetcherFetch(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		wantBody    string
		wantStatus  int
		wantMessage string
		wantInvalid bool
	}{
		{
			name:     "ok returns the body verbatim",
			status:   http.StatusOK,
			body:     `[{"id": "s1", "name": "Nursing"}]`,
			wantBody: `[{"id": "s1", "name": "Nursing"}]`,
		},
		{
			name:        "server message is surfaced",
			status:      http.StatusInternalServerError,
			body:        `{"error":"database down"}`,
			wantStatus:  http.StatusInternalServerError,
			wantMessage: "database down",
		},
		{
			name:        "json body without error field",
			status:      http.StatusNotFound,
			body:        `{"detail":"nope"}`,
			wantStatus:  http.StatusNotFound,
			wantMessage: "failed to load data",
		},
		{
			name:        "unparsable error body",
			status:      http.StatusBadGateway,
			body:        `<html>bad gateway</html>`,
			wantStatus:  http.StatusBadGateway,
			wantMessage: "unknown error",
		},
		{
			name:        "invalid json on success",
			status:      http.StatusOK,
			body:        `not json`,
			wantInvalid: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "application/json", r.Header.Get("Accept"))
				assert.NotEmpty(t, r.URL.Query().Get("_t"))
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			counters := metrics.NewSimple()
			f := goswrcache.NewFetcher(goswrcache.Config{BaseURL: server.URL}, nil, nil, counters)

			got, err := f.Fetch(context.Background(), goswrcache.KeyServices)
			switch {
			case tt.wantInvalid:
				assert.ErrorIs(t, err, goswrcache.ErrInvalidPayload)
				assert.EqualValues(t, 1, counters.FetchFailed.Load())
			case tt.wantMessage != "":
				var fe *goswrcache.FetchError
				require.True(t, errors.As(err, &fe))
				assert.Equal(t, tt.wantStatus, fe.Status)
				assert.Equal(t, tt.wantMessage, fe.Message)
				assert.EqualError(t, err, tt.wantMessage)
				assert.EqualValues(t, 1, counters.FetchFailed.Load())
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.wantBody, string(got))
				assert.EqualValues(t, 1, counters.FetchOK.Load())
			}
		})
	}
}

func TestFetcherTransportError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	counters := metrics.NewSimple()
	f := goswrcache.NewFetcher(goswrcache.Config{BaseURL: url}, nil, nil, counters)

	_, err := f.Fetch(context.Background(), goswrcache.KeyStaff)
	require.Error(t, err)

	var fe *goswrcache.FetchError
	assert.False(t, errors.As(err, &fe))
	assert.EqualValues(t, 1, counters.FetchFailed.Load())
}

func TestFetcherSend(t *testing.T) {
	received := make(chan *http.Request, 1)
	bodies := make(chan string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		received <- r.Clone(r.Context())
		bodies <- string(b)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"p9","name":"Mehmet"}`))
	}))
	defer server.Close()

	f := goswrcache.NewFetcher(goswrcache.Config{BaseURL: server.URL + "/"}, nil, nil, nil)

	got, err := f.Send(context.Background(), http.MethodPost, goswrcache.KeyPatients, map[string]string{"name": "Mehmet"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"p9","name":"Mehmet"}`, string(got))

	r := <-received
	assert.Equal(t, http.MethodPost, r.Method)
	assert.Equal(t, goswrcache.KeyPatients, r.URL.Path)
	// writes are not busted
	assert.Empty(t, r.URL.Query().Get("_t"))
	assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
	assert.JSONEq(t, `{"name":"Mehmet"}`, <-bodies)
}

func TestFetcherRateLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	f := goswrcache.NewFetcher(goswrcache.Config{
		BaseURL:           server.URL,
		RequestsPerSecond: 1,
		Burst:             1,
	}, nil, nil, nil)

	_, err := f.Fetch(context.Background(), goswrcache.KeyStaff)
	require.NoError(t, err)

	// the bucket is empty, so the next request cannot start before the deadline
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = f.Fetch(ctx, goswrcache.KeyStaff)
	assert.Error(t, err)
}
