package goswrcache_test

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	goswrcache "github.com/dgduncan/go-swr-cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTime() time.Time {
	return time.Date(2023, 1, 1, 12, 0, 0, 0, time.UTC)
}

func TestBustURL(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		token   string
		wantQry url.Values
	}{
		{
			name:    "no query",
			in:      "http://care.test/api/patients",
			token:   "1",
			wantQry: url.Values{"_t": {"1"}},
		},
		{
			name:    "existing query kept",
			in:      "http://care.test/api/services?all=true",
			token:   "42",
			wantQry: url.Values{"all": {"true"}, "_t": {"42"}},
		},
		{
			name:    "stale token replaced",
			in:      "http://care.test/api/staff?_t=1",
			token:   "2",
			wantQry: url.Values{"_t": {"2"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := url.Parse(tt.in)
			require.NoError(t, err)

			got := goswrcache.BustURL(u, tt.token)
			assert.Equal(t, tt.wantQry, got.Query())
			assert.Equal(t, u.Path, got.Path)
			// input is not mutated
			assert.Equal(t, tt.in, u.String())
		})
	}
}

func TestBustTransport(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		method     string
		expectBust bool
	}{
		{
			name:       "GET is busted",
			method:     http.MethodGet,
			expectBust: true,
		},
		{
			name:       "POST passes through",
			method:     http.MethodPost,
			expectBust: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			received := make(chan *http.Request, 1)
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				received <- r.Clone(r.Context())
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			now := testTime()
			client := &http.Client{
				Transport: goswrcache.NewBustTransport(func() time.Time { return now })(http.DefaultTransport),
			}

			req, err := http.NewRequest(tt.method, server.URL+"/api/patients?search=ay", nil)
			require.NoError(t, err)

			resp, err := client.Do(req)
			require.NoError(t, err)
			resp.Body.Close()

			got := <-received
			assert.Equal(t, "ay", got.URL.Query().Get("search"))
			if tt.expectBust {
				assert.Equal(t, "1672574400000000000", got.URL.Query().Get("_t"))
				assert.Equal(t, "no-cache, no-store, must-revalidate, proxy-revalidate", got.Header.Get("Cache-Control"))
				assert.Equal(t, "no-cache", got.Header.Get("Pragma"))
				assert.Equal(t, "0", got.Header.Get("Expires"))
			} else {
				assert.Empty(t, got.URL.Query().Get("_t"))
				assert.Empty(t, got.Header.Get("Pragma"))
			}

			// the caller's request keeps its logical URL
			assert.Empty(t, req.URL.Query().Get("_t"))
		})
	}
}
