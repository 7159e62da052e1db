package goswrcache

import (
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	headerCacheControl = "Cache-Control"
	headerPragma       = "Pragma"
	headerExpires      = "Expires"

	directiveNoStore = "no-cache, no-store, must-revalidate, proxy-revalidate"

	// BustParam is the query parameter carrying the uniqueness token. It is never part
	// of a cache key.
	BustParam = "_t"
)

// BustTransport implements http.RoundTripper and defeats every cache between the
// client and the origin: it adds no-store directives and a wall-clock token to the
// request URL of every GET.
type BustTransport struct {
	Wrapped http.RoundTripper

	now func() time.Time
}

// RoundTrip sends r with cache-defeating headers and a unique URL. Requests other than
// GET are passed through untouched. The caller's request is never modified.
func (b *BustTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if r.Method != http.MethodGet && r.Method != "" {
		return b.Wrapped.RoundTrip(r)
	}

	out := r.Clone(r.Context())
	out.URL = BustURL(r.URL, strconv.FormatInt(b.now().UnixNano(), 10))
	out.Header.Set(headerCacheControl, directiveNoStore)
	out.Header.Set(headerPragma, "no-cache")
	out.Header.Set(headerExpires, "0")

	return b.Wrapped.RoundTrip(out)
}

// BustURL returns a copy of u with the uniqueness token appended to its query. Any
// existing query parameters are preserved.
func BustURL(u *url.URL, token string) *url.URL {
	out := *u
	q := out.Query()
	q.Set(BustParam, token)
	out.RawQuery = q.Encode()
	return &out
}

// NewBustTransport creates a transport middleware that makes every GET bypass browser,
// proxy and server-side response caches. If now is nil, time.Now is used.
func NewBustTransport(now func() time.Time) func(http.RoundTripper) http.RoundTripper {
	if now == nil {
		now = time.Now
	}

	return func(rt http.RoundTripper) http.RoundTripper {
		if rt == nil {
			rt = http.DefaultTransport
		}
		return &BustTransport{Wrapped: rt, now: now}
	}
}
