package metrics

import "sync/atomic"

// Fetch results.
const (
	ResultOK             = "ok"
	ResultHTTPError      = "http_error"
	ResultTransportError = "transport_error"
)

// Preload outcomes.
const (
	OutcomeFresh   = "fresh"
	OutcomeFetched = "fetched"
	OutcomeTimeout = "timeout"
)

// Interface is the set of counters updated by the cache layer.
type Interface interface {
	IncMirrorHit()
	IncMirrorMiss()
	IncMirrorExpired()
	IncMirrorError()
	IncFetch(result string)
	IncRefreshFailure()
	IncPreload(outcome string)
}

// Noop discards every update.
type Noop struct{}

func (Noop) IncMirrorHit()       {}
func (Noop) IncMirrorMiss()      {}
func (Noop) IncMirrorExpired()   {}
func (Noop) IncMirrorError()     {}
func (Noop) IncFetch(_ string)   {}
func (Noop) IncRefreshFailure()  {}
func (Noop) IncPreload(_ string) {}

// Simple keeps counters in memory. It is handy in tests and for ad-hoc reporting.
type Simple struct {
	MirrorHit      atomic.Uint64
	MirrorMiss     atomic.Uint64
	MirrorExpired  atomic.Uint64
	MirrorError    atomic.Uint64
	FetchOK        atomic.Uint64
	FetchFailed    atomic.Uint64
	RefreshFailure atomic.Uint64
	PreloadFresh   atomic.Uint64
	PreloadFetched atomic.Uint64
	PreloadTimeout atomic.Uint64
}

// NewSimple creates zeroed counters.
func NewSimple() *Simple { return &Simple{} }

func (m *Simple) IncMirrorHit()      { m.MirrorHit.Add(1) }
func (m *Simple) IncMirrorMiss()     { m.MirrorMiss.Add(1) }
func (m *Simple) IncMirrorExpired()  { m.MirrorExpired.Add(1) }
func (m *Simple) IncMirrorError()    { m.MirrorError.Add(1) }
func (m *Simple) IncRefreshFailure() { m.RefreshFailure.Add(1) }

func (m *Simple) IncFetch(result string) {
	if result == ResultOK {
		m.FetchOK.Add(1)
		return
	}
	m.FetchFailed.Add(1)
}

func (m *Simple) IncPreload(outcome string) {
	switch outcome {
	case OutcomeFresh:
		m.PreloadFresh.Add(1)
	case OutcomeFetched:
		m.PreloadFetched.Add(1)
	case OutcomeTimeout:
		m.PreloadTimeout.Add(1)
	}
}
