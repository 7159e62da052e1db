package goswrcache

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dgduncan/go-swr-cache/metrics"
	"github.com/dgduncan/go-swr-cache/reactive"
)

// State is a step of a Preloader's lifecycle. Done is terminal.
type State int32

const (
	StateIdle State = iota
	StateCheckingMirror
	StateAllFresh
	StateFetching
	StateTimedOut
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCheckingMirror:
		return "checking_mirror"
	case StateAllFresh:
		return "all_fresh"
	case StateFetching:
		return "fetching"
	case StateTimedOut:
		return "timed_out"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// PreloadOptions configures one page mount.
type PreloadOptions struct {
	// Timeout forces completion if the fetches take longer. Zero uses the client's
	// PreloadTimeout.
	Timeout time.Duration

	// OnLoading is called with true when network loading starts and with false exactly
	// once when loading is complete. It is not called with true on the all-fresh path.
	OnLoading func(loading bool)
}

// Preloader warms the reactive store with every endpoint of a manifest before a page
// reveals its content. A Preloader serves a single page mount; create a new one with
// Client.Mount for every mount.
type Preloader struct {
	client    *Client
	manifest  Manifest
	timeout   time.Duration
	onLoading func(bool)

	state    atomic.Int32
	timedOut atomic.Bool

	start    sync.Once
	complete sync.Once
	done     chan struct{}
	settled  chan struct{}

	mu      sync.Mutex
	results map[string]error
}

// Mount prepares a preload of m for one page mount. Repeated keys in m are ignored.
func (c *Client) Mount(m Manifest, opts PreloadOptions) *Preloader {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.cfg.PreloadTimeout
	}

	return &Preloader{
		client:    c,
		manifest:  Merge(m),
		timeout:   timeout,
		onLoading: opts.OnLoading,
		done:      make(chan struct{}),
		settled:   make(chan struct{}),
		results:   make(map[string]error),
	}
}

// Run starts the preload and returns a channel closed once loading is complete. Only
// the first call does any work; later calls return the same channel.
//
// When every endpoint is fresh in the mirror, the store is filled from the mirror and
// the channel is closed before Run returns. Otherwise every endpoint is fetched in
// parallel and the channel closes when all of them settle or the timeout fires,
// whichever comes first.
func (p *Preloader) Run(ctx context.Context) <-chan struct{} {
	p.start.Do(func() {
		p.run(ctx)
	})
	return p.done
}

// Done is closed once loading is complete.
func (p *Preloader) Done() <-chan struct{} { return p.done }

// Settled is closed once every fetch has finished, including those that outlived the
// timeout.
func (p *Preloader) Settled() <-chan struct{} { return p.settled }

// State reports the current lifecycle step.
func (p *Preloader) State() State { return State(p.state.Load()) }

// TimedOut reports whether completion was forced by the timeout.
func (p *Preloader) TimedOut() bool { return p.timedOut.Load() }

// Results returns the fetch error per endpoint key; nil means loaded. Endpoints still
// in flight are absent.
func (p *Preloader) Results() map[string]error {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]error, len(p.results))
	for k, v := range p.results {
		out[k] = v
	}
	return out
}

func (p *Preloader) run(ctx context.Context) {
	c := p.client
	p.state.Store(int32(StateCheckingMirror))
	started := c.now()

	cached := make([]json.RawMessage, 0, len(p.manifest))
	for _, e := range p.manifest {
		v, ok := c.mirror.Get(ctx, e.Key)
		if !ok {
			break
		}
		cached = append(cached, v)
	}

	if len(cached) == len(p.manifest) {
		for i, e := range p.manifest {
			// a value already in the store is newer than the mirror
			c.store.Update(e.Key, func(_ json.RawMessage, ok bool) (json.RawMessage, bool) {
				return cached[i], !ok
			}, reactive.WriteOptions{})
			p.record(e.Key, nil)
		}
		p.state.Store(int32(StateAllFresh))
		c.logger.DebugContext(ctx, "preload served from mirror", "endpoints", len(p.manifest))
		p.finish(metrics.OutcomeFresh)
		close(p.settled)
		return
	}

	p.state.Store(int32(StateFetching))
	c.logger.DebugContext(ctx, "preload fetching", "endpoints", len(p.manifest))
	if p.onLoading != nil {
		p.onLoading(true)
	}

	timer := time.AfterFunc(p.timeout, func() {
		if p.finish(metrics.OutcomeTimeout) {
			c.logger.WarnContext(ctx, "preload timed out, revealing content", "timeout", p.timeout)
		}
	})

	// fetches are not tied to the mount: they complete and write through even after the
	// caller is gone or the timeout fired
	fctx := context.WithoutCancel(ctx)

	go func() {
		defer close(p.settled)

		var g errgroup.Group
		for _, e := range p.manifest {
			g.Go(func() error {
				p.load(fctx, e)
				return nil
			})
		}
		_ = g.Wait()

		timer.Stop()
		c.logger.DebugContext(ctx, "preload settled", "elapsed", c.now().Sub(started))
		p.finish(metrics.OutcomeFetched)
	}()
}

// load fetches one endpoint. A failure degrades the key to its empty shape unless the
// store already shows a value. A result is dropped when the key was written while it
// was in flight.
func (p *Preloader) load(ctx context.Context, e Endpoint) {
	c := p.client

	ctx, cancel := context.WithTimeout(ctx, c.cfg.BackgroundTimeout)
	defer cancel()

	gen := c.store.Generation(e.Key)
	v, err := c.fetcher.Fetch(ctx, e.Key)
	p.record(e.Key, err)
	if err != nil {
		c.logger.WarnContext(ctx, "preload fetch failed", "key", e.Key, "error", err)
		c.store.Update(e.Key, func(_ json.RawMessage, ok bool) (json.RawMessage, bool) {
			return e.Shape.Empty(), !ok
		}, reactive.WriteOptions{})
		return
	}

	if !c.commit(ctx, e.Key, gen, v) {
		c.logger.DebugContext(ctx, "key changed during preload, keeping newer value", "key", e.Key)
	}
}

func (p *Preloader) record(key string, err error) {
	p.mu.Lock()
	p.results[key] = err
	p.mu.Unlock()
}

// finish signals completion once. It reports whether this call was the one that did.
func (p *Preloader) finish(outcome string) bool {
	finished := false
	p.complete.Do(func() {
		finished = true
		if outcome == metrics.OutcomeTimeout {
			p.timedOut.Store(true)
			p.state.Store(int32(StateTimedOut))
		}
		p.state.Store(int32(StateDone))
		p.client.metrics.IncPreload(outcome)
		if p.onLoading != nil {
			p.onLoading(false)
		}
		close(p.done)
	})
	return finished
}
