// Package reactive holds the in-memory current value per key and pushes every change
// to the listeners subscribed to that key.
package reactive

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Listener receives the new value of a key.
//
// Listeners of one key are called one value at a time, in the order the values were
// stored. A listener that falls behind may skip intermediate values but always ends on
// the value the store holds. Listeners may write to the store; such writes are
// delivered once the current call returns.
type Listener func(key string, value json.RawMessage)

// Revalidator reloads key from its source. gen is the generation of key when the
// reload was requested; the result should be committed with CompareAndWrite so that
// it is dropped when key was written or invalidated in the meantime.
type Revalidator func(ctx context.Context, key string, gen uint64) error

// WriteOptions controls a manual write.
type WriteOptions struct {
	// Revalidate triggers a background reload of the key after the write.
	Revalidate bool
}

// Option configures a Store.
type Option func(*Store)

// WithRevalidator sets the function used by Revalidate.
func WithRevalidator(r Revalidator) Option {
	return func(s *Store) { s.revalidate = r }
}

// WithContext sets the parent context for background revalidations.
func WithContext(ctx context.Context) Option {
	return func(s *Store) { s.ctx = ctx }
}

type subscription struct {
	id uint64
	fn Listener
}

type entry struct {
	value json.RawMessage
	set   bool

	// gen grows with every write and invalidation.
	gen uint64

	writes      uint64
	notified    uint64
	dispatching bool

	subs []subscription
}

// Store is safe for concurrent use. Values are copied on the way in and out, so
// nobody can mutate a stored payload in place.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
	nextID  uint64

	ctx        context.Context
	revalidate Revalidator
	group      singleflight.Group
	wg         sync.WaitGroup
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		entries: make(map[string]*entry),
		ctx:     context.Background(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// entry returns the entry of key, creating it. s.mu must be held.
func (s *Store) entry(key string) *entry {
	e := s.entries[key]
	if e == nil {
		e = &entry{}
		s.entries[key] = e
	}
	return e
}

// Read returns the current value of key.
func (s *Store) Read(key string) (json.RawMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entries[key]
	if e == nil || !e.set {
		return nil, false
	}
	return clone(e.value), true
}

// Generation returns the current generation of key. It is zero for a key that was
// never written or invalidated.
func (s *Store) Generation(key string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e := s.entries[key]; e != nil {
		return e.gen
	}
	return 0
}

// Subscribe registers fn for changes of key. The returned function removes it.
func (s *Store) Subscribe(key string, fn Listener) (cancel func()) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	e := s.entry(key)
	e.subs = append(e.subs, subscription{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()

			e := s.entries[key]
			for i, sub := range e.subs {
				if sub.id == id {
					e.subs = append(e.subs[:i:i], e.subs[i+1:]...)
					break
				}
			}
		})
	}
}

// Write replaces the value of key, notifies its listeners and returns the new
// generation.
func (s *Store) Write(key string, value json.RawMessage, opts WriteOptions) uint64 {
	gen, _ := s.Update(key, func(json.RawMessage, bool) (json.RawMessage, bool) {
		return value, true
	}, opts)
	return gen
}

// CompareAndWrite replaces the value of key only if its generation is still gen. It
// returns the new generation and whether the write happened.
func (s *Store) CompareAndWrite(key string, gen uint64, value json.RawMessage) (uint64, bool) {
	s.mu.Lock()
	if e := s.entries[key]; (e == nil && gen != 0) || (e != nil && e.gen != gen) {
		s.mu.Unlock()
		return 0, false
	}
	next := s.store(key, value)
	s.mu.Unlock()

	s.dispatch(key)
	return next, true
}

// Update atomically computes the next value of key from the current one. If fn
// returns false the store is left untouched and nobody is notified. It returns the
// generation of key after the call and whether a write happened.
func (s *Store) Update(key string, fn func(current json.RawMessage, ok bool) (json.RawMessage, bool), opts WriteOptions) (uint64, bool) {
	s.mu.Lock()
	var cur json.RawMessage
	var ok bool
	if e := s.entries[key]; e != nil && e.set {
		cur, ok = clone(e.value), true
	}
	next, write := fn(cur, ok)
	if !write {
		gen := uint64(0)
		if e := s.entries[key]; e != nil {
			gen = e.gen
		}
		s.mu.Unlock()
		return gen, false
	}
	gen := s.store(key, next)
	s.mu.Unlock()

	s.dispatch(key)

	if opts.Revalidate {
		s.Revalidate(key)
	}
	return gen, true
}

// Invalidate advances the generation of key without changing its value. Reloads
// requested before the call can no longer commit, and the next Revalidate starts a
// new one instead of joining them.
func (s *Store) Invalidate(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entry(key).gen++
}

// store sets the value of key. s.mu must be held.
func (s *Store) store(key string, value json.RawMessage) uint64 {
	e := s.entry(key)
	e.value = clone(value)
	e.set = true
	e.gen++
	e.writes++
	return e.gen
}

// dispatch delivers the latest value of key to its listeners until they have seen
// every write. Only one goroutine dispatches a key at a time; the others leave their
// write to it.
func (s *Store) dispatch(key string) {
	s.mu.Lock()
	e := s.entries[key]
	if e.dispatching {
		s.mu.Unlock()
		return
	}
	e.dispatching = true

	for e.notified < e.writes {
		e.notified = e.writes
		value := clone(e.value)
		listeners := make([]Listener, 0, len(e.subs))
		for _, sub := range e.subs {
			listeners = append(listeners, sub.fn)
		}
		s.mu.Unlock()

		for _, l := range listeners {
			l(key, clone(value))
		}

		s.mu.Lock()
	}

	e.dispatching = false
	s.mu.Unlock()
}

// Revalidate reloads key in the background. Concurrent revalidations of the same key
// and generation share a single call to the Revalidator. It is a no-op without a
// Revalidator.
func (s *Store) Revalidate(key string) {
	if s.revalidate == nil {
		return
	}

	gen := s.Generation(key)
	flight := key + "@" + strconv.FormatUint(gen, 10)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_, _, _ = s.group.Do(flight, func() (any, error) {
			return nil, s.revalidate(s.ctx, key, gen)
		})
	}()
}

// Wait blocks until every background revalidation started so far has finished.
func (s *Store) Wait() {
	s.wg.Wait()
}

// Keys returns the keys that currently hold a value.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.entries))
	for k, e := range s.entries {
		if e.set {
			keys = append(keys, k)
		}
	}
	return keys
}

func clone(v json.RawMessage) json.RawMessage {
	if v == nil {
		return nil
	}
	return append(json.RawMessage(nil), v...)
}
