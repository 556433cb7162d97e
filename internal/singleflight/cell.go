// Package singleflight implements C3, the coalesced single-flight cell: a
// generic "fetch once per key, serve stale while revalidating" primitive.
//
// Grounded on original_source/src/cached.rs's Cached<T>. Rust's
// Arc<Weak<broadcast::Sender>> trick exists to let the inflight slot
// self-clear once nothing references the Sender anymore; Go has no
// broadcast channel and no weak pointers, so the equivalent here clears the
// inflight slot explicitly, under the same mutex, from the goroutine that
// ran the fetch — same observable protocol, without needing a Weak.
package singleflight

import (
	"context"
	"sync"
	"time"
)

// Fetcher is called at most once per refresh, never concurrently with
// another Fetcher call for the same Cell. stale is the previously cached
// value, if any, passed through so a refresh can make a conditional
// request (e.g. If-None-Match) — callers that don't need it just ignore it.
type Fetcher[T any] func(ctx context.Context, stale *T) (T, error)

type inflightCall[T any] struct {
	done  chan struct{}
	value T
	err   error
}

// Cell coalesces concurrent fetches for a single logical resource and
// serves the last good value immediately while a refresh runs in the
// background (stale-while-revalidate, O2).
type Cell[T any] struct {
	mu              sync.Mutex
	hasValue        bool
	value           T
	fetchedAt       time.Time
	refreshInterval time.Duration
	inflight        *inflightCall[T]
}

// NewCell constructs a Cell whose cached value is considered fresh for
// refreshInterval after each successful fetch.
func NewCell[T any](refreshInterval time.Duration) *Cell[T] {
	return &Cell[T]{refreshInterval: refreshInterval}
}

// Get returns the cell's current value, calling fetch at most once to
// populate or refresh it. Protocol (mirrors Cached::get_cached):
//
//  1. fresh cached value present -> return it immediately, no fetch.
//  2. stale cached value present, no fetch inflight -> start a fetch in the
//     background and return the stale value immediately (O2).
//  3. stale cached value present, a fetch already inflight -> return the
//     stale value immediately without waiting on the inflight fetch.
//  4. no cached value, no fetch inflight -> start a fetch and block until
//     it completes.
//  5. no cached value, a fetch already inflight -> block on that fetch.
func (c *Cell[T]) Get(ctx context.Context, fetch Fetcher[T]) (T, error) {
	c.mu.Lock()

	if c.hasValue && time.Since(c.fetchedAt) < c.refreshInterval {
		v := c.value
		c.mu.Unlock()
		return v, nil
	}

	var stale *T
	if c.hasValue {
		v := c.value
		stale = &v
	}

	if c.inflight != nil {
		if stale != nil {
			c.mu.Unlock()
			return *stale, nil
		}
		call := c.inflight
		c.mu.Unlock()
		return c.wait(ctx, call)
	}

	call := &inflightCall[T]{done: make(chan struct{})}
	c.inflight = call
	c.mu.Unlock()

	go c.runFetch(call, stale, fetch)

	if stale != nil {
		return *stale, nil
	}
	return c.wait(ctx, call)
}

func (c *Cell[T]) runFetch(call *inflightCall[T], stale *T, fetch Fetcher[T]) {
	value, err := fetch(context.Background(), stale)

	c.mu.Lock()
	c.inflight = nil
	if err == nil {
		c.value = value
		c.hasValue = true
		c.fetchedAt = time.Now()
	}
	c.mu.Unlock()

	call.value = value
	call.err = err
	close(call.done)
}

func (c *Cell[T]) wait(ctx context.Context, call *inflightCall[T]) (T, error) {
	select {
	case <-call.done:
		return call.value, call.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
