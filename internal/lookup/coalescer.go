// Package lookup answers coordinate lookups from a cache, folds concurrent
// callers for the same key onto one dispatch, and limits the upstream to
// one immediate dispatch per quiet window plus one trailing dispatch for
// everything that queued up meanwhile.
package lookup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"geocode_gateway/internal/cache"
	"geocode_gateway/internal/fetch"
	"geocode_gateway/internal/obs"
	"geocode_gateway/internal/schedule"
)

const (
	DefaultQuietWindow  = time.Second
	DefaultFetchTimeout = 5 * time.Second
)

var (
	ErrClosed     = errors.New("lookup coalescer closed")
	ErrInvalidKey = errors.New("lookup key must have finite coordinates")
)

type Config struct {
	Fetcher   fetch.Fetcher
	Store     cache.Store
	Pending   *cache.PendingTable
	Scheduler schedule.Scheduler
	Metrics   *obs.Metrics
	// QuietWindow is the delay D after a settlement, or after the last
	// queued call, before a deferred dispatch may fire.
	QuietWindow  time.Duration
	FetchTimeout time.Duration
	// LogDispatches writes one JSON line per outbound call.
	LogDispatches bool
}

type Coalescer struct {
	fetcher       fetch.Fetcher
	store         cache.Store
	pending       *cache.PendingTable
	scheduler     schedule.Scheduler
	metrics       *obs.Metrics
	quietWindow   time.Duration
	fetchTimeout  time.Duration
	logDispatches bool

	baseCtx context.Context
	cancel  context.CancelFunc

	mu          sync.Mutex
	closed      bool
	slot        Slot
	latest      cache.Key
	waiters     []*cache.Flight
	release     schedule.Timer
	releaseGen  uint64
	trailing    schedule.Timer
	trailingGen uint64
}

func NewCoalescer(cfg Config) (*Coalescer, error) {
	if cfg.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if cfg.QuietWindow < 0 {
		return nil, errors.New("quiet window must be non-negative")
	}
	if cfg.FetchTimeout < 0 {
		return nil, errors.New("fetch timeout must be non-negative")
	}
	if cfg.Store == nil {
		cfg.Store = cache.NewMemoryStore()
	}
	if cfg.Pending == nil {
		cfg.Pending = cache.NewPendingTable()
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = schedule.Real{}
	}
	if cfg.QuietWindow == 0 {
		cfg.QuietWindow = DefaultQuietWindow
	}
	if cfg.FetchTimeout == 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coalescer{
		fetcher:       cfg.Fetcher,
		store:         cfg.Store,
		pending:       cfg.Pending,
		scheduler:     cfg.Scheduler,
		metrics:       cfg.Metrics,
		quietWindow:   cfg.QuietWindow,
		fetchTimeout:  cfg.FetchTimeout,
		logDispatches: cfg.LogDispatches,
		baseCtx:       ctx,
		cancel:        cancel,
	}, nil
}

// Lookup submits key and waits for its settlement. ctx bounds only this
// caller's wait; the dispatch it joined keeps running for the others.
func (c *Coalescer) Lookup(ctx context.Context, key cache.Key) (cache.Entry, Source, error) {
	flight, source := c.Submit(key)
	entry, err := flight.Wait(ctx)
	return entry, source, err
}

// Submit never blocks. The returned flight settles exactly once.
func (c *Coalescer) Submit(key cache.Key) (*cache.Flight, Source) {
	if !key.Valid() {
		c.metrics.RecordLookup(string(SourceRejected))
		return cache.FailedFlight(ErrInvalidKey), SourceRejected
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.metrics.RecordLookup(string(SourceRejected))
		return cache.FailedFlight(ErrClosed), SourceRejected
	}
	if entry, ok := c.store.Get(key); ok {
		c.mu.Unlock()
		c.metrics.RecordLookup(string(SourceHit))
		return cache.ResolvedFlight(entry), SourceHit
	}
	if flight, ok := c.pending.Get(key); ok {
		c.mu.Unlock()
		c.metrics.RecordLookup(string(SourceDedup))
		return flight, SourceDedup
	}
	if c.slot == SlotIdle {
		flight := c.startLocked(key, nil, kindImmediate)
		c.mu.Unlock()
		c.metrics.RecordLookup(string(SourceImmediate))
		return flight, SourceImmediate
	}

	waiter := cache.NewFlight()
	c.waiters = append(c.waiters, waiter)
	c.latest = key
	c.armTrailingLocked()
	depth := len(c.waiters)
	c.mu.Unlock()

	c.metrics.RecordLookup(string(SourceQueued))
	c.metrics.SetQueueDepth(depth)
	return waiter, SourceQueued
}

func (c *Coalescer) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Slot:         c.slot.String(),
		Waiters:      len(c.waiters),
		Pending:      c.pending.Len(),
		CacheEntries: c.store.Len(),
		Closed:       c.closed,
	}
}

// Close stops both timers, cancels running dispatches and fails queued
// callers with ErrClosed. It is safe to call more than once.
func (c *Coalescer) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.stopReleaseLocked()
	c.stopTrailingLocked()
	waiters := c.waiters
	c.waiters = nil
	c.latest = cache.Key{}
	c.mu.Unlock()

	c.cancel()
	for _, waiter := range waiters {
		waiter.Fail(ErrClosed)
	}
	c.metrics.SetQueueDepth(0)
	return nil
}

// Stop adapts Close to the server's shutdown sequence.
func (c *Coalescer) Stop(_ context.Context) error {
	return c.Close()
}

func (c *Coalescer) startLocked(key cache.Key, waiters []*cache.Flight, kind dispatchKind) *cache.Flight {
	flight := cache.NewFlight()
	c.pending.Set(key, flight)
	c.slot = SlotActive
	c.stopReleaseLocked()
	go c.dispatch(key, flight, waiters, kind)
	return flight
}

func (c *Coalescer) dispatch(key cache.Key, flight *cache.Flight, waiters []*cache.Flight, kind dispatchKind) {
	started := time.Now()
	ctx, cancel := context.WithTimeout(c.baseCtx, c.fetchTimeout)
	entry, err := c.fetcher.Fetch(ctx, key)
	cancel()
	c.settle(key, flight, waiters, kind, entry, err, time.Since(started))
}

func (c *Coalescer) settle(key cache.Key, flight *cache.Flight, waiters []*cache.Flight, kind dispatchKind, entry cache.Entry, err error, elapsed time.Duration) {
	c.mu.Lock()
	c.pending.Remove(key, flight)
	if err == nil {
		c.store.Put(key, entry)
		if stored, ok := c.store.Get(key); ok {
			entry = stored
		}
	}
	closed := c.closed
	if !closed {
		c.slot = SlotCooldown
		c.armReleaseLocked()
	}
	entries := c.store.Len()
	c.mu.Unlock()

	category := fetch.ClassifyError(err)
	switch {
	case err == nil:
		flight.Resolve(entry)
		resolveAll(waiters, entry)
	case closed:
		// Close cut the call short; an absent value would read as "nothing here".
		flight.Fail(ErrClosed)
		failAll(waiters, ErrClosed)
	case kind == kindImmediate:
		flight.Fail(fmt.Errorf("lookup %s: %w", key, err))
	default:
		// A failed deferred dispatch answers everyone with the absent value.
		flight.Resolve(cache.Entry{})
		resolveAll(waiters, cache.Entry{})
	}

	c.metrics.RecordDispatch(string(kind), category, elapsed)
	c.metrics.RecordWaitersResolved(len(waiters))
	c.metrics.SetCacheEntries(entries)
	if c.logDispatches {
		obs.LogDispatch(obs.DispatchContext{
			Key:           key.String(),
			Kind:          string(kind),
			Waiters:       len(waiters),
			Duration:      elapsed,
			Found:         entry.Found,
			Reason:        entry.Reason,
			ErrorCategory: category,
		})
	}
}

func (c *Coalescer) onRelease(gen uint64) {
	c.mu.Lock()
	if c.closed || gen != c.releaseGen {
		c.mu.Unlock()
		return
	}
	c.release = nil
	if c.slot != SlotCooldown {
		c.mu.Unlock()
		return
	}
	if len(c.waiters) == 0 {
		c.slot = SlotIdle
		c.mu.Unlock()
		return
	}
	after := c.fireDeferredLocked()
	c.mu.Unlock()
	after()
}

func (c *Coalescer) onTrailing(gen uint64) {
	c.mu.Lock()
	if c.closed || gen != c.trailingGen {
		c.mu.Unlock()
		return
	}
	c.trailing = nil
	// An empty queue means the release timer got there first; a running
	// dispatch hands the queue to its own release timer.
	if len(c.waiters) == 0 || c.slot == SlotActive {
		c.mu.Unlock()
		return
	}
	after := c.fireDeferredLocked()
	c.mu.Unlock()
	after()
}

// fireDeferredLocked drains the queue into one dispatch for the latest key.
// The returned func must run after the lock is released.
func (c *Coalescer) fireDeferredLocked() func() {
	waiters := c.waiters
	key := c.latest
	c.waiters = nil
	c.latest = cache.Key{}
	c.stopTrailingLocked()
	c.stopReleaseLocked()

	if entry, ok := c.store.Get(key); ok {
		c.slot = SlotCooldown
		c.armReleaseLocked()
		return func() {
			resolveAll(waiters, entry)
			c.metrics.RecordWaitersResolved(len(waiters))
			c.metrics.SetQueueDepth(0)
		}
	}
	c.startLocked(key, waiters, kindDeferred)
	return func() {
		c.metrics.SetQueueDepth(0)
	}
}

func (c *Coalescer) armReleaseLocked() {
	c.stopReleaseLocked()
	gen := c.releaseGen
	c.release = c.scheduler.Schedule(c.quietWindow, func() { c.onRelease(gen) })
}

func (c *Coalescer) armTrailingLocked() {
	c.stopTrailingLocked()
	gen := c.trailingGen
	c.trailing = c.scheduler.Schedule(c.quietWindow, func() { c.onTrailing(gen) })
}

// Stopping bumps the generation so a callback that already escaped Stop
// finds itself stale.
func (c *Coalescer) stopReleaseLocked() {
	if c.release != nil {
		c.release.Stop()
		c.release = nil
	}
	c.releaseGen++
}

func (c *Coalescer) stopTrailingLocked() {
	if c.trailing != nil {
		c.trailing.Stop()
		c.trailing = nil
	}
	c.trailingGen++
}

func resolveAll(waiters []*cache.Flight, entry cache.Entry) {
	for _, waiter := range waiters {
		waiter.Resolve(entry)
	}
}

func failAll(waiters []*cache.Flight, err error) {
	for _, waiter := range waiters {
		waiter.Fail(err)
	}
}
