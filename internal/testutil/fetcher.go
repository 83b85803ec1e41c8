package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"geocode_gateway/internal/cache"
)

// FakeFetcher records every key it is asked for. It either answers straight
// away through a respond function or holds each call until the test
// replies to it.
type FakeFetcher struct {
	mu      sync.Mutex
	keys    []cache.Key
	respond func(cache.Key) (cache.Entry, error)
	held    chan *HeldFetch
}

type HeldFetch struct {
	Key   cache.Key
	reply chan fakeReply
}

type fakeReply struct {
	entry cache.Entry
	err   error
}

func NewFakeFetcher(respond func(cache.Key) (cache.Entry, error)) *FakeFetcher {
	if respond == nil {
		respond = func(key cache.Key) (cache.Entry, error) {
			return cache.Entry{Name: key.String(), Found: true}, nil
		}
	}
	return &FakeFetcher{respond: respond}
}

// NewHeldFetcher returns a fetcher whose calls block until Reply is called.
func NewHeldFetcher() *FakeFetcher {
	return &FakeFetcher{held: make(chan *HeldFetch, 64)}
}

func (f *FakeFetcher) Fetch(ctx context.Context, key cache.Key) (cache.Entry, error) {
	f.mu.Lock()
	f.keys = append(f.keys, key)
	f.mu.Unlock()

	if f.held == nil {
		return f.respond(key)
	}
	call := &HeldFetch{Key: key, reply: make(chan fakeReply, 1)}
	f.held <- call
	select {
	case reply := <-call.reply:
		return reply.entry, reply.err
	case <-ctx.Done():
		return cache.Entry{}, ctx.Err()
	}
}

// Next waits for the next held call.
func (f *FakeFetcher) Next(t *testing.T, timeout time.Duration) *HeldFetch {
	t.Helper()
	select {
	case call := <-f.held:
		return call
	case <-time.After(timeout):
		t.Fatalf("no fetch within %s", timeout)
		return nil
	}
}

func (f *FakeFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.keys)
}

func (f *FakeFetcher) Keys() []cache.Key {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]cache.Key, len(f.keys))
	copy(out, f.keys)
	return out
}

func (h *HeldFetch) Reply(entry cache.Entry, err error) {
	h.reply <- fakeReply{entry: entry, err: err}
}
