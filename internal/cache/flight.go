package cache

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrNotSettled = errors.New("flight not settled")

// Flight is a settle-once handle shared by every caller waiting on the same
// outcome.
type Flight struct {
	done      chan struct{}
	once      sync.Once
	result    Entry
	err       error
	startedAt time.Time
}

func NewFlight() *Flight {
	return &Flight{done: make(chan struct{}), startedAt: time.Now()}
}

// ResolvedFlight returns a flight that has already settled with entry.
func ResolvedFlight(entry Entry) *Flight {
	flight := NewFlight()
	flight.Resolve(entry)
	return flight
}

// FailedFlight returns a flight that has already settled with err.
func FailedFlight(err error) *Flight {
	flight := NewFlight()
	flight.Fail(err)
	return flight
}

// Resolve settles the flight with entry. It reports false if the flight had
// already settled.
func (f *Flight) Resolve(entry Entry) bool {
	return f.settle(entry, nil)
}

// Fail settles the flight with err. It reports false if the flight had
// already settled.
func (f *Flight) Fail(err error) bool {
	if err == nil {
		err = errors.New("flight failed")
	}
	return f.settle(Entry{}, err)
}

func (f *Flight) settle(entry Entry, err error) bool {
	if f == nil {
		return false
	}
	settled := false
	f.once.Do(func() {
		f.result = entry
		f.err = err
		close(f.done)
		settled = true
	})
	return settled
}

func (f *Flight) Done() <-chan struct{} {
	return f.done
}

func (f *Flight) StartedAt() time.Time {
	return f.startedAt
}

// Result returns the settled outcome without blocking.
func (f *Flight) Result() (Entry, error) {
	select {
	case <-f.done:
		return f.result, f.err
	default:
		return Entry{}, ErrNotSettled
	}
}

// Wait blocks until the flight settles or ctx is done. Giving up on the wait
// does not affect the flight or the other callers sharing it.
func (f *Flight) Wait(ctx context.Context) (Entry, error) {
	if f == nil {
		return Entry{}, ErrNotSettled
	}
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return Entry{}, ctx.Err()
	}
}
