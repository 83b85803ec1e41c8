// Package fetch performs the outbound reverse-geocoding call.
package fetch

import (
	"context"
	"errors"
	"fmt"

	"geocode_gateway/internal/cache"
)

var (
	ErrMalformedResponse = errors.New("malformed geocoder response")
	ErrCircuitOpen       = errors.New("geocoder circuit open")
)

// Fetcher resolves a single key. It must honour ctx cancellation; callers
// bound every call with their own timeout.
type Fetcher interface {
	Fetch(ctx context.Context, key cache.Key) (cache.Entry, error)
}

type Func func(ctx context.Context, key cache.Key) (cache.Entry, error)

func (f Func) Fetch(ctx context.Context, key cache.Key) (cache.Entry, error) {
	return f(ctx, key)
}

// StatusError is returned when the geocoder answers with a non-2xx status.
type StatusError struct {
	Status int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("geocoder returned status %d", e.Status)
}
