package fetch

import (
	"context"
	"errors"

	"geocode_gateway/internal/breaker"
	"geocode_gateway/internal/cache"
)

// Guard fails fast while the upstream breaker is open.
type Guard struct {
	next    Fetcher
	breaker *breaker.Breaker
}

func NewGuard(next Fetcher, b *breaker.Breaker) *Guard {
	return &Guard{next: next, breaker: b}
}

func (g *Guard) Fetch(ctx context.Context, key cache.Key) (cache.Entry, error) {
	if _, ok := g.breaker.Allow(); !ok {
		return cache.Entry{}, ErrCircuitOpen
	}
	entry, err := g.next.Fetch(ctx, key)
	g.breaker.Report(!countsAsUpstreamFailure(err))
	return entry, err
}

// Only upstream trouble trips the breaker: client-side 4xx answers other
// than 429 say nothing about upstream health.
func countsAsUpstreamFailure(err error) bool {
	if err == nil {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Status >= 500 || statusErr.Status == 429
	}
	return true
}
