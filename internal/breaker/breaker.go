package breaker

import (
	"sync"
	"time"
)

type State int32

const (
	StateClosed State = iota + 1
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

const (
	defaultEvaluationWindow = 10 * time.Second
	defaultOpenDuration     = 30 * time.Second
)

// Config describes when the upstream geocoder is considered unhealthy.
// A zero FailureRateThresholdPercent disables the breaker.
type Config struct {
	Enabled                     bool
	FailureRateThresholdPercent int
	MinimumRequests             int
	EvaluationWindow            time.Duration
	OpenDuration                time.Duration
	HalfOpenMaxProbes           int
}

// Breaker guards a single upstream. It opens once the failure rate inside
// the evaluation window crosses the threshold and lets a bounded number of
// probes through after OpenDuration.
type Breaker struct {
	mu            sync.Mutex
	cfg           Config
	now           func() time.Time
	onChange      func(State)
	state         State
	windowStart   time.Time
	requests      int
	failures      int
	openUntil     time.Time
	probeInFlight int
	probeSuccess  int
}

type Option func(*Breaker)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		if now != nil {
			b.now = now
		}
	}
}

// WithStateChange registers a callback invoked on every transition.
func WithStateChange(fn func(State)) Option {
	return func(b *Breaker) {
		b.onChange = fn
	}
}

func New(cfg Config, options ...Option) *Breaker {
	if cfg.EvaluationWindow <= 0 {
		cfg.EvaluationWindow = defaultEvaluationWindow
	}
	if cfg.OpenDuration <= 0 {
		cfg.OpenDuration = defaultOpenDuration
	}
	if cfg.MinimumRequests <= 0 {
		cfg.MinimumRequests = 1
	}
	if cfg.HalfOpenMaxProbes <= 0 {
		cfg.HalfOpenMaxProbes = 1
	}
	b := &Breaker{cfg: cfg, now: time.Now, state: StateClosed}
	for _, option := range options {
		option(b)
	}
	b.windowStart = b.now()
	return b
}

func (b *Breaker) enabled() bool {
	return b.cfg.Enabled && b.cfg.FailureRateThresholdPercent > 0
}

// Allow reports whether a call may go to the upstream right now.
func (b *Breaker) Allow() (State, bool) {
	if b == nil || !b.enabled() {
		return StateClosed, true
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	switch b.state {
	case StateOpen:
		if now.Before(b.openUntil) {
			return StateOpen, false
		}
		b.transitionLocked(StateHalfOpen)
		b.probeInFlight = 0
		b.probeSuccess = 0
		fallthrough
	case StateHalfOpen:
		if b.probeInFlight >= b.cfg.HalfOpenMaxProbes {
			return StateHalfOpen, false
		}
		b.probeInFlight++
		return StateHalfOpen, true
	default:
		return StateClosed, true
	}
}

// Report records the outcome of a call that Allow let through.
func (b *Breaker) Report(success bool) State {
	if b == nil || !b.enabled() {
		return StateClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	switch b.state {
	case StateClosed:
		if now.Sub(b.windowStart) > b.cfg.EvaluationWindow {
			b.windowStart = now
			b.requests = 0
			b.failures = 0
		}
		b.requests++
		if !success {
			b.failures++
		}
		if b.requests >= b.cfg.MinimumRequests && (b.failures*100)/b.requests >= b.cfg.FailureRateThresholdPercent {
			b.openLocked(now)
		}
	case StateHalfOpen:
		if b.probeInFlight > 0 {
			b.probeInFlight--
		}
		if !success {
			b.openLocked(now)
			break
		}
		b.probeSuccess++
		if b.probeSuccess >= b.cfg.HalfOpenMaxProbes {
			b.closeLocked(now)
		}
	}
	return b.state
}

func (b *Breaker) State() State {
	if b == nil {
		return StateClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) openLocked(now time.Time) {
	b.openUntil = now.Add(b.cfg.OpenDuration)
	b.transitionLocked(StateOpen)
}

func (b *Breaker) closeLocked(now time.Time) {
	b.windowStart = now
	b.requests = 0
	b.failures = 0
	b.probeInFlight = 0
	b.probeSuccess = 0
	b.transitionLocked(StateClosed)
}

func (b *Breaker) transitionLocked(next State) {
	if b.state == next {
		return
	}
	b.state = next
	if b.onChange != nil {
		b.onChange(next)
	}
}
