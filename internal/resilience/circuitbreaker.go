// Package resilience guards model endpoints with circuit breakers.
//
// A [Breaker] watches the outcome of calls to one endpoint. After a run of
// consecutive failures it opens and rejects calls outright with
// [ErrCircuitOpen], so batches for a model whose endpoint is down fail in
// microseconds instead of each waiting out a full attempt timeout. The
// rejection reports the remaining cool-down, which the queue waits out before
// its next attempt. After the cool-down a single trial is let through and the
// breaker closes again if the trial succeeds.
//
// A breaker never retries; it only decides whether a call is made at all.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [Breaker.Do] while the breaker rejects calls.
// The returned error matches it with [errors.Is] and also has a
// RetryAfter() time.Duration method reporting the remaining cool-down.
var ErrCircuitOpen = errors.New("resilience: endpoint circuit open")

type openError struct {
	retryAfter time.Duration
}

func (e *openError) Error() string             { return ErrCircuitOpen.Error() }
func (e *openError) Is(target error) bool      { return target == ErrCircuitOpen }
func (e *openError) RetryAfter() time.Duration { return e.retryAfter }

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects every call until the cool-down has elapsed.
	StateOpen

	// StateHalfOpen lets one trial call through. Its outcome decides between
	// closed and open.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Defaults for zero [Config] fields.
const (
	DefaultMaxFailures = 5
	DefaultCooldown    = 30 * time.Second
)

// Config tunes a [Breaker].
type Config struct {
	// Name labels the breaker in logs, usually the model name.
	Name string

	// MaxFailures is the number of consecutive failures that opens the
	// breaker.
	MaxFailures int

	// Cooldown is how long the breaker stays open before it admits a trial.
	Cooldown time.Duration

	// Counts reports whether err says something about the endpoint's health.
	// Errors it rejects neither open the breaker nor reset the failure count.
	// Default: every error except context cancellation by the caller.
	Counts func(err error) bool

	// OnStateChange, if set, is called after every transition, outside the
	// breaker's lock.
	OnStateChange func(name string, from, to State)

	Logger *slog.Logger
}

// Breaker is a three-state circuit breaker. It is safe for concurrent use.
type Breaker struct {
	name        string
	maxFailures int
	cooldown    time.Duration
	counts      func(error) bool
	onChange    func(string, State, State)
	log         *slog.Logger
	now         func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// NewBreaker creates a closed breaker.
func NewBreaker(cfg Config) *Breaker {
	b := &Breaker{
		name:        cfg.Name,
		maxFailures: cfg.MaxFailures,
		cooldown:    cfg.Cooldown,
		counts:      cfg.Counts,
		onChange:    cfg.OnStateChange,
		log:         cfg.Logger,
		now:         time.Now,
	}
	if b.maxFailures <= 0 {
		b.maxFailures = DefaultMaxFailures
	}
	if b.cooldown <= 0 {
		b.cooldown = DefaultCooldown
	}
	if b.counts == nil {
		b.counts = countsByDefault
	}
	if b.log == nil {
		b.log = slog.Default()
	}
	return b
}

func countsByDefault(err error) bool {
	return !errors.Is(err, context.Canceled)
}

// Do calls fn unless the breaker is open. While half-open only one call at a
// time is admitted; the others get [ErrCircuitOpen].
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	trial, err := b.admit()
	if err != nil {
		return err
	}
	err = fn(ctx)
	b.record(trial, err)
	return err
}

func (b *Breaker) admit() (trial bool, err error) {
	b.mu.Lock()
	var from State
	changed := false
	switch b.state {
	case StateOpen:
		if elapsed := b.now().Sub(b.openedAt); elapsed < b.cooldown {
			b.mu.Unlock()
			return false, &openError{retryAfter: b.cooldown - elapsed}
		}
		from, changed = b.state, true
		b.state = StateHalfOpen
		fallthrough
	case StateHalfOpen:
		if b.probing {
			b.mu.Unlock()
			return false, &openError{}
		}
		b.probing = true
		trial = true
	}
	b.mu.Unlock()

	if changed {
		b.transitioned(from, StateHalfOpen)
	}
	return trial, nil
}

func (b *Breaker) record(trial bool, err error) {
	b.mu.Lock()
	from := b.state
	if trial {
		b.probing = false
	}

	switch {
	case err != nil && !b.counts(err):
		// The trial said nothing about the endpoint; let the next call try.
	case err != nil:
		b.failures++
		if trial || b.failures >= b.maxFailures {
			b.state = StateOpen
			b.openedAt = b.now()
		}
	default:
		b.failures = 0
		b.state = StateClosed
	}
	to, failures := b.state, b.failures
	b.mu.Unlock()

	if from != to {
		if to == StateOpen {
			b.log.Warn("circuit opened", "name", b.name, "consecutive_failures", failures, "cooldown", b.cooldown, "err", err)
		}
		b.transitioned(from, to)
	}
}

func (b *Breaker) transitioned(from, to State) {
	b.log.Info("circuit state changed", "name", b.name, "from", from, "to", to)
	if b.onChange != nil {
		b.onChange(b.name, from, to)
	}
}

// State returns the current state. An open breaker whose cool-down has
// elapsed reports [StateHalfOpen]; the transition itself happens on the next
// call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Reset forces the breaker closed and clears the failure count.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state = StateClosed
	b.failures = 0
	b.probing = false
	b.mu.Unlock()
	if from != StateClosed {
		b.transitioned(from, StateClosed)
	}
}
