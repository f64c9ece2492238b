package retry

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrOpen is returned by Execute while the breaker is open.
var ErrOpen = errors.New("circuit open")

// ── Breaker state ────────────────────────────────────────────────────

// State is the breaker's operational state.
type State int

const (
	// StateClosed lets every call through.
	StateClosed State = iota
	// StateOpen rejects calls until the cooldown has passed.
	StateOpen
	// StateHalfOpen lets one probe through; its outcome decides.
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

// ── Breaker ──────────────────────────────────────────────────────────

// Breaker trips after MaxFailures consecutive failures and rejects
// calls for Cooldown.  Accept loops wrap Accept in it so that a run of
// failures (descriptor exhaustion, say) pauses the loop instead of
// spinning it.
type Breaker struct {
	MaxFailures int           // default 5
	Cooldown    time.Duration // default 1s

	// OnStateChange runs under the lock; keep it fast.
	OnStateChange func(from, to State)

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
}

func (b *Breaker) maxFailures() int {
	if b.MaxFailures <= 0 {
		return 5
	}
	return b.MaxFailures
}

func (b *Breaker) cooldown() time.Duration {
	if b.Cooldown <= 0 {
		return time.Second
	}
	return b.Cooldown
}

// Execute runs fn unless the breaker is open.
func (b *Breaker) Execute(fn func() error) error {
	if err := b.before(); err != nil {
		return err
	}
	err := fn()
	b.after(err)
	return err
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// RetryIn returns how long an open breaker keeps rejecting calls.
func (b *Breaker) RetryIn() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateOpen {
		return 0
	}
	if d := b.cooldown() - time.Since(b.openedAt); d > 0 {
		return d
	}
	return 0
}

// Reset forces the breaker closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.transition(StateClosed)
}

// ── internal ─────────────────────────────────────────────────────────

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateOpen {
		return nil
	}
	if time.Since(b.openedAt) >= b.cooldown() {
		b.transition(StateHalfOpen)
		return nil
	}
	return fmt.Errorf("%w: %d consecutive failures", ErrOpen, b.failures)
}

func (b *Breaker) after(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		b.failures = 0
		b.transition(StateClosed)
		return
	}
	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.maxFailures() {
		b.openedAt = time.Now()
		b.transition(StateOpen)
	}
}

func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.OnStateChange != nil {
		b.OnStateChange(from, to)
	}
}
