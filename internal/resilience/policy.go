// Package resilience wraps outbound calls to unreliable dependencies with
// bounded retry and a consecutive-failure circuit breaker. Retries are
// evaluated inside the breaker boundary: every attempt counts toward the
// failure accounting, and an open breaker fast-rejects before the first
// attempt is made.
package resilience

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// State is the circuit position of a Policy.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
	StateIsolated
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	case StateIsolated:
		return "isolated"
	}
	return "unknown"
}

// StateChange is delivered to the OnStateChange callback exactly once per
// observed transition.
type StateChange struct {
	Name string
	From State
	To   State
	At   time.Time
}

// Config describes one named policy instance.
type Config struct {
	Name             string
	FailureThreshold int           // consecutive failures before opening
	ResetTimeout     time.Duration // open duration before a single probe is allowed
	MaxRetries       int           // additional attempts beyond the first
	OnStateChange    func(StateChange)
}

// CircuitOpenError is returned when the breaker rejects a call without
// invoking the wrapped work.
type CircuitOpenError struct {
	Name string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker %q is open", e.Name)
}

const (
	initialBackoff = 500 * time.Millisecond
	maxBackoff     = 8 * time.Second
)

// Policy is safe for concurrent use. The circuit state is the only shared
// mutable state and is guarded by mu.
type Policy struct {
	cfg Config

	mu          sync.Mutex
	state       State
	consecutive int
	openedAt    time.Time
	probing     bool

	// Injectable for deterministic tests.
	now    func() time.Time
	sleep  func(context.Context, time.Duration) error
	jitter func() float64
}

func New(cfg Config) *Policy {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	return &Policy{
		cfg:    cfg,
		state:  StateClosed,
		now:    time.Now,
		sleep:  sleepCtx,
		jitter: rand.Float64,
	}
}

// Execute runs op through the policy. If the breaker is open (or isolated)
// the op is never invoked and a *CircuitOpenError is returned. Otherwise op
// is attempted up to MaxRetries+1 times with exponential backoff; the last
// underlying error is returned when the budget is exhausted. Every error is
// treated as retryable.
func (p *Policy) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := p.allow(); err != nil {
		return err
	}

	backoff := initialBackoff
	var lastErr error
	for attempt := 0; ; attempt++ {
		lastErr = p.run(ctx, op)
		if lastErr == nil {
			return nil
		}
		if attempt >= p.cfg.MaxRetries || !p.retryAllowed() {
			return lastErr
		}
		if err := p.sleep(ctx, p.withJitter(backoff)); err != nil {
			return err
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// State returns the current circuit position.
func (p *Policy) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.syncState()
}

// Isolate forces the breaker open until Reset is called. Never exited
// automatically.
func (p *Policy) Isolate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transition(StateIsolated)
}

// Reset closes the breaker and clears the failure count.
func (p *Policy) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consecutive = 0
	p.probing = false
	p.transition(StateClosed)
}

func (p *Policy) run(ctx context.Context, op func(context.Context) error) error {
	err := op(ctx)
	p.record(err == nil)
	return err
}

// allow gates the first attempt of an Execute call.
func (p *Policy) allow() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.syncState() {
	case StateClosed:
		return nil
	case StateHalfOpen:
		if p.probing {
			return &CircuitOpenError{Name: p.cfg.Name}
		}
		p.probing = true
		return nil
	default: // StateOpen, StateIsolated
		return &CircuitOpenError{Name: p.cfg.Name}
	}
}

// retryAllowed gates attempts after the first. A breaker that opened during
// the retry sequence stops further attempts; the caller still receives the
// underlying error, not a synthetic one.
func (p *Policy) retryAllowed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.syncState() == StateClosed
}

func (p *Policy) record(success bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.syncState() {
	case StateClosed:
		if success {
			p.consecutive = 0
			return
		}
		p.consecutive++
		if p.consecutive >= p.cfg.FailureThreshold {
			p.openedAt = p.now()
			p.transition(StateOpen)
		}
	case StateHalfOpen:
		p.probing = false
		if success {
			p.consecutive = 0
			p.transition(StateClosed)
		} else {
			p.openedAt = p.now()
			p.transition(StateOpen)
		}
	}
	// StateOpen / StateIsolated: attempts that slipped through a transition
	// do not change the state.
}

// syncState advances Open to HalfOpen once ResetTimeout has elapsed.
// Caller must hold mu.
func (p *Policy) syncState() State {
	if p.state == StateOpen && p.now().Sub(p.openedAt) >= p.cfg.ResetTimeout {
		p.probing = false
		p.transition(StateHalfOpen)
	}
	return p.state
}

// transition fires the callback only on an actual change. Caller must hold
// mu; the callback must not call back into the policy.
func (p *Policy) transition(to State) {
	if p.state == to {
		return
	}
	from := p.state
	p.state = to
	if p.cfg.OnStateChange != nil {
		p.cfg.OnStateChange(StateChange{
			Name: p.cfg.Name,
			From: from,
			To:   to,
			At:   p.now(),
		})
	}
}

func (p *Policy) withJitter(d time.Duration) time.Duration {
	// Half the delay is fixed, half is randomized.
	return d/2 + time.Duration(p.jitter()*float64(d/2))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
