package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrOpenState is returned without calling the backend while the
	// circuit is open
	ErrOpenState = errors.New("circuit breaker is open")

	// ErrTooManyRequests is returned when the half-open probe slot is taken
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// State is the position of the circuit
type State int

const (
	StateClosed State = iota
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
		return "half-open"
	}
	return "unknown"
}

// Config holds circuit breaker tuning
type Config struct {
	// MaxFailures is how many consecutive failures trip the circuit
	MaxFailures uint

	// Timeout is the open period before probing resumes
	Timeout time.Duration

	// MaxHalfOpenRequests caps concurrent probes while half-open
	MaxHalfOpenRequests uint

	// IsSuccessful classifies a call result; nil means err == nil
	IsSuccessful func(error) bool
}

// DefaultConfig returns the tuning used for media server adapters
func DefaultConfig() Config {
	return Config{
		MaxFailures:         5,
		Timeout:             60 * time.Second,
		MaxHalfOpenRequests: 1,
	}
}

// CircuitBreaker sheds calls to a backend that keeps failing, so one dead
// media server cannot stall a whole evaluation pass on timeouts
type CircuitBreaker struct {
	mu        sync.RWMutex
	cfg       Config
	state     State
	failures  uint
	successes uint
	probes    uint
	changedAt time.Time
}

// New creates a closed circuit breaker
func New(cfg Config) *CircuitBreaker {
	if cfg.IsSuccessful == nil {
		cfg.IsSuccessful = func(err error) bool { return err == nil }
	}
	return &CircuitBreaker{
		cfg:       cfg,
		state:     StateClosed,
		changedAt: time.Now(),
	}
}

// Execute runs fn if the circuit admits the call and records the outcome
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn()
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil
	case StateOpen:
		if time.Since(cb.changedAt) <= cb.cfg.Timeout {
			return ErrOpenState
		}
		cb.transition(StateHalfOpen)
		fallthrough
	case StateHalfOpen:
		if cb.probes >= cb.cfg.MaxHalfOpenRequests {
			return ErrTooManyRequests
		}
		cb.probes++
		return nil
	}
	return ErrOpenState
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if !cb.cfg.IsSuccessful(err) {
		cb.failures++
		// Any half-open failure reopens immediately
		if cb.state == StateHalfOpen || (cb.state == StateClosed && cb.failures >= cb.cfg.MaxFailures) {
			cb.transition(StateOpen)
		}
		return
	}

	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.cfg.MaxHalfOpenRequests {
			cb.transition(StateClosed)
		}
	}
}

func (cb *CircuitBreaker) transition(to State) {
	cb.state = to
	cb.changedAt = time.Now()
	cb.successes = 0
	cb.probes = 0
	if to == StateClosed {
		cb.failures = 0
	}
}

// State returns the current position
func (cb *CircuitBreaker) State() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// Failures returns the consecutive failure count
func (cb *CircuitBreaker) Failures() uint {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.failures
}

// Reset force-closes the circuit
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transition(StateClosed)
}
