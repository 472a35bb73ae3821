package infra

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Breaker around the shipment feed. While the feed is down every cycle would
// otherwise issue eight advice queries plus one detail query per tracked
// record, each retried, against a dead endpoint.
//
// closed ──(FailureThreshold tripping errors)──▶ open
// open ──(OpenTimeout)──▶ half-open, one trial call at a time
// half-open ──(SuccessThreshold trial calls ok)──▶ closed, ──(trial fails)──▶ open

// CBState is the breaker position reported on /health.
type CBState int

const (
	CBClosed CBState = iota
	CBOpen
	CBHalfOpen
)

func (s CBState) String() string {
	switch s {
	case CBClosed:
		return "closed"
	case CBOpen:
		return "open"
	case CBHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned without calling through while the breaker is open
// or a half-open trial call is already in flight.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type CircuitBreakerConfig struct {
	Name             string        // used in transition logs
	FailureThreshold int           // consecutive tripping errors to open (default 5)
	SuccessThreshold int           // successful trial calls to close again (default 2)
	OpenTimeout      time.Duration // open → half-open (default 30s)

	// Trips decides whether an error counts against the endpoint. Nil counts
	// every error.
	Trips func(err error) bool
}

func DefaultCBConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             "feed",
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Second,
		Trips:            FeedErrorTrips,
	}
}

// FeedErrorTrips ignores errors that say nothing about the feed's health:
// 4xx answers and the caller's own cancellation.
func FeedErrorTrips(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var fe *FeedError
	if errors.As(err, &fe) {
		return fe.Temporary()
	}
	return true
}

type CircuitBreaker struct {
	cfg CircuitBreakerConfig
	now func() time.Time

	mu        sync.Mutex
	state     CBState
	failures  int
	successes int
	trialing   bool
	openedAt  time.Time
}

func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	return &CircuitBreaker{cfg: cfg, now: time.Now, state: CBClosed}
}

func (cb *CircuitBreaker) State() CBState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.expireLocked()
	return cb.state
}

// Execute calls fn unless the breaker is open. Errors from fn are returned
// unchanged.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()
	cb.expireLocked()
	switch {
	case cb.state == CBOpen:
		cb.mu.Unlock()
		return ErrCircuitOpen
	case cb.state == CBHalfOpen && cb.trialing:
		cb.mu.Unlock()
		return ErrCircuitOpen
	case cb.state == CBHalfOpen:
		cb.trialing = true
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.trialing = false
	if err != nil && (cb.cfg.Trips == nil || cb.cfg.Trips(err)) {
		cb.failedLocked(err)
	} else {
		cb.succeededLocked()
	}
	return err
}

func (cb *CircuitBreaker) expireLocked() {
	if cb.state == CBOpen && cb.now().Sub(cb.openedAt) >= cb.cfg.OpenTimeout {
		cb.setLocked(CBHalfOpen, nil)
	}
}

func (cb *CircuitBreaker) failedLocked(err error) {
	cb.failures++
	if cb.state == CBHalfOpen || cb.failures >= cb.cfg.FailureThreshold {
		cb.openedAt = cb.now()
		cb.setLocked(CBOpen, err)
	}
}

// succeededLocked also runs for non-tripping errors: the endpoint answered.
func (cb *CircuitBreaker) succeededLocked() {
	switch cb.state {
	case CBClosed:
		cb.failures = 0
	case CBHalfOpen:
		cb.successes++
		if cb.successes >= cb.cfg.SuccessThreshold {
			cb.setLocked(CBClosed, nil)
		}
	}
}

func (cb *CircuitBreaker) setLocked(to CBState, cause error) {
	from := cb.state
	cb.state = to
	cb.failures, cb.successes = 0, 0
	if from == to {
		return
	}
	evt := log.Info()
	if to == CBOpen {
		evt = log.Warn().Err(cause)
	}
	evt.Str("breaker", cb.cfg.Name).Str("from", from.String()).Str("to", to.String()).
		Msg("breaker: state changed")
}
