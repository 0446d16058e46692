package transport

import (
	"sync"
	"time"

	"github.com/olumi/olumi-go/pkg/schema"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal operation
	CircuitOpen                         // Failing, rejecting calls
	CircuitHalfOpen                     // Testing recovery
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures the circuit breaker behavior.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening the circuit.
	FailureThreshold int
	// Cooldown is how long the circuit stays open before transitioning to half-open.
	Cooldown time.Duration
	// HalfOpenMax is the number of test requests allowed in half-open state.
	HalfOpenMax int
}

// DefaultBreakerConfig returns a sensible default configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		HalfOpenMax:      1,
	}
}

// breaker tracks failure state for a single backend base URL.
type breaker struct {
	mu                  sync.Mutex
	state               CircuitState
	consecutiveFailures int
	lastFailureTime     time.Time
	halfOpenAttempts    int
	config              BreakerConfig
}

// BreakerRegistry manages per-backend circuit breakers. Only failures that
// implicate the backend (SERVER_ERROR, GATEWAY_TIMEOUT, NETWORK_ERROR,
// TIMEOUT) should be recorded against it; caller errors must not trip it.
type BreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*breaker
	config   BreakerConfig
}

// NewBreakerRegistry creates a new registry with the given config.
func NewBreakerRegistry(config BreakerConfig) *BreakerRegistry {
	return &BreakerRegistry{
		breakers: make(map[string]*breaker),
		config:   config,
	}
}

// AllowRequest checks whether a request to the given backend is allowed.
// Returns nil if allowed, or a CanonicalError if the circuit is open.
func (r *BreakerRegistry) AllowRequest(baseURL string) error {
	cb := r.getOrCreate(baseURL)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return nil

	case CircuitOpen:
		// Check if cooldown has elapsed.
		if time.Since(cb.lastFailureTime) >= cb.config.Cooldown {
			cb.state = CircuitHalfOpen
			cb.halfOpenAttempts = 1 // this request counts as the first test request
			return nil
		}
		return schema.NewErrorf(schema.ErrCodeNetworkError,
			"engine at %s unavailable: %d consecutive failures, cooldown remaining",
			baseURL, cb.consecutiveFailures).
			WithDetails(map[string]any{
				"base_url":             baseURL,
				"consecutive_failures": cb.consecutiveFailures,
				"state":                cb.state.String(),
				"cooldown_remaining":   (cb.config.Cooldown - time.Since(cb.lastFailureTime)).String(),
			})

	case CircuitHalfOpen:
		if cb.halfOpenAttempts >= cb.config.HalfOpenMax {
			return schema.NewErrorf(schema.ErrCodeNetworkError,
				"engine at %s recovering: max test requests reached", baseURL)
		}
		cb.halfOpenAttempts++
		return nil
	}

	return nil
}

// RecordSuccess records a successful round trip to the backend.
func (r *BreakerRegistry) RecordSuccess(baseURL string) {
	cb := r.getOrCreate(baseURL)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures = 0
	cb.halfOpenAttempts = 0
	cb.state = CircuitClosed
}

// RecordFailure records a failed round trip to the backend.
// Returns the new circuit state.
func (r *BreakerRegistry) RecordFailure(baseURL string) CircuitState {
	cb := r.getOrCreate(baseURL)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures++
	cb.lastFailureTime = time.Now()

	if cb.state == CircuitHalfOpen {
		// Any failure in half-open reopens the circuit.
		cb.state = CircuitOpen
		return CircuitOpen
	}

	if cb.consecutiveFailures >= cb.config.FailureThreshold {
		cb.state = CircuitOpen
		return CircuitOpen
	}

	return cb.state
}

// GetState returns the current state of the circuit for a backend.
func (r *BreakerRegistry) GetState(baseURL string) CircuitState {
	cb := r.getOrCreate(baseURL)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen && time.Since(cb.lastFailureTime) >= cb.config.Cooldown {
		cb.state = CircuitHalfOpen
		cb.halfOpenAttempts = 0
	}

	return cb.state
}

// implicatesBackend reports whether an error should count against the
// backend's circuit.
func implicatesBackend(err *schema.CanonicalError) bool {
	switch err.Code {
	case schema.ErrCodeServerError, schema.ErrCodeGatewayTimeout,
		schema.ErrCodeNetworkError, schema.ErrCodeTimeout:
		return true
	default:
		return false
	}
}

func (r *BreakerRegistry) getOrCreate(baseURL string) *breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.breakers[baseURL]
	if !ok {
		cb = &breaker{
			state:  CircuitClosed,
			config: r.config,
		}
		r.breakers[baseURL] = cb
	}
	return cb
}
