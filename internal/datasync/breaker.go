package datasync

import (
	"sync"
	"time"

	"github.com/rendis/autoflow/pkg/schema"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal operation
	CircuitOpen                         // Failing, rejecting runs
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

// BreakerConfig configures the per-job circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failed runs before opening.
	// Zero disables the breaker.
	FailureThreshold int
	// Cooldown is how long the circuit stays open before a trial run.
	Cooldown time.Duration
}

// DefaultBreakerConfig returns the default breaker configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 5, Cooldown: 30 * time.Minute}
}

type circuit struct {
	state               CircuitState
	consecutiveFailures int
	lastFailure         time.Time
}

// Breaker skips the connector for jobs that keep failing, so a broken
// upstream is not called on every tick. One circuit per sync schedule.
type Breaker struct {
	mu       sync.Mutex
	circuits map[string]*circuit
	cfg      BreakerConfig
	now      func() time.Time
}

// NewBreaker creates a Breaker with cfg.
func NewBreaker(cfg BreakerConfig) *Breaker {
	return &Breaker{circuits: make(map[string]*circuit), cfg: cfg, now: time.Now}
}

// Allow returns nil if a run of jobID may call the connector. After the
// cooldown a single trial run is let through.
func (b *Breaker) Allow(jobID string) error {
	if b == nil || b.cfg.FailureThreshold <= 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.get(jobID)
	switch c.state {
	case CircuitOpen:
		if b.now().Sub(c.lastFailure) >= b.cfg.Cooldown {
			c.state = CircuitHalfOpen
			return nil
		}
		return schema.NewErrorf(schema.ErrCodeSyncFailed,
			"circuit open for sync %s after %d consecutive failures", jobID, c.consecutiveFailures).
			WithDetails(map[string]any{
				"sync_schedule_id":     jobID,
				"consecutive_failures": c.consecutiveFailures,
				"cooldown_remaining":   (b.cfg.Cooldown - b.now().Sub(c.lastFailure)).String(),
			})
	case CircuitHalfOpen:
		return schema.NewErrorf(schema.ErrCodeSyncFailed, "circuit half-open for sync %s: trial run in progress", jobID)
	}
	return nil
}

// RecordSuccess closes the circuit for jobID.
func (b *Breaker) RecordSuccess(jobID string) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.get(jobID)
	c.state = CircuitClosed
	c.consecutiveFailures = 0
}

// RecordFailure counts a failed run and returns the new state.
func (b *Breaker) RecordFailure(jobID string) CircuitState {
	if b == nil || b.cfg.FailureThreshold <= 0 {
		return CircuitClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.get(jobID)
	c.consecutiveFailures++
	c.lastFailure = b.now()
	if c.state == CircuitHalfOpen || c.consecutiveFailures >= b.cfg.FailureThreshold {
		c.state = CircuitOpen
	}
	return c.state
}

// State returns the current state for jobID.
func (b *Breaker) State(jobID string) CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.get(jobID).state
}

func (b *Breaker) get(jobID string) *circuit {
	c, ok := b.circuits[jobID]
	if !ok {
		c = &circuit{}
		b.circuits[jobID] = c
	}
	return c
}
