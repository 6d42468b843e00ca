package supervisor

import "time"

// StageHealth is the per-stage record spec.md §3 names: execution counts,
// failure bookkeeping, and the circuit-breaker window.
type StageHealth struct {
	Executions       int
	Failures         int
	LastFailureTS    time.Time
	TotalDuration    time.Duration
	CircuitOpen      bool
	CircuitOpenUntil time.Time
}

// RecoveryStrategy is the per-stage tunable structure governing retries,
// timeouts, and breaker behavior (spec.md §3). Immutable after
// registration.
type RecoveryStrategy struct {
	MaxRetries        int
	RetryDelay        time.Duration
	BackoffMultiplier float64
	Timeout           time.Duration
	BreakerThreshold  int
	BreakerCooldown   time.Duration
	// Fallback, when set, is invoked instead of skipping the stage when
	// its circuit breaker is open.
	Fallback func() (map[string]any, error)
}

// DefaultRecoveryStrategy mirrors supervisor_agent.py's RecoveryStrategy
// defaults: 3 retries, 5s initial delay, 2x backoff, 5-failure breaker
// threshold, 60s timeout, 5-minute cooldown.
func DefaultRecoveryStrategy() RecoveryStrategy {
	return RecoveryStrategy{
		MaxRetries:        3,
		RetryDelay:        5 * time.Second,
		BackoffMultiplier: 2.0,
		Timeout:           60 * time.Second,
		BreakerThreshold:  5,
		BreakerCooldown:   5 * time.Minute,
	}
}
