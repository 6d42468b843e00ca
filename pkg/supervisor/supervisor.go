// Package supervisor wraps every stage invocation with retry/backoff,
// timeout, and circuit-breaker semantics (spec.md §4.G), grounded on the
// worker/pool architecture of a per-stage health table guarded by a
// single lock, with a background timeout
// watcher) fused with the retry arithmetic and breaker thresholds of
// original_source/.agents/agile/supervisor_agent.py
// (execute_with_supervision). The breaker state machine itself is
// github.com/sony/gobreaker/v2 rather than a hand-rolled one; retry
// backoff is github.com/cenkalti/backoff/v5's exponential policy
// parameterized by retry_delay * backoff_multiplier.
package supervisor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker/v2"

	"github.com/artemis-forge/artemis/pkg/card"
	"github.com/artemis-forge/artemis/pkg/cost"
	"github.com/artemis-forge/artemis/pkg/messenger"
	"github.com/artemis-forge/artemis/pkg/sandbox"
	"github.com/artemis-forge/artemis/pkg/stage"
	"github.com/artemis-forge/artemis/pkg/statemachine"
)

// DefaultMaxCodeReviewRetries mirrors spec.md §4.G's default of 2.
const DefaultMaxCodeReviewRetries = 2

// SkippedResult is returned when a circuit breaker is open and no
// fallback is configured (spec.md §4.G step 2).
func SkippedResult() map[string]any {
	return map[string]any{"status": "skipped", "reason": "circuit_breaker_open"}
}

// Supervisor is the per-pipeline wrapper around stage execution.
type Supervisor struct {
	mu         sync.Mutex
	health     map[string]*StageHealth
	strategies map[string]RecoveryStrategy
	breakers   map[string]*gobreaker.CircuitBreaker[map[string]any]

	msg     messenger.Messenger
	sm      *statemachine.Machine
	monitor *ProcessMonitor
	now     func() time.Time

	maxCodeReviewRetries int

	stats struct {
		totalInterventions int
		successfulRecovery int
		failedRecovery     int
		timeoutsDetected   int
	}
}

// Option configures a Supervisor at construction.
type Option func(*Supervisor)

// WithMessenger wires failure/timeout notifications (spec.md §4.G).
func WithMessenger(msg messenger.Messenger) Option {
	return func(s *Supervisor) { s.msg = msg }
}

// WithStateMachine wires stage_started/stage_completed/stage_failed
// event emission and stage-state updates (spec.md §4.G integration points).
func WithStateMachine(sm *statemachine.Machine) Option {
	return func(s *Supervisor) { s.sm = sm }
}

// WithMaxCodeReviewRetries overrides DefaultMaxCodeReviewRetries.
func WithMaxCodeReviewRetries(n int) Option {
	return func(s *Supervisor) { s.maxCodeReviewRetries = n }
}

// New returns a Supervisor with no stages registered yet.
func New(opts ...Option) *Supervisor {
	s := &Supervisor{
		health:               make(map[string]*StageHealth),
		strategies:           make(map[string]RecoveryStrategy),
		breakers:             make(map[string]*gobreaker.CircuitBreaker[map[string]any]),
		monitor:              NewProcessMonitor(),
		now:                  time.Now,
		maxCodeReviewRetries: DefaultMaxCodeReviewRetries,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MaxCodeReviewRetries returns the configured retry bound so a caller
// driving a Strategy over this Supervisor can keep the two in sync
// (spec.md §4.G/§4.J both name the same one budget).
func (s *Supervisor) MaxCodeReviewRetries() int {
	return s.maxCodeReviewRetries
}

// RegisterStage installs strategy for stageName exactly as given; a zero
// value is not replaced by DefaultRecoveryStrategy, so callers pass
// DefaultRecoveryStrategy() explicitly when they want the default.
func (s *Supervisor) RegisterStage(stageName string, strategy RecoveryStrategy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.health[stageName]; !ok {
		s.health[stageName] = &StageHealth{}
	}
	s.strategies[stageName] = strategy
	s.breakers[stageName] = gobreaker.NewCircuitBreaker[map[string]any](gobreaker.Settings{
		Name:        stageName,
		MaxRequests: 1,
		Timeout:     strategy.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(strategy.BreakerThreshold)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			s.onBreakerStateChange(name, from, to)
		},
	})
}

func (s *Supervisor) onBreakerStateChange(stageName string, from, to gobreaker.State) {
	s.mu.Lock()
	h := s.health[stageName]
	strategy := s.strategies[stageName]
	if h != nil {
		switch to {
		case gobreaker.StateOpen:
			h.CircuitOpen = true
			h.CircuitOpenUntil = s.now().Add(strategy.BreakerCooldown)
		case gobreaker.StateClosed:
			h.CircuitOpen = false
			h.CircuitOpenUntil = time.Time{}
		}
	}
	s.mu.Unlock()

	if s.msg != nil && to == gobreaker.StateOpen {
		_, _ = s.msg.Send(context.Background(), messenger.Broadcast, messenger.TypeNotification,
			map[string]any{"kind": "circuit_breaker_open", "stage": stageName}, "", messenger.PriorityHigh, nil)
	}
}

// Health returns a snapshot of a stage's health record.
func (s *Supervisor) Health(stageName string) StageHealth {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.health[stageName]; ok {
		return *h
	}
	return StageHealth{}
}

// Statistics is Supervisor's print_health_report()/get_statistics() data
// (spec.md §4.G).
type Statistics struct {
	TotalInterventions int                    `json:"total_interventions"`
	SuccessfulRecovery int                    `json:"successful_recoveries"`
	FailedRecovery     int                    `json:"failed_recoveries"`
	TimeoutsDetected   int                    `json:"timeouts_detected"`
	Stages             map[string]StageHealth `json:"stages"`
}

// Stats returns a snapshot of Supervisor-wide statistics.
func (s *Supervisor) Stats() Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()
	stages := make(map[string]StageHealth, len(s.health))
	for k, v := range s.health {
		stages[k] = *v
	}
	return Statistics{
		TotalInterventions: s.stats.totalInterventions,
		SuccessfulRecovery: s.stats.successfulRecovery,
		FailedRecovery:     s.stats.failedRecovery,
		TimeoutsDetected:   s.stats.timeoutsDetected,
		Stages:             stages,
	}
}

// Execute implements execute_with_supervision (spec.md §4.G): registers
// the stage if needed, short-circuits on an open breaker, then retries
// st.Execute with exponential backoff up to the strategy's MaxRetries,
// opening the breaker once consecutive failures hit BreakerThreshold.
func (s *Supervisor) Execute(ctx context.Context, st stage.Stage, c *card.Card, pctx *card.Context) (map[string]any, error) {
	stageName := st.Name()

	s.mu.Lock()
	if _, ok := s.strategies[stageName]; !ok {
		s.mu.Unlock()
		s.RegisterStage(stageName, DefaultRecoveryStrategy())
		s.mu.Lock()
	}
	strategy := s.strategies[stageName]
	breaker := s.breakers[stageName]
	s.mu.Unlock()

	if s.sm != nil {
		s.sm.PushState(statemachine.PipelineStageRunning, map[string]any{"stage": stageName})
		s.sm.UpdateStageState(stageName, statemachine.StageRunning)
	}

	attempt := 0
	operation := func() (map[string]any, error) {
		attempt++
		attemptCtx := ctx
		var cancel context.CancelFunc
		if strategy.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, strategy.Timeout)
			defer cancel()
		}

		timedOut := s.armTimeoutWatcher(attemptCtx, stageName, strategy.Timeout)
		defer timedOut.disarm()

		start := s.now()
		result, err := breaker.Execute(func() (map[string]any, error) {
			return st.Execute(attemptCtx, c, pctx)
		})
		duration := s.now().Sub(start)

		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return nil, backoff.Permanent(errCircuitOpen)
			}
			s.recordFailure(stageName, duration)
			if isNonRetryable(err) {
				return nil, backoff.Permanent(err)
			}
			if attempt > strategy.MaxRetries {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}

		s.recordSuccess(stageName, duration)
		handleCodeReviewFeedback(stageName, result, pctx)
		return result, nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = strategy.RetryDelay
	policy.Multiplier = strategy.BackoffMultiplier
	policy.RandomizationFactor = 0
	policy.MaxInterval = strategy.RetryDelay * time.Duration(1<<uint(strategy.MaxRetries+1))

	result, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(strategy.MaxRetries+1)),
	)

	if err == nil {
		if attempt > 1 {
			s.mu.Lock()
			s.stats.successfulRecovery++
			s.mu.Unlock()
		}
		if s.sm != nil {
			s.sm.UpdateStageState(stageName, statemachine.StageCompleted)
			s.sm.PushState(statemachine.PipelineStageDone, map[string]any{"stage": stageName})
		}
		return result, nil
	}

	if errors.Is(err, errCircuitOpen) {
		if strategy.Fallback != nil {
			return strategy.Fallback()
		}
		if s.sm != nil {
			s.sm.UpdateStageState(stageName, statemachine.StageSkipped)
		}
		return SkippedResult(), nil
	}

	s.mu.Lock()
	s.stats.failedRecovery++
	s.mu.Unlock()

	if s.sm != nil {
		s.sm.UpdateStageState(stageName, statemachine.StageFailed)
		s.sm.PushState(statemachine.PipelineStageFailed, map[string]any{"stage": stageName, "error": err.Error()})
	}
	if s.msg != nil {
		_, _ = s.msg.Send(ctx, messenger.Broadcast, messenger.TypeNotification, map[string]any{
			"kind":  "stage_failure",
			"stage": stageName,
			"error": err.Error(),
		}, c.ID, messenger.PriorityHigh, nil)
	}

	return nil, &PipelineStageError{
		StageName:    stageName,
		RetryAttempt: attempt - 1,
		FailureCount: s.Health(stageName).Failures,
		Err:          unwrapPermanent(err),
	}
}

// errCircuitOpen signals the operation loop that the breaker refused the
// call outright; it is always unwrapped back to a skip/fallback decision
// before reaching the caller.
var errCircuitOpen = errors.New("supervisor: circuit breaker open")

// unwrapPermanent strips backoff's Permanent wrapper so callers see the
// original stage error.
func unwrapPermanent(err error) error {
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	return err
}

// isNonRetryable classifies budget-exceeded and sandbox security-refusal
// errors as immediately terminal, the two exceptions spec.md §7 carves
// out of the "retry decided by RecoveryStrategy, not error kind" rule.
func isNonRetryable(err error) bool {
	var budgetErr *cost.BudgetExceededError
	if errors.As(err, &budgetErr) {
		return true
	}
	return errors.Is(err, sandbox.ErrSecurityRefused)
}

func (s *Supervisor) recordFailure(stageName string, duration time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.health[stageName]
	h.Failures++
	h.LastFailureTS = s.now()
	h.TotalDuration += duration
	s.stats.totalInterventions++
}

func (s *Supervisor) recordSuccess(stageName string, duration time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.health[stageName]
	h.Executions++
	h.TotalDuration += duration
}

// handleCodeReviewFeedback realizes spec.md §4.G's one business-specific
// retry-ordering rule: a code_review stage that logically FAILs has its
// structured feedback stashed into pctx so a later development retry can
// consume it, additive per the Context invariant (spec.md §3).
func handleCodeReviewFeedback(stageName string, result map[string]any, pctx *card.Context) {
	if stageName != "code_review" || pctx == nil {
		return
	}
	status, _ := result["status"].(string)
	if status != "FAIL" {
		return
	}
	_ = pctx.Set("previous_review_feedback", result)
}

// timeoutWatcher is the background timer spec.md §4.G describes: it
// observes wall time and, on trip, marks timeouts_detected++ and notifies
// the Messenger, without itself killing the running stage (cooperative
// cancellation is the stage's responsibility via ctx.Done()).
type timeoutWatcher struct {
	cancel context.CancelFunc
}

func (t timeoutWatcher) disarm() { t.cancel() }

func (s *Supervisor) armTimeoutWatcher(ctx context.Context, stageName string, timeout time.Duration) timeoutWatcher {
	watchCtx, cancel := context.WithCancel(context.Background())
	if timeout <= 0 {
		return timeoutWatcher{cancel: cancel}
	}
	go func() {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-watchCtx.Done():
			return
		case <-timer.C:
			s.mu.Lock()
			s.stats.timeoutsDetected++
			s.mu.Unlock()
			if s.msg != nil {
				_, _ = s.msg.Send(context.Background(), messenger.Broadcast, messenger.TypeNotification,
					map[string]any{"kind": "timeout_detected", "stage": stageName, "timeout_seconds": timeout.Seconds()},
					"", messenger.PriorityMedium, nil)
			}
		case <-ctx.Done():
			return
		}
	}()
	return timeoutWatcher{cancel: cancel}
}

// ProcessMonitorFor exposes the Supervisor's ProcessMonitor so stages that
// launch child processes (via the Sandbox Executor's child-process
// backend) can register PIDs for hang detection.
func (s *Supervisor) ProcessMonitorFor() *ProcessMonitor { return s.monitor }
