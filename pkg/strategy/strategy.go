// Package strategy iterates the filtered stage list a pipeline run needs,
// bounding the developer stage's parallel fan-out with
// golang.org/x/sync/errgroup, bounding the worker pool with SetLimit
// instead of a hand-rolled semaphore,
// and realizes the one cross-stage business rule spec.md §4.J names: a
// failed code_review restarts at development carrying the prior review's
// feedback forward through context.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/artemis-forge/artemis/pkg/card"
	"github.com/artemis-forge/artemis/pkg/cost"
	"github.com/artemis-forge/artemis/pkg/observer"
	"github.com/artemis-forge/artemis/pkg/sandbox"
	"github.com/artemis-forge/artemis/pkg/stage"
)

// Status is the closed taxonomy of overall execution outcomes spec.md §8
// Invariant 1 requires: exactly one of StatusSuccess, a FAILED_* class, or
// a specific StoppedAt(stage) is ever returned.
type Status string

const (
	StatusSuccess               Status = "COMPLETED_SUCCESSFULLY"
	StatusFailedCodeReview      Status = "FAILED_CODE_REVIEW"
	StatusFailedBudgetExceeded  Status = "FAILED_BUDGET_EXCEEDED"
	StatusFailedSecurityRefused Status = "FAILED_SECURITY_REFUSED"
)

const stoppedAtPrefix = "STOPPED_AT_"

// StoppedAt builds the STOPPED_AT_<STAGE> status for a stage that failed
// without matching one of the named FAILED_* classes.
func StoppedAt(stageName string) Status {
	return Status(stoppedAtPrefix + strings.ToUpper(stageName))
}

// ClassifyFailure maps a stage-execution error to its taxonomy member:
// budget and security refusals get their own FAILED_* class (spec.md §7:
// both terminate immediately and are never retried), anything else is a
// STOPPED_AT_<STAGE> for the stage that produced it.
func ClassifyFailure(stageName string, err error) Status {
	switch {
	case errors.Is(err, cost.ErrBudgetExceeded):
		return StatusFailedBudgetExceeded
	case errors.Is(err, sandbox.ErrSecurityRefused):
		return StatusFailedSecurityRefused
	default:
		return StoppedAt(stageName)
	}
}

// RetryHistoryEntry records one failed code_review attempt (spec.md §7:
// "the report includes the per-attempt retry history with the specific
// issues encountered").
type RetryHistoryEntry struct {
	Attempt        int `json:"attempt"`
	CriticalIssues int `json:"critical_issues"`
	HighIssues     int `json:"high_issues"`
}

// Result is the aggregate outcome of running a stage list (spec.md §4.J).
type Result struct {
	Status       Status                    `json:"status"`
	Results      map[string]map[string]any `json:"results"`
	FailedStage  string                    `json:"failed_stage,omitempty"`
	Error        string                    `json:"error,omitempty"`
	RetryHistory []RetryHistoryEntry       `json:"retry_history,omitempty"`
}

// Executor is the narrow view of the Supervisor a Strategy drives each
// stage through, keeping this package free of a direct supervisor import
// cycle (the Supervisor itself never needs to call back into Strategy).
type Executor interface {
	Execute(ctx context.Context, st stage.Stage, c *card.Card, pctx *card.Context) (map[string]any, error)
}

// DeveloperResult is one parallel developer worker's outcome, captured
// rather than aggregated into an error per spec.md §5 ("individual
// developer failures are captured as results, not aggregate errors").
type DeveloperResult struct {
	Index  int            `json:"index"`
	Result map[string]any `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// DefaultMaxCodeReviewRetries bounds how many times the strategy restarts
// development after a failed code_review (spec.md §4.J: "if retries
// remain") unless overridden by WithMaxCodeReviewRetries. Matches
// supervisor.DefaultMaxCodeReviewRetries so the two stay in sync under
// default configuration.
const DefaultMaxCodeReviewRetries = 2

// Strategy runs an ordered stage list against a card through an Executor.
type Strategy struct {
	executor             Executor
	hub                  *observer.Hub
	maxCodeReviewRetries int
}

// Option configures a Strategy at construction.
type Option func(*Strategy)

// WithMaxCodeReviewRetries overrides DefaultMaxCodeReviewRetries, normally
// set to the same value configured on the Supervisor driving this Strategy
// (supervisor.Supervisor.MaxCodeReviewRetries).
func WithMaxCodeReviewRetries(n int) Option {
	return func(s *Strategy) { s.maxCodeReviewRetries = n }
}

// WithObserverHub wires pipeline/stage event publication (spec.md §4.L).
func WithObserverHub(hub *observer.Hub) Option {
	return func(s *Strategy) { s.hub = hub }
}

// New returns a Strategy driving stages through executor.
func New(executor Executor, opts ...Option) *Strategy {
	s := &Strategy{executor: executor, maxCodeReviewRetries: DefaultMaxCodeReviewRetries}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// developerStageName is the single stage name the Strategy fans out into
// parallel workers when the plan calls for it.
const developerStageName = "development"

// Run iterates stages in order against c, threading pctx additively
// through every stage, fanning `development` out to parallelDevelopers
// concurrent workers when greater than one, and restarting at
// `development` up to s.maxCodeReviewRetries times when `code_review`
// returns a logical FAIL; exhausting the retry budget returns
// StatusFailedCodeReview with the full RetryHistory rather than falling
// through as if the review had passed (spec.md §4.J, §7).
func (s *Strategy) Run(ctx context.Context, stages []stage.Stage, c *card.Card, pctx *card.Context, parallelDevelopers int) Result {
	results := make(map[string]map[string]any, len(stages))
	reviewRetries := 0
	var retryHistory []RetryHistoryEntry

	s.publish(observer.EventPipelineStarted, c.ID, "", nil)

	for i := 0; i < len(stages); i++ {
		st := stages[i]
		name := st.Name()

		s.publish(observer.EventStageStarted, c.ID, name, nil)

		var doc map[string]any
		var err error
		if name == developerStageName && parallelDevelopers > 1 {
			doc, err = s.runParallelDevelopers(ctx, st, c, pctx, parallelDevelopers)
		} else {
			doc, err = s.executor.Execute(ctx, st, c, pctx)
		}

		if err != nil {
			s.publish(observer.EventStageFailed, c.ID, name, map[string]any{"error": err.Error()})
			s.publish(observer.EventPipelineFailed, c.ID, "", map[string]any{"stage": name, "error": err.Error()})
			return Result{
				Status:       ClassifyFailure(name, err),
				Results:      results,
				FailedStage:  name,
				Error:        err.Error(),
				RetryHistory: retryHistory,
			}
		}

		results[name] = doc
		s.publish(observer.EventStageCompleted, c.ID, name, doc)

		if name == "code_review" {
			status, _ := doc["status"].(string)
			if status == "FAIL" {
				reviewRetries++
				critical, _ := doc["total_critical_issues"].(int)
				high, _ := doc["total_high_issues"].(int)
				retryHistory = append(retryHistory, RetryHistoryEntry{
					Attempt:        reviewRetries,
					CriticalIssues: critical,
					HighIssues:     high,
				})

				if reviewRetries > s.maxCodeReviewRetries {
					errMsg := fmt.Sprintf("code_review failed after %d retries", s.maxCodeReviewRetries)
					s.publish(observer.EventPipelineFailed, c.ID, "", map[string]any{"stage": name, "error": errMsg})
					return Result{
						Status:       StatusFailedCodeReview,
						Results:      results,
						FailedStage:  name,
						Error:        errMsg,
						RetryHistory: retryHistory,
					}
				}

				_ = pctx.Set("code_review_retry_count", reviewRetries)
				devIdx := indexOfStage(stages, developerStageName)
				if devIdx >= 0 && devIdx < i {
					i = devIdx - 1 // loop increment returns us to devIdx
					continue
				}
			}
		}
	}

	s.publish(observer.EventPipelineCompleted, c.ID, "", nil)
	return Result{Status: StatusSuccess, Results: results}
}

func indexOfStage(stages []stage.Stage, name string) int {
	for i, st := range stages {
		if st.Name() == name {
			return i
		}
	}
	return -1
}

func (s *Strategy) publish(eventType observer.EventType, cardID, stageName string, data map[string]any) {
	if s.hub == nil {
		return
	}
	s.hub.Publish(observer.Event{Type: eventType, CardID: cardID, StageName: stageName, Data: data})
}

// runParallelDevelopers fans st out to n concurrent executions bounded by
// errgroup.SetLimit, collecting each worker's outcome by index so the
// caller can see every developer's result even when some fail.
func (s *Strategy) runParallelDevelopers(ctx context.Context, st stage.Stage, c *card.Card, pctx *card.Context, n int) (map[string]any, error) {
	s.publish(observer.EventDeveloperStarted, c.ID, st.Name(), map[string]any{"count": n})

	results := make([]DeveloperResult, n)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(n)

	for i := 0; i < n; i++ {
		idx := i
		g.Go(func() error {
			doc, err := s.executor.Execute(gctx, st, c, pctx)
			if err != nil {
				results[idx] = DeveloperResult{Index: idx, Error: err.Error()}
				return nil
			}
			results[idx] = DeveloperResult{Index: idx, Result: doc}
			return nil
		})
	}
	_ = g.Wait()

	anySucceeded := false
	for _, r := range results {
		if r.Error == "" {
			anySucceeded = true
			break
		}
	}

	s.publish(observer.EventDeveloperCompleted, c.ID, st.Name(), map[string]any{"results": results})

	if !anySucceeded {
		return nil, fmt.Errorf("strategy: all %d parallel developer workers failed", n)
	}

	_ = pctx.Set("developer_results", results)
	return map[string]any{"status": "SUCCESS", "developer_results": results}, nil
}
