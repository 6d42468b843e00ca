// Package stage defines the pluggable stage contract (spec.md §6) that
// concrete pipeline stages (architecture, code review, ...) implement.
// The core never knows what a stage's prompt or business logic is
// (spec.md §1); this package carries only the contract plus a handful of
// fixture stages used to exercise the Supervisor/Strategy/Orchestrator in
// tests, grounded on original_source/.agents/agile/artemis_stage_interface.py
// (referenced, not included, by supervisor_agent.py — reconstructed here
// from its documented usage: execute(*args, **kwargs) -> result dict with
// a status key).
package stage

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/artemis-forge/artemis/pkg/card"
)

// Status is the closed set of result-doc status values a stage reports
// (spec.md §6: "Result docs must include a status key").
type Status string

const (
	StatusOK      Status = "SUCCESS"
	StatusFail    Status = "FAIL"
	StatusSkipped Status = "SKIPPED"
)

// Result is the minimum shape every stage result doc carries. Stages are
// free to add further keys; Strategy and Orchestrator read Status and
// pass the rest through untouched.
type Result struct {
	Status Status         `json:"status"`
	Data   map[string]any `json:"-"`
}

// Doc flattens Result into the map[string]any shape the rest of the core
// threads through Context and the final report.
func (r Result) Doc() map[string]any {
	doc := make(map[string]any, len(r.Data)+1)
	for k, v := range r.Data {
		doc[k] = v
	}
	doc["status"] = string(r.Status)
	return doc
}

// Stage is the contract every pipeline stage implements (spec.md §6).
type Stage interface {
	// Execute runs the stage against card c with the shared pipeline
	// context, returning a result doc that must include a "status" key.
	Execute(ctx context.Context, c *card.Card, pctx *card.Context) (map[string]any, error)

	// Name returns the stage's registered name (spec.md's get_stage_name()).
	Name() string
}

// Func adapts a plain function to the Stage interface, the way
// http.HandlerFunc adapts a function to http.Handler.
type Func struct {
	StageName string
	Fn        func(ctx context.Context, c *card.Card, pctx *card.Context) (map[string]any, error)
}

func (f Func) Execute(ctx context.Context, c *card.Card, pctx *card.Context) (map[string]any, error) {
	return f.Fn(ctx, c, pctx)
}
func (f Func) Name() string { return f.StageName }

// Echo is a trivial fixture stage that always succeeds, recording the
// number of times it ran.
type Echo struct {
	StageName string
	Calls     atomic.Int64
}

func NewEcho(name string) *Echo { return &Echo{StageName: name} }

func (e *Echo) Execute(_ context.Context, c *card.Card, _ *card.Context) (map[string]any, error) {
	e.Calls.Add(1)
	return Result{Status: StatusOK, Data: map[string]any{"card_id": c.ID}}.Doc(), nil
}
func (e *Echo) Name() string { return e.StageName }

// Flaky fails the first N executions then succeeds, used to exercise the
// Supervisor's retry/backoff loop.
type Flaky struct {
	StageName    string
	FailuresLeft atomic.Int64
	Calls        atomic.Int64
}

// NewFlaky returns a Flaky stage that fails failFirst times before succeeding.
func NewFlaky(name string, failFirst int) *Flaky {
	f := &Flaky{StageName: name}
	f.FailuresLeft.Store(int64(failFirst))
	return f
}

func (f *Flaky) Execute(_ context.Context, _ *card.Card, _ *card.Context) (map[string]any, error) {
	f.Calls.Add(1)
	if f.FailuresLeft.Load() > 0 {
		f.FailuresLeft.Add(-1)
		return nil, fmt.Errorf("flaky stage %s: transient failure", f.StageName)
	}
	return Result{Status: StatusOK}.Doc(), nil
}
func (f *Flaky) Name() string { return f.StageName }

// Slow sleeps for Delay before succeeding, honoring context cancellation —
// used to exercise the Supervisor's timeout guard.
type Slow struct {
	StageName string
	Delay     time.Duration
}

func NewSlow(name string, delay time.Duration) *Slow { return &Slow{StageName: name, Delay: delay} }

func (s *Slow) Execute(ctx context.Context, _ *card.Card, _ *card.Context) (map[string]any, error) {
	select {
	case <-time.After(s.Delay):
		return Result{Status: StatusOK}.Doc(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
func (s *Slow) Name() string { return s.StageName }

// CodeReviewResult is the shape code_review additionally sets (spec.md §6).
type CodeReviewResult struct {
	Status              Status      `json:"status"`
	TotalCriticalIssues int         `json:"total_critical_issues"`
	TotalHighIssues     int         `json:"total_high_issues"`
	Reviews             []DevReview `json:"reviews"`
}

// DevReview is one developer's review entry within a code_review result.
type DevReview struct {
	Developer    string  `json:"developer"`
	ReviewStatus Status  `json:"review_status"`
	OverallScore float64 `json:"overall_score"`
	ReportFile   string  `json:"report_file,omitempty"`
}

// Doc flattens a CodeReviewResult into the generic result-doc shape.
func (r CodeReviewResult) Doc() map[string]any {
	return map[string]any{
		"status":                string(r.Status),
		"total_critical_issues": r.TotalCriticalIssues,
		"total_high_issues":     r.TotalHighIssues,
		"reviews":               r.Reviews,
	}
}
