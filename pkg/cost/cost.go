// Package cost implements the Cost Tracker (spec.md §4.C), directly
// grounded on original_source/.agents/agile/cost_tracker.py: the same
// static per-model pricing table, the same pre-commit budget check, and
// the same statistics/cleanup surface, carried over to a
// sync.Mutex-guarded in-memory ledger the way spec.md §5's shared-resource
// policy asks for a single lock per shared mutable table.
package cost

import (
	"errors"
	"fmt"
	"time"
)

// Call is one billed LLM invocation, field-for-field cost_tracker.py's LLMCall.
type Call struct {
	Timestamp    time.Time `json:"timestamp"`
	Model        string    `json:"model"`
	Provider     string    `json:"provider"`
	TokensInput  int       `json:"tokens_input"`
	TokensOutput int       `json:"tokens_output"`
	Cost         float64   `json:"cost"`
	Stage        string    `json:"stage"`
	CardID       string    `json:"card_id"`
	Purpose      string    `json:"purpose"`
}

// TrackResult is track()'s return shape, field-for-field track_call's dict.
type TrackResult struct {
	Cost              float64  `json:"cost"`
	TotalTokens       int      `json:"total_tokens"`
	DailyUsage        float64  `json:"daily_usage"`
	MonthlyUsage      float64  `json:"monthly_usage"`
	DailyBudget       *float64 `json:"daily_budget,omitempty"`
	MonthlyBudget     *float64 `json:"monthly_budget,omitempty"`
	DailyRemaining    *float64 `json:"daily_remaining,omitempty"`
	MonthlyRemaining  *float64 `json:"monthly_remaining,omitempty"`
	Alert             string   `json:"alert,omitempty"`
}

// Statistics is stats()'s return shape.
type Statistics struct {
	TotalCalls         int                `json:"total_calls"`
	TotalCost          float64            `json:"total_cost"`
	TotalTokens        int                `json:"total_tokens"`
	DailyCost          float64            `json:"daily_cost"`
	MonthlyCost        float64            `json:"monthly_cost"`
	DailyBudget        *float64           `json:"daily_budget,omitempty"`
	MonthlyBudget      *float64           `json:"monthly_budget,omitempty"`
	DailyRemaining     *float64           `json:"daily_remaining,omitempty"`
	MonthlyRemaining   *float64           `json:"monthly_remaining,omitempty"`
	AverageCostPerCall float64            `json:"average_cost_per_call"`
	ByStage            map[string]float64 `json:"by_stage"`
	ByModel            map[string]float64 `json:"by_model"`
}

// ErrBudgetExceeded is returned by Track when recording a call would push
// the daily or monthly budget over its limit; nothing is billed when this
// is returned (cost_tracker.py's "check BEFORE adding").
var ErrBudgetExceeded = errors.New("cost: budget exceeded")

// BudgetExceededError carries the detail cost_tracker.py's
// BudgetExceededError message includes, and unwraps to ErrBudgetExceeded.
type BudgetExceededError struct {
	Period  string // "daily" or "monthly"
	Current float64
	Added   float64
	Limit   float64
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("%s budget exceeded: $%.2f + $%.2f > $%.2f", e.Period, e.Current, e.Added, e.Limit)
}

func (e *BudgetExceededError) Unwrap() error { return ErrBudgetExceeded }

// Ledger is the storage surface a Tracker bills through. The default
// in-memory ledger is process-local; RedisLedger offers a shared ledger
// for multi-process budget enforcement (spec.md §4.C).
type Ledger interface {
	Append(call Call) error
	All() ([]Call, error)
	Prune(cutoff time.Time) error
}
