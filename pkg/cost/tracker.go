package cost

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Tracker bills and budgets LLM calls (spec.md §4.C). The default backing
// store is an in-memory ledger guarded by a single sync.Mutex; inject a
// RedisLedger for multi-process budget sharing.
type Tracker struct {
	mu             sync.Mutex
	calls          []Call
	ledger         Ledger
	dailyBudget    *float64
	monthlyBudget  *float64
	alertThreshold float64
	now            func() time.Time
}

// Option configures a Tracker at construction.
type Option func(*Tracker)

// WithDailyBudget sets a daily spending cap in USD.
func WithDailyBudget(usd float64) Option {
	return func(t *Tracker) { t.dailyBudget = &usd }
}

// WithMonthlyBudget sets a monthly spending cap in USD.
func WithMonthlyBudget(usd float64) Option {
	return func(t *Tracker) { t.monthlyBudget = &usd }
}

// WithAlertThreshold overrides the default 0.8 (80%) alert fraction.
func WithAlertThreshold(fraction float64) Option {
	return func(t *Tracker) { t.alertThreshold = fraction }
}

// WithLedger durably mirrors every tracked call to ledger (e.g. a
// RedisLedger for multi-process budget sharing) in addition to the
// in-memory record Track always keeps.
func WithLedger(ledger Ledger) Option {
	return func(t *Tracker) { t.ledger = ledger }
}

// NewTracker returns a Tracker with cost_tracker.py's default alert
// threshold of 0.8 unless overridden. When opts include WithLedger, any
// calls already recorded in the ledger are loaded to seed the in-memory
// budget view.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{alertThreshold: 0.8, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	if t.ledger != nil {
		if calls, err := t.ledger.All(); err == nil {
			t.calls = calls
		}
	}
	return t
}

// Track bills one LLM call. Budgets are checked against the projected
// total before the call is recorded; if either would be exceeded nothing
// is billed and a *BudgetExceededError is returned (cost_tracker.py's
// "Check budgets BEFORE adding").
func (t *Tracker) Track(model, provider string, tokensInput, tokensOutput int, stage, cardID, purpose string) (TrackResult, error) {
	if purpose == "" {
		purpose = "general"
	}
	cost := modelCost(model, tokensInput, tokensOutput)
	now := t.now().UTC()

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.checkBudgets(cost, now); err != nil {
		return TrackResult{}, err
	}

	call := Call{
		Timestamp:    now,
		Model:        model,
		Provider:     provider,
		TokensInput:  tokensInput,
		TokensOutput: tokensOutput,
		Cost:         cost,
		Stage:        stage,
		CardID:       cardID,
		Purpose:      purpose,
	}
	t.calls = append(t.calls, call)
	if t.ledger != nil {
		// Best-effort mirror: the in-memory ledger stays authoritative for
		// this process's own budget checks even if the shared store lags.
		_ = t.ledger.Append(call)
	}

	daily := t.dailyCostLocked(now)
	monthly := t.monthlyCostLocked(now)

	return TrackResult{
		Cost:             cost,
		TotalTokens:      tokensInput + tokensOutput,
		DailyUsage:       daily,
		MonthlyUsage:     monthly,
		DailyBudget:      t.dailyBudget,
		MonthlyBudget:    t.monthlyBudget,
		DailyRemaining:   remaining(t.dailyBudget, daily),
		MonthlyRemaining: remaining(t.monthlyBudget, monthly),
		Alert:            t.checkAlertThresholdLocked(daily, monthly),
	}, nil
}

func (t *Tracker) checkBudgets(additional float64, now time.Time) error {
	daily := t.dailyCostLocked(now)
	if t.dailyBudget != nil && daily+additional > *t.dailyBudget {
		return &BudgetExceededError{Period: "daily", Current: daily, Added: additional, Limit: *t.dailyBudget}
	}
	monthly := t.monthlyCostLocked(now)
	if t.monthlyBudget != nil && monthly+additional > *t.monthlyBudget {
		return &BudgetExceededError{Period: "monthly", Current: monthly, Added: additional, Limit: *t.monthlyBudget}
	}
	return nil
}

func (t *Tracker) checkAlertThresholdLocked(daily, monthly float64) string {
	var alerts []string
	if t.dailyBudget != nil {
		usage := daily / *t.dailyBudget
		if usage >= t.alertThreshold {
			alerts = append(alerts, fmt.Sprintf("Daily budget %.0f%% used", usage*100))
		}
	}
	if t.monthlyBudget != nil {
		usage := monthly / *t.monthlyBudget
		if usage >= t.alertThreshold {
			alerts = append(alerts, fmt.Sprintf("Monthly budget %.0f%% used", usage*100))
		}
	}
	if len(alerts) == 0 {
		return ""
	}
	out := alerts[0]
	for _, a := range alerts[1:] {
		out += "; " + a
	}
	return out
}

func remaining(budget *float64, used float64) *float64 {
	if budget == nil {
		return nil
	}
	r := *budget - used
	if r < 0 {
		r = 0
	}
	return &r
}

func (t *Tracker) dailyCostLocked(now time.Time) float64 {
	today := now.Format("2006-01-02")
	var total float64
	for _, c := range t.calls {
		if c.Timestamp.Format("2006-01-02") == today {
			total += c.Cost
		}
	}
	return total
}

func (t *Tracker) monthlyCostLocked(now time.Time) float64 {
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	var total float64
	for _, c := range t.calls {
		if !c.Timestamp.Before(monthStart) {
			total += c.Cost
		}
	}
	return total
}

// CostByStage returns cost totals grouped by stage, optionally filtered
// to a single card.
func (t *Tracker) CostByStage(cardID string) map[string]float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	byStage := map[string]float64{}
	for _, c := range t.calls {
		if cardID != "" && c.CardID != cardID {
			continue
		}
		byStage[c.Stage] += c.Cost
	}
	return byStage
}

// CostByModel returns cost totals grouped by model.
func (t *Tracker) CostByModel() map[string]float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	byModel := map[string]float64{}
	for _, c := range t.calls {
		byModel[c.Model] += c.Cost
	}
	return byModel
}

// Stats returns comprehensive usage statistics (spec.md §4.C's stats()).
func (t *Tracker) Stats() Statistics {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now().UTC()
	var totalCost float64
	var totalTokens int
	byStage := map[string]float64{}
	byModel := map[string]float64{}

	for _, c := range t.calls {
		totalCost += c.Cost
		totalTokens += c.TokensInput + c.TokensOutput
		byStage[c.Stage] += c.Cost
		byModel[c.Model] += c.Cost
	}

	totalCalls := len(t.calls)
	var avg float64
	if totalCalls > 0 {
		avg = totalCost / float64(totalCalls)
	}

	daily := t.dailyCostLocked(now)
	monthly := t.monthlyCostLocked(now)

	return Statistics{
		TotalCalls:         totalCalls,
		TotalCost:          totalCost,
		TotalTokens:        totalTokens,
		DailyCost:          daily,
		MonthlyCost:        monthly,
		DailyBudget:        t.dailyBudget,
		MonthlyBudget:      t.monthlyBudget,
		DailyRemaining:     remaining(t.dailyBudget, daily),
		MonthlyRemaining:   remaining(t.monthlyBudget, monthly),
		AverageCostPerCall: avg,
		ByStage:            byStage,
		ByModel:            byModel,
	}
}

// Cleanup drops call records older than the given horizon in days
// (cost_tracker.py's cleanup_old_records, default 90).
func (t *Tracker) Cleanup(days int) {
	if days == 0 {
		days = 90
	}
	cutoff := t.now().UTC().AddDate(0, 0, -days)

	t.mu.Lock()
	defer t.mu.Unlock()

	kept := t.calls[:0]
	for _, c := range t.calls {
		if !c.Timestamp.Before(cutoff) {
			kept = append(kept, c)
		}
	}
	t.calls = kept
	if t.ledger != nil {
		_ = t.ledger.Prune(cutoff)
	}
}

// Calls returns a snapshot of every recorded call, oldest first.
func (t *Tracker) Calls() []Call {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Call, len(t.calls))
	copy(out, t.calls)
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}
