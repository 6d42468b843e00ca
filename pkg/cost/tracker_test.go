package cost_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artemis-forge/artemis/pkg/cost"
)

func TestTracker_Track_ComputesCostFromPricingTable(t *testing.T) {
	tr := cost.NewTracker()

	result, err := tr.Track("gpt-4o", "openai", 5000, 2000, "development", "card-001", "developer-a")
	require.NoError(t, err)

	expected := (5000.0/1_000_000)*2.50 + (2000.0/1_000_000)*10.00
	assert.InDelta(t, expected, result.Cost, 1e-9)
	assert.Equal(t, 7000, result.TotalTokens)
}

func TestTracker_Track_UnknownModelUsesDefaultTariff(t *testing.T) {
	tr := cost.NewTracker()

	result, err := tr.Track("some-experimental-model", "custom", 1_000_000, 1_000_000, "stage", "card-1", "")
	require.NoError(t, err)
	assert.InDelta(t, 10.00+30.00, result.Cost, 1e-9)
}

func TestTracker_Track_GPT4oMiniDoesNotMatchGPT4oTariff(t *testing.T) {
	tr := cost.NewTracker()

	result, err := tr.Track("gpt-4o-mini", "openai", 1_000_000, 1_000_000, "stage", "card-1", "")
	require.NoError(t, err)
	assert.InDelta(t, 0.15+0.60, result.Cost, 1e-9)
}

func TestTracker_Track_RejectsCallThatWouldExceedDailyBudget(t *testing.T) {
	tr := cost.NewTracker(cost.WithDailyBudget(0.01))

	_, err := tr.Track("gpt-4", "openai", 1_000_000, 1_000_000, "stage", "card-1", "")
	require.Error(t, err)

	var budgetErr *cost.BudgetExceededError
	require.ErrorAs(t, err, &budgetErr)
	assert.Equal(t, "daily", budgetErr.Period)

	stats := tr.Stats()
	assert.Equal(t, 0, stats.TotalCalls, "rejected call must not be billed")
}

func TestTracker_Track_AlertsAtEightyPercentOfBudget(t *testing.T) {
	tr := cost.NewTracker(cost.WithDailyBudget(1.00))

	// gpt-3.5-turbo: (tokens_in/1e6)*0.5 + (tokens_out/1e6)*1.5
	result, err := tr.Track("gpt-3.5-turbo", "openai", 1_600_000, 0, "stage", "card-1", "")
	require.NoError(t, err)
	assert.NotEmpty(t, result.Alert)
	assert.Contains(t, result.Alert, "Daily budget")
}

func TestTracker_Stats_AveragesAndGroupsByStageAndModel(t *testing.T) {
	tr := cost.NewTracker()

	_, err := tr.Track("gpt-4o", "openai", 1000, 1000, "development", "card-1", "")
	require.NoError(t, err)
	_, err = tr.Track("gpt-4o", "openai", 1000, 1000, "code_review", "card-1", "")
	require.NoError(t, err)

	stats := tr.Stats()
	assert.Equal(t, 2, stats.TotalCalls)
	assert.Len(t, stats.ByStage, 2)
	assert.Len(t, stats.ByModel, 1)
	assert.InDelta(t, stats.TotalCost/2, stats.AverageCostPerCall, 1e-9)
}

func TestTracker_Cleanup_DropsOldRecords(t *testing.T) {
	tr := cost.NewTracker()
	_, err := tr.Track("gpt-4o", "openai", 100, 100, "stage", "card-1", "")
	require.NoError(t, err)

	tr.Cleanup(-1) // cutoff in the future: everything is "old"
	assert.Empty(t, tr.Calls())
}
