package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validator validates an Environment comprehensively, the same struct-tag
// driven approach, plus the
// cross-field rules (parallelism clamp, budget ordering) validator tags
// alone can't express.
type Validator struct {
	env *Environment
	v   *validator.Validate
}

// NewValidator creates a validator for the given environment.
func NewValidator(env *Environment) *Validator {
	return &Validator{env: env, v: validator.New()}
}

// ValidateAll performs comprehensive, fail-fast validation.
func (vd *Validator) ValidateAll() error {
	if err := vd.v.Struct(vd.env.Defaults); err != nil {
		return NewValidationError("defaults", "", "", err)
	}
	if err := vd.v.Struct(vd.env.Messenger); err != nil {
		return NewValidationError("messenger", string(vd.env.Messenger.Type), "", err)
	}
	if !vd.env.Messenger.Type.IsValid() {
		return NewValidationError("messenger", string(vd.env.Messenger.Type), "type",
			fmt.Errorf("%w: %q", ErrInvalidValue, vd.env.Messenger.Type))
	}
	if err := vd.v.Struct(vd.env.Persistence); err != nil {
		return NewValidationError("persistence", string(vd.env.Persistence.Type), "", err)
	}
	if !vd.env.Persistence.Type.IsValid() {
		return NewValidationError("persistence", string(vd.env.Persistence.Type), "type",
			fmt.Errorf("%w: %q", ErrInvalidValue, vd.env.Persistence.Type))
	}
	if err := vd.v.Struct(vd.env.Cost); err != nil {
		return NewValidationError("cost", "", "", err)
	}
	if err := vd.validateCostBudgets(); err != nil {
		return err
	}
	if err := vd.v.Struct(vd.env.Sandbox); err != nil {
		return NewValidationError("sandbox", "", "", err)
	}
	if err := vd.v.Struct(vd.env.LLM); err != nil {
		return NewValidationError("llm", "", "", err)
	}
	if !vd.env.LLM.Provider.IsValid() {
		return NewValidationError("llm", string(vd.env.LLM.Provider), "provider",
			fmt.Errorf("%w: %q", ErrInvalidValue, vd.env.LLM.Provider))
	}
	if n := vd.env.Defaults.MaxParallelDevelopers; n < 1 || n > 5 {
		return NewValidationError("defaults", "", "max_parallel_developers",
			fmt.Errorf("%w: must be in [1,5], got %d", ErrInvalidValue, n))
	}
	return nil
}

func (vd *Validator) validateCostBudgets() error {
	c := vd.env.Cost
	if c.DailyBudget != nil && *c.DailyBudget <= 0 {
		return NewValidationError("cost", "", "daily_budget",
			fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if c.MonthlyBudget != nil && c.DailyBudget != nil && *c.MonthlyBudget < *c.DailyBudget {
		return NewValidationError("cost", "", "monthly_budget",
			fmt.Errorf("%w: monthly budget must be >= daily budget", ErrInvalidValue))
	}
	return nil
}
