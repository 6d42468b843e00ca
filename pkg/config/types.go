package config

import "time"

// RecoveryStrategyConfig is the YAML-facing shape of a per-stage Recovery
// Strategy (spec §3). Immutable once a stage is registered with the
// Supervisor; zero values are filled in from Defaults.RecoveryStrategy.
type RecoveryStrategyConfig struct {
	MaxRetries        *int          `yaml:"max_retries,omitempty" validate:"omitempty,min=0,max=20"`
	RetryDelay        time.Duration `yaml:"retry_delay,omitempty"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier,omitempty" validate:"omitempty,min=1"`
	Timeout           time.Duration `yaml:"timeout,omitempty"`
	BreakerThreshold  *int          `yaml:"breaker_threshold,omitempty" validate:"omitempty,min=1"`
	BreakerCooldown   time.Duration `yaml:"breaker_cooldown,omitempty"`
	Fallback          string        `yaml:"fallback,omitempty"`
}

// MessengerConfig configures the Messenger factory (§4.A, §6).
type MessengerConfig struct {
	Type       MessengerType `yaml:"type" validate:"required"`
	MessageDir string        `yaml:"message_dir,omitempty"`
	BrokerURL  string        `yaml:"broker_url,omitempty"`
	AgentName  string        `yaml:"agent_name,omitempty"`
}

// PersistenceConfig configures the Persistence factory (§4.M, §6).
type PersistenceConfig struct {
	Type PersistenceType `yaml:"type" validate:"required"`
	DB   string          `yaml:"db,omitempty"`
}

// CostConfig configures the Cost Tracker's budget enforcement (§4.C).
type CostConfig struct {
	DailyBudget    *float64 `yaml:"daily_budget,omitempty" validate:"omitempty,gt=0"`
	MonthlyBudget  *float64 `yaml:"monthly_budget,omitempty" validate:"omitempty,gt=0"`
	AlertThreshold float64  `yaml:"alert_threshold,omitempty" validate:"omitempty,gt=0,lte=1"`
}

// SandboxConfig configures the Sandbox Executor (§4.D).
type SandboxConfig struct {
	Backend        SandboxBackendType `yaml:"backend,omitempty"`
	MaxCPUSeconds  int                `yaml:"max_cpu_seconds,omitempty" validate:"omitempty,min=1"`
	MaxMemoryMB    int                `yaml:"max_memory_mb,omitempty" validate:"omitempty,min=1"`
	MaxFileSizeMB  int                `yaml:"max_file_size_mb,omitempty" validate:"omitempty,min=1"`
	AllowNetwork   bool               `yaml:"allow_network,omitempty"`
	TimeoutSeconds int                `yaml:"timeout_seconds,omitempty" validate:"omitempty,min=1"`
	AllowedPaths   []string           `yaml:"allowed_paths,omitempty"`
}

// LLMConfig names the provider and model the LLM client contract is wired
// against; the core never dials out itself (Non-goal: implementing LLM
// providers).
type LLMConfig struct {
	Provider LLMProviderType `yaml:"provider" validate:"required"`
	Model    string          `yaml:"model,omitempty"`
}

// Defaults holds system-wide defaults applied when a stage or component
// doesn't specify its own values.
type Defaults struct {
	RecoveryStrategy     RecoveryStrategyConfig `yaml:"recovery_strategy,omitempty"`
	MaxParallelDevelopers int                   `yaml:"max_parallel_developers,omitempty" validate:"omitempty,min=1,max=5"`
	EnableCodeReview      bool                  `yaml:"enable_code_review,omitempty"`
	MaxCodeReviewRetries  int                   `yaml:"max_code_review_retries,omitempty" validate:"omitempty,min=0"`
	Verbose               bool                 `yaml:"verbose,omitempty"`
	LogLevel               LogLevel             `yaml:"log_level,omitempty"`
}

// RetentionConfig controls cleanup horizons for the Cost Tracker ledger
// and Persistence snapshots.
type RetentionConfig struct {
	CostRecordDays     int `yaml:"cost_record_days,omitempty"`
	PipelineStateDays  int `yaml:"pipeline_state_days,omitempty"`
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		CostRecordDays:    90,
		PipelineStateDays: 180,
	}
}
