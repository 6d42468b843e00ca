package config

import "time"

// ApplyDefaults fills zero-valued fields of the loaded Defaults with the
// built-in system defaults before validation.
func ApplyDefaults(d *Defaults) {
	if d.RecoveryStrategy.MaxRetries == nil {
		n := 3
		d.RecoveryStrategy.MaxRetries = &n
	}
	if d.RecoveryStrategy.RetryDelay == 0 {
		d.RecoveryStrategy.RetryDelay = 2 * time.Second
	}
	if d.RecoveryStrategy.BackoffMultiplier == 0 {
		d.RecoveryStrategy.BackoffMultiplier = 2.0
	}
	if d.RecoveryStrategy.Timeout == 0 {
		d.RecoveryStrategy.Timeout = 5 * time.Minute
	}
	if d.RecoveryStrategy.BreakerThreshold == nil {
		n := 5
		d.RecoveryStrategy.BreakerThreshold = &n
	}
	if d.RecoveryStrategy.BreakerCooldown == 0 {
		d.RecoveryStrategy.BreakerCooldown = 10 * time.Minute
	}
	if d.MaxParallelDevelopers == 0 {
		d.MaxParallelDevelopers = 3
	}
	if d.MaxCodeReviewRetries == 0 {
		d.MaxCodeReviewRetries = 2
	}
	if d.LogLevel == "" {
		d.LogLevel = LogLevelInfo
	}
}

// DefaultCostConfig returns the built-in cost tracker defaults (§4.C).
func DefaultCostConfig() *CostConfig {
	threshold := 0.8
	return &CostConfig{AlertThreshold: threshold}
}

// DefaultSandboxConfig returns the built-in sandbox defaults (§4.D).
func DefaultSandboxConfig() *SandboxConfig {
	return &SandboxConfig{
		Backend:        SandboxBackendChildProcess,
		MaxCPUSeconds:  30,
		MaxMemoryMB:    512,
		MaxFileSizeMB:  10,
		AllowNetwork:   false,
		TimeoutSeconds: 60,
	}
}
