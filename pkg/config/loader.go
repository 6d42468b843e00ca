package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// yamlConfig mirrors the on-disk artemis.yaml layout consumed by Load.
type yamlConfig struct {
	Defaults    *Defaults          `yaml:"defaults"`
	Messenger   *MessengerConfig   `yaml:"messenger"`
	Persistence *PersistenceConfig `yaml:"persistence"`
	Cost        *CostConfig        `yaml:"cost"`
	Sandbox     *SandboxConfig     `yaml:"sandbox"`
	LLM         *LLMConfig         `yaml:"llm"`
	Retention   *RetentionConfig   `yaml:"retention"`
}

// Load reads artemis.yaml from configDir (if present), expands environment
// variables (config.ExpandEnv), applies
// ARTEMIS_* environment variable overrides (§6), fills in defaults, and
// validates the result. A missing config file is not an error — Load
// falls back to NewDefaultEnvironment and applies only the env overrides.
func Load(configDir string) (*Environment, error) {
	log := slog.With("config_dir", configDir)

	env := NewDefaultEnvironment()
	env.configDir = configDir

	path := filepath.Join(configDir, "artemis.yaml")
	if data, err := os.ReadFile(path); err == nil {
		data = ExpandEnv(data)
		var parsed yamlConfig
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return nil, NewLoadError(path, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
		}
		mergeYAML(env, &parsed)
		log.Info("loaded configuration file", "path", path)
	} else if !os.IsNotExist(err) {
		return nil, NewLoadError(path, err)
	} else {
		log.Info("no configuration file found, using defaults", "path", path)
	}

	ApplyDefaultsEnv(env)
	applyEnvOverrides(env)

	if err := NewValidator(env).ValidateAll(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	return env, nil
}

// mergeYAML overlays non-zero fields parsed from artemis.yaml onto the
// default environment. User-specified sections win wholesale over the
// matching default section (struct-level override, not field merge) —
// a "user overrides built-in" precedence, simplified because Artemis
// has no per-name registry
// to merge, only single top-level sections.
func mergeYAML(env *Environment, y *yamlConfig) {
	if y.Defaults != nil {
		env.Defaults = y.Defaults
	}
	if y.Messenger != nil {
		env.Messenger = y.Messenger
	}
	if y.Persistence != nil {
		env.Persistence = y.Persistence
	}
	if y.Cost != nil {
		env.Cost = y.Cost
	}
	if y.Sandbox != nil {
		env.Sandbox = y.Sandbox
	}
	if y.LLM != nil {
		env.LLM = y.LLM
	}
	if y.Retention != nil {
		env.Retention = y.Retention
	}
}

// ApplyDefaultsEnv fills any zero-valued fields left after YAML merge.
func ApplyDefaultsEnv(env *Environment) {
	ApplyDefaults(env.Defaults)
	if env.Cost.AlertThreshold == 0 {
		env.Cost.AlertThreshold = DefaultCostConfig().AlertThreshold
	}
	if env.Sandbox.TimeoutSeconds == 0 {
		sb := DefaultSandboxConfig()
		env.Sandbox.MaxCPUSeconds = sb.MaxCPUSeconds
		env.Sandbox.MaxMemoryMB = sb.MaxMemoryMB
		env.Sandbox.MaxFileSizeMB = sb.MaxFileSizeMB
		env.Sandbox.TimeoutSeconds = sb.TimeoutSeconds
		if env.Sandbox.Backend == "" {
			env.Sandbox.Backend = sb.Backend
		}
	}
	if env.Retention == nil {
		env.Retention = DefaultRetentionConfig()
	}
}

// applyEnvOverrides applies the ARTEMIS_* environment variables documented
// in spec.md §6, taking precedence over both defaults and the YAML file.
func applyEnvOverrides(env *Environment) {
	if v := os.Getenv("ARTEMIS_LLM_PROVIDER"); v != "" {
		env.LLM.Provider = LLMProviderType(v)
	}
	if v := os.Getenv("ARTEMIS_LLM_MODEL"); v != "" {
		env.LLM.Model = v
	}
	if v := os.Getenv("ARTEMIS_MESSENGER_TYPE"); v != "" {
		env.Messenger.Type = MessengerType(v)
	}
	if v := os.Getenv("ARTEMIS_MESSAGE_DIR"); v != "" {
		env.Messenger.MessageDir = v
	}
	if v := os.Getenv("ARTEMIS_BROKER_URL"); v != "" {
		env.Messenger.BrokerURL = v
	}
	if v := os.Getenv("ARTEMIS_PERSISTENCE_TYPE"); v != "" {
		env.Persistence.Type = PersistenceType(v)
	}
	if v := os.Getenv("ARTEMIS_PERSISTENCE_DB"); v != "" {
		env.Persistence.DB = v
	}
	if v := os.Getenv("ARTEMIS_MAX_PARALLEL_DEVELOPERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			env.Defaults.MaxParallelDevelopers = n
		}
	}
	if v := os.Getenv("ARTEMIS_ENABLE_CODE_REVIEW"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			env.Defaults.EnableCodeReview = b
		}
	}
	if v := os.Getenv("ARTEMIS_VERBOSE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			env.Defaults.Verbose = b
		}
	}
	if v := os.Getenv("ARTEMIS_LOG_LEVEL"); v != "" {
		env.Defaults.LogLevel = LogLevel(v)
	}
	if v := os.Getenv("ARTEMIS_DAILY_BUDGET"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			env.Cost.DailyBudget = &f
		}
	}
	if v := os.Getenv("ARTEMIS_MONTHLY_BUDGET"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			env.Cost.MonthlyBudget = &f
		}
	}
}
