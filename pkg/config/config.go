package config

// Environment is the umbrella configuration object threaded into every
// collaborator constructor instead of a global (spec.md §9 design note).
// Tests construct a synthetic Environment with whatever subset of fields
// the component under test needs; zero-valued fields fall back to the
// built-in defaults applied by ApplyDefaults/DefaultCostConfig/etc.
type Environment struct {
	configDir string

	Defaults    *Defaults
	Messenger   *MessengerConfig
	Persistence *PersistenceConfig
	Cost        *CostConfig
	Sandbox     *SandboxConfig
	LLM         *LLMConfig
	Retention   *RetentionConfig
}

// ConfigDir returns the directory the environment was loaded from, empty
// for synthetic (in-memory) environments built directly by tests.
func (e *Environment) ConfigDir() string {
	return e.configDir
}

// NewDefaultEnvironment returns an Environment populated entirely from
// built-in defaults, suitable for tests and for `--full` CLI runs with no
// config file present.
func NewDefaultEnvironment() *Environment {
	d := &Defaults{}
	ApplyDefaults(d)
	return &Environment{
		Defaults:    d,
		Messenger:   &MessengerConfig{Type: MessengerTypeMock},
		Persistence: &PersistenceConfig{Type: PersistenceTypeJSON, DB: "./artemis-state"},
		Cost:        DefaultCostConfig(),
		Sandbox:     DefaultSandboxConfig(),
		LLM:         &LLMConfig{Provider: LLMProviderMock},
		Retention:   DefaultRetentionConfig(),
	}
}
