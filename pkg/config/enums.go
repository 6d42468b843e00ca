package config

// LLMProviderType identifies which LLM backend a model belongs to, used
// for cost-table lookups and messenger/priority metadata, and by
// cmd/artemis to enable AI routing for any provider other than mock — the
// core never calls a provider directly (the LLM client contract is out of
// scope).
type LLMProviderType string

const (
	LLMProviderOpenAI    LLMProviderType = "openai"
	LLMProviderAnthropic LLMProviderType = "anthropic"
	LLMProviderMock      LLMProviderType = "mock"
)

// IsValid reports whether the provider type is one of the recognized values.
func (t LLMProviderType) IsValid() bool {
	switch t {
	case LLMProviderOpenAI, LLMProviderAnthropic, LLMProviderMock:
		return true
	default:
		return false
	}
}

// MessengerType selects the inter-agent messenger backend (§4.A).
type MessengerType string

const (
	MessengerTypeFile   MessengerType = "file"
	MessengerTypeBroker MessengerType = "broker"
	MessengerTypeMock   MessengerType = "mock"
)

// IsValid reports whether the messenger type is recognized.
func (t MessengerType) IsValid() bool {
	switch t {
	case MessengerTypeFile, MessengerTypeBroker, MessengerTypeMock:
		return true
	default:
		return false
	}
}

// PersistenceType selects the durable snapshot backend (§4.M).
type PersistenceType string

const (
	PersistenceTypeSQLite PersistenceType = "sqlite"
	PersistenceTypePostgres PersistenceType = "postgres"
	PersistenceTypeJSON   PersistenceType = "json"
)

// IsValid reports whether the persistence type is recognized.
func (t PersistenceType) IsValid() bool {
	switch t {
	case PersistenceTypeSQLite, PersistenceTypePostgres, PersistenceTypeJSON:
		return true
	default:
		return false
	}
}

// LogLevel mirrors ARTEMIS_LOG_LEVEL (§6).
type LogLevel string

const (
	LogLevelDebug   LogLevel = "DEBUG"
	LogLevelInfo    LogLevel = "INFO"
	LogLevelWarning LogLevel = "WARNING"
	LogLevelError   LogLevel = "ERROR"
)

// IsValid reports whether the log level is recognized.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarning, LogLevelError:
		return true
	default:
		return false
	}
}

// SandboxBackendType selects the Sandbox Executor's isolation mechanism (§4.D).
type SandboxBackendType string

const (
	SandboxBackendChildProcess SandboxBackendType = "child_process"
	SandboxBackendContainer    SandboxBackendType = "container"
)

// IsValid reports whether the sandbox backend type is recognized.
func (t SandboxBackendType) IsValid() bool {
	return t == SandboxBackendChildProcess || t == SandboxBackendContainer
}
