package messenger

import (
	"fmt"

	"github.com/artemis-forge/artemis/pkg/config"
)

// New selects a Messenger backend from cfg, the factory spec.md §4.A
// requires ("selection is by a factory reading either a type argument or
// an environment variable" — config.Load already folds ARTEMIS_MESSENGER_TYPE
// into cfg.Type before this is called).
func New(agentName string, cfg *config.MessengerConfig) (Messenger, error) {
	switch cfg.Type {
	case config.MessengerTypeFile:
		return NewFile(agentName, cfg.MessageDir)
	case config.MessengerTypeBroker:
		return NewBroker(agentName, cfg.BrokerURL)
	case config.MessengerTypeMock, "":
		return NewMock(agentName), nil
	default:
		return nil, fmt.Errorf("messenger: unknown backend type %q", cfg.Type)
	}
}
