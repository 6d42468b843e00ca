package persistence

import (
	"context"
	"fmt"

	"github.com/artemis-forge/artemis/pkg/config"
)

// New selects a Store backend from cfg, the same factory shape
// pkg/messenger.New uses for its backend selection (spec.md §4.M names
// two interchangeable backends behind one factory).
func New(ctx context.Context, cfg *config.PersistenceConfig) (Store, error) {
	switch cfg.Type {
	case config.PersistenceTypeSQLite, "":
		path := cfg.DB
		if path == "" {
			path = "./artemis-state/artemis.db"
		}
		return NewSQLite(path)
	case config.PersistenceTypePostgres:
		return NewPostgres(ctx, cfg.DB)
	case config.PersistenceTypeJSON:
		dir := cfg.DB
		if dir == "" {
			dir = "./artemis-state"
		}
		return NewJSONStore(dir)
	default:
		return nil, fmt.Errorf("persistence: unknown backend type %q", cfg.Type)
	}
}
