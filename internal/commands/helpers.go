// Package commands implements the CLI subcommands for the gangplank binary.
package commands

import (
	"fmt"

	"github.com/gangplank-systems/gangplank/internal/store"
	"github.com/gangplank-systems/gangplank/internal/store/redisstore"
	"github.com/gangplank-systems/gangplank/pkg/types"
)

// newStore creates the configured stage registry backend.
func newStore(cfg *types.ProjectConfig) (store.Store, error) {
	switch cfg.Store {
	case "", "memory":
		return store.NewMemory(), nil
	case "redis":
		if cfg.Redis == nil {
			return nil, fmt.Errorf("redis config is required when store is redis")
		}
		return redisstore.New(cfg.Redis), nil
	default:
		return nil, fmt.Errorf("unsupported store: %s", cfg.Store)
	}
}
