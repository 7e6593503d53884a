package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gangplank-systems/gangplank/pkg/types"
)

func TestNewStore_DefaultsToMemory(t *testing.T) {
	s, err := newStore(&types.ProjectConfig{})
	require.NoError(t, err)
	assert.NotNil(t, s)
}

func TestNewStore_Redis(t *testing.T) {
	cfg := &types.ProjectConfig{
		Store: "redis",
		Redis: &types.RedisConfig{Addr: "localhost:6379", KeyPrefix: "gangplank"},
	}
	s, err := newStore(cfg)
	require.NoError(t, err)
	assert.NotNil(t, s)
}

func TestNewStore_RedisWithoutConfig(t *testing.T) {
	_, err := newStore(&types.ProjectConfig{Store: "redis"})
	assert.ErrorContains(t, err, "redis config is required")
}

func TestNewStore_Unknown(t *testing.T) {
	_, err := newStore(&types.ProjectConfig{Store: "etcd"})
	assert.ErrorContains(t, err, "unsupported store")
}
