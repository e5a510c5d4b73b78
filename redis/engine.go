// Package redis provides an Engine whose state lives in Redis.
package redis

import (
	"github.com/redis/go-redis/v9"

	"github.com/petrijr/flowstate/internal/engine"
	"github.com/petrijr/flowstate/internal/persistence"
	"github.com/petrijr/flowstate/pkg/api"

	rstore "github.com/petrijr/flowstate/redis/internal/persistence"
)

// DefaultPrefix namespaces all keys written by the engine.
const DefaultPrefix = "flowstate:"

// NewEngine returns an Engine that persists everything in Redis under
// DefaultPrefix.
func NewEngine(client redis.UniversalClient) api.Engine {
	return NewEngineWithObserver(client, DefaultPrefix, nil)
}

// NewEngineWithObserver returns a Redis-backed Engine using keyPrefix and
// the given Observer.
func NewEngineWithObserver(client redis.UniversalClient, keyPrefix string, obs api.Observer) api.Engine {
	store := rstore.NewRedisStore(client, keyPrefix)

	return engine.NewEngineWithConfig(engine.Config{
		Persistence: persistence.Persistence{
			Definitions: store,
			Instances:   store,
			Events:      store,
		},
		Observer: obs,
	})
}
