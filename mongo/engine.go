// Package mongo provides an Engine whose state lives in MongoDB.
package mongo

import (
	"context"

	"go.mongodb.org/mongo-driver/mongo"

	"github.com/petrijr/flowstate/internal/engine"
	"github.com/petrijr/flowstate/internal/persistence"
	"github.com/petrijr/flowstate/pkg/api"

	mstore "github.com/petrijr/flowstate/mongo/internal/persistence"
)

// NewEngine returns an Engine that persists everything in the given
// MongoDB database ("flowstate" if dbName is empty).
func NewEngine(ctx context.Context, client *mongo.Client, dbName string) (api.Engine, error) {
	return NewEngineWithObserver(ctx, client, dbName, nil)
}

// NewEngineWithObserver is the Mongo-backed engine constructor that accepts an Observer.
func NewEngineWithObserver(ctx context.Context, client *mongo.Client, dbName string, obs api.Observer) (api.Engine, error) {
	store, err := mstore.NewMongoStore(ctx, client, dbName)
	if err != nil {
		return nil, err
	}

	return engine.NewEngineWithConfig(engine.Config{
		Persistence: persistence.Persistence{
			Definitions: store,
			Instances:   store,
			Events:      store,
		},
		Observer: obs,
	}), nil
}
