// Package postgres provides an Engine whose definitions, instances and
// audit events live in PostgreSQL. Several processes may share one
// database: registration relies on unique constraints and transitions on
// a versioned conditional update.
package postgres

import (
	"database/sql"

	"github.com/petrijr/flowstate/internal/engine"
	"github.com/petrijr/flowstate/internal/persistence"
	"github.com/petrijr/flowstate/pkg/api"

	pstore "github.com/petrijr/flowstate/postgres/internal/persistence"
)

// NewEngine returns an Engine that persists everything in PostgreSQL.
func NewEngine(db *sql.DB) (api.Engine, error) {
	return NewEngineWithObserver(db, nil)
}

// NewEngineWithObserver returns a Postgres-backed Engine with the given Observer.
func NewEngineWithObserver(db *sql.DB, obs api.Observer) (api.Engine, error) {
	store, err := pstore.NewPostgresStore(db)
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
