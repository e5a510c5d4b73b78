package flowstate

import (
	"context"
	"database/sql"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/petrijr/flowstate/internal/engine"
	"github.com/petrijr/flowstate/internal/taskqueue"
	"github.com/petrijr/flowstate/pkg/api"
	workerpkg "github.com/petrijr/flowstate/pkg/worker"
	mongoengine "github.com/petrijr/flowstate/mongo"
	pgengine "github.com/petrijr/flowstate/postgres"
	redisengine "github.com/petrijr/flowstate/redis"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Engine               = api.Engine
	Definition           = api.Definition
	State                = api.State
	Action               = api.Action
	Instance             = api.Instance
	HistoryItem          = api.HistoryItem
	InstanceListOptions  = api.InstanceListOptions
	Event                = api.Event
	EventType            = api.EventType
	Error                = api.Error
	ErrorKind            = api.ErrorKind
	Observer             = api.Observer
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	CompositeObserver    = api.CompositeObserver
	NoopObserver         = api.NoopObserver
	Queue                = taskqueue.Queue
	Task                 = taskqueue.Task
	Worker               = workerpkg.Worker
	WorkerConfig         = workerpkg.Config
)

var (
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
	KindOf               = api.KindOf
)

// Error kinds.
const (
	KindInvalidDefinition   = api.KindInvalidDefinition
	KindDuplicateName       = api.KindDuplicateName
	KindInvalidInitialState = api.KindInvalidInitialState
	KindDuplicateStateID    = api.KindDuplicateStateID
	KindDuplicateActionID   = api.KindDuplicateActionID
	KindInvalidReference    = api.KindInvalidReference
	KindNotFound            = api.KindNotFound
	KindTerminalState       = api.KindTerminalState
	KindActionDisabled      = api.KindActionDisabled
	KindIllegalTransition   = api.KindIllegalTransition
	KindIntegrity           = api.KindIntegrity
	KindConflict            = api.KindConflict
)

// Sentinel errors for errors.Is.
var (
	ErrInvalidDefinition   = api.ErrInvalidDefinition
	ErrDuplicateName       = api.ErrDuplicateName
	ErrInvalidInitialState = api.ErrInvalidInitialState
	ErrDuplicateStateID    = api.ErrDuplicateStateID
	ErrDuplicateActionID   = api.ErrDuplicateActionID
	ErrInvalidReference    = api.ErrInvalidReference
	ErrNotFound            = api.ErrNotFound
	ErrTerminalState       = api.ErrTerminalState
	ErrActionDisabled      = api.ErrActionDisabled
	ErrIllegalTransition   = api.ErrIllegalTransition
	ErrIntegrity           = api.ErrIntegrity
	ErrConflict            = api.ErrConflict
)

// Audit event types.
const (
	EventInstanceCreated = api.EventInstanceCreated
	EventActionExecuted  = api.EventActionExecuted
	EventActionRejected  = api.EventActionRejected
)

// Engine constructors
// These wrap the internal/engine package so external callers
// never need to import internal packages.

// NewInMemoryEngine returns an Engine backed entirely by in-memory stores.
func NewInMemoryEngine() Engine {
	return engine.NewInMemoryEngine()
}

// NewInMemoryEngineWithObserver returns an in-memory Engine with the given Observer.
func NewInMemoryEngineWithObserver(obs Observer) Engine {
	return engine.NewInMemoryEngineWithObserver(obs)
}

// NewSQLiteEngine returns an Engine that persists definitions, instances
// and audit events in a SQLite database. The schema is created if missing.
func NewSQLiteEngine(db *sql.DB) (Engine, error) {
	return engine.NewSQLiteEngine(db)
}

// NewSQLiteEngineWithObserver returns a SQLite-backed Engine with the given Observer.
func NewSQLiteEngineWithObserver(db *sql.DB, obs Observer) (Engine, error) {
	return engine.NewSQLiteEngineWithObserver(db, obs)
}

// NewPostgresEngine returns an Engine that persists everything in PostgreSQL.
// db must use the pgx driver.
func NewPostgresEngine(db *sql.DB) (Engine, error) {
	return pgengine.NewEngine(db)
}

// NewPostgresEngineWithObserver returns a Postgres-backed Engine with the given Observer.
func NewPostgresEngineWithObserver(db *sql.DB, obs Observer) (Engine, error) {
	return pgengine.NewEngineWithObserver(db, obs)
}

// NewRedisEngine returns an Engine that persists everything in Redis.
func NewRedisEngine(client redis.UniversalClient) Engine {
	return redisengine.NewEngine(client)
}

// NewRedisEngineWithObserver returns a Redis-backed Engine with the given Observer.
func NewRedisEngineWithObserver(client redis.UniversalClient, obs Observer) Engine {
	return redisengine.NewEngineWithObserver(client, redisengine.DefaultPrefix, obs)
}

// NewMongoEngine returns an Engine that persists everything in MongoDB
// database dbName. Indexes are created if missing.
func NewMongoEngine(ctx context.Context, client *mongo.Client, dbName string) (Engine, error) {
	return mongoengine.NewEngine(ctx, client, dbName)
}

// NewMongoEngineWithObserver returns a Mongo-backed Engine with the given Observer.
func NewMongoEngineWithObserver(ctx context.Context, client *mongo.Client, dbName string, obs Observer) (Engine, error) {
	return mongoengine.NewEngineWithObserver(ctx, client, dbName, obs)
}

// Queue and worker constructors.

// NewInMemoryQueue returns a non-durable action queue holding at most
// capacity tasks.
func NewInMemoryQueue(capacity int) Queue {
	return taskqueue.NewInMemoryQueue(capacity)
}

// NewSQLiteQueue returns an action queue stored in db. It may share the
// database of a SQLite engine.
func NewSQLiteQueue(db *sql.DB) (Queue, error) {
	q, err := taskqueue.NewSQLiteQueue(db)
	if err != nil {
		return nil, err
	}
	return q, nil
}

// NewMongoQueue returns an action queue stored in collection collName of
// database dbName. Empty names select the defaults.
func NewMongoQueue(ctx context.Context, client *mongo.Client, dbName, collName string) (Queue, error) {
	q, err := taskqueue.NewMongoQueue(ctx, client, dbName, collName)
	if err != nil {
		return nil, err
	}
	return q, nil
}

// NewWorker returns a Worker executing tasks from queue against eng.
func NewWorker(eng Engine, queue Queue, cfg WorkerConfig) *Worker {
	return workerpkg.NewWithConfig(eng, queue, cfg)
}

// Convenience helpers that just forward to the underlying Engine.

// Start creates an instance of the definition with the given id.
func Start(ctx context.Context, eng Engine, definitionID string) (*Instance, error) {
	return eng.CreateInstance(ctx, definitionID)
}

// Execute fires actionID against the instance.
func Execute(ctx context.Context, eng Engine, instanceID, actionID string) (*Instance, error) {
	return eng.ExecuteAction(ctx, instanceID, actionID)
}

// GetInstance fetches an instance by ID.
func GetInstance(ctx context.Context, eng Engine, id string) (*Instance, error) {
	return eng.GetInstance(ctx, id)
}

// ListInstances lists instances according to the given options.
func ListInstances(ctx context.Context, eng Engine, opts InstanceListOptions) ([]*Instance, error) {
	return eng.ListInstances(ctx, opts)
}

// IsFinal reports whether inst sits in a final state of def.
func IsFinal(def *Definition, inst *Instance) bool {
	s, ok := def.State(inst.CurrentStateID)
	return ok && s.IsFinal
}
