package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/petrijr/flowstate/internal/persistence"
	"github.com/petrijr/flowstate/pkg/api"
)

// engineImpl is the synchronous, in-process transition engine. It is the
// only writer and the only validator of the stores it is given.
type engineImpl struct {
	definitions persistence.DefinitionStore
	instances   persistence.InstanceStore
	events      persistence.EventStore

	// regMu makes the duplicate-name check, validation and insert of
	// RegisterDefinition one atomic unit.
	regMu sync.Mutex
	// instLocks serializes ExecuteAction per instance.
	instLocks *keyedMutex

	observer api.Observer
	newID    func() string
	now      func() time.Time
}

// Config describes how to construct an engineImpl.
type Config struct {
	Persistence persistence.Persistence
	Observer    api.Observer

	// IDGenerator overrides identity generation (tests only).
	IDGenerator func() string
	// Clock overrides the history timestamp source (tests only).
	Clock func() time.Time
}

func NewInMemoryEngine() api.Engine {
	return NewInMemoryEngineWithObserver(nil)
}

func NewInMemoryEngineWithObserver(obs api.Observer) api.Engine {
	return NewEngineWithConfig(Config{
		Persistence: persistence.NewInMemory(),
		Observer:    obs,
	})
}

func NewSQLiteEngine(db *sql.DB) (api.Engine, error) {
	return NewSQLiteEngineWithObserver(db, nil)
}

func NewSQLiteEngineWithObserver(db *sql.DB, obs api.Observer) (api.Engine, error) {
	p, err := persistence.NewSQLite(db)
	if err != nil {
		return nil, err
	}
	return NewEngineWithConfig(Config{Persistence: p, Observer: obs}), nil
}

// NewEngineWithConfig creates a new Engine using the given configuration.
func NewEngineWithConfig(cfg Config) api.Engine {
	obs := cfg.Observer
	if obs == nil {
		obs = api.NoopObserver{}
	}
	events := cfg.Persistence.Events
	if events == nil {
		events = persistence.NoopEventStore{}
	}
	newID := cfg.IDGenerator
	if newID == nil {
		newID = newUUID
	}
	now := cfg.Clock
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &engineImpl{
		definitions: cfg.Persistence.Definitions,
		instances:   cfg.Persistence.Instances,
		events:      events,
		instLocks:   newKeyedMutex(),
		observer:    obs,
		newID:       newID,
		now:         now,
	}
}

// NewEngine returns an Engine over the given stores with no observer.
func NewEngine(p persistence.Persistence) api.Engine {
	return NewEngineWithConfig(Config{
		Persistence: p,
	})
}

func (e *engineImpl) RegisterDefinition(ctx context.Context, def api.Definition) (*api.Definition, error) {
	stored, err := e.registerDefinition(ctx, def)
	if err != nil {
		e.observer.OnDefinitionRejected(ctx, def.Name, err)
		return nil, err
	}
	e.observer.OnDefinitionRegistered(ctx, stored)
	return stored.Clone(), nil
}

func (e *engineImpl) registerDefinition(ctx context.Context, def api.Definition) (*api.Definition, error) {
	if err := validateRequired(&def); err != nil {
		return nil, err
	}

	e.regMu.Lock()
	defer e.regMu.Unlock()

	if _, err := e.definitions.GetDefinitionByName(ctx, def.Name); err == nil {
		return nil, api.Errorf(api.KindDuplicateName, "definition name %q is already registered", def.Name)
	} else if !errors.Is(err, persistence.ErrDefinitionNotFound) {
		return nil, fmt.Errorf("lookup definition by name: %w", err)
	}

	if err := validateStructure(&def); err != nil {
		return nil, err
	}

	stored := def.Clone()
	if stored.ID == "" {
		stored.ID = e.newID()
	}

	if err := e.definitions.SaveDefinition(ctx, stored); err != nil {
		switch {
		case errors.Is(err, persistence.ErrDuplicateName):
			// Another process sharing the backend won the race.
			return nil, api.Errorf(api.KindDuplicateName, "definition name %q is already registered", def.Name)
		case errors.Is(err, persistence.ErrDuplicateID):
			return nil, api.Errorf(api.KindIntegrity, "definition id %q collides with an existing definition", stored.ID)
		default:
			return nil, fmt.Errorf("save definition: %w", err)
		}
	}
	return stored, nil
}

func (e *engineImpl) GetDefinition(ctx context.Context, id string) (*api.Definition, error) {
	def, err := e.definitions.GetDefinition(ctx, id)
	if err != nil {
		if errors.Is(err, persistence.ErrDefinitionNotFound) {
			return nil, api.Errorf(api.KindNotFound, "definition %s not found", id)
		}
		return nil, err
	}
	return def, nil
}

func (e *engineImpl) ListDefinitions(ctx context.Context) ([]*api.Definition, error) {
	return e.definitions.ListDefinitions(ctx)
}

func (e *engineImpl) CreateInstance(ctx context.Context, definitionID string) (*api.Instance, error) {
	def, err := e.GetDefinition(ctx, definitionID)
	if err != nil {
		return nil, err
	}

	initial, ok := def.InitialState()
	if !ok {
		return nil, api.Errorf(api.KindIntegrity, "definition %s has no initial state", def.ID)
	}

	inst := &api.Instance{
		ID:             e.newID(),
		DefinitionID:   def.ID,
		CurrentStateID: initial.ID,
		History:        []api.HistoryItem{},
	}

	if err := e.instances.CreateInstance(ctx, inst); err != nil {
		if errors.Is(err, persistence.ErrDuplicateID) {
			return nil, api.Errorf(api.KindIntegrity, "instance id %q collides with an existing instance", inst.ID)
		}
		return nil, fmt.Errorf("create instance: %w", err)
	}

	e.observer.OnInstanceCreated(ctx, inst)
	e.appendEvent(ctx, api.Event{
		InstanceID:   inst.ID,
		Type:         api.EventInstanceCreated,
		DefinitionID: def.ID,
		ToState:      inst.CurrentStateID,
	})

	return inst.Clone(), nil
}

func (e *engineImpl) GetInstance(ctx context.Context, id string) (*api.Instance, error) {
	inst, err := e.instances.GetInstance(ctx, id)
	if err != nil {
		if errors.Is(err, persistence.ErrInstanceNotFound) {
			return nil, api.Errorf(api.KindNotFound, "instance %s not found", id)
		}
		return nil, err
	}
	return inst, nil
}

func (e *engineImpl) ListInstances(ctx context.Context, opts api.InstanceListOptions) ([]*api.Instance, error) {
	return e.instances.ListInstances(ctx, opts)
}

func (e *engineImpl) ExecuteAction(ctx context.Context, instanceID, actionID string) (*api.Instance, error) {
	unlock := e.instLocks.Lock(instanceID)
	defer unlock()

	start := time.Now()

	inst, def, err := e.loadForTransition(ctx, instanceID)
	if err != nil {
		return nil, e.reject(ctx, instanceID, actionID, nil, err)
	}

	target, err := checkTransition(def, inst, actionID)
	if err != nil {
		return nil, e.reject(ctx, instanceID, actionID, inst, err)
	}

	item := api.HistoryItem{ActionID: actionID, Timestamp: e.now()}
	updated, err := e.instances.AppendTransition(ctx, inst.ID, inst.Version, target.ID, item)
	if err != nil {
		switch {
		case errors.Is(err, persistence.ErrVersionMismatch):
			err = api.Errorf(api.KindConflict, "instance %s was modified concurrently", inst.ID)
		case errors.Is(err, persistence.ErrInstanceNotFound):
			err = api.Errorf(api.KindIntegrity, "instance %s vanished during transition", inst.ID)
		default:
			err = fmt.Errorf("commit transition: %w", err)
		}
		return nil, e.reject(ctx, instanceID, actionID, inst, err)
	}

	e.observer.OnTransition(ctx, updated, actionID, inst.CurrentStateID, time.Since(start))
	e.appendEvent(ctx, api.Event{
		InstanceID:   updated.ID,
		At:           item.Timestamp,
		Type:         api.EventActionExecuted,
		DefinitionID: def.ID,
		ActionID:     actionID,
		FromState:    inst.CurrentStateID,
		ToState:      updated.CurrentStateID,
	})

	return updated, nil
}

func (e *engineImpl) AvailableActions(ctx context.Context, instanceID string) ([]api.Action, error) {
	inst, def, err := e.loadForTransition(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	available := make([]api.Action, 0)
	for _, a := range def.Actions {
		if _, err := checkTransition(def, inst, a.ID); err == nil {
			a.FromStates = append([]string(nil), a.FromStates...)
			available = append(available, a)
		}
	}
	return available, nil
}

func (e *engineImpl) ListEvents(ctx context.Context, instanceID string) ([]api.Event, error) {
	if _, err := e.GetInstance(ctx, instanceID); err != nil {
		return nil, err
	}
	events, err := e.events.ListEvents(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = []api.Event{}
	}
	return events, nil
}

// loadForTransition resolves the instance and its definition, covering
// the first two execution checks.
func (e *engineImpl) loadForTransition(ctx context.Context, instanceID string) (*api.Instance, *api.Definition, error) {
	inst, err := e.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, nil, err
	}

	def, err := e.definitions.GetDefinition(ctx, inst.DefinitionID)
	if err != nil {
		if errors.Is(err, persistence.ErrDefinitionNotFound) {
			return nil, nil, api.Errorf(api.KindIntegrity, "definition %s for instance %s not found", inst.DefinitionID, inst.ID)
		}
		return nil, nil, err
	}
	return inst, def, nil
}

// reject reports a failed ExecuteAction to the observer and audit log and
// returns err unchanged.
func (e *engineImpl) reject(ctx context.Context, instanceID, actionID string, inst *api.Instance, err error) error {
	e.observer.OnActionRejected(ctx, instanceID, actionID, err)

	// Unknown instances have no audit trail to append to.
	if inst == nil {
		return err
	}
	e.appendEvent(ctx, api.Event{
		InstanceID:   inst.ID,
		Type:         api.EventActionRejected,
		DefinitionID: inst.DefinitionID,
		ActionID:     actionID,
		FromState:    inst.CurrentStateID,
		Detail:       err.Error(),
	})
	return err
}

// appendEvent writes to the audit log. Audit failures never fail the
// operation that produced them.
func (e *engineImpl) appendEvent(ctx context.Context, ev api.Event) {
	if ev.At.IsZero() {
		ev.At = e.now()
	}
	_ = e.events.AppendEvent(ctx, ev)
}
