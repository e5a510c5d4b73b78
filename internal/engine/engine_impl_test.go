package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/flowstate/internal/persistence"
	"github.com/petrijr/flowstate/pkg/api"
)

// abcDefinition is A(initial) -go1-> B -go2-> C(final).
func abcDefinition(name string) api.Definition {
	return api.Definition{
		Name: name,
		States: []api.State{
			{ID: "A", IsInitial: true},
			{ID: "B"},
			{ID: "C", IsFinal: true},
		},
		Actions: []api.Action{
			{ID: "go1", Enabled: true, FromStates: []string{"A"}, ToState: "B"},
			{ID: "go2", Enabled: true, FromStates: []string{"B"}, ToState: "C"},
		},
	}
}

func registerABC(t *testing.T, eng api.Engine) *api.Definition {
	t.Helper()
	def, err := eng.RegisterDefinition(context.Background(), abcDefinition("abc"))
	require.NoError(t, err)
	return def
}

func TestExecuteAction_ABCScenario(t *testing.T) {
	ctx := context.Background()
	eng := NewInMemoryEngine()
	def := registerABC(t, eng)

	inst, err := eng.CreateInstance(ctx, def.ID)
	require.NoError(t, err)
	assert.Equal(t, "A", inst.CurrentStateID)
	assert.Empty(t, inst.History)
	assert.NotNil(t, inst.History)
	assert.Equal(t, def.ID, inst.DefinitionID)

	inst, err = eng.ExecuteAction(ctx, inst.ID, "go1")
	require.NoError(t, err)
	assert.Equal(t, "B", inst.CurrentStateID)
	assert.Equal(t, []string{"go1"}, historyActions(inst))

	inst, err = eng.ExecuteAction(ctx, inst.ID, "go2")
	require.NoError(t, err)
	assert.Equal(t, "C", inst.CurrentStateID)
	assert.Equal(t, []string{"go1", "go2"}, historyActions(inst))

	for _, action := range []string{"go1", "go2", "nope"} {
		_, err = eng.ExecuteAction(ctx, inst.ID, action)
		require.ErrorIs(t, err, api.ErrTerminalState, "action %s", action)
	}

	got, err := eng.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, "C", got.CurrentStateID)
	assert.Len(t, got.History, 2)
}

func TestExecuteAction_UsesClockForHistory(t *testing.T) {
	ctx := context.Background()
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	eng := NewEngineWithConfig(Config{
		Persistence: persistence.NewInMemory(),
		Clock:       func() time.Time { return at },
	})
	def := registerABC(t, eng)

	inst, err := eng.CreateInstance(ctx, def.ID)
	require.NoError(t, err)
	inst, err = eng.ExecuteAction(ctx, inst.ID, "go1")
	require.NoError(t, err)

	require.Len(t, inst.History, 1)
	assert.True(t, at.Equal(inst.History[0].Timestamp))
}

func TestExecuteAction_FailureModes(t *testing.T) {
	ctx := context.Background()

	def := api.Definition{
		Name: "modes",
		States: []api.State{
			{ID: "A", IsInitial: true},
			{ID: "B"},
			{ID: "Z", IsFinal: true},
		},
		Actions: []api.Action{
			{ID: "toB", Enabled: true, FromStates: []string{"A"}, ToState: "B"},
			{ID: "off", Enabled: false, FromStates: []string{"A"}, ToState: "B"},
			{ID: "fromB", Enabled: true, FromStates: []string{"B"}, ToState: "Z"},
		},
	}

	tests := []struct {
		name   string
		action string
		want   error
	}{
		{name: "unknown action", action: "missing", want: api.ErrNotFound},
		{name: "disabled action from a legal state", action: "off", want: api.ErrActionDisabled},
		{name: "illegal source state", action: "fromB", want: api.ErrIllegalTransition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := NewInMemoryEngine()
			stored, err := eng.RegisterDefinition(ctx, def)
			require.NoError(t, err)
			inst, err := eng.CreateInstance(ctx, stored.ID)
			require.NoError(t, err)

			_, err = eng.ExecuteAction(ctx, inst.ID, tt.action)
			require.ErrorIs(t, err, tt.want)

			after, err := eng.GetInstance(ctx, inst.ID)
			require.NoError(t, err)
			assert.Equal(t, "A", after.CurrentStateID, "failed execution must not change state")
			assert.Empty(t, after.History)
		})
	}
}

func TestExecuteAction_DisabledCheckedBeforeSourceState(t *testing.T) {
	ctx := context.Background()
	eng := NewInMemoryEngine()

	stored, err := eng.RegisterDefinition(ctx, api.Definition{
		Name:   "order",
		States: []api.State{{ID: "A", IsInitial: true}, {ID: "B"}, {ID: "C"}},
		Actions: []api.Action{
			{ID: "fromB", Enabled: false, FromStates: []string{"B"}, ToState: "C"},
		},
	})
	require.NoError(t, err)
	inst, err := eng.CreateInstance(ctx, stored.ID)
	require.NoError(t, err)

	_, err = eng.ExecuteAction(ctx, inst.ID, "fromB")
	require.ErrorIs(t, err, api.ErrActionDisabled)
}

func TestExecuteAction_UnknownInstance(t *testing.T) {
	eng := NewInMemoryEngine()

	_, err := eng.ExecuteAction(context.Background(), "missing", "go1")
	require.ErrorIs(t, err, api.ErrNotFound)
	assert.Equal(t, api.KindNotFound, api.KindOf(err))
}

func TestExecuteAction_IntegrityErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("vanished definition", func(t *testing.T) {
		p := persistence.NewInMemory()
		eng := NewEngine(p)
		require.NoError(t, p.Instances.CreateInstance(ctx, &api.Instance{
			ID: "orphan", DefinitionID: "gone", CurrentStateID: "A", History: []api.HistoryItem{},
		}))

		_, err := eng.ExecuteAction(ctx, "orphan", "go1")
		require.ErrorIs(t, err, api.ErrIntegrity)
	})

	t.Run("undeclared current state", func(t *testing.T) {
		p := persistence.NewInMemory()
		eng := NewEngine(p)
		def := registerABC(t, eng)
		require.NoError(t, p.Instances.CreateInstance(ctx, &api.Instance{
			ID: "lost", DefinitionID: def.ID, CurrentStateID: "Q", History: []api.HistoryItem{},
		}))

		_, err := eng.ExecuteAction(ctx, "lost", "go1")
		require.ErrorIs(t, err, api.ErrIntegrity)
	})

	t.Run("dangling target", func(t *testing.T) {
		p := persistence.NewInMemory()
		eng := NewEngine(p)
		// Bypass registration so the dangling reference reaches execution.
		require.NoError(t, p.Definitions.SaveDefinition(ctx, &api.Definition{
			ID:      "raw",
			Name:    "raw",
			States:  []api.State{{ID: "A", IsInitial: true}},
			Actions: []api.Action{{ID: "jump", Enabled: true, FromStates: []string{"A"}, ToState: "nowhere"}},
		}))
		inst, err := eng.CreateInstance(ctx, "raw")
		require.NoError(t, err)

		_, err = eng.ExecuteAction(ctx, inst.ID, "jump")
		require.ErrorIs(t, err, api.ErrIntegrity)
	})
}

func TestExecuteAction_ReexecutingIsANewTransition(t *testing.T) {
	ctx := context.Background()
	eng := NewInMemoryEngine()

	stored, err := eng.RegisterDefinition(ctx, api.Definition{
		Name:    "loop",
		States:  []api.State{{ID: "A", IsInitial: true}, {ID: "B"}},
		Actions: []api.Action{{ID: "flip", Enabled: true, FromStates: []string{"A", "B"}, ToState: "B"}},
	})
	require.NoError(t, err)
	inst, err := eng.CreateInstance(ctx, stored.ID)
	require.NoError(t, err)

	for range 3 {
		inst, err = eng.ExecuteAction(ctx, inst.ID, "flip")
		require.NoError(t, err)
	}
	assert.Equal(t, "B", inst.CurrentStateID)
	assert.Equal(t, 3, inst.Version)
	assert.Equal(t, []string{"flip", "flip", "flip"}, historyActions(inst))
}

func TestExecuteAction_ConcurrentCallsSingleWinner(t *testing.T) {
	ctx := context.Background()
	eng := NewInMemoryEngine()

	stored, err := eng.RegisterDefinition(ctx, api.Definition{
		Name: "fork",
		States: []api.State{
			{ID: "A", IsInitial: true},
			{ID: "L", IsFinal: true},
			{ID: "R", IsFinal: true},
		},
		Actions: []api.Action{
			{ID: "left", Enabled: true, FromStates: []string{"A"}, ToState: "L"},
			{ID: "right", Enabled: true, FromStates: []string{"A"}, ToState: "R"},
		},
	})
	require.NoError(t, err)

	for round := range 20 {
		inst, err := eng.CreateInstance(ctx, stored.ID)
		require.NoError(t, err)

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i, action := range []string{"left", "right"} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, errs[i] = eng.ExecuteAction(ctx, inst.ID, action)
			}()
		}
		wg.Wait()

		wins := 0
		for _, err := range errs {
			if err == nil {
				wins++
				continue
			}
			// The loser sees the winner's final state.
			require.ErrorIs(t, err, api.ErrTerminalState, "round %d", round)
		}
		require.Equal(t, 1, wins, "round %d: %v", round, errs)

		got, err := eng.GetInstance(ctx, inst.ID)
		require.NoError(t, err)
		assert.Len(t, got.History, 1)
		assert.Contains(t, []string{"L", "R"}, got.CurrentStateID)
	}
}

func TestExecuteAction_ConcurrentNonTerminalSingleWinner(t *testing.T) {
	ctx := context.Background()
	eng := NewInMemoryEngine()

	stored, err := eng.RegisterDefinition(ctx, api.Definition{
		Name: "fork-open",
		States: []api.State{
			{ID: "A", IsInitial: true},
			{ID: "L"},
			{ID: "R"},
		},
		Actions: []api.Action{
			{ID: "left", Enabled: true, FromStates: []string{"A"}, ToState: "L"},
			{ID: "right", Enabled: true, FromStates: []string{"A"}, ToState: "R"},
		},
	})
	require.NoError(t, err)
	inst, err := eng.CreateInstance(ctx, stored.ID)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, action := range []string{"left", "right"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = eng.ExecuteAction(ctx, inst.ID, action)
		}()
	}
	wg.Wait()

	failures := 0
	for _, err := range errs {
		if err != nil {
			failures++
			require.ErrorIs(t, err, api.ErrIllegalTransition)
		}
	}
	assert.Equal(t, 1, failures)
}

func TestExecuteAction_ManyInstancesInParallel(t *testing.T) {
	ctx := context.Background()
	eng := NewInMemoryEngine()
	def := registerABC(t, eng)

	const n = 32
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			inst, err := eng.CreateInstance(ctx, def.ID)
			if err != nil {
				errs <- err
				return
			}
			for _, a := range []string{"go1", "go2"} {
				if _, err := eng.ExecuteAction(ctx, inst.ID, a); err != nil {
					errs <- fmt.Errorf("%s on %s: %w", a, inst.ID, err)
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}

	done, err := eng.ListInstances(ctx, api.InstanceListOptions{CurrentState: "C"})
	require.NoError(t, err)
	assert.Len(t, done, n)
}

// conflictingStore loses every compare-and-swap, as if another process
// sharing the backend always commits first.
type conflictingStore struct {
	persistence.InstanceStore
}

func (conflictingStore) AppendTransition(ctx context.Context, id string, expectedVersion int, toState string, item api.HistoryItem) (*api.Instance, error) {
	return nil, persistence.ErrVersionMismatch
}

func TestExecuteAction_LostCASIsConflict(t *testing.T) {
	ctx := context.Background()
	p := persistence.NewInMemory()
	p.Instances = conflictingStore{InstanceStore: p.Instances}
	eng := NewEngine(p)
	def := registerABC(t, eng)

	inst, err := eng.CreateInstance(ctx, def.ID)
	require.NoError(t, err)

	_, err = eng.ExecuteAction(ctx, inst.ID, "go1")
	require.ErrorIs(t, err, api.ErrConflict)
}

type failingStore struct {
	persistence.InstanceStore
}

var errDiskFull = errors.New("disk full")

func (failingStore) AppendTransition(ctx context.Context, id string, expectedVersion int, toState string, item api.HistoryItem) (*api.Instance, error) {
	return nil, errDiskFull
}

func TestExecuteAction_StorageFailureIsUnclassified(t *testing.T) {
	ctx := context.Background()
	p := persistence.NewInMemory()
	p.Instances = failingStore{InstanceStore: p.Instances}
	eng := NewEngine(p)
	def := registerABC(t, eng)

	inst, err := eng.CreateInstance(ctx, def.ID)
	require.NoError(t, err)

	_, err = eng.ExecuteAction(ctx, inst.ID, "go1")
	require.ErrorIs(t, err, errDiskFull)
	assert.Equal(t, api.ErrorKind(""), api.KindOf(err))
}

func TestCreateInstance_UnknownDefinition(t *testing.T) {
	eng := NewInMemoryEngine()

	_, err := eng.CreateInstance(context.Background(), "missing")
	require.ErrorIs(t, err, api.ErrNotFound)
}

func TestCreateInstance_IDCollisionIsIntegrityError(t *testing.T) {
	ctx := context.Background()
	eng := NewEngineWithConfig(Config{
		Persistence: persistence.NewInMemory(),
		IDGenerator: func() string { return "same" },
	})
	def := registerABC(t, eng)
	require.Equal(t, "same", def.ID)

	_, err := eng.CreateInstance(ctx, def.ID)
	require.NoError(t, err)

	_, err = eng.CreateInstance(ctx, def.ID)
	require.ErrorIs(t, err, api.ErrIntegrity)
}

func TestGetAndList(t *testing.T) {
	ctx := context.Background()
	eng := NewInMemoryEngine()

	first := registerABC(t, eng)
	second, err := eng.RegisterDefinition(ctx, abcDefinition("second"))
	require.NoError(t, err)

	defs, err := eng.ListDefinitions(ctx)
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, first.ID, defs[0].ID)
	assert.Equal(t, second.ID, defs[1].ID)

	_, err = eng.GetDefinition(ctx, "missing")
	require.ErrorIs(t, err, api.ErrNotFound)
	_, err = eng.GetInstance(ctx, "missing")
	require.ErrorIs(t, err, api.ErrNotFound)

	i1, err := eng.CreateInstance(ctx, first.ID)
	require.NoError(t, err)
	i2, err := eng.CreateInstance(ctx, second.ID)
	require.NoError(t, err)
	i3, err := eng.CreateInstance(ctx, first.ID)
	require.NoError(t, err)
	_, err = eng.ExecuteAction(ctx, i3.ID, "go1")
	require.NoError(t, err)

	all, err := eng.ListInstances(ctx, api.InstanceListOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{i1.ID, i2.ID, i3.ID}, instanceIDs(all))

	byDef, err := eng.ListInstances(ctx, api.InstanceListOptions{DefinitionID: first.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{i1.ID, i3.ID}, instanceIDs(byDef))

	inB, err := eng.ListInstances(ctx, api.InstanceListOptions{DefinitionID: first.ID, CurrentState: "B"})
	require.NoError(t, err)
	assert.Equal(t, []string{i3.ID}, instanceIDs(inB))
}

func TestReturnedValuesAreSnapshots(t *testing.T) {
	ctx := context.Background()
	eng := NewInMemoryEngine()
	def := registerABC(t, eng)

	def.Name = "mutated"
	def.States[0].ID = "X"

	again, err := eng.GetDefinition(ctx, def.ID)
	require.NoError(t, err)
	assert.Equal(t, "abc", again.Name)
	assert.Equal(t, "A", again.States[0].ID)

	inst, err := eng.CreateInstance(ctx, def.ID)
	require.NoError(t, err)
	inst.CurrentStateID = "C"

	_, err = eng.ExecuteAction(ctx, inst.ID, "go1")
	require.NoError(t, err)
}

func TestAvailableActions(t *testing.T) {
	ctx := context.Background()
	eng := NewInMemoryEngine()

	stored, err := eng.RegisterDefinition(ctx, api.Definition{
		Name: "avail",
		States: []api.State{
			{ID: "A", IsInitial: true},
			{ID: "B"},
			{ID: "C", IsFinal: true},
		},
		Actions: []api.Action{
			{ID: "go", Enabled: true, FromStates: []string{"A"}, ToState: "B"},
			{ID: "skip", Enabled: true, FromStates: []string{"A", "B"}, ToState: "C"},
			{ID: "off", Enabled: false, FromStates: []string{"A"}, ToState: "C"},
		},
	})
	require.NoError(t, err)
	inst, err := eng.CreateInstance(ctx, stored.ID)
	require.NoError(t, err)

	actions, err := eng.AvailableActions(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"go", "skip"}, actionIDs(actions))

	_, err = eng.ExecuteAction(ctx, inst.ID, "skip")
	require.NoError(t, err)

	actions, err = eng.AvailableActions(ctx, inst.ID)
	require.NoError(t, err)
	assert.Empty(t, actions)
	assert.NotNil(t, actions)

	_, err = eng.AvailableActions(ctx, "missing")
	require.ErrorIs(t, err, api.ErrNotFound)
}

func TestListEvents(t *testing.T) {
	ctx := context.Background()
	eng := NewInMemoryEngine()
	def := registerABC(t, eng)

	inst, err := eng.CreateInstance(ctx, def.ID)
	require.NoError(t, err)
	_, err = eng.ExecuteAction(ctx, inst.ID, "go2")
	require.ErrorIs(t, err, api.ErrIllegalTransition)
	_, err = eng.ExecuteAction(ctx, inst.ID, "go1")
	require.NoError(t, err)

	events, err := eng.ListEvents(ctx, inst.ID)
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, api.EventInstanceCreated, events[0].Type)
	assert.Equal(t, "A", events[0].ToState)

	assert.Equal(t, api.EventActionRejected, events[1].Type)
	assert.Equal(t, "go2", events[1].ActionID)
	assert.Contains(t, events[1].Detail, string(api.KindIllegalTransition))

	assert.Equal(t, api.EventActionExecuted, events[2].Type)
	assert.Equal(t, "A", events[2].FromState)
	assert.Equal(t, "B", events[2].ToState)
	for _, ev := range events {
		assert.Equal(t, inst.ID, ev.InstanceID)
		assert.Equal(t, def.ID, ev.DefinitionID)
		assert.False(t, ev.At.IsZero())
	}

	_, err = eng.ListEvents(ctx, "missing")
	require.ErrorIs(t, err, api.ErrNotFound)
}

func TestListEvents_NoopEventStore(t *testing.T) {
	ctx := context.Background()
	p := persistence.NewInMemory()
	p.Events = nil
	eng := NewEngine(p)
	def := registerABC(t, eng)

	inst, err := eng.CreateInstance(ctx, def.ID)
	require.NoError(t, err)

	events, err := eng.ListEvents(ctx, inst.ID)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func historyActions(inst *api.Instance) []string {
	out := make([]string, 0, len(inst.History))
	for _, h := range inst.History {
		out = append(out, h.ActionID)
	}
	return out
}

func instanceIDs(list []*api.Instance) []string {
	out := make([]string, 0, len(list))
	for _, inst := range list {
		out = append(out, inst.ID)
	}
	return out
}

func actionIDs(list []api.Action) []string {
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, a.ID)
	}
	return out
}
