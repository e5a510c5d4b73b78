// Package storetest provides a behavioral test suite shared by every
// DefinitionStore / InstanceStore implementation.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/flowstate/internal/persistence"
	"github.com/petrijr/flowstate/pkg/api"
)

// Factory returns fresh, empty stores for a single subtest.
type Factory func(t *testing.T) (persistence.DefinitionStore, persistence.InstanceStore)

// Definition returns a small three-state definition used by the suite.
func Definition(id, name string) *api.Definition {
	return &api.Definition{
		ID:   id,
		Name: name,
		States: []api.State{
			{ID: "A", IsInitial: true},
			{ID: "B"},
			{ID: "C", IsFinal: true},
		},
		Actions: []api.Action{
			{ID: "go1", Enabled: true, FromStates: []string{"A"}, ToState: "B"},
			{ID: "go2", Enabled: false, FromStates: []string{"B"}, ToState: "C"},
		},
	}
}

// Run executes the suite against stores produced by newStores.
func Run(t *testing.T, newStores Factory) {
	t.Helper()

	t.Run("SaveAndGetDefinition", func(t *testing.T) {
		defs, _ := newStores(t)
		ctx := context.Background()
		def := Definition("d-1", "wf-1")

		require.NoError(t, defs.SaveDefinition(ctx, def))

		got, err := defs.GetDefinition(ctx, "d-1")
		require.NoError(t, err)
		assert.Equal(t, def, got)

		byName, err := defs.GetDefinitionByName(ctx, "wf-1")
		require.NoError(t, err)
		assert.Equal(t, def, byName)
	})

	t.Run("GetDefinitionNotFound", func(t *testing.T) {
		defs, _ := newStores(t)
		ctx := context.Background()

		_, err := defs.GetDefinition(ctx, "missing")
		require.ErrorIs(t, err, persistence.ErrDefinitionNotFound)

		_, err = defs.GetDefinitionByName(ctx, "missing")
		require.ErrorIs(t, err, persistence.ErrDefinitionNotFound)
	})

	t.Run("DuplicateNameKeepsFirst", func(t *testing.T) {
		defs, _ := newStores(t)
		ctx := context.Background()

		require.NoError(t, defs.SaveDefinition(ctx, Definition("d-1", "same")))
		err := defs.SaveDefinition(ctx, Definition("d-2", "same"))
		require.ErrorIs(t, err, persistence.ErrDuplicateName)

		_, err = defs.GetDefinition(ctx, "d-2")
		require.ErrorIs(t, err, persistence.ErrDefinitionNotFound)

		list, err := defs.ListDefinitions(ctx)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "d-1", list[0].ID)
	})

	t.Run("DuplicateDefinitionID", func(t *testing.T) {
		defs, _ := newStores(t)
		ctx := context.Background()

		require.NoError(t, defs.SaveDefinition(ctx, Definition("d-1", "first")))
		err := defs.SaveDefinition(ctx, Definition("d-1", "second"))
		require.ErrorIs(t, err, persistence.ErrDuplicateID)

		_, err = defs.GetDefinitionByName(ctx, "second")
		require.ErrorIs(t, err, persistence.ErrDefinitionNotFound)
	})

	t.Run("ListDefinitionsInRegistrationOrder", func(t *testing.T) {
		defs, _ := newStores(t)
		ctx := context.Background()

		ids := []string{"zz", "aa", "mm"}
		for i, id := range ids {
			require.NoError(t, defs.SaveDefinition(ctx, Definition(id, fmt.Sprintf("wf-%d", i))))
		}

		list, err := defs.ListDefinitions(ctx)
		require.NoError(t, err)
		require.Len(t, list, len(ids))
		for i, id := range ids {
			assert.Equal(t, id, list[i].ID)
		}
	})

	t.Run("CreateGetAndListInstances", func(t *testing.T) {
		_, insts := newStores(t)
		ctx := context.Background()

		for _, inst := range []*api.Instance{
			{ID: "i-3", DefinitionID: "d-1", CurrentStateID: "A", History: []api.HistoryItem{}},
			{ID: "i-1", DefinitionID: "d-2", CurrentStateID: "A", History: []api.HistoryItem{}},
			{ID: "i-2", DefinitionID: "d-1", CurrentStateID: "A", History: []api.HistoryItem{}},
		} {
			require.NoError(t, insts.CreateInstance(ctx, inst))
		}

		got, err := insts.GetInstance(ctx, "i-1")
		require.NoError(t, err)
		assert.Equal(t, "d-2", got.DefinitionID)
		assert.Equal(t, "A", got.CurrentStateID)
		assert.Empty(t, got.History)
		assert.Equal(t, 0, got.Version)

		all, err := insts.ListInstances(ctx, api.InstanceListOptions{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, []string{"i-3", "i-1", "i-2"}, instanceIDs(all))

		filtered, err := insts.ListInstances(ctx, api.InstanceListOptions{DefinitionID: "d-1"})
		require.NoError(t, err)
		assert.Equal(t, []string{"i-3", "i-2"}, instanceIDs(filtered))
	})

	t.Run("DuplicateInstanceID", func(t *testing.T) {
		_, insts := newStores(t)
		ctx := context.Background()

		inst := &api.Instance{ID: "i-1", DefinitionID: "d-1", CurrentStateID: "A", History: []api.HistoryItem{}}
		require.NoError(t, insts.CreateInstance(ctx, inst))
		require.ErrorIs(t, insts.CreateInstance(ctx, inst), persistence.ErrDuplicateID)
	})

	t.Run("GetInstanceNotFound", func(t *testing.T) {
		_, insts := newStores(t)

		_, err := insts.GetInstance(context.Background(), "missing")
		require.ErrorIs(t, err, persistence.ErrInstanceNotFound)
	})

	t.Run("AppendTransition", func(t *testing.T) {
		_, insts := newStores(t)
		ctx := context.Background()

		require.NoError(t, insts.CreateInstance(ctx, &api.Instance{
			ID: "i-1", DefinitionID: "d-1", CurrentStateID: "A", History: []api.HistoryItem{},
		}))

		at := time.Now().UTC().Truncate(time.Millisecond)
		updated, err := insts.AppendTransition(ctx, "i-1", 0, "B", api.HistoryItem{ActionID: "go1", Timestamp: at})
		require.NoError(t, err)
		assert.Equal(t, "B", updated.CurrentStateID)
		assert.Equal(t, 1, updated.Version)
		require.Len(t, updated.History, 1)
		assert.Equal(t, "go1", updated.History[0].ActionID)
		assert.True(t, at.Equal(updated.History[0].Timestamp), "timestamp %v != %v", updated.History[0].Timestamp, at)

		updated, err = insts.AppendTransition(ctx, "i-1", 1, "C", api.HistoryItem{ActionID: "go2", Timestamp: at})
		require.NoError(t, err)
		assert.Equal(t, "C", updated.CurrentStateID)
		assert.Equal(t, []string{"go1", "go2"}, actionIDs(updated.History))

		reloaded, err := insts.GetInstance(ctx, "i-1")
		require.NoError(t, err)
		assert.Equal(t, "C", reloaded.CurrentStateID)
		assert.Equal(t, 2, reloaded.Version)
		assert.Equal(t, []string{"go1", "go2"}, actionIDs(reloaded.History))

		byState, err := insts.ListInstances(ctx, api.InstanceListOptions{CurrentState: "C"})
		require.NoError(t, err)
		assert.Equal(t, []string{"i-1"}, instanceIDs(byState))
	})

	t.Run("AppendTransitionVersionMismatch", func(t *testing.T) {
		_, insts := newStores(t)
		ctx := context.Background()

		require.NoError(t, insts.CreateInstance(ctx, &api.Instance{
			ID: "i-1", DefinitionID: "d-1", CurrentStateID: "A", History: []api.HistoryItem{},
		}))

		_, err := insts.AppendTransition(ctx, "i-1", 3, "B", api.HistoryItem{ActionID: "go1", Timestamp: time.Now()})
		require.ErrorIs(t, err, persistence.ErrVersionMismatch)

		got, err := insts.GetInstance(ctx, "i-1")
		require.NoError(t, err)
		assert.Equal(t, "A", got.CurrentStateID, "failed CAS must not change state")
		assert.Empty(t, got.History)
	})

	t.Run("AppendTransitionNotFound", func(t *testing.T) {
		_, insts := newStores(t)

		_, err := insts.AppendTransition(context.Background(), "missing", 0, "B", api.HistoryItem{ActionID: "go1", Timestamp: time.Now()})
		require.ErrorIs(t, err, persistence.ErrInstanceNotFound)
	})

	t.Run("ConcurrentAppendOnlyOneWins", func(t *testing.T) {
		_, insts := newStores(t)
		ctx := context.Background()

		require.NoError(t, insts.CreateInstance(ctx, &api.Instance{
			ID: "i-1", DefinitionID: "d-1", CurrentStateID: "A", History: []api.HistoryItem{},
		}))

		const racers = 8
		var wg sync.WaitGroup
		errs := make([]error, racers)
		for i := range racers {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = insts.AppendTransition(ctx, "i-1", 0, fmt.Sprintf("S%d", i),
					api.HistoryItem{ActionID: fmt.Sprintf("a%d", i), Timestamp: time.Now()})
			}(i)
		}
		wg.Wait()

		wins := 0
		for _, err := range errs {
			if err == nil {
				wins++
			}
		}
		assert.Equal(t, 1, wins, "exactly one racer must win: %v", errs)

		got, err := insts.GetInstance(ctx, "i-1")
		require.NoError(t, err)
		assert.Equal(t, 1, got.Version)
		assert.Len(t, got.History, 1)
	})
}

func instanceIDs(list []*api.Instance) []string {
	out := make([]string, 0, len(list))
	for _, inst := range list {
		out = append(out, inst.ID)
	}
	return out
}

func actionIDs(items []api.HistoryItem) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.ActionID)
	}
	return out
}
