package api

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDefinition() *Definition {
	return &Definition{
		ID:   "def-1",
		Name: "order",
		States: []State{
			{ID: "A", IsInitial: true},
			{ID: "B"},
			{ID: "C", IsFinal: true},
		},
		Actions: []Action{
			{ID: "go1", Enabled: true, FromStates: []string{"A"}, ToState: "B"},
			{ID: "go2", Enabled: true, FromStates: []string{"B"}, ToState: "C"},
		},
	}
}

func TestDefinition_Lookups(t *testing.T) {
	def := sampleDefinition()

	initial, ok := def.InitialState()
	require.True(t, ok)
	assert.Equal(t, "A", initial.ID)

	st, ok := def.State("C")
	require.True(t, ok)
	assert.True(t, st.IsFinal)

	_, ok = def.State("c")
	assert.False(t, ok, "state lookup must be case-sensitive")

	act, ok := def.Action("go2")
	require.True(t, ok)
	assert.True(t, act.CanFireFrom("B"))
	assert.False(t, act.CanFireFrom("A"))
}

func TestDefinition_CloneIsDeep(t *testing.T) {
	def := sampleDefinition()
	cp := def.Clone()
	require.Equal(t, def, cp)

	cp.States[0].ID = "X"
	cp.Actions[0].FromStates[0] = "X"

	assert.Equal(t, "A", def.States[0].ID)
	assert.Equal(t, "A", def.Actions[0].FromStates[0])
}

func TestInstance_CloneIsDeep(t *testing.T) {
	inst := &Instance{
		ID:             "i-1",
		DefinitionID:   "def-1",
		CurrentStateID: "B",
		History:        []HistoryItem{{ActionID: "go1", Timestamp: time.Now()}},
		Version:        1,
	}
	cp := inst.Clone()
	cp.History[0].ActionID = "other"
	cp.History = append(cp.History, HistoryItem{ActionID: "go2"})

	assert.Equal(t, "go1", inst.History[0].ActionID)
	assert.Len(t, inst.History, 1)

	empty := (&Instance{ID: "i-2"}).Clone()
	assert.NotNil(t, empty.History)
}

func TestInstanceListOptions_Matches(t *testing.T) {
	inst := &Instance{DefinitionID: "d1", CurrentStateID: "A"}

	assert.True(t, InstanceListOptions{}.Matches(inst))
	assert.True(t, InstanceListOptions{DefinitionID: "d1", CurrentState: "A"}.Matches(inst))
	assert.False(t, InstanceListOptions{DefinitionID: "d2"}.Matches(inst))
	assert.False(t, InstanceListOptions{CurrentState: "B"}.Matches(inst))
}
