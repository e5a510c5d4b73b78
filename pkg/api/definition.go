package api

import (
	"slices"
	"time"
)

// State is a named node in a definition's transition graph.
type State struct {
	ID        string `json:"id" yaml:"id" bson:"id"`
	IsInitial bool   `json:"isInitial" yaml:"initial" bson:"is_initial"`
	IsFinal   bool   `json:"isFinal" yaml:"final" bson:"is_final"`
}

// Action is a named transition rule from a set of source states to exactly
// one target state. Disabled actions never fire.
//
// The zero value of Enabled means disabled, so an Action literal must set
// Enabled: true to be executable. The flowstate builder, HTTP API and
// definition files all default to enabled when the flag is omitted.
type Action struct {
	ID string `json:"id" yaml:"id" bson:"id"`

	// Enabled must be true for the action to fire. See the type comment
	// for the zero value.
	Enabled    bool     `json:"enabled" yaml:"enabled" bson:"enabled"`
	FromStates []string `json:"fromStates" yaml:"from" bson:"from_states"`
	ToState    string   `json:"toState" yaml:"to" bson:"to_state"`
}

// CanFireFrom reports whether stateID is one of the action's source states.
func (a Action) CanFireFrom(stateID string) bool {
	return slices.Contains(a.FromStates, stateID)
}

// Definition is the static description of a workflow. Definitions are
// immutable once registered with an Engine.
type Definition struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	States  []State  `json:"states"`
	Actions []Action `json:"actions"`
}

// InitialState returns the definition's initial state. If more than one
// state is flagged initial the first one wins; registration rejects such
// definitions, so stored definitions always have exactly one.
func (d *Definition) InitialState() (State, bool) {
	for _, s := range d.States {
		if s.IsInitial {
			return s, true
		}
	}
	return State{}, false
}

// State looks up a state by id (exact, case-sensitive match).
func (d *Definition) State(id string) (State, bool) {
	for _, s := range d.States {
		if s.ID == id {
			return s, true
		}
	}
	return State{}, false
}

// Action looks up an action by id.
func (d *Definition) Action(id string) (Action, bool) {
	for _, a := range d.Actions {
		if a.ID == id {
			return a, true
		}
	}
	return Action{}, false
}

// Clone returns a deep copy of d.
func (d *Definition) Clone() *Definition {
	if d == nil {
		return nil
	}
	out := &Definition{
		ID:      d.ID,
		Name:    d.Name,
		States:  slices.Clone(d.States),
		Actions: make([]Action, len(d.Actions)),
	}
	for i, a := range d.Actions {
		a.FromStates = slices.Clone(a.FromStates)
		out.Actions[i] = a
	}
	return out
}

// HistoryItem records one executed action. Items are append-only.
type HistoryItem struct {
	ActionID  string    `json:"actionId" bson:"action_id"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
}

// Instance is one live execution of a definition.
//
// Version equals len(History) and is used by stores for compare-and-swap
// commits of transitions.
type Instance struct {
	ID             string        `json:"id"`
	DefinitionID   string        `json:"definitionId"`
	CurrentStateID string        `json:"currentStateId"`
	History        []HistoryItem `json:"history"`
	Version        int           `json:"version"`
}

// Clone returns a deep copy of inst.
func (inst *Instance) Clone() *Instance {
	if inst == nil {
		return nil
	}
	out := *inst
	out.History = slices.Clone(inst.History)
	if out.History == nil {
		out.History = []HistoryItem{}
	}
	return &out
}

// InstanceListOptions filters ListInstances. Zero values mean "no filter".
type InstanceListOptions struct {
	DefinitionID string
	CurrentState string
}

// Matches reports whether inst satisfies the filter.
func (o InstanceListOptions) Matches(inst *Instance) bool {
	if o.DefinitionID != "" && inst.DefinitionID != o.DefinitionID {
		return false
	}
	if o.CurrentState != "" && inst.CurrentStateID != o.CurrentState {
		return false
	}
	return true
}
