package engine

import (
	"github.com/petrijr/flowstate/pkg/api"
)

// validateRequired rejects a definition without a name. An empty name can
// never collide with a stored one, so this runs before the name lookup.
func validateRequired(def *api.Definition) error {
	if def.Name == "" {
		return api.Errorf(api.KindInvalidDefinition, "definition name is required")
	}
	return nil
}

// validateStructure applies the rules that follow the duplicate name check,
// in order; the first violation wins. Zero states fall under the initial
// state rule.
func validateStructure(def *api.Definition) error {
	initials := 0
	for _, s := range def.States {
		if s.IsInitial {
			initials++
		}
	}
	if initials != 1 {
		return api.Errorf(api.KindInvalidInitialState,
			"workflow must have exactly one initial state, found %d", initials)
	}

	states := make(map[string]struct{}, len(def.States))
	for _, s := range def.States {
		if _, dup := states[s.ID]; dup {
			return api.Errorf(api.KindDuplicateStateID, "duplicate state id %q", s.ID)
		}
		states[s.ID] = struct{}{}
	}

	actions := make(map[string]struct{}, len(def.Actions))
	for _, a := range def.Actions {
		if _, dup := actions[a.ID]; dup {
			return api.Errorf(api.KindDuplicateActionID, "duplicate action id %q", a.ID)
		}
		actions[a.ID] = struct{}{}
	}

	for i, st := range def.States {
		if st.ID == "" {
			return api.Errorf(api.KindInvalidDefinition, "state at index %d has no id", i)
		}
	}
	for i, a := range def.Actions {
		if a.ID == "" {
			return api.Errorf(api.KindInvalidDefinition, "action at index %d has no id", i)
		}
	}

	for _, a := range def.Actions {
		if len(a.FromStates) == 0 {
			return api.Errorf(api.KindInvalidReference, "action %q has no source states", a.ID)
		}
		for _, from := range a.FromStates {
			if _, ok := states[from]; !ok {
				return api.Errorf(api.KindInvalidReference, "action %q references unknown source state %q", a.ID, from)
			}
		}
		if _, ok := states[a.ToState]; !ok {
			return api.Errorf(api.KindInvalidReference, "action %q references unknown target state %q", a.ID, a.ToState)
		}
	}
	return nil
}

// checkTransition runs the execution checks that follow instance and
// definition lookup and returns the action's target state.
func checkTransition(def *api.Definition, inst *api.Instance, actionID string) (api.State, error) {
	current, ok := def.State(inst.CurrentStateID)
	if !ok {
		return api.State{}, api.Errorf(api.KindIntegrity,
			"instance %s is in state %q which definition %s does not declare", inst.ID, inst.CurrentStateID, def.ID)
	}
	if current.IsFinal {
		return api.State{}, api.Errorf(api.KindTerminalState,
			"instance %s is in final state %q", inst.ID, current.ID)
	}

	action, ok := def.Action(actionID)
	if !ok {
		return api.State{}, api.Errorf(api.KindNotFound,
			"action %q not found in definition %s", actionID, def.ID)
	}
	if !action.Enabled {
		return api.State{}, api.Errorf(api.KindActionDisabled, "action %q is disabled", actionID)
	}
	if !action.CanFireFrom(current.ID) {
		return api.State{}, api.Errorf(api.KindIllegalTransition,
			"action %q cannot be executed from state %q", actionID, current.ID)
	}

	target, ok := def.State(action.ToState)
	if !ok {
		return api.State{}, api.Errorf(api.KindIntegrity,
			"action %q targets undeclared state %q", actionID, action.ToState)
	}
	return target, nil
}
