package httpapi

import (
	"time"

	"github.com/petrijr/flowstate/pkg/api"
)

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

type definitionRequest struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	States  []api.State     `json:"states"`
	Actions []actionRequest `json:"actions"`
}

// actionRequest mirrors api.Action but lets "enabled" be omitted.
type actionRequest struct {
	ID         string   `json:"id"`
	Enabled    *bool    `json:"enabled"`
	FromStates []string `json:"fromStates"`
	ToState    string   `json:"toState"`
}

func (d definitionRequest) toAPI() api.Definition {
	def := api.Definition{
		ID:      d.ID,
		Name:    d.Name,
		States:  d.States,
		Actions: make([]api.Action, 0, len(d.Actions)),
	}
	for _, a := range d.Actions {
		enabled := a.Enabled == nil || *a.Enabled
		def.Actions = append(def.Actions, api.Action{
			ID:         a.ID,
			Enabled:    enabled,
			FromStates: a.FromStates,
			ToState:    a.ToState,
		})
	}
	return def
}

type createInstanceRequest struct {
	DefinitionID string `json:"definitionId"`
}

type executeActionRequest struct {
	ActionID string `json:"actionId"`
}

type enqueueActionRequest struct {
	ActionID  string     `json:"actionId"`
	NotBefore *time.Time `json:"notBefore"`
}

type enqueueActionResponse struct {
	TaskID     string `json:"taskId"`
	InstanceID string `json:"instanceId"`
	ActionID   string `json:"actionId"`
}
