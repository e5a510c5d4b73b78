package api

import "time"

// EventType identifies an audit event.
type EventType string

const (
	EventInstanceCreated EventType = "instance.created"
	EventActionExecuted  EventType = "action.executed"
	EventActionRejected  EventType = "action.rejected"
)

// Event is a small append-only audit record. Unlike Instance.History it
// also captures rejected attempts.
type Event struct {
	InstanceID   string    `json:"instanceId"`
	At           time.Time `json:"at"`
	Type         EventType `json:"type"`
	DefinitionID string    `json:"definitionId,omitempty"`
	ActionID     string    `json:"actionId,omitempty"`
	FromState    string    `json:"fromState,omitempty"`
	ToState      string    `json:"toState,omitempty"`

	// Short human-oriented detail, e.g. the rejection reason.
	Detail string `json:"detail,omitempty"`
}
