package api

import "context"

// Engine is the synchronous transition-engine API.
//
// Every operation is a bounded computation against the configured stores.
// Returned definitions and instances are snapshots; mutating them never
// affects engine state.
type Engine interface {
	// RegisterDefinition validates and stores a definition. The first
	// violated rule determines the returned error kind and nothing is
	// committed on failure.
	RegisterDefinition(ctx context.Context, def Definition) (*Definition, error)

	// GetDefinition looks up a definition by ID.
	// Returns an error of kind NotFound if it does not exist.
	GetDefinition(ctx context.Context, id string) (*Definition, error)

	// ListDefinitions returns all definitions in registration order.
	ListDefinitions(ctx context.Context) ([]*Definition, error)

	// CreateInstance spawns an instance pinned to the definition's initial
	// state with an empty history.
	CreateInstance(ctx context.Context, definitionID string) (*Instance, error)

	// GetInstance looks up an instance by ID.
	// Returns an error of kind NotFound if it does not exist.
	GetInstance(ctx context.Context, id string) (*Instance, error)

	// ListInstances returns instances in creation order, filtered by opts.
	ListInstances(ctx context.Context, opts InstanceListOptions) ([]*Instance, error)

	// ExecuteAction fires actionID against the instance. On success the
	// instance's current state is the action's target and exactly one
	// history item has been appended.
	//
	// Re-sending the same action after a success is not a retry: it is a
	// new transition evaluated from the new current state.
	ExecuteAction(ctx context.Context, instanceID, actionID string) (*Instance, error)

	// AvailableActions lists the enabled actions that may fire from the
	// instance's current state. Final states have none.
	AvailableActions(ctx context.Context, instanceID string) ([]Action, error)

	// ListEvents returns the audit trail for an instance, oldest first.
	ListEvents(ctx context.Context, instanceID string) ([]Event, error)
}
