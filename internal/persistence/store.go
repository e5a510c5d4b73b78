package persistence

import (
	"context"
	"errors"

	"github.com/petrijr/flowstate/pkg/api"
)

var (
	// ErrDefinitionNotFound is returned when a definition is not found.
	ErrDefinitionNotFound = errors.New("definition not found")

	// ErrInstanceNotFound is returned when an instance is not found.
	ErrInstanceNotFound = errors.New("instance not found")

	// ErrDuplicateName is returned by SaveDefinition when another
	// definition already uses the name.
	ErrDuplicateName = errors.New("definition name already registered")

	// ErrDuplicateID is returned when an entity with the same ID exists.
	ErrDuplicateID = errors.New("id already exists")

	// ErrVersionMismatch is returned by AppendTransition when the stored
	// instance version differs from the expected one.
	ErrVersionMismatch = errors.New("instance version mismatch")
)

// DefinitionStore holds registered definitions. It does not validate
// definition structure; it only enforces ID and name uniqueness as part of
// the insert.
type DefinitionStore interface {
	// SaveDefinition inserts def. It fails with ErrDuplicateName or
	// ErrDuplicateID without storing anything if either is taken.
	SaveDefinition(ctx context.Context, def *api.Definition) error
	GetDefinition(ctx context.Context, id string) (*api.Definition, error)
	// GetDefinitionByName returns ErrDefinitionNotFound if no definition
	// uses the name.
	GetDefinitionByName(ctx context.Context, name string) (*api.Definition, error)
	// ListDefinitions returns definitions in registration order.
	ListDefinitions(ctx context.Context) ([]*api.Definition, error)
}

// InstanceStore holds instances. No cross-checks against the
// DefinitionStore are performed here.
type InstanceStore interface {
	// CreateInstance inserts inst, failing with ErrDuplicateID if the ID
	// is taken.
	CreateInstance(ctx context.Context, inst *api.Instance) error
	GetInstance(ctx context.Context, id string) (*api.Instance, error)
	// ListInstances returns instances in creation order.
	ListInstances(ctx context.Context, opts api.InstanceListOptions) ([]*api.Instance, error)
	// AppendTransition atomically sets the current state and appends item,
	// provided the stored version equals expectedVersion. It returns the
	// updated instance, ErrInstanceNotFound or ErrVersionMismatch.
	AppendTransition(ctx context.Context, id string, expectedVersion int, toState string, item api.HistoryItem) (*api.Instance, error)
}
