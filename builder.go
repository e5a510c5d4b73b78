package flowstate

import (
	"context"
	"fmt"

	"github.com/petrijr/flowstate/pkg/api"
)

// DefinitionBuilder provides a fluent API for defining workflows:
//
//	order := flowstate.New("order").
//	    State("new", flowstate.Initial()).
//	    State("paid").
//	    State("cancelled", flowstate.Final()).
//	    Action("pay", []string{"new"}, "paid").
//	    Action("cancel", []string{"new", "paid"}, "cancelled")
//
//	def, err := order.Register(ctx, engine)
//	inst, err := flowstate.Start(ctx, engine, def.ID)
//
// Structural checks happen in the engine at registration, not here.
type DefinitionBuilder struct {
	def api.Definition
}

// StateOption configures a state added with State.
type StateOption func(*api.State)

// Initial marks the state as the entry point.
func Initial() StateOption {
	return func(s *api.State) { s.IsInitial = true }
}

// Final marks the state as terminal.
func Final() StateOption {
	return func(s *api.State) { s.IsFinal = true }
}

// ActionOption configures an action added with Action.
type ActionOption func(*api.Action)

// Disabled registers the action switched off.
func Disabled() ActionOption {
	return func(a *api.Action) { a.Enabled = false }
}

// New creates a new definition builder with the given name.
func New(name string) *DefinitionBuilder {
	return &DefinitionBuilder{
		def: api.Definition{
			Name:    name,
			States:  make([]api.State, 0),
			Actions: make([]api.Action, 0),
		},
	}
}

// Name returns the definition name.
func (b *DefinitionBuilder) Name() string {
	return b.def.Name
}

// WithID pins the definition identity instead of letting the engine
// generate one.
func (b *DefinitionBuilder) WithID(id string) *DefinitionBuilder {
	b.def.ID = id
	return b
}

// State appends a state.
func (b *DefinitionBuilder) State(id string, opts ...StateOption) *DefinitionBuilder {
	if id == "" {
		panic("flowstate: state id must not be empty")
	}
	s := api.State{ID: id}
	for _, opt := range opts {
		opt(&s)
	}
	b.def.States = append(b.def.States, s)
	return b
}

// Action appends an enabled action firing from any of from into to.
func (b *DefinitionBuilder) Action(id string, from []string, to string, opts ...ActionOption) *DefinitionBuilder {
	if id == "" {
		panic("flowstate: action id must not be empty")
	}
	if len(from) == 0 {
		panic(fmt.Sprintf("flowstate: action %q has no source states", id))
	}
	a := api.Action{
		ID:         id,
		Enabled:    true,
		FromStates: append([]string(nil), from...),
		ToState:    to,
	}
	for _, opt := range opts {
		opt(&a)
	}
	b.def.Actions = append(b.def.Actions, a)
	return b
}

// Definition returns a copy of the definition built so far.
func (b *DefinitionBuilder) Definition() Definition {
	return *b.def.Clone()
}

// Register registers the built definition with the given engine.
func (b *DefinitionBuilder) Register(ctx context.Context, eng Engine) (*Definition, error) {
	return eng.RegisterDefinition(ctx, b.Definition())
}

// MustRegister is like Register but panics on error.
// Useful for initialization in main().
func (b *DefinitionBuilder) MustRegister(ctx context.Context, eng Engine) *Definition {
	def, err := b.Register(ctx, eng)
	if err != nil {
		panic(err)
	}
	return def
}
