package api_test

import (
	"errors"
	"fmt"

	"github.com/petrijr/flowstate/pkg/api"
)

// ExampleKindOf shows how callers branch on classified engine errors.
func ExampleKindOf() {
	err := fmt.Errorf("handler: %w", api.Errorf(api.KindIllegalTransition, "action %q cannot fire from %q", "ship", "new"))

	fmt.Println(api.KindOf(err))
	fmt.Println(errors.Is(err, api.ErrIllegalTransition))
	fmt.Println(errors.Is(err, api.ErrTerminalState))
	fmt.Println(api.KindOf(errors.New("disk full")) == "")

	// Output:
	// IllegalTransition
	// true
	// false
	// true
}

// ExampleDefinition_Action looks up an action and checks its sources.
func ExampleDefinition_Action() {
	def := api.Definition{
		Name:   "order",
		States: []api.State{{ID: "new", IsInitial: true}, {ID: "paid"}, {ID: "cancelled", IsFinal: true}},
		Actions: []api.Action{
			{ID: "cancel", Enabled: true, FromStates: []string{"new", "paid"}, ToState: "cancelled"},
		},
	}

	a, ok := def.Action("cancel")
	fmt.Println(ok, a.CanFireFrom("paid"), a.CanFireFrom("cancelled"))

	// Output:
	// true true false
}
