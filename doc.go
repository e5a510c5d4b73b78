// Package flowstate provides an embeddable finite-state workflow engine for Go.
//
// A Definition declares named states (exactly one initial, any number final)
// and named actions. Each action may fire from a set of source states and
// leads to exactly one target state. An Instance is one run of a
// definition: it starts in the initial state and moves only when a legal
// action is executed, recording every transition in an append-only history.
//
// # Core Concepts
//
//  1. Engine
//  2. DefinitionBuilder
//  3. Observer
//
// # Engine
//
// The Engine validates and stores definitions, spawns instances and
// executes actions. Every operation is synchronous and safe for concurrent
// use. Executing actions against one instance is serialized; instances do
// not block each other.
//
// Engines can be backed by different storage systems:
//
//   - In-memory (non-durable, best for tests)
//   - SQLite (embedded durability)
//   - Postgres
//   - Redis
//   - MongoDB
//
// Durable backends commit transitions with a compare-and-swap on the
// instance version, so several processes may share one database. The loser
// of a cross-process race gets an error of kind Conflict.
//
// # DefinitionBuilder
//
// DefinitionBuilder is the fluent way to write definitions in Go code:
//
//	flowstate.New("order").
//	    State("new", flowstate.Initial()).
//	    State("paid").
//	    State("shipped", flowstate.Final()).
//	    Action("pay", []string{"new"}, "paid").
//	    Action("ship", []string{"paid"}, "shipped")
//
// # Errors
//
// Rejections carry an ErrorKind. Test for them with errors.Is:
//
//	_, err := eng.ExecuteAction(ctx, id, "ship")
//	if errors.Is(err, flowstate.ErrIllegalTransition) { ... }
//
// Registration checks run in a fixed order and the first violation wins:
// required fields, duplicate name, exactly one initial state, duplicate
// state ids, duplicate action ids, then state references.
//
// # Observer
//
// Observers receive registration, creation, transition and rejection
// callbacks. LoggingObserver (log/slog) and BasicMetrics are included;
// pkg/metrics adds Prometheus and pkg/tracing adds OpenTelemetry spans.
//
// The cmd/flowstated binary serves an Engine as JSON over HTTP.
package flowstate
