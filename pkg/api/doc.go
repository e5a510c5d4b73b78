// Package api contains the core building blocks used by the flowstate
// engine: the workflow data model, the Engine interface, the error taxonomy
// and the Observer hooks.
//
// Most users interact with the higher-level flowstate package, which
// re-exports selected types and helpers from this package. The api package
// is intended for custom integrations such as alternate stores, transports
// or observers.
//
// # Data Model
//
// A Definition declares a set of States (exactly one initial, any number
// final) and a set of Actions. Each action lists the states it may fire
// from and the single state it leads to. Definitions are immutable once
// registered.
//
// An Instance tracks one execution of a definition: the current state and
// an append-only History of executed actions. Instance.Version always
// equals len(History).
//
// # Errors
//
// Every failure the engine reports on purpose is an *Error carrying an
// ErrorKind. Use errors.Is with the sentinel values:
//
//	if errors.Is(err, api.ErrTerminalState) { ... }
//
// or KindOf to switch on the kind.
//
// # Observability
//
// The Observer interface receives registration, creation and transition
// callbacks. LoggingObserver, BasicMetrics and CompositeObserver are
// provided here; Prometheus and OpenTelemetry integrations live in
// pkg/metrics and pkg/tracing.
package api
