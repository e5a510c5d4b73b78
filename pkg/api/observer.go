package api

import (
	"context"
	"log/slog"
	"time"

	"go.uber.org/atomic"
)

// Observer receives callbacks from the engine for logging and metrics.
//
// Callbacks run synchronously on the caller's goroutine, some of them while
// a per-instance lock is held, so implementations should be fast and
// non-blocking.
type Observer interface {
	// OnDefinitionRegistered is called after a definition is committed.
	OnDefinitionRegistered(ctx context.Context, def *Definition)

	// OnDefinitionRejected is called when registration fails.
	OnDefinitionRejected(ctx context.Context, name string, err error)

	// OnInstanceCreated is called after a new instance is committed.
	OnInstanceCreated(ctx context.Context, inst *Instance)

	// OnTransition is called after a transition is committed. inst is the
	// updated instance; fromState is the state it left.
	OnTransition(ctx context.Context, inst *Instance, actionID, fromState string, duration time.Duration)

	// OnActionRejected is called when ExecuteAction fails.
	OnActionRejected(ctx context.Context, instanceID, actionID string, err error)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnDefinitionRegistered(ctx context.Context, def *Definition)      {}
func (NoopObserver) OnDefinitionRejected(ctx context.Context, name string, err error) {}
func (NoopObserver) OnInstanceCreated(ctx context.Context, inst *Instance)            {}
func (NoopObserver) OnTransition(ctx context.Context, inst *Instance, actionID, fromState string, d time.Duration) {
}
func (NoopObserver) OnActionRejected(ctx context.Context, instanceID, actionID string, err error) {
}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnDefinitionRegistered(ctx context.Context, def *Definition) {
	for _, o := range c.observers {
		o.OnDefinitionRegistered(ctx, def)
	}
}

func (c *CompositeObserver) OnDefinitionRejected(ctx context.Context, name string, err error) {
	for _, o := range c.observers {
		o.OnDefinitionRejected(ctx, name, err)
	}
}

func (c *CompositeObserver) OnInstanceCreated(ctx context.Context, inst *Instance) {
	for _, o := range c.observers {
		o.OnInstanceCreated(ctx, inst)
	}
}

func (c *CompositeObserver) OnTransition(ctx context.Context, inst *Instance, actionID, fromState string, d time.Duration) {
	for _, o := range c.observers {
		o.OnTransition(ctx, inst, actionID, fromState, d)
	}
}

func (c *CompositeObserver) OnActionRejected(ctx context.Context, instanceID, actionID string, err error) {
	for _, o := range c.observers {
		o.OnActionRejected(ctx, instanceID, actionID, err)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs engine events using the
// provided slog.Logger. If logger is nil, slog.Default() is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnDefinitionRegistered(ctx context.Context, def *Definition) {
	o.Logger.InfoContext(ctx, "definition_registered",
		slog.String("definition_id", def.ID),
		slog.String("name", def.Name),
		slog.Int("states", len(def.States)),
		slog.Int("actions", len(def.Actions)),
	)
}

func (o *LoggingObserver) OnDefinitionRejected(ctx context.Context, name string, err error) {
	o.Logger.WarnContext(ctx, "definition_rejected",
		slog.String("name", name),
		slog.String("kind", string(KindOf(err))),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnInstanceCreated(ctx context.Context, inst *Instance) {
	o.Logger.InfoContext(ctx, "instance_created",
		slog.String("instance_id", inst.ID),
		slog.String("definition_id", inst.DefinitionID),
		slog.String("state", inst.CurrentStateID),
	)
}

func (o *LoggingObserver) OnTransition(ctx context.Context, inst *Instance, actionID, fromState string, d time.Duration) {
	o.Logger.InfoContext(ctx, "transition",
		slog.String("instance_id", inst.ID),
		slog.String("action", actionID),
		slog.String("from", fromState),
		slog.String("to", inst.CurrentStateID),
		slog.Int("version", inst.Version),
		slog.Duration("duration", d),
	)
}

func (o *LoggingObserver) OnActionRejected(ctx context.Context, instanceID, actionID string, err error) {
	kind := KindOf(err)
	level := slog.LevelInfo
	if kind == KindIntegrity || kind == "" {
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "action_rejected",
		slog.String("instance_id", instanceID),
		slog.String("action", actionID),
		slog.String("kind", string(kind)),
		slog.Any("error", err),
	)
}

// BasicMetrics collects simple counters and the aggregate transition
// duration. It implements Observer, and can be combined with
// LoggingObserver via NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	definitionsRegistered atomic.Int64
	definitionsRejected   atomic.Int64
	instancesCreated      atomic.Int64
	transitions           atomic.Int64
	actionsRejected       atomic.Int64
	totalTransitionTime   atomic.Int64 // nanoseconds
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	DefinitionsRegistered int64
	DefinitionsRejected   int64
	InstancesCreated      int64

	Transitions           int64
	ActionsRejected       int64
	AvgTransitionDuration time.Duration
}

func (m *BasicMetrics) OnDefinitionRegistered(ctx context.Context, def *Definition) {
	m.definitionsRegistered.Inc()
}

func (m *BasicMetrics) OnDefinitionRejected(ctx context.Context, name string, err error) {
	m.definitionsRejected.Inc()
}

func (m *BasicMetrics) OnInstanceCreated(ctx context.Context, inst *Instance) {
	m.instancesCreated.Inc()
}

func (m *BasicMetrics) OnTransition(ctx context.Context, inst *Instance, actionID, fromState string, d time.Duration) {
	m.transitions.Inc()
	m.totalTransitionTime.Add(d.Nanoseconds())
}

func (m *BasicMetrics) OnActionRejected(ctx context.Context, instanceID, actionID string, err error) {
	m.actionsRejected.Inc()
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	transitions := m.transitions.Load()
	totalNs := m.totalTransitionTime.Load()

	var avg time.Duration
	if transitions > 0 {
		avg = time.Duration(totalNs / transitions)
	}

	return BasicMetricsSnapshot{
		DefinitionsRegistered: m.definitionsRegistered.Load(),
		DefinitionsRejected:   m.definitionsRejected.Load(),
		InstancesCreated:      m.instancesCreated.Load(),
		Transitions:           transitions,
		ActionsRejected:       m.actionsRejected.Load(),
		AvgTransitionDuration: avg,
	}
}
