// Package tracing decorates an api.Engine with OpenTelemetry spans.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/petrijr/flowstate/pkg/api"
)

// InstrumentationName is the tracer name used for all engine spans.
const InstrumentationName = "github.com/petrijr/flowstate"

const (
	attrDefinitionID   = attribute.Key("flowstate.definition_id")
	attrDefinitionName = attribute.Key("flowstate.definition_name")
	attrInstanceID     = attribute.Key("flowstate.instance_id")
	attrActionID       = attribute.Key("flowstate.action_id")
	attrState          = attribute.Key("flowstate.state")
	attrErrorKind      = attribute.Key("flowstate.error_kind")
	attrCount          = attribute.Key("flowstate.count")
)

type tracedEngine struct {
	next   api.Engine
	tracer trace.Tracer
}

// Wrap returns an Engine that opens one span per call on next. A nil
// provider falls back to the global one.
func Wrap(next api.Engine, tp trace.TracerProvider) api.Engine {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &tracedEngine{next: next, tracer: tp.Tracer(InstrumentationName)}
}

func (t *tracedEngine) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "flowstate."+op, trace.WithAttributes(attrs...))
}

// finish records err on span and ends it.
func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if kind := api.KindOf(err); kind != "" {
			span.SetAttributes(attrErrorKind.String(string(kind)))
		}
	}
	span.End()
}

func (t *tracedEngine) RegisterDefinition(ctx context.Context, def api.Definition) (*api.Definition, error) {
	ctx, span := t.start(ctx, "RegisterDefinition", attrDefinitionName.String(def.Name))
	out, err := t.next.RegisterDefinition(ctx, def)
	if err == nil {
		span.SetAttributes(attrDefinitionID.String(out.ID))
	}
	finish(span, err)
	return out, err
}

func (t *tracedEngine) GetDefinition(ctx context.Context, id string) (*api.Definition, error) {
	ctx, span := t.start(ctx, "GetDefinition", attrDefinitionID.String(id))
	out, err := t.next.GetDefinition(ctx, id)
	finish(span, err)
	return out, err
}

func (t *tracedEngine) ListDefinitions(ctx context.Context) ([]*api.Definition, error) {
	ctx, span := t.start(ctx, "ListDefinitions")
	out, err := t.next.ListDefinitions(ctx)
	span.SetAttributes(attrCount.Int(len(out)))
	finish(span, err)
	return out, err
}

func (t *tracedEngine) CreateInstance(ctx context.Context, definitionID string) (*api.Instance, error) {
	ctx, span := t.start(ctx, "CreateInstance", attrDefinitionID.String(definitionID))
	out, err := t.next.CreateInstance(ctx, definitionID)
	if err == nil {
		span.SetAttributes(attrInstanceID.String(out.ID), attrState.String(out.CurrentStateID))
	}
	finish(span, err)
	return out, err
}

func (t *tracedEngine) GetInstance(ctx context.Context, id string) (*api.Instance, error) {
	ctx, span := t.start(ctx, "GetInstance", attrInstanceID.String(id))
	out, err := t.next.GetInstance(ctx, id)
	finish(span, err)
	return out, err
}

func (t *tracedEngine) ListInstances(ctx context.Context, opts api.InstanceListOptions) ([]*api.Instance, error) {
	ctx, span := t.start(ctx, "ListInstances",
		attrDefinitionID.String(opts.DefinitionID),
		attrState.String(opts.CurrentState),
	)
	out, err := t.next.ListInstances(ctx, opts)
	span.SetAttributes(attrCount.Int(len(out)))
	finish(span, err)
	return out, err
}

func (t *tracedEngine) ExecuteAction(ctx context.Context, instanceID, actionID string) (*api.Instance, error) {
	ctx, span := t.start(ctx, "ExecuteAction",
		attrInstanceID.String(instanceID),
		attrActionID.String(actionID),
	)
	out, err := t.next.ExecuteAction(ctx, instanceID, actionID)
	if err == nil {
		span.SetAttributes(attrState.String(out.CurrentStateID))
	}
	finish(span, err)
	return out, err
}

func (t *tracedEngine) AvailableActions(ctx context.Context, instanceID string) ([]api.Action, error) {
	ctx, span := t.start(ctx, "AvailableActions", attrInstanceID.String(instanceID))
	out, err := t.next.AvailableActions(ctx, instanceID)
	span.SetAttributes(attrCount.Int(len(out)))
	finish(span, err)
	return out, err
}

func (t *tracedEngine) ListEvents(ctx context.Context, instanceID string) ([]api.Event, error) {
	ctx, span := t.start(ctx, "ListEvents", attrInstanceID.String(instanceID))
	out, err := t.next.ListEvents(ctx, instanceID)
	span.SetAttributes(attrCount.Int(len(out)))
	finish(span, err)
	return out, err
}
