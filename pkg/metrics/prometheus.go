// Package metrics exports engine activity as Prometheus metrics.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/petrijr/flowstate/pkg/api"
)

// PrometheusObserver is an api.Observer that records counters and a
// transition latency histogram.
type PrometheusObserver struct {
	definitions        *prometheus.CounterVec
	instancesCreated   *prometheus.CounterVec
	transitions        *prometheus.CounterVec
	rejections         *prometheus.CounterVec
	transitionDuration *prometheus.HistogramVec
}

var _ api.Observer = (*PrometheusObserver)(nil)

// NewPrometheusObserver registers the flowstate metrics with reg. Passing
// prometheus.DefaultRegisterer exposes them on the default /metrics
// handler.
func NewPrometheusObserver(reg prometheus.Registerer) *PrometheusObserver {
	f := promauto.With(reg)
	return &PrometheusObserver{
		definitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "flowstate_definitions_total",
			Help: "Definition registrations by outcome (registered or the rejection kind)",
		}, []string{"outcome"}),
		instancesCreated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "flowstate_instances_created_total",
			Help: "Instances created by definition",
		}, []string{"definition_id"}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "flowstate_transitions_total",
			Help: "Committed transitions by definition, action, from_state and to_state",
		}, []string{"definition_id", "action", "from_state", "to_state"}),
		rejections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "flowstate_actions_rejected_total",
			Help: "Rejected ExecuteAction calls by error kind",
		}, []string{"kind"}),
		transitionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flowstate_transition_duration_seconds",
			Help:    "Time from lock acquisition to commit of a transition",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"definition_id"}),
	}
}

func (p *PrometheusObserver) OnDefinitionRegistered(ctx context.Context, def *api.Definition) {
	p.definitions.WithLabelValues("registered").Inc()
}

func (p *PrometheusObserver) OnDefinitionRejected(ctx context.Context, name string, err error) {
	p.definitions.WithLabelValues(kindLabel(err)).Inc()
}

func (p *PrometheusObserver) OnInstanceCreated(ctx context.Context, inst *api.Instance) {
	p.instancesCreated.WithLabelValues(inst.DefinitionID).Inc()
}

func (p *PrometheusObserver) OnTransition(ctx context.Context, inst *api.Instance, actionID, fromState string, d time.Duration) {
	p.transitions.WithLabelValues(inst.DefinitionID, actionID, fromState, inst.CurrentStateID).Inc()
	p.transitionDuration.WithLabelValues(inst.DefinitionID).Observe(d.Seconds())
}

func (p *PrometheusObserver) OnActionRejected(ctx context.Context, instanceID, actionID string, err error) {
	p.rejections.WithLabelValues(kindLabel(err)).Inc()
}

func kindLabel(err error) string {
	if k := api.KindOf(err); k != "" {
		return string(k)
	}
	return "internal"
}
