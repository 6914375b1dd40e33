package metrics

import (
	"time"

	obserrors "github.com/target/agent-scheduler/internal/observability/errors"
	"github.com/target/agent-scheduler/internal/observability/statsd"
)

// Result constants for metric tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// AgentMetric captures details about one agent run for metric emission.
type AgentMetric struct {
	Kind     string
	Result   string
	Manual   bool
	Duration time.Duration
	Err      error
}

// EmitAgentLifecycle emits standardised agent run metrics.
func EmitAgentLifecycle(sink statsd.Sink, in AgentMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"kind":   in.Kind,
		"result": in.Result,
	}
	if in.Manual {
		tags["trigger"] = "manual"
	}

	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("agent.run", 1, tags)

	if in.Duration > 0 {
		sink.Timing("agent.run_duration", in.Duration, CloneTags(tags))
	}
}

// SchedulerGauges is the point-in-time state emitted after each tick.
type SchedulerGauges struct {
	Tasks   int
	Running int
	Queued  int
}

// EmitSchedulerGauges publishes scheduler state gauges.
func EmitSchedulerGauges(sink statsd.Sink, g SchedulerGauges) {
	if sink == nil {
		return
	}
	sink.Gauge("scheduler.tasks", float64(g.Tasks), nil)
	sink.Gauge("scheduler.running", float64(g.Running), nil)
	sink.Gauge("scheduler.queued", float64(g.Queued), nil)
}

// CloneTags creates a shallow copy of a tag map, filtering out empty maps.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
