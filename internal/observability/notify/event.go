package notify

import (
	"context"
	"time"
)

// Severity constants recognised by downstream sinks.
const (
	SeverityCritical = "critical"
)

// AgentFailurePayload captures the canonical data we emit when an agent
// exhausts its retries and its schedule is disabled.
type AgentFailurePayload struct {
	AgentID    string
	AgentName  string
	JobID      string
	Kind       string
	Error      string
	ErrorClass string
	Attempts   int
	Severity   string
	OccurredAt time.Time
	Metadata   map[string]string
}

// Sink describes a destination capable of consuming agent failure notifications.
type Sink interface {
	SendAgentFailure(ctx context.Context, payload AgentFailurePayload) error
}

// SinkFunc adapts a function to the Sink interface (useful for tests).
type SinkFunc func(ctx context.Context, payload AgentFailurePayload) error

// SendAgentFailure implements the Sink interface.
func (f SinkFunc) SendAgentFailure(ctx context.Context, payload AgentFailurePayload) error {
	if f == nil {
		return nil
	}
	return f(ctx, payload)
}
