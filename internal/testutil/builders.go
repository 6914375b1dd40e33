package testutil

import (
	"time"

	"github.com/target/agent-scheduler/internal/domain/model"
)

// AgentBuilder provides a fluent interface for building AgentRecord values for testing.
type AgentBuilder struct {
	agent model.AgentRecord
}

// NewAgent creates an AgentBuilder with sensible defaults.
func NewAgent(id string) *AgentBuilder {
	return &AgentBuilder{
		agent: model.AgentRecord{
			ID:        id,
			Name:      "Agent " + id,
			Kind:      model.AgentKindDataAnalyzer,
			Status:    model.AgentStatusIdle,
			CreatedAt: TestTime(),
			UpdatedAt: TestTime(),
		},
	}
}

// WithName sets the display name.
func (b *AgentBuilder) WithName(name string) *AgentBuilder {
	b.agent.Name = name
	return b
}

// WithKind sets the agent kind.
func (b *AgentBuilder) WithKind(kind string) *AgentBuilder {
	b.agent.Kind = kind
	return b
}

// WithCron sets the stored schedule expression and enables scheduling.
func (b *AgentBuilder) WithCron(expr string) *AgentBuilder {
	b.agent.ScheduleExpression = &expr
	b.agent.ScheduleEnabled = true
	return b
}

// WithStatus sets the lifecycle status.
func (b *AgentBuilder) WithStatus(status model.AgentStatus) *AgentBuilder {
	b.agent.Status = status
	return b
}

// WithConfig merges keys into the configuration map.
func (b *AgentBuilder) WithConfig(key string, value any) *AgentBuilder {
	if b.agent.Configuration == nil {
		b.agent.Configuration = map[string]any{}
	}
	b.agent.Configuration[key] = value
	return b
}

// WithPriority sets the configuration priority string.
func (b *AgentBuilder) WithPriority(priority string) *AgentBuilder {
	return b.WithConfig(model.ConfigKeyPriority, priority)
}

// Paused marks the agent paused in its configuration.
func (b *AgentBuilder) Paused() *AgentBuilder {
	return b.WithConfig(model.ConfigKeyIsPaused, true)
}

// WithNextRunAt sets the persisted next run time.
func (b *AgentBuilder) WithNextRunAt(at time.Time) *AgentBuilder {
	b.agent.NextRunAt = &at
	return b
}

// Build returns the assembled record.
func (b *AgentBuilder) Build() model.AgentRecord {
	return b.agent.Clone()
}

// CreateRequest projects the builder into a CreateAgentRequest for seeding.
func (b *AgentBuilder) CreateRequest() model.CreateAgentRequest {
	agent := b.agent
	return model.CreateAgentRequest{
		ID:                 agent.ID,
		Name:               agent.Name,
		Kind:               agent.Kind,
		ScheduleExpression: agent.ScheduleExpression,
		ScheduleEnabled:    agent.ScheduleEnabled,
		Configuration:      agent.Configuration,
	}
}
