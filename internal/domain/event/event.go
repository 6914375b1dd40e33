// Package event defines the agent lifecycle event envelope and the
// in-process bus that fans events out to subscribers and sinks.
package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/target/agent-scheduler/internal/domain/model"
)

// Type identifies an event kind on the wire.
type Type string

const (
	// TypeAgentStarted is emitted when a dispatch begins.
	TypeAgentStarted Type = "AGENT_STARTED"
	// TypeAgentCompleted is emitted after a successful run.
	TypeAgentCompleted Type = "AGENT_COMPLETED"
	// TypeAgentFailed is emitted after a failed run, terminal or not.
	TypeAgentFailed Type = "AGENT_FAILED"
	// TypeAgentProgress is emitted by runners reporting intermediate progress.
	TypeAgentProgress Type = "AGENT_PROGRESS"
	// TypeAgentPaused is emitted when an operator pauses a task.
	TypeAgentPaused Type = "AGENT_PAUSED"
	// TypeAgentResumed is emitted when an operator resumes a task.
	TypeAgentResumed Type = "AGENT_RESUMED"
	// TypeSchedulerStatus carries a scheduler stats snapshot.
	TypeSchedulerStatus Type = "SCHEDULER_STATUS"
)

// TopicScheduler is the global topic every event is visible on.
const TopicScheduler = "scheduler"

// AgentTopic returns the per-agent topic name.
func AgentTopic(agentID string) string {
	return "agent:" + agentID
}

// Progress carries optional step reporting from a running agent.
type Progress struct {
	Percent     int    `json:"progress"`
	Message     string `json:"message,omitempty"`
	CurrentStep int    `json:"current_step,omitempty"`
	TotalSteps  int    `json:"total_steps,omitempty"`
}

// Event is the wire envelope for every scheduler emission. Type-specific
// fields are nil/zero unless the type uses them.
type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	AgentID   string    `json:"agentId,omitempty"`
	JobID     string    `json:"jobId,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	DurationMS *int64                `json:"duration,omitempty"`
	Error      string                `json:"error,omitempty"`
	WillRetry  *bool                 `json:"willRetry,omitempty"`
	Progress   *Progress             `json:"-"`
	Stats      *model.SchedulerStats `json:"stats,omitempty"`
}

// MarshalJSON flattens progress fields into the envelope per the wire format.
func (e Event) MarshalJSON() ([]byte, error) {
	type alias Event
	if e.Progress == nil {
		return json.Marshal(alias(e))
	}
	return json.Marshal(struct {
		alias
		Percent     int    `json:"progress"`
		Message     string `json:"message,omitempty"`
		CurrentStep int    `json:"current_step,omitempty"`
		TotalSteps  int    `json:"total_steps,omitempty"`
	}{
		alias:       alias(e),
		Percent:     e.Progress.Percent,
		Message:     e.Progress.Message,
		CurrentStep: e.Progress.CurrentStep,
		TotalSteps:  e.Progress.TotalSteps,
	})
}

func newEvent(t Type, agentID, jobID string, at time.Time) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		AgentID:   agentID,
		JobID:     jobID,
		Timestamp: at.UTC(),
	}
}

// AgentStarted builds an AGENT_STARTED event.
func AgentStarted(agentID, jobID string, at time.Time) Event {
	return newEvent(TypeAgentStarted, agentID, jobID, at)
}

// AgentCompleted builds an AGENT_COMPLETED event with the run duration.
func AgentCompleted(agentID, jobID string, at time.Time, duration time.Duration) Event {
	e := newEvent(TypeAgentCompleted, agentID, jobID, at)
	ms := duration.Milliseconds()
	e.DurationMS = &ms
	return e
}

// AgentFailed builds an AGENT_FAILED event. willRetry distinguishes a backoff
// retry from terminal removal.
func AgentFailed(agentID, jobID string, at time.Time, errMsg string, willRetry bool) Event {
	e := newEvent(TypeAgentFailed, agentID, jobID, at)
	e.Error = errMsg
	e.WillRetry = &willRetry
	return e
}

// AgentProgress builds an AGENT_PROGRESS event.
func AgentProgress(agentID, jobID string, at time.Time, p Progress) Event {
	e := newEvent(TypeAgentProgress, agentID, jobID, at)
	e.Progress = &p
	return e
}

// AgentPaused builds an AGENT_PAUSED event.
func AgentPaused(agentID, jobID string, at time.Time) Event {
	return newEvent(TypeAgentPaused, agentID, jobID, at)
}

// AgentResumed builds an AGENT_RESUMED event.
func AgentResumed(agentID, jobID string, at time.Time) Event {
	return newEvent(TypeAgentResumed, agentID, jobID, at)
}

// SchedulerStatus builds a SCHEDULER_STATUS event carrying a stats snapshot.
func SchedulerStatus(at time.Time, stats model.SchedulerStats) Event {
	e := newEvent(TypeSchedulerStatus, "", "", at)
	e.Stats = &stats
	return e
}
