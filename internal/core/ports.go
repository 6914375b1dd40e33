// Package core defines the ports the agent scheduler consumes. The service
// layer depends on these small interfaces so stores, runners, and transports
// stay swappable and mockable.
package core

import (
	"context"
	"time"

	"github.com/target/agent-scheduler/internal/domain/model"
)

// AgentStore is the persistence abstraction for agent records. The Postgres
// implementation lives in internal/data; tests use mocks.
type AgentStore interface {
	// GetAgent loads one agent by id. Missing agents return a not_found error.
	GetAgent(ctx context.Context, id string) (*model.AgentRecord, error)

	// ListScheduledEnabled returns every agent with ScheduleEnabled=true,
	// used by the startup replay.
	ListScheduledEnabled(ctx context.Context) ([]model.AgentRecord, error)

	// UpdateSchedule applies a partial update. Configuration patches merge
	// key by key; keys the scheduler does not own are preserved.
	UpdateSchedule(ctx context.Context, id string, update model.ScheduleUpdate) error

	// SetStatus updates only the agent's lifecycle status.
	SetStatus(ctx context.Context, id string, status model.AgentStatus) error
}

// AgentRunner executes agent business logic. The scheduler never invokes Run
// concurrently for the same agent id; concurrent calls for different ids must
// be safe. The context carries the cancellation token for the run.
type AgentRunner interface {
	Run(ctx context.Context, agentID string) (model.RunResult, error)
}

// RunHistorySink records dispatch outcomes. Optional; a nil sink disables
// history.
type RunHistorySink interface {
	RecordStart(ctx context.Context, run model.AgentRun) error
	RecordOutcome(ctx context.Context, run model.AgentRun) error
}

// StatusReaperRepository resets agents left in running status by a crashed
// process.
type StatusReaperRepository interface {
	// ResetStaleRunning marks agents running since before cutoff as errored
	// and returns how many rows changed.
	ResetStaleRunning(ctx context.Context, cutoff time.Time) (int64, error)
}
