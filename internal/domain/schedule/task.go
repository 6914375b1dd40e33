// Package schedule holds the pure scheduling domain for the agent scheduler:
// the in-memory task table, the priority-ordered ready queue, the worker
// slot semaphore, and the retry policy. Nothing in this package performs I/O;
// the service layer owns locking and persistence.
package schedule

import (
	"time"

	"github.com/target/agent-scheduler/internal/domain/model"
)

// Task is the in-memory scheduling record for one agent. At most one Task
// exists per agent id (manual one-shot runs included).
type Task struct {
	AgentID       string
	JobID         string
	AgentSnapshot model.AgentRecord
	CronExpr      string
	NextRunTime   time.Time
	Priority      model.Priority
	RetryCount    int
	BackoffUntil  *time.Time
	LastError     string
	IsPaused      bool
	IsManualRun   bool
	PausedAt      *time.Time
}

// Eligible reports whether the task may be dispatched at now. Running-state
// suppression is the caller's concern; the task itself only knows about its
// own schedule, backoff, and pause flag.
func (t *Task) Eligible(now time.Time) bool {
	if t.IsPaused {
		return false
	}
	if t.NextRunTime.After(now) {
		return false
	}
	if t.BackoffUntil != nil && t.BackoffUntil.After(now) {
		return false
	}
	return true
}

// ClearFailureState resets retry bookkeeping after a successful run.
func (t *Task) ClearFailureState() {
	t.RetryCount = 0
	t.BackoffUntil = nil
	t.LastError = ""
}

// Details projects the task into the introspection DTO. The running flag is
// supplied by the caller since the task does not track in-flight state.
func (t *Task) Details(isRunning bool) model.TaskDetails {
	d := model.TaskDetails{
		AgentID:     t.AgentID,
		AgentName:   t.AgentSnapshot.Name,
		JobID:       t.JobID,
		Priority:    t.Priority,
		NextRunTime: t.NextRunTime,
		RetryCount:  t.RetryCount,
		LastError:   t.LastError,
		IsPaused:    t.IsPaused,
		IsRunning:   isRunning,
		IsManualRun: t.IsManualRun,
	}
	if t.BackoffUntil != nil {
		u := *t.BackoffUntil
		d.BackoffUntil = &u
	}
	return d
}
