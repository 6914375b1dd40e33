package model

import "time"

// RunResult is the outcome an AgentRunner reports for a single run.
type RunResult struct {
	Success  bool          `json:"success"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// SchedulerStats is a point-in-time snapshot of scheduler state.
// Manual one-shot runs count toward RunningAgentsCount but are excluded from
// ScheduledTasksCount and QueuedTasksCount.
type SchedulerStats struct {
	IsRunning           bool `json:"is_running"`
	ScheduledTasksCount int  `json:"scheduled_tasks_count"`
	RunningAgentsCount  int  `json:"running_agents_count"`
	QueuedTasksCount    int  `json:"queued_tasks_count"`
	MaxConcurrentAgents int  `json:"max_concurrent_agents"`
	PausedJobsCount     int  `json:"paused_jobs_count"`
}

// TaskDetails describes one scheduled task for introspection surfaces.
type TaskDetails struct {
	AgentID      string     `json:"agent_id"`
	AgentName    string     `json:"agent_name"`
	JobID        string     `json:"job_id"`
	Priority     Priority   `json:"priority"`
	NextRunTime  time.Time  `json:"next_run_time"`
	RetryCount   int        `json:"retry_count"`
	BackoffUntil *time.Time `json:"backoff_until,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
	IsPaused     bool       `json:"is_paused"`
	IsRunning    bool       `json:"is_running"`
	IsManualRun  bool       `json:"is_manual_run"`
}

// PausedJob identifies a paused scheduled task.
type PausedJob struct {
	AgentID  string     `json:"agent_id"`
	JobID    string     `json:"job_id"`
	PausedAt *time.Time `json:"paused_at,omitempty"`
}

// AgentRun is one row of dispatch history persisted by the run history sink.
type AgentRun struct {
	ID         string     `json:"id"          db:"id"`
	AgentID    string     `json:"agent_id"    db:"agent_id"`
	JobID      string     `json:"job_id"      db:"job_id"`
	Manual     bool       `json:"manual"      db:"manual"`
	StartedAt  time.Time  `json:"started_at"  db:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty" db:"finished_at"`
	Success    *bool      `json:"success,omitempty"     db:"success"`
	Error      string     `json:"error,omitempty"       db:"error"`
	DurationMS *int64     `json:"duration_ms,omitempty" db:"duration_ms"`
}
