package service

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/target/agent-scheduler/internal/domain/cron"
	"github.com/target/agent-scheduler/internal/domain/event"
	"github.com/target/agent-scheduler/internal/domain/model"
	"github.com/target/agent-scheduler/internal/domain/schedule"
	"github.com/target/agent-scheduler/internal/errors"
)

// ScheduleRequest carries the parameters for scheduling an agent. A nil
// Enabled means enabled; an explicit false disables the schedule and removes
// any existing task.
type ScheduleRequest struct {
	AgentID  string          `json:"agent_id"`
	CronExpr *string         `json:"cron,omitempty"`
	Priority *model.Priority `json:"priority,omitempty"`
	Enabled  *bool           `json:"enabled,omitempty"`
	JobID    string          `json:"job_id,omitempty"`
}

// Schedule registers (or replaces) the recurring task for an agent. The
// expression falls back to the one stored on the agent record; the snapshot
// in the table refreshes from the store on every call.
func (s *SchedulerService) Schedule(ctx context.Context, req ScheduleRequest) (model.TaskDetails, error) {
	if req.CronExpr != nil {
		if err := cron.Validate(*req.CronExpr); err != nil {
			return model.TaskDetails{}, err
		}
	}

	if req.Enabled != nil && !*req.Enabled {
		return s.disableSchedule(ctx, req)
	}

	agent, err := s.store.GetAgent(ctx, req.AgentID)
	if err != nil {
		return model.TaskDetails{}, err
	}

	expr := ""
	switch {
	case req.CronExpr != nil:
		expr = *req.CronExpr
	case agent.ScheduleExpression != nil:
		expr = *agent.ScheduleExpression
	default:
		return model.TaskDetails{}, errors.NotScheduledf(
			"agent %s has no cron expression to schedule", req.AgentID)
	}

	sched, err := cron.Parse(expr)
	if err != nil {
		return model.TaskDetails{}, err
	}

	now := s.timeProvider.Now()
	next := sched.NextAfter(now)
	jobID := req.JobID
	if jobID == "" {
		jobID = agent.ID
	}

	task := &schedule.Task{
		AgentID:       agent.ID,
		JobID:         jobID,
		AgentSnapshot: agent.Clone(),
		CronExpr:      sched.Expression(),
		NextRunTime:   next,
		Priority:      model.DerivePriority(*agent, req.Priority),
		IsPaused:      agent.PausedInConfig(),
	}

	s.mu.Lock()
	_, isRunning := s.running[agent.ID]
	s.table.Upsert(task)
	s.mu.Unlock()

	enabled := true
	exprValue := sched.Expression()
	if err := s.store.UpdateSchedule(ctx, agent.ID, model.ScheduleUpdate{
		ScheduleExpression: &exprValue,
		ScheduleEnabled:    &enabled,
		NextRunAt:          &next,
	}); err != nil {
		return model.TaskDetails{}, err
	}

	s.logger.InfoContext(ctx, "agent scheduled",
		"agent_id", agent.ID, "cron", exprValue, "next_run", next, "priority", task.Priority.String())
	s.publishStatus()
	s.nudge()
	return task.Details(isRunning), nil
}

// disableSchedule handles Schedule with enabled=false: the task is removed
// and the store record disabled. Idempotent; safe when no task exists.
func (s *SchedulerService) disableSchedule(ctx context.Context, req ScheduleRequest) (model.TaskDetails, error) {
	s.mu.Lock()
	s.table.Remove(req.AgentID)
	s.mu.Unlock()

	enabled := false
	if err := s.store.UpdateSchedule(ctx, req.AgentID, model.ScheduleUpdate{
		ScheduleExpression: req.CronExpr,
		ScheduleEnabled:    &enabled,
		ClearNextRunAt:     true,
	}); err != nil {
		return model.TaskDetails{}, err
	}

	s.logger.InfoContext(ctx, "agent schedule disabled", "agent_id", req.AgentID)
	s.publishStatus()
	return model.TaskDetails{AgentID: req.AgentID}, nil
}

// Unschedule removes the agent's task and disables its schedule in the store.
// The store record is disabled even when no task exists, so an enabled row
// cannot outlive its task across a restart. An in-flight run is left to
// finish; it simply has no task to reschedule.
func (s *SchedulerService) Unschedule(ctx context.Context, agentID string) error {
	s.mu.Lock()
	removed := s.table.Remove(agentID)
	s.mu.Unlock()

	enabled := false
	if err := s.store.UpdateSchedule(ctx, agentID, model.ScheduleUpdate{
		ScheduleEnabled: &enabled,
		ClearNextRunAt:  true,
	}); err != nil {
		return err
	}

	if !removed {
		return errors.NotScheduledf("agent %s is not scheduled", agentID)
	}

	s.logger.InfoContext(ctx, "agent unscheduled", "agent_id", agentID)
	s.publishStatus()
	return nil
}

// RunNow triggers an immediate out-of-band run. Manual runs bypass queue
// order and the concurrency cap but still register in the running set, so a
// second trigger while one is in flight returns already_running. Returns the
// job id the run carries.
func (s *SchedulerService) RunNow(ctx context.Context, agentID string) (string, error) {
	s.mu.Lock()
	if _, inFlight := s.running[agentID]; inFlight {
		s.mu.Unlock()
		return "", errors.AlreadyRunning(agentID)
	}
	existing := s.table.Get(agentID)
	s.mu.Unlock()

	var task *schedule.Task
	if existing != nil {
		task = existing
	} else {
		agent, err := s.store.GetAgent(ctx, agentID)
		if err != nil {
			return "", err
		}
		task = &schedule.Task{
			AgentID:       agent.ID,
			JobID:         "manual-" + uuid.NewString(),
			AgentSnapshot: agent.Clone(),
			NextRunTime:   s.timeProvider.Now(),
			Priority:      model.DerivePriority(*agent, nil),
			IsManualRun:   true,
		}
	}

	s.mu.Lock()
	if _, inFlight := s.running[agentID]; inFlight {
		s.mu.Unlock()
		return "", errors.AlreadyRunning(agentID)
	}
	if task.IsManualRun {
		s.table.Upsert(task)
	}
	s.running[agentID] = struct{}{}
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "manual run triggered", "agent_id", agentID, "job_id", task.JobID)
	s.wg.Add(1)
	go s.dispatch(context.WithoutCancel(ctx), task, dispatchOptions{manual: true})
	return task.JobID, nil
}

// PauseJob marks a scheduled task ineligible until resumed. Pausing an
// already-paused task is a no-op returning the current state; an in-flight
// run must finish before a pause is accepted.
func (s *SchedulerService) PauseJob(ctx context.Context, agentID, jobID string) (model.TaskDetails, error) {
	now := s.timeProvider.Now()

	s.mu.Lock()
	task := s.table.Get(agentID)
	if task == nil || task.JobID != jobID {
		s.mu.Unlock()
		return model.TaskDetails{}, errors.NotScheduledf(
			"no scheduled job %s for agent %s", jobID, agentID)
	}
	isRunning := false
	if task.IsPaused {
		_, isRunning = s.running[agentID]
		details := task.Details(isRunning)
		s.mu.Unlock()
		return details, nil
	}
	if _, inFlight := s.running[agentID]; inFlight {
		s.mu.Unlock()
		return model.TaskDetails{}, errors.Conflictf(
			"agent %s is running; wait for the run to finish before pausing", agentID)
	}
	task.IsPaused = true
	task.PausedAt = &now
	details := task.Details(isRunning)
	s.mu.Unlock()

	if err := s.store.UpdateSchedule(ctx, agentID, model.ScheduleUpdate{
		ConfigPatch: map[string]any{
			model.ConfigKeyIsPaused: true,
			model.ConfigKeyPausedAt: now.UTC().Format(time.RFC3339),
		},
	}); err != nil {
		s.countStoreFailure(err)
		s.logger.WarnContext(ctx, "persisting pause failed", "agent_id", agentID, "error", err)
	}
	if err := s.store.SetStatus(ctx, agentID, model.AgentStatusPaused); err != nil {
		s.countStoreFailure(err)
		s.logger.WarnContext(ctx, "setting paused status failed", "agent_id", agentID, "error", err)
	}

	s.publishAgent(event.AgentPaused(agentID, jobID, now))
	return details, nil
}

// ResumeJob lifts a pause and recomputes the next fire time from the cron
// expression at resume time.
func (s *SchedulerService) ResumeJob(ctx context.Context, agentID, jobID string) (model.TaskDetails, error) {
	now := s.timeProvider.Now()

	s.mu.Lock()
	task := s.table.Get(agentID)
	if task == nil || task.JobID != jobID {
		s.mu.Unlock()
		return model.TaskDetails{}, errors.NotScheduledf(
			"no scheduled job %s for agent %s", jobID, agentID)
	}
	if !task.IsPaused {
		s.mu.Unlock()
		return model.TaskDetails{}, errors.NotPaused(agentID)
	}
	task.IsPaused = false
	task.PausedAt = nil
	var next *time.Time
	if task.CronExpr != "" {
		if n, err := cron.NextAfterExpr(task.CronExpr, now); err == nil {
			task.NextRunTime = n
			next = &n
		}
	}
	_, isRunning := s.running[agentID]
	details := task.Details(isRunning)
	s.mu.Unlock()

	update := model.ScheduleUpdate{
		ConfigPatch: map[string]any{
			model.ConfigKeyIsPaused:  false,
			model.ConfigKeyResumedAt: now.UTC().Format(time.RFC3339),
		},
	}
	update.NextRunAt = next
	if err := s.store.UpdateSchedule(ctx, agentID, update); err != nil {
		s.countStoreFailure(err)
		s.logger.WarnContext(ctx, "persisting resume failed", "agent_id", agentID, "error", err)
	}
	if err := s.store.SetStatus(ctx, agentID, model.AgentStatusIdle); err != nil {
		s.countStoreFailure(err)
		s.logger.WarnContext(ctx, "setting idle status failed", "agent_id", agentID, "error", err)
	}

	s.publishAgent(event.AgentResumed(agentID, jobID, now))
	return details, nil
}

// GetStats returns a point-in-time stats snapshot.
func (s *SchedulerService) GetStats(_ context.Context) model.SchedulerStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statsLocked()
}

// GetTaskDetails returns the introspection view of one agent's task.
func (s *SchedulerService) GetTaskDetails(_ context.Context, agentID string) (model.TaskDetails, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task := s.table.Get(agentID)
	if task == nil {
		return model.TaskDetails{}, errors.NotScheduledf("agent %s is not scheduled", agentID)
	}
	_, isRunning := s.running[agentID]
	return task.Details(isRunning), nil
}

// ListTasks returns every task ordered by dispatch rank: priority descending,
// then next run time, then agent id.
func (s *SchedulerService) ListTasks(_ context.Context) []model.TaskDetails {
	s.mu.Lock()
	out := make([]model.TaskDetails, 0, s.table.Len())
	for _, task := range s.table.List() {
		_, isRunning := s.running[task.AgentID]
		out = append(out, task.Details(isRunning))
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		if !out[i].NextRunTime.Equal(out[j].NextRunTime) {
			return out[i].NextRunTime.Before(out[j].NextRunTime)
		}
		return out[i].AgentID < out[j].AgentID
	})
	return out
}

// GetPausedJobs lists the currently paused tasks.
func (s *SchedulerService) GetPausedJobs(_ context.Context) []model.PausedJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.PausedJob, 0)
	for _, task := range s.table.List() {
		if !task.IsPaused {
			continue
		}
		job := model.PausedJob{AgentID: task.AgentID, JobID: task.JobID}
		if task.PausedAt != nil {
			at := *task.PausedAt
			job.PausedAt = &at
		}
		out = append(out, job)
	}
	return out
}
