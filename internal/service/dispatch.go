package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/target/agent-scheduler/internal/domain/cron"
	"github.com/target/agent-scheduler/internal/domain/event"
	"github.com/target/agent-scheduler/internal/domain/model"
	"github.com/target/agent-scheduler/internal/domain/schedule"
	"github.com/target/agent-scheduler/internal/observability/metrics"
)

type dispatchOptions struct {
	// holdsSlot is true for tick-claimed tasks; manual runs bypass the
	// semaphore and leave it false.
	holdsSlot bool
	manual    bool
}

// dispatch executes one claimed task end to end: persist the start, run the
// agent, then record the outcome. The caller has already registered the agent
// in the running set and incremented the wait group.
func (s *SchedulerService) dispatch(ctx context.Context, task *schedule.Task, opts dispatchOptions) {
	defer s.wg.Done()

	agentID := task.AgentID
	jobID := task.JobID
	startedAt := s.timeProvider.Now()
	runID := uuid.NewString()

	s.persistRunStart(ctx, agentID, startedAt)
	s.recordHistoryStart(ctx, model.AgentRun{
		ID:        runID,
		AgentID:   agentID,
		JobID:     jobID,
		Manual:    opts.manual,
		StartedAt: startedAt,
	})
	s.publishAgent(event.AgentStarted(agentID, jobID, startedAt))

	result := s.runAgent(ctx, agentID)
	finishedAt := s.timeProvider.Now()
	duration := result.Duration
	if duration <= 0 {
		duration = finishedAt.Sub(startedAt)
	}

	s.recordOutcome(ctx, task, outcome{
		result:     result,
		duration:   duration,
		finishedAt: finishedAt,
		kind:       task.AgentSnapshot.Kind,
		opts:       opts,
	})

	s.recordHistoryOutcome(ctx, model.AgentRun{
		ID:      runID,
		AgentID: agentID,
		JobID:   jobID,
		Manual:  opts.manual,
	}, result, duration, finishedAt)
	s.emitRunMetric(task.AgentSnapshot.Kind, result, duration, opts.manual)
}

// runAgent invokes the runner with panic containment. A panicking handler is
// recorded as a failed run, never a crashed scheduler.
func (s *SchedulerService) runAgent(ctx context.Context, agentID string) (result model.RunResult) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorContext(ctx, "agent handler panicked", "agent_id", agentID, "panic", r)
			result = model.RunResult{Success: false, Error: fmt.Sprintf("panic: %v", r)}
		}
	}()

	res, err := s.runner.Run(ctx, agentID)
	if err != nil {
		return model.RunResult{Success: false, Error: err.Error(), Duration: res.Duration}
	}
	if !res.Success && res.Error == "" {
		res.Error = "agent reported failure"
	}
	return res
}

type outcome struct {
	result     model.RunResult
	duration   time.Duration
	finishedAt time.Time
	kind       string
	opts       dispatchOptions
}

// recordOutcome applies the run result to the table under the mutex, then
// performs the resulting store writes and event emissions outside it.
func (s *SchedulerService) recordOutcome(ctx context.Context, task *schedule.Task, out outcome) {
	agentID := task.AgentID
	jobID := task.JobID
	now := out.finishedAt

	s.mu.Lock()
	delete(s.running, agentID)
	if out.opts.holdsSlot {
		s.slots.Release()
	}

	// The table entry may have been replaced or removed mid-run; only touch
	// it if it is still the task we dispatched.
	current := s.table.Get(agentID)
	if current != task {
		task = nil
	}

	var plan outcomePlan
	if out.result.Success {
		plan = s.planSuccessLocked(task, agentID, now)
	} else {
		plan = s.planFailureLocked(task, agentID, now, out.result.Error)
	}
	s.mu.Unlock()

	s.applyOutcomePlan(ctx, agentID, jobID, plan, out)
}

// outcomePlan is computed under the mutex and executed outside it.
type outcomePlan struct {
	status     model.AgentStatus
	update     model.ScheduleUpdate
	terminal   bool
	willRetry  bool
	retryCount int
}

func (s *SchedulerService) planSuccessLocked(task *schedule.Task, agentID string, now time.Time) outcomePlan {
	plan := outcomePlan{status: model.AgentStatusCompleted}
	plan.update.LastRunAt = &now

	if task == nil {
		return plan
	}
	task.ClearFailureState()

	if task.IsManualRun {
		s.table.Remove(agentID)
		plan.update.ClearNextRunAt = true
		return plan
	}

	next, err := cron.NextAfterExpr(task.CronExpr, now)
	if err != nil {
		// Expression was valid at schedule time; treat failure as corruption
		// and drop the task rather than spin.
		s.logger.Error("stored cron expression no longer parses; removing task",
			"agent_id", agentID, "cron", task.CronExpr, "error", err)
		s.table.Remove(agentID)
		plan.update.ClearNextRunAt = true
		return plan
	}
	task.NextRunTime = next
	plan.update.NextRunAt = &next
	return plan
}

func (s *SchedulerService) planFailureLocked(
	task *schedule.Task,
	agentID string,
	now time.Time,
	errMsg string,
) outcomePlan {
	plan := outcomePlan{willRetry: false}
	plan.update.LastRunAt = &now

	if task == nil {
		plan.status = model.AgentStatusError
		return plan
	}

	task.RetryCount++
	task.LastError = errMsg
	plan.retryCount = task.RetryCount

	decision := s.policy.Decide(task.RetryCount)
	if decision.Terminal {
		s.table.Remove(agentID)
		plan.terminal = true
		plan.status = model.AgentStatusError
		disabled := false
		plan.update.ScheduleEnabled = &disabled
		plan.update.ClearNextRunAt = true
		return plan
	}

	until := now.Add(decision.Delay)
	task.BackoffUntil = &until
	plan.willRetry = true
	plan.status = model.AgentStatusIdle
	return plan
}

func (s *SchedulerService) applyOutcomePlan(
	ctx context.Context,
	agentID, jobID string,
	plan outcomePlan,
	out outcome,
) {
	if err := s.store.UpdateSchedule(ctx, agentID, plan.update); err != nil {
		s.countStoreFailure(err)
		s.logger.WarnContext(ctx, "recording run outcome in store failed",
			"agent_id", agentID, "error", err)
	}
	if plan.status != "" {
		if err := s.store.SetStatus(ctx, agentID, plan.status); err != nil {
			s.countStoreFailure(err)
			s.logger.WarnContext(ctx, "setting agent status failed",
				"agent_id", agentID, "status", plan.status, "error", err)
		}
	}

	if out.result.Success {
		s.publishAgent(event.AgentCompleted(agentID, jobID, out.finishedAt, out.duration))
		return
	}

	s.publishAgent(event.AgentFailed(agentID, jobID, out.finishedAt, out.result.Error, plan.willRetry))
	if plan.terminal {
		s.logger.WarnContext(ctx, "agent exhausted retries; schedule disabled",
			"agent_id", agentID, "attempts", plan.retryCount, "error", out.result.Error)
		if s.onTerminal != nil {
			s.onTerminal(ctx, TerminalFailure{
				AgentID:  agentID,
				JobID:    jobID,
				Kind:     out.kind,
				Error:    out.result.Error,
				Attempts: plan.retryCount,
			})
		}
	}
}

func (s *SchedulerService) persistRunStart(ctx context.Context, agentID string, startedAt time.Time) {
	if err := s.store.UpdateSchedule(ctx, agentID, model.ScheduleUpdate{LastRunAt: &startedAt}); err != nil {
		s.countStoreFailure(err)
		s.logger.WarnContext(ctx, "persisting run start failed", "agent_id", agentID, "error", err)
	}
	if err := s.store.SetStatus(ctx, agentID, model.AgentStatusRunning); err != nil {
		s.countStoreFailure(err)
		s.logger.WarnContext(ctx, "setting running status failed", "agent_id", agentID, "error", err)
	}
}

func (s *SchedulerService) recordHistoryStart(ctx context.Context, run model.AgentRun) {
	if s.history == nil {
		return
	}
	if err := s.history.RecordStart(ctx, run); err != nil {
		s.logger.WarnContext(ctx, "recording run history start failed",
			"agent_id", run.AgentID, "run_id", run.ID, "error", err)
	}
}

func (s *SchedulerService) recordHistoryOutcome(
	ctx context.Context,
	run model.AgentRun,
	result model.RunResult,
	duration time.Duration,
	finishedAt time.Time,
) {
	if s.history == nil {
		return
	}
	success := result.Success
	ms := duration.Milliseconds()
	run.FinishedAt = &finishedAt
	run.Success = &success
	run.Error = result.Error
	run.DurationMS = &ms
	if err := s.history.RecordOutcome(ctx, run); err != nil {
		s.logger.WarnContext(ctx, "recording run history outcome failed",
			"agent_id", run.AgentID, "run_id", run.ID, "error", err)
	}
}

func (s *SchedulerService) emitRunMetric(kind string, result model.RunResult, duration time.Duration, manual bool) {
	if s.metrics == nil {
		return
	}
	res := metrics.ResultSuccess
	var cause error
	if !result.Success {
		res = metrics.ResultError
		cause = fmt.Errorf("%s", result.Error)
	}
	metrics.EmitAgentLifecycle(s.metrics, metrics.AgentMetric{
		Kind:     kind,
		Result:   res,
		Manual:   manual,
		Duration: duration,
		Err:      cause,
	})
}

func (s *SchedulerService) countStoreFailure(err error) {
	if s.metrics == nil {
		return
	}
	tags := map[string]string{}
	if class := classifyTag(err); class != "" {
		tags["error_class"] = class
	}
	s.metrics.Count("scheduler.store_failure", 1, tags)
}
