package service

import (
	"context"
	"time"

	"github.com/target/agent-scheduler/internal/domain/cron"
	"github.com/target/agent-scheduler/internal/domain/model"
	"github.com/target/agent-scheduler/internal/domain/schedule"
)

// loadFromStore rebuilds the task table from persisted schedules. Invalid
// stored expressions are skipped with a warning; they are an operator problem,
// not a reason to refuse startup.
func (s *SchedulerService) loadFromStore(ctx context.Context) error {
	agents, err := s.store.ListScheduledEnabled(ctx)
	if err != nil {
		return err
	}

	now := s.timeProvider.Now()
	restored := 0
	for i := range agents {
		agent := agents[i]
		if agent.ScheduleExpression == nil {
			continue
		}

		sched, parseErr := cron.Parse(*agent.ScheduleExpression)
		if parseErr != nil {
			s.logger.WarnContext(ctx, "skipping agent with invalid stored cron expression",
				"agent_id", agent.ID, "cron", *agent.ScheduleExpression, "error", parseErr)
			continue
		}

		task := &schedule.Task{
			AgentID:       agent.ID,
			JobID:         agent.ID,
			AgentSnapshot: agent.Clone(),
			CronExpr:      sched.Expression(),
			NextRunTime:   s.restoredNextRun(ctx, agent, sched, now),
			Priority:      model.DerivePriority(agent, nil),
			IsPaused:      agent.PausedInConfig(),
		}

		s.mu.Lock()
		s.table.Upsert(task)
		s.mu.Unlock()
		restored++
	}

	s.logger.InfoContext(ctx, "schedules restored from store",
		"restored", restored, "run_missed_on_startup", s.cfg.RunMissedOnStartup)
	return nil
}

// restoredNextRun decides the first fire time for a restored task. A stored
// future time is kept as-is. A past time either becomes one catch-up run
// (RunMissedOnStartup) or is recomputed forward from the cron expression.
func (s *SchedulerService) restoredNextRun(
	ctx context.Context,
	agent model.AgentRecord,
	sched cron.Schedule,
	now time.Time,
) time.Time {
	if agent.NextRunAt != nil && agent.NextRunAt.After(now) {
		return *agent.NextRunAt
	}

	if agent.NextRunAt != nil && s.cfg.RunMissedOnStartup {
		s.logger.InfoContext(ctx, "replaying missed run",
			"agent_id", agent.ID, "missed_at", *agent.NextRunAt)
		return *agent.NextRunAt
	}

	next := sched.NextAfter(now)
	if err := s.store.UpdateSchedule(ctx, agent.ID, model.ScheduleUpdate{NextRunAt: &next}); err != nil {
		s.countStoreFailure(err)
		s.logger.WarnContext(ctx, "persisting recomputed next run failed",
			"agent_id", agent.ID, "error", err)
	}
	return next
}
