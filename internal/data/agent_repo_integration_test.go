package data

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/agent-scheduler/internal/domain/model"
	apperrors "github.com/target/agent-scheduler/internal/errors"
	"github.com/target/agent-scheduler/internal/testutil"
)

func TestAgentRepo_Integration_CreateGetDelete(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewAgentRepo(db)
		ctx := context.Background()

		created, err := repo.CreateAgent(ctx, model.CreateAgentRequest{
			ID:                 "it-agent-1",
			Name:               "Integration Agent",
			Kind:               model.AgentKindDataAnalyzer,
			ScheduleExpression: testutil.StringPtr("*/5 * * * *"),
			ScheduleEnabled:    true,
			Configuration: map[string]any{
				model.ConfigKeyPriority: "high",
				"custom":                "value",
			},
		})
		require.NoError(t, err)
		require.NotNil(t, created)
		assert.Equal(t, model.AgentStatusIdle, created.Status)
		require.NotNil(t, created.ScheduleExpression)
		assert.Equal(t, "*/5 * * * *", *created.ScheduleExpression)
		assert.Equal(t, "value", created.Configuration["custom"])

		// Duplicate ids map to conflict.
		_, err = repo.CreateAgent(ctx, model.CreateAgentRequest{
			ID:   "it-agent-1",
			Name: "Duplicate",
			Kind: model.AgentKindDataAnalyzer,
		})
		require.Error(t, err)
		assert.True(t, apperrors.IsConflict(err))

		fetched, err := repo.GetAgent(ctx, "it-agent-1")
		require.NoError(t, err)
		assert.Equal(t, created.ID, fetched.ID)
		assert.Equal(t, created.Name, fetched.Name)

		require.NoError(t, repo.DeleteAgent(ctx, "it-agent-1"))

		_, err = repo.GetAgent(ctx, "it-agent-1")
		require.Error(t, err)
		assert.True(t, apperrors.IsNotFound(err))

		err = repo.DeleteAgent(ctx, "it-agent-1")
		require.Error(t, err)
		assert.True(t, apperrors.IsNotFound(err))
	})
}

func TestAgentRepo_Integration_ListFilters(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewAgentRepo(db)
		ctx := context.Background()

		mustCreate := func(id string, enabled bool, cron *string) {
			t.Helper()
			_, err := repo.CreateAgent(ctx, model.CreateAgentRequest{
				ID:                 id,
				Name:               "Agent " + id,
				Kind:               model.AgentKindCustomerSupport,
				ScheduleExpression: cron,
				ScheduleEnabled:    enabled,
			})
			require.NoError(t, err)
		}

		mustCreate("it-a", true, testutil.StringPtr("0 * * * *"))
		mustCreate("it-b", true, nil)
		mustCreate("it-c", false, testutil.StringPtr("0 * * * *"))

		all, err := repo.ListAgents(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 3)

		// Only enabled agents with a cron expression are replayed on startup.
		scheduled, err := repo.ListScheduledEnabled(ctx)
		require.NoError(t, err)
		require.Len(t, scheduled, 1)
		assert.Equal(t, "it-a", scheduled[0].ID)

		require.NoError(t, repo.SetStatus(ctx, "it-b", model.AgentStatusError))

		errored, err := repo.ListByStatus(ctx, model.AgentStatusError)
		require.NoError(t, err)
		require.Len(t, errored, 1)
		assert.Equal(t, "it-b", errored[0].ID)
	})
}

func TestAgentRepo_Integration_UpdateScheduleMergesConfig(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		timeProvider := testutil.NewTestTimeProvider(testutil.TestTime())
		repo := NewAgentRepoWithTimeProvider(db, timeProvider)
		ctx := context.Background()

		_, err := repo.CreateAgent(ctx, model.CreateAgentRequest{
			ID:   "it-merge",
			Name: "Merge Agent",
			Kind: model.AgentKindReportGenerator,
			Configuration: map[string]any{
				"keep_me":               "untouched",
				model.ConfigKeyPriority: "low",
			},
		})
		require.NoError(t, err)

		next := testutil.TestTime().Add(time.Hour)
		err = repo.UpdateSchedule(ctx, "it-merge", model.ScheduleUpdate{
			ScheduleExpression: testutil.StringPtr("30 * * * *"),
			ScheduleEnabled:    testutil.BoolPtr(true),
			NextRunAt:          &next,
			ConfigPatch: map[string]any{
				model.ConfigKeyIsPaused: true,
			},
		})
		require.NoError(t, err)

		agent, err := repo.GetAgent(ctx, "it-merge")
		require.NoError(t, err)
		require.NotNil(t, agent.ScheduleExpression)
		assert.Equal(t, "30 * * * *", *agent.ScheduleExpression)
		assert.True(t, agent.ScheduleEnabled)
		require.NotNil(t, agent.NextRunAt)
		assert.WithinDuration(t, next, *agent.NextRunAt, time.Second)

		// Patch merges; keys the scheduler does not own survive.
		assert.Equal(t, "untouched", agent.Configuration["keep_me"])
		assert.Equal(t, "low", agent.Configuration[model.ConfigKeyPriority])
		assert.True(t, agent.PausedInConfig())

		err = repo.UpdateSchedule(ctx, "it-merge", model.ScheduleUpdate{ClearNextRunAt: true})
		require.NoError(t, err)

		agent, err = repo.GetAgent(ctx, "it-merge")
		require.NoError(t, err)
		assert.Nil(t, agent.NextRunAt)

		// Zero updates are a no-op even for missing agents.
		require.NoError(t, repo.UpdateSchedule(ctx, "it-missing", model.ScheduleUpdate{}))

		err = repo.UpdateSchedule(ctx, "it-missing", model.ScheduleUpdate{ClearNextRunAt: true})
		require.Error(t, err)
		assert.True(t, apperrors.IsNotFound(err))
	})
}

func TestAgentRepo_Integration_ResetStaleRunning(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		timeProvider := testutil.NewTestTimeProvider(testutil.TestTime())
		repo := NewAgentRepoWithTimeProvider(db, timeProvider)
		ctx := context.Background()

		create := func(id string) {
			t.Helper()
			_, err := repo.CreateAgent(ctx, model.CreateAgentRequest{
				ID:   id,
				Name: "Agent " + id,
				Kind: model.AgentKindPerformanceOptimizer,
			})
			require.NoError(t, err)
		}
		create("it-stale")
		create("it-fresh")

		stale := testutil.TestTime().Add(-time.Hour)
		fresh := testutil.TestTime().Add(-time.Minute)

		require.NoError(t, repo.SetStatus(ctx, "it-stale", model.AgentStatusRunning))
		require.NoError(t, repo.UpdateSchedule(ctx, "it-stale", model.ScheduleUpdate{LastRunAt: &stale}))
		require.NoError(t, repo.SetStatus(ctx, "it-fresh", model.AgentStatusRunning))
		require.NoError(t, repo.UpdateSchedule(ctx, "it-fresh", model.ScheduleUpdate{LastRunAt: &fresh}))

		cutoff := testutil.TestTime().Add(-10 * time.Minute)
		reset, err := repo.ResetStaleRunning(ctx, cutoff)
		require.NoError(t, err)
		assert.Equal(t, int64(1), reset)

		staleAgent, err := repo.GetAgent(ctx, "it-stale")
		require.NoError(t, err)
		assert.Equal(t, model.AgentStatusError, staleAgent.Status)

		freshAgent, err := repo.GetAgent(ctx, "it-fresh")
		require.NoError(t, err)
		assert.Equal(t, model.AgentStatusRunning, freshAgent.Status)
	})
}
