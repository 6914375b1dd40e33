package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/agent-scheduler/internal/domain/model"
)

func newTask(agentID string, priority model.Priority, next time.Time) *Task {
	return &Task{
		AgentID:     agentID,
		JobID:       agentID,
		Priority:    priority,
		NextRunTime: next,
	}
}

func TestTableUpsertReplacesExisting(t *testing.T) {
	tb := NewTable()
	at := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	tb.Upsert(newTask("a", model.PriorityNormal, at))
	tb.Upsert(newTask("a", model.PriorityHigh, at.Add(time.Minute)))

	require.Equal(t, 1, tb.Len())
	got := tb.Get("a")
	require.NotNil(t, got)
	assert.Equal(t, model.PriorityHigh, got.Priority)
	assert.Equal(t, at.Add(time.Minute), got.NextRunTime)
}

func TestTableUpsertIgnoresInvalid(t *testing.T) {
	tb := NewTable()
	tb.Upsert(nil)
	tb.Upsert(&Task{})
	assert.Zero(t, tb.Len())
}

func TestTableRemove(t *testing.T) {
	tb := NewTable()
	tb.Upsert(newTask("a", model.PriorityNormal, time.Now()))

	assert.True(t, tb.Remove("a"))
	assert.False(t, tb.Remove("a"))
	assert.Nil(t, tb.Get("a"))
}

func TestTableListOrderedByAgentID(t *testing.T) {
	tb := NewTable()
	at := time.Now()
	tb.Upsert(newTask("c", model.PriorityNormal, at))
	tb.Upsert(newTask("a", model.PriorityNormal, at))
	tb.Upsert(newTask("b", model.PriorityNormal, at))

	var ids []string
	for _, task := range tb.List() {
		ids = append(ids, task.AgentID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestTableCounters(t *testing.T) {
	tb := NewTable()
	at := time.Now()

	scheduled := newTask("a", model.PriorityNormal, at)
	paused := newTask("b", model.PriorityNormal, at)
	paused.IsPaused = true
	manual := newTask("c", model.PriorityNormal, at)
	manual.IsManualRun = true

	tb.Upsert(scheduled)
	tb.Upsert(paused)
	tb.Upsert(manual)

	assert.Equal(t, 3, tb.Len())
	assert.Equal(t, 2, tb.ScheduledLen())
	assert.Equal(t, 1, tb.PausedLen())
}

func TestTaskEligibility(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	due := newTask("a", model.PriorityNormal, now.Add(-time.Minute))
	assert.True(t, due.Eligible(now))

	future := newTask("b", model.PriorityNormal, now.Add(time.Minute))
	assert.False(t, future.Eligible(now))

	paused := newTask("c", model.PriorityNormal, now.Add(-time.Minute))
	paused.IsPaused = true
	assert.False(t, paused.Eligible(now))

	backoff := newTask("d", model.PriorityNormal, now.Add(-time.Minute))
	until := now.Add(30 * time.Second)
	backoff.BackoffUntil = &until
	assert.False(t, backoff.Eligible(now))

	expired := now.Add(-time.Second)
	backoff.BackoffUntil = &expired
	assert.True(t, backoff.Eligible(now))
}

func TestTaskClearFailureState(t *testing.T) {
	task := newTask("a", model.PriorityNormal, time.Now())
	task.RetryCount = 2
	task.LastError = "boom"
	until := time.Now().Add(time.Minute)
	task.BackoffUntil = &until

	task.ClearFailureState()
	assert.Zero(t, task.RetryCount)
	assert.Empty(t, task.LastError)
	assert.Nil(t, task.BackoffUntil)
}
