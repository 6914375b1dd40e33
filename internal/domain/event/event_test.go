package event

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/agent-scheduler/internal/domain/model"
)

func TestAgentFailedWireFormat(t *testing.T) {
	at := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	evt := AgentFailed("agent-1", "job-1", at, "boom", true)

	b, err := json.Marshal(evt)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))

	assert.Equal(t, "AGENT_FAILED", m["type"])
	assert.Equal(t, "agent-1", m["agentId"])
	assert.Equal(t, "job-1", m["jobId"])
	assert.Equal(t, "boom", m["error"])
	assert.Equal(t, true, m["willRetry"])
	assert.Equal(t, "2024-01-01T12:00:00Z", m["timestamp"])
	assert.NotEmpty(t, m["id"])
	assert.NotContains(t, m, "duration")
	assert.NotContains(t, m, "stats")
}

func TestAgentCompletedCarriesDurationMillis(t *testing.T) {
	evt := AgentCompleted("a", "a", time.Now(), 1500*time.Millisecond)

	b, err := json.Marshal(evt)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	assert.EqualValues(t, 1500, m["duration"])
}

func TestProgressFieldsFlattened(t *testing.T) {
	evt := AgentProgress("a", "a", time.Now(), Progress{
		Percent:     40,
		Message:     "crunching",
		CurrentStep: 2,
		TotalSteps:  5,
	})

	b, err := json.Marshal(evt)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	assert.EqualValues(t, 40, m["progress"])
	assert.Equal(t, "crunching", m["message"])
	assert.EqualValues(t, 2, m["current_step"])
	assert.EqualValues(t, 5, m["total_steps"])
}

func TestSchedulerStatusCarriesStats(t *testing.T) {
	stats := model.SchedulerStats{
		IsRunning:           true,
		ScheduledTasksCount: 3,
		MaxConcurrentAgents: 5,
	}
	evt := SchedulerStatus(time.Now(), stats)

	assert.Empty(t, evt.AgentID)
	require.NotNil(t, evt.Stats)
	assert.Equal(t, 3, evt.Stats.ScheduledTasksCount)

	b, err := json.Marshal(evt)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Contains(t, m, "stats")
	assert.NotContains(t, m, "agentId")
}

func TestAgentTopicNaming(t *testing.T) {
	assert.Equal(t, "agent:abc", AgentTopic("abc"))
	assert.Equal(t, "scheduler", TopicScheduler)
}

func TestEventIDsAreUnique(t *testing.T) {
	a := AgentStarted("a", "a", time.Now())
	b := AgentStarted("a", "a", time.Now())
	assert.NotEqual(t, a.ID, b.ID)
}
