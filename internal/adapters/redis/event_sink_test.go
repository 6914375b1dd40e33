package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/agent-scheduler/internal/domain/event"
	"github.com/target/agent-scheduler/internal/testutil"
)

func TestChannelNaming(t *testing.T) {
	sink := NewEventSink(EventSinkOptions{})
	assert.Equal(t, "agentsched:events:scheduler", sink.Channel(event.TopicScheduler))

	custom := NewEventSink(EventSinkOptions{Prefix: "custom:"})
	assert.Equal(t, "custom:agent:a", custom.Channel(event.AgentTopic("a")))
}

func TestOnEventPublishesToRedis(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	sink := NewEventSink(EventSinkOptions{Client: client})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub := client.Subscribe(ctx, sink.Channel(event.TopicScheduler))
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	evt := event.AgentStarted("agent-1", "agent-1", testutil.TestTime())
	sink.OnEvent(event.TopicScheduler, evt)

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)

	var got event.Event
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &got))
	assert.Equal(t, event.TypeAgentStarted, got.Type)
	assert.Equal(t, "agent-1", got.AgentID)
	assert.Equal(t, evt.ID, got.ID)
}
