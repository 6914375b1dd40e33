// Package redis provides Redis-backed adapters for the agent scheduler.
package redis

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/target/agent-scheduler/internal/domain/event"
)

// DefaultChannelPrefix is the pub/sub channel namespace for scheduler events.
const DefaultChannelPrefix = "agentsched:events:"

const publishTimeout = 5 * time.Second

// EventSink forwards bus events to Redis pub/sub so other processes can
// observe the scheduler. Delivery is best effort.
type EventSink struct {
	client redis.UniversalClient
	prefix string
	logger *slog.Logger
}

// EventSinkOptions configure an EventSink.
type EventSinkOptions struct {
	Client redis.UniversalClient
	// Prefix overrides the channel namespace. Empty uses the default.
	Prefix string
	Logger *slog.Logger
}

// NewEventSink creates a Redis event sink.
func NewEventSink(opts EventSinkOptions) *EventSink {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &EventSink{
		client: opts.Client,
		prefix: prefix,
		logger: logger.With("component", "redis_event_sink"),
	}
}

// OnEvent implements event.Sink. It runs on the bus's forwarding goroutine,
// so a slow Redis never stalls the scheduler.
func (s *EventSink) OnEvent(topic string, evt event.Event) {
	payload, err := json.Marshal(evt)
	if err != nil {
		s.logger.Error("encoding event for redis failed",
			"topic", topic, "event_type", string(evt.Type), "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := s.client.Publish(ctx, s.prefix+topic, payload).Err(); err != nil {
		s.logger.Warn("publishing event to redis failed",
			"topic", topic, "event_type", string(evt.Type), "error", err)
	}
}

// Channel returns the Redis channel name for a bus topic.
func (s *EventSink) Channel(topic string) string {
	return s.prefix + topic
}

var _ event.Sink = (*EventSink)(nil)
