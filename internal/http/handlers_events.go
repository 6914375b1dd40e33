package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	jmespath "github.com/jmespath-community/go-jmespath"

	"github.com/target/agent-scheduler/internal/domain/event"
)

// EventStream is the bus surface the SSE endpoint subscribes through.
type EventStream interface {
	Subscribe(topic string) (func(), <-chan event.Event)
}

// EventStreamHandlers serves the live event feed over Server-Sent Events.
type EventStreamHandlers struct {
	Bus    EventStream
	Logger *slog.Logger
	// Heartbeat is the keep-alive comment cadence. Zero uses the default.
	Heartbeat time.Duration
}

const defaultHeartbeat = 15 * time.Second

func (h *EventStreamHandlers) logger() *slog.Logger {
	if h != nil && h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// Stream handles GET /api/agents/schedule/events. Query params:
//
//	topic  - bus topic to follow (default "scheduler")
//	agent  - shorthand for the per-agent topic; overrides topic
//	filter - JMESPath expression evaluated against each event document;
//	         falsy results are skipped
func (h *EventStreamHandlers) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, ErrorParams{
			Code:    http.StatusInternalServerError,
			ErrCode: "streaming_unsupported",
			Err:     errors.New("response writer does not support streaming"),
		})
		return
	}

	topic := r.URL.Query().Get("topic")
	if topic == "" {
		topic = event.TopicScheduler
	}
	if agentID := r.URL.Query().Get("agent"); agentID != "" {
		topic = event.AgentTopic(agentID)
	}

	filter := r.URL.Query().Get("filter")
	if filter != "" {
		if _, err := jmespath.Compile(filter); err != nil {
			WriteError(w, ErrorParams{
				Code:    http.StatusBadRequest,
				ErrCode: "invalid_filter",
				Err:     fmt.Errorf("parse filter expression: %w", err),
			})
			return
		}
	}

	heartbeat := h.Heartbeat
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	// An initial comment commits the stream through buffering proxies.
	fmt.Fprintf(w, ": connected topic=%s\n\n", topic)
	flusher.Flush()

	unsub, ch := h.Bus.Subscribe(topic)
	defer unsub()

	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case evt, open := <-ch:
			if !open {
				return
			}
			if !h.writeEvent(w, topic, evt, filter) {
				return
			}
			flusher.Flush()
		}
	}
}

// writeEvent serializes one event as an SSE frame. Returns false when the
// connection is gone.
func (h *EventStreamHandlers) writeEvent(w http.ResponseWriter, topic string, evt event.Event, filter string) bool {
	payload, err := json.Marshal(evt)
	if err != nil {
		h.logger().Error("marshaling event for SSE failed",
			"event_type", string(evt.Type), "error", err)
		return true
	}

	if filter != "" {
		keep, err := matchesFilter(payload, topic, filter)
		if err != nil {
			h.logger().Warn("event filter evaluation failed",
				"filter", filter, "error", err)
			return true
		}
		if !keep {
			return true
		}
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, payload); err != nil {
		return false
	}
	return true
}

// matchesFilter evaluates the JMESPath filter against the event document.
// The topic is injected so expressions can select on it.
func matchesFilter(payload []byte, topic, filter string) (bool, error) {
	var doc map[string]any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return false, err
	}
	doc["topic"] = topic

	result, err := jmespath.Search(filter, doc)
	if err != nil {
		return false, err
	}
	return jmesTruthy(result), nil
}

// jmesTruthy mirrors JMESPath falsiness: null, false, empty string, empty
// slice, and empty map are all falsy.
func jmesTruthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case []any:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	default:
		return true
	}
}
