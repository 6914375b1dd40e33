package webhook

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/agent-scheduler/internal/domain/event"
	"github.com/target/agent-scheduler/internal/testutil"
)

type captureServer struct {
	*httptest.Server
	mu     sync.Mutex
	bodies [][]byte
	status int
}

func newCaptureServer() *captureServer {
	cs := &captureServer{status: http.StatusOK}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		cs.mu.Lock()
		cs.bodies = append(cs.bodies, body)
		status := cs.status
		cs.mu.Unlock()
		w.WriteHeader(status)
	}))
	return cs
}

func (cs *captureServer) received() [][]byte {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	out := make([][]byte, len(cs.bodies))
	copy(out, cs.bodies)
	return out
}

func TestNewSinkValidation(t *testing.T) {
	if _, err := NewSink(Config{}, nil); err == nil {
		t.Fatal("expected error for missing url")
	}
	if _, err := NewSink(Config{URL: "ftp://example.com"}, nil); err == nil {
		t.Fatal("expected error for bad scheme")
	}
	if _, err := NewSink(Config{URL: "https://example.com", Filter: "][invalid"}, nil); err == nil {
		t.Fatal("expected error for bad filter expression")
	}
	if _, err := NewSink(Config{URL: "https://example.com", Body: "][invalid"}, nil); err == nil {
		t.Fatal("expected error for bad body expression")
	}
}

func TestOnEventPostsEnvelope(t *testing.T) {
	srv := newCaptureServer()
	defer srv.Close()

	sink, err := NewSink(Config{URL: srv.URL}, nil)
	require.NoError(t, err)

	evt := event.AgentCompleted("agent-1", "agent-1", testutil.TestTime(), 0)
	sink.OnEvent(event.TopicScheduler, evt)

	bodies := srv.received()
	require.Len(t, bodies, 1)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(bodies[0], &doc))
	assert.Equal(t, string(event.TypeAgentCompleted), doc["type"])
	assert.Equal(t, "agent-1", doc["agentId"])
	assert.Equal(t, event.TopicScheduler, doc["topic"])
}

func TestFilterSkipsNonMatchingEvents(t *testing.T) {
	srv := newCaptureServer()
	defer srv.Close()

	sink, err := NewSink(Config{
		URL:    srv.URL,
		Filter: "type == 'AGENT_FAILED'",
	}, nil)
	require.NoError(t, err)

	sink.OnEvent(event.TopicScheduler, event.AgentCompleted("a", "a", testutil.TestTime(), 0))
	sink.OnEvent(event.TopicScheduler, event.AgentFailed("a", "a", testutil.TestTime(), "boom", false))

	bodies := srv.received()
	require.Len(t, bodies, 1)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(bodies[0], &doc))
	assert.Equal(t, string(event.TypeAgentFailed), doc["type"])
}

func TestBodyTransformShapesPayload(t *testing.T) {
	srv := newCaptureServer()
	defer srv.Close()

	sink, err := NewSink(Config{
		URL:  srv.URL,
		Body: "{agent: agentId, what: type}",
	}, nil)
	require.NoError(t, err)

	sink.OnEvent(event.TopicScheduler, event.AgentStarted("agent-9", "agent-9", testutil.TestTime()))

	bodies := srv.received()
	require.Len(t, bodies, 1)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(bodies[0], &doc))
	assert.Equal(t, "agent-9", doc["agent"])
	assert.Equal(t, string(event.TypeAgentStarted), doc["what"])
	assert.NotContains(t, doc, "timestamp")
}

func TestDeliveryRetriesOnServerError(t *testing.T) {
	srv := newCaptureServer()
	defer srv.Close()
	srv.status = http.StatusInternalServerError

	sink, err := NewSink(Config{URL: srv.URL, RetryLimit: 2}, nil)
	require.NoError(t, err)

	sink.OnEvent(event.TopicScheduler, event.AgentStarted("a", "a", testutil.TestTime()))

	// Initial attempt plus two retries.
	assert.Len(t, srv.received(), 3)
}
