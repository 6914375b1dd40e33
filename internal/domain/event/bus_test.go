package event

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTime() time.Time {
	return time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
}

func TestBusDeliversToTopicSubscribers(t *testing.T) {
	bus := NewBus(BusOptions{})
	defer bus.Close()

	unsub, ch := bus.Subscribe(AgentTopic("a"))
	defer unsub()

	bus.Publish(AgentTopic("a"), AgentStarted("a", "a", testTime()))

	select {
	case evt := <-ch:
		assert.Equal(t, TypeAgentStarted, evt.Type)
		assert.Equal(t, "a", evt.AgentID)
	case <-time.After(time.Second):
		t.Fatal("expected event on subscription channel")
	}
}

func TestBusTopicIsolation(t *testing.T) {
	bus := NewBus(BusOptions{})
	defer bus.Close()

	unsubA, chA := bus.Subscribe(AgentTopic("a"))
	defer unsubA()
	unsubB, chB := bus.Subscribe(AgentTopic("b"))
	defer unsubB()

	bus.Publish(AgentTopic("a"), AgentStarted("a", "a", testTime()))

	select {
	case <-chA:
	case <-time.After(time.Second):
		t.Fatal("subscriber for topic a should receive the event")
	}

	select {
	case evt := <-chB:
		t.Fatalf("subscriber for topic b received unexpected event %s", evt.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus(BusOptions{})
	defer bus.Close()

	unsub, ch := bus.Subscribe("scheduler")
	unsub()

	_, open := <-ch
	assert.False(t, open)

	// Double unsubscribe is safe.
	unsub()
}

func TestBusPublishNeverBlocks(t *testing.T) {
	bus := NewBus(BusOptions{Buffer: 2})
	defer bus.Close()

	unsub, ch := bus.Subscribe("scheduler")
	defer unsub()

	// Nobody reads; publishing more than the buffer must not block.
	for i := 0; i < 10; i++ {
		bus.Publish("scheduler", AgentStarted("a", "a", testTime().Add(time.Duration(i)*time.Second)))
	}

	// The two most recent events survive.
	first := <-ch
	second := <-ch
	assert.Equal(t, testTime().Add(8*time.Second), first.Timestamp)
	assert.Equal(t, testTime().Add(9*time.Second), second.Timestamp)
}

func TestBusAttachSink(t *testing.T) {
	bus := NewBus(BusOptions{})
	defer bus.Close()

	var mu sync.Mutex
	var got []Event
	done := make(chan struct{})

	unsub := bus.AttachSink("scheduler", SinkFunc(func(_ string, evt Event) {
		mu.Lock()
		got = append(got, evt)
		mu.Unlock()
		select {
		case done <- struct{}{}:
		default:
		}
	}))
	defer unsub()

	bus.Publish("scheduler", AgentCompleted("a", "a", testTime(), 50*time.Millisecond))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sink did not receive event")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	require.NotNil(t, got[0].DurationMS)
	assert.Equal(t, int64(50), *got[0].DurationMS)
}

func TestBusSinkPanicIsContained(t *testing.T) {
	bus := NewBus(BusOptions{})
	defer bus.Close()

	received := make(chan struct{}, 1)
	unsubPanic := bus.AttachSink("scheduler", SinkFunc(func(string, Event) {
		panic("sink exploded")
	}))
	defer unsubPanic()
	unsubOK := bus.AttachSink("scheduler", SinkFunc(func(string, Event) {
		select {
		case received <- struct{}{}:
		default:
		}
	}))
	defer unsubOK()

	bus.Publish("scheduler", AgentStarted("a", "a", testTime()))

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("healthy sink should still receive events")
	}
}

func TestBusCloseStopsDelivery(t *testing.T) {
	bus := NewBus(BusOptions{})

	_, ch := bus.Subscribe("scheduler")
	bus.Close()

	_, open := <-ch
	assert.False(t, open)

	// Publish and subscribe after close are safe no-ops.
	bus.Publish("scheduler", AgentStarted("a", "a", testTime()))
	_, late := bus.Subscribe("scheduler")
	_, open = <-late
	assert.False(t, open)
}
