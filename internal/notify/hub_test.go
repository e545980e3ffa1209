package notify

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramlabs/engram/internal/service"
)

// fakeSubscriber stands in for a live socket connection.
type fakeSubscriber struct {
	send chan []byte
}

func newFakeSubscriber(buffer int) *fakeSubscriber {
	return &fakeSubscriber{send: make(chan []byte, buffer)}
}

func (f *fakeSubscriber) sendChannel() chan []byte { return f.send }
func (f *fakeSubscriber) close()                   {}

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub()
	go hub.Run()
	t.Cleanup(hub.Stop)
	return hub
}

func subscribe(t *testing.T, hub *Hub, sub subscriber) {
	t.Helper()
	select {
	case hub.register <- sub:
	case <-time.After(time.Second):
		t.Fatal("timed out registering subscriber")
	}
}

func receive(t *testing.T, sub *fakeSubscriber) service.Event {
	t.Helper()
	select {
	case data := <-sub.send:
		var event service.Event
		require.NoError(t, json.Unmarshal(data, &event))
		return event
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return service.Event{}
	}
}

func TestHubBroadcastsToAllSubscribers(t *testing.T) {
	hub := startHub(t)
	first := newFakeSubscriber(4)
	second := newFakeSubscriber(4)
	subscribe(t, hub, first)
	subscribe(t, hub, second)

	hub.Publish(service.Event{Type: service.EventMemoryCreated, MemoryID: "mem-1", Time: time.Now().UTC()})

	for _, sub := range []*fakeSubscriber{first, second} {
		event := receive(t, sub)
		assert.Equal(t, service.EventMemoryCreated, event.Type)
		assert.Equal(t, "mem-1", event.MemoryID)
	}
}

func TestHubDropsSlowSubscriber(t *testing.T) {
	hub := startHub(t)
	slow := newFakeSubscriber(1)
	healthy := newFakeSubscriber(8)
	subscribe(t, hub, slow)
	subscribe(t, hub, healthy)

	// The first event fills the slow subscriber's buffer; the second
	// finds it full and evicts it.
	hub.Publish(service.Event{Type: service.EventMemoryCreated, MemoryID: "a"})
	hub.Publish(service.Event{Type: service.EventMemoryDeleted, MemoryID: "b"})

	assert.Equal(t, "a", receive(t, healthy).MemoryID)
	assert.Equal(t, "b", receive(t, healthy).MemoryID)

	// The slow subscriber's channel is closed after eviction.
	assert.Equal(t, "a", receive(t, slow).MemoryID)
	select {
	case _, open := <-slow.send:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("expected slow subscriber channel to be closed")
	}
}

func TestHubStopDisconnectsSubscribers(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	sub := newFakeSubscriber(1)
	subscribe(t, hub, sub)

	hub.Stop()

	select {
	case _, open := <-sub.send:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("expected subscriber channel to be closed on stop")
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	hub := NewHub() // not running: queue fills up
	for i := 0; i < 1000; i++ {
		hub.Publish(service.Event{Type: service.EventDecayApplied})
	}
}
