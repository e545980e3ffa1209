package notify

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engramlabs/engram/internal/service"
)

func TestEventWriterCreatesFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "events")
	w := NewEventWriter(dir)

	w.Publish(service.Event{
		Type:     service.EventMemoryCreated,
		MemoryID: "mem-abc123",
		Time:     time.Now().UTC(),
	})

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ".event", filepath.Ext(entries[0].Name()))
}

func TestEventWatcherReceivesEvent(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "events")
	received := make(chan service.Event, 1)

	watcher := NewEventWatcher(dir, func(e service.Event) { received <- e })
	require.NoError(t, watcher.Start())
	defer watcher.Stop()

	NewEventWriter(dir).Publish(service.Event{
		Type:     service.EventMemoryDeleted,
		MemoryID: "mem-xyz",
		Time:     time.Now().UTC(),
	})

	select {
	case event := <-received:
		assert.Equal(t, service.EventMemoryDeleted, event.Type)
		assert.Equal(t, "mem-xyz", event.MemoryID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for bridged event")
	}

	// Consumed files are removed.
	assert.Eventually(t, func() bool {
		entries, err := os.ReadDir(dir)
		return err == nil && len(entries) == 0
	}, 2*time.Second, 50*time.Millisecond)
}

func TestEventWatcherDrainsBacklog(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "events")
	writer := NewEventWriter(dir)
	writer.Publish(service.Event{Type: service.EventMemoryCreated, MemoryID: "mem-1", Time: time.Now().UTC()})
	writer.Publish(service.Event{Type: service.EventMemoryCreated, MemoryID: "mem-2", Time: time.Now().UTC().Add(time.Millisecond)})

	received := make(chan service.Event, 4)
	watcher := NewEventWatcher(dir, func(e service.Event) { received <- e })
	require.NoError(t, watcher.Start())
	defer watcher.Stop()

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case event := <-received:
			got[event.MemoryID] = true
		case <-time.After(2 * time.Second):
			t.Fatal("timed out draining backlog")
		}
	}
	assert.True(t, got["mem-1"])
	assert.True(t, got["mem-2"])
}
