package notify

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"

	"github.com/engramlabs/engram/internal/service"
)

// EventWatcher consumes event files written by an EventWriter in
// another process and hands each event to a callback. Files are removed
// once consumed.
type EventWatcher struct {
	dir      string
	callback func(service.Event)
	watcher  *fsnotify.Watcher
	logger   *log.Logger
	done     chan struct{}
}

// NewEventWatcher creates a watcher over the given events directory.
// Wire the callback to a Hub's Publish to rebroadcast over WebSocket.
func NewEventWatcher(dir string, callback func(service.Event)) *EventWatcher {
	return &EventWatcher{
		dir:      dir,
		callback: callback,
		logger:   log.Default().With("component", "notify"),
		done:     make(chan struct{}),
	}
}

// Start drains any event files already present, then watches for new
// ones until Stop is called.
func (ew *EventWatcher) Start() error {
	if err := os.MkdirAll(ew.dir, 0o700); err != nil {
		return err
	}

	ew.drainExisting()

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(ew.dir); err != nil {
		_ = w.Close()
		return err
	}
	ew.watcher = w

	go ew.loop()
	ew.logger.Info("watching for events", "dir", ew.dir)
	return nil
}

// Stop shuts the watcher down and waits for the loop to exit.
func (ew *EventWatcher) Stop() {
	if ew.watcher == nil {
		return
	}
	_ = ew.watcher.Close()
	<-ew.done
}

func (ew *EventWatcher) loop() {
	defer close(ew.done)
	for {
		select {
		case evt, ok := <-ew.watcher.Events:
			if !ok {
				return
			}
			if evt.Op&fsnotify.Create != 0 && strings.HasSuffix(evt.Name, ".event") {
				ew.consumeFile(evt.Name)
			}
		case err, ok := <-ew.watcher.Errors:
			if !ok {
				return
			}
			ew.logger.Warn("watcher error", "err", err)
		}
	}
}

func (ew *EventWatcher) drainExisting() {
	entries, err := os.ReadDir(ew.dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".event") {
			ew.consumeFile(filepath.Join(ew.dir, entry.Name()))
		}
	}
}

func (ew *EventWatcher) consumeFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		// Another consumer got there first.
		return
	}
	_ = os.Remove(path)

	var event service.Event
	if err := json.Unmarshal(data, &event); err != nil {
		ew.logger.Warn("invalid event file", "file", filepath.Base(path), "err", err)
		return
	}
	if event.Type != "" && ew.callback != nil {
		ew.callback(event)
	}
}
