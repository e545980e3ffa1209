package notify

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/engramlabs/engram/internal/service"
)

// EventWriter bridges service events across processes by dropping one
// JSON file per event into a shared directory. The stdio server and the
// decay runner write; the web server watches and rebroadcasts.
type EventWriter struct {
	dir    string
	logger *log.Logger
}

// NewEventWriter creates a writer emitting into the given directory.
func NewEventWriter(dir string) *EventWriter {
	return &EventWriter{
		dir:    dir,
		logger: log.Default().With("component", "notify"),
	}
}

// Publish writes the event as a file. Matches service.EventFunc;
// failures are logged, never surfaced, so the write path stays clean.
func (w *EventWriter) Publish(event service.Event) {
	if err := w.write(event); err != nil {
		w.logger.Warn("writing event file failed", "type", event.Type, "err", err)
	}
}

func (w *EventWriter) write(event service.Event) error {
	if err := os.MkdirAll(w.dir, 0o700); err != nil {
		return fmt.Errorf("mkdir %s: %w", w.dir, err)
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	filename := fmt.Sprintf("%d-%s.event", event.Time.UnixNano(), sanitizeID(event.MemoryID))
	return os.WriteFile(filepath.Join(w.dir, filename), data, 0o600)
}

// sanitizeID replaces characters unsafe for filenames.
func sanitizeID(id string) string {
	if id == "" {
		return "none"
	}
	out := make([]byte, len(id))
	for i := 0; i < len(id); i++ {
		switch id[i] {
		case '/', ':', '\\':
			out[i] = '_'
		default:
			out[i] = id[i]
		}
	}
	return string(out)
}
