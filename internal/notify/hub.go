// Package notify broadcasts memory lifecycle events to WebSocket
// subscribers. The hub is fed through the service's event callback and
// never blocks the write path: slow subscribers are dropped.
package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"nhooyr.io/websocket"

	"github.com/engramlabs/engram/internal/service"
)

// subscriber is the hub's view of a connected client. An interface so
// tests can subscribe without a real socket.
type subscriber interface {
	sendChannel() chan []byte
	close()
}

// Hub fans service events out to connected WebSocket clients.
type Hub struct {
	subscribers map[subscriber]bool
	events      chan service.Event
	register    chan subscriber
	unregister  chan subscriber
	logger      *log.Logger
	mu          sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
}

// NewHub creates a hub. Call Run in a goroutine to start delivery, and
// wire Publish into the service via service.WithNotifier.
func NewHub() *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		subscribers: make(map[subscriber]bool),
		events:      make(chan service.Event, 256),
		register:    make(chan subscriber),
		unregister:  make(chan subscriber),
		logger:      log.Default().With("component", "notify"),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Publish enqueues an event for broadcast. Never blocks; when the queue
// is full the event is dropped.
func (h *Hub) Publish(event service.Event) {
	select {
	case h.events <- event:
	default:
		h.logger.Warn("event queue full, dropping event", "type", event.Type)
	}
}

// Run delivers events until Stop is called.
func (h *Hub) Run() {
	for {
		select {
		case sub := <-h.register:
			h.mu.Lock()
			h.subscribers[sub] = true
			count := len(h.subscribers)
			h.mu.Unlock()
			h.logger.Info("subscriber connected", "total", count)

		case sub := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.subscribers[sub]; ok {
				delete(h.subscribers, sub)
				close(sub.sendChannel())
			}
			count := len(h.subscribers)
			h.mu.Unlock()
			h.logger.Info("subscriber disconnected", "total", count)

		case event := <-h.events:
			data, err := json.Marshal(event)
			if err != nil {
				h.logger.Error("marshaling event failed", "err", err)
				continue
			}
			h.mu.Lock()
			for sub := range h.subscribers {
				select {
				case sub.sendChannel() <- data:
				default:
					// Slow consumer; cut it loose rather than stall.
					close(sub.sendChannel())
					delete(h.subscribers, sub)
				}
			}
			h.mu.Unlock()

		case <-h.ctx.Done():
			return
		}
	}
}

// Stop shuts the hub down and disconnects all subscribers.
func (h *Hub) Stop() {
	h.cancel()
	h.mu.Lock()
	for sub := range h.subscribers {
		close(sub.sendChannel())
		sub.close()
	}
	h.subscribers = make(map[subscriber]bool)
	h.mu.Unlock()
}

// client is a live WebSocket subscriber.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

func (c *client) sendChannel() chan []byte { return c.send }

func (c *client) close() {
	_ = c.conn.Close(websocket.StatusNormalClosure, "")
}

// ServeHTTP upgrades the request and subscribes the connection to the
// event stream.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "err", err)
		return
	}

	c := &client{hub: h, conn: conn, send: make(chan []byte, 64)}
	select {
	case h.register <- c:
	case <-h.ctx.Done():
		_ = conn.Close(websocket.StatusGoingAway, "shutting down")
		return
	}

	go c.writePump()
	go c.readPump()
}

// detach unsubscribes without blocking when the hub already stopped.
func (c *client) detach() {
	select {
	case c.hub.unregister <- c:
	case <-c.hub.ctx.Done():
	}
	_ = c.conn.Close(websocket.StatusNormalClosure, "")
}

// writePump pushes queued events to the socket until the send channel
// closes or a write fails.
func (c *client) writePump() {
	defer c.detach()

	for message := range c.send {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := c.conn.Write(ctx, websocket.MessageText, message)
		cancel()
		if err != nil {
			return
		}
	}
}

// readPump drains inbound frames so closes are noticed promptly.
func (c *client) readPump() {
	defer c.detach()

	for {
		if _, _, err := c.conn.Read(context.Background()); err != nil {
			return
		}
	}
}
