// Package stream fans accepted board mutations out to connected
// viewers as server-sent events. There is no backlog and no replay: a
// reconnecting viewer re-fetches current state through the REST API.
package stream

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Event is the canonical envelope every viewer receives.
type Event struct {
	Type      string    `json:"type"`
	Entity    string    `json:"entity"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// Entities named in event envelopes.
const (
	EntityTask    = "task"
	EntityComment = "comment"
	EntityItem    = "action_item"
	EntityWork    = "work"
)

// Event types pushed by the board.
const (
	TypeTaskCreated    = "task_created"
	TypeTaskUpdated    = "task_updated"
	TypeTaskDeleted    = "task_deleted"
	TypeCommentAdded   = "comment_added"
	TypeCommentDeleted = "comment_deleted"
	TypeItemAdded      = "action_item_added"
	TypeItemResolved   = "action_item_resolved"
	TypeItemArchived   = "action_item_archived"
	TypeItemUnarchived = "action_item_unarchived"
	TypeItemDeleted    = "action_item_deleted"
	TypeWorkStarted    = "work_started"
	TypeWorkStopped    = "work_stopped"
)

type client struct {
	ch chan []byte
}

// Hub owns the set of connected viewer channels.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	logger  *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[*client]struct{}),
		logger:  logger,
	}
}

// Publish wraps the payload in the canonical envelope, marshals it
// once, and pushes it to every connected viewer, originator included.
// A viewer whose channel cannot accept the event is pruned and its
// channel closed; delivery to the others is unaffected.
func (h *Hub) Publish(eventType, entity string, payload any) {
	evt := Event{
		Type:      eventType,
		Entity:    entity,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
	data, err := json.Marshal(evt)
	if err != nil {
		h.logger.Error("marshal event", "type", eventType, "error", err)
		return
	}

	var dead []*client
	h.mu.RLock()
	for c := range h.clients {
		select {
		case c.ch <- data:
		default:
			dead = append(dead, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range dead {
		h.remove(c)
		h.logger.Debug("pruned viewer that stopped draining", "type", eventType)
	}
}

// Viewers returns the number of connected channels.
func (h *Hub) Viewers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) register() *client {
	c := &client{ch: make(chan []byte, 64)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

// remove is idempotent; the channel closes exactly once.
func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.ch)
	}
}

// ServeSSE streams events to one viewer until the request context ends
// or the viewer is pruned.
func (h *Hub) ServeSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	c := h.register()
	defer h.remove(c)

	fmt.Fprint(w, "data: {\"type\":\"connected\"}\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case data, open := <-c.ch:
			if !open {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}
