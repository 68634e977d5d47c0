package logviewer

import (
	"errors"
	"sync"

	"github.com/hazyhaar/monlight/idgen"
	"github.com/hazyhaar/monlight/logviewer/internal/store"
)

// ErrHubFull is returned when the concurrent tail client cap is reached.
var ErrHubFull = errors.New("tail hub full")

// TailFilter narrows which entries a tail client receives.
type TailFilter struct {
	Container string
	Level     string
}

func (f TailFilter) matches(e *store.Entry) bool {
	if f.Container != "" && e.Container != f.Container {
		return false
	}
	if f.Level != "" && e.Level != f.Level {
		return false
	}
	return true
}

// TailClient is one live SSE subscriber. Entries arrives on a bounded
// channel; overflow drops events for this client only.
type TailClient struct {
	ID      string
	Filter  TailFilter
	Entries chan *store.Entry
}

// TailHub fans committed log entries out to SSE clients. Publish never
// blocks: it is called from the ingest path, and a stalled client loses
// events rather than stalling the poller.
type TailHub struct {
	mu         sync.Mutex
	clients    map[string]*TailClient
	maxClients int
	buffer     int
	newID      idgen.Generator
}

// NewTailHub creates a hub admitting at most maxClients subscribers, each
// with a buffer-deep outbound queue.
func NewTailHub(maxClients, buffer int) *TailHub {
	if maxClients <= 0 {
		maxClients = 5
	}
	if buffer <= 0 {
		buffer = 100
	}
	return &TailHub{
		clients:    make(map[string]*TailClient),
		maxClients: maxClients,
		buffer:     buffer,
		newID:      idgen.UUIDv7(),
	}
}

// Subscribe registers a new client, or ErrHubFull at capacity.
func (h *TailHub) Subscribe(f TailFilter) (*TailClient, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.clients) >= h.maxClients {
		return nil, ErrHubFull
	}
	c := &TailClient{
		ID:      h.newID(),
		Filter:  f,
		Entries: make(chan *store.Entry, h.buffer),
	}
	h.clients[c.ID] = c
	return c, nil
}

// Unsubscribe removes a client. Safe to call twice.
func (h *TailHub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, id)
}

// Publish offers entries to every matching client without blocking.
func (h *TailHub) Publish(entries []*store.Entry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, e := range entries {
		for _, c := range h.clients {
			if !c.Filter.matches(e) {
				continue
			}
			select {
			case c.Entries <- e:
			default:
				// Client queue full: drop for this client, keep going.
			}
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *TailHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
