// Package live pushes filtered fleet rows to websocket clients whenever the
// view changes.
package live

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"schoolbus-tracker/internal/status"
)

// Renderer builds the payload a client with the given filter should see.
type Renderer func(search string, filter status.Display) any

type Metrics interface {
	SetClients(n int)
}

// Hub tracks connected clients and re-renders for each of them on Notify.
type Hub struct {
	render  Renderer
	metrics Metrics

	clients map[string]*Client

	register   chan *Client
	unregister chan *Client
	refresh    chan *Client
	changed    chan struct{}
	done       chan struct{}

	mu sync.RWMutex
}

func NewHub(render Renderer, m Metrics) *Hub {
	return &Hub{
		render:     render,
		metrics:    m,
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		refresh:    make(chan *Client, 16),
		changed:    make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
}

// Notify schedules a push to every client. Calls made while a push is
// already pending collapse into it.
func (h *Hub) Notify() {
	select {
	case h.changed <- struct{}{}:
	default:
	}
}

// NotifyEvery calls Notify on a fixed interval until ctx is done, so labels
// that change with time alone, like a bus going silent, reach clients
// without a new report.
func (h *Hub) NotifyEvery(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Notify()
		}
	}
}

// Run serves register, unregister and push requests until ctx is done, then
// closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for id, c := range h.clients {
				close(c.send)
				delete(h.clients, id)
			}
			h.mu.Unlock()
			h.setClients(0)
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.ID] = c
			n := len(h.clients)
			h.mu.Unlock()
			h.setClients(n)
			log.Printf("websocket client %s connected (%d total)", c.ID, n)
			h.push(c)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c.ID]; ok {
				delete(h.clients, c.ID)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.setClients(n)
			log.Printf("websocket client %s disconnected (%d remaining)", c.ID, n)

		case c := <-h.refresh:
			h.mu.RLock()
			_, ok := h.clients[c.ID]
			h.mu.RUnlock()
			if ok {
				h.push(c)
			}

		case <-h.changed:
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for _, c := range h.clients {
				clients = append(clients, c)
			}
			h.mu.RUnlock()
			for _, c := range clients {
				h.push(c)
			}
		}
	}
}

// push renders for c and queues the result. A client whose buffer is full is
// dropped.
func (h *Hub) push(c *Client) {
	search, filter := c.Filter()
	data, err := json.Marshal(h.render(search, filter))
	if err != nil {
		log.Printf("websocket marshal error: %v", err)
		return
	}
	select {
	case c.send <- data:
	default:
		h.mu.Lock()
		if _, ok := h.clients[c.ID]; ok {
			delete(h.clients, c.ID)
			close(c.send)
		}
		n := len(h.clients)
		h.mu.Unlock()
		h.setClients(n)
		log.Printf("websocket client %s buffer full, disconnecting", c.ID)
	}
}

// enqueue hands c to the run loop. It reports false once the hub has stopped.
func (h *Hub) enqueue(ch chan *Client, c *Client) bool {
	select {
	case ch <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) setClients(n int) {
	if h.metrics != nil {
		h.metrics.SetClients(n)
	}
}
