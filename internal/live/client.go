package live

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"schoolbus-tracker/internal/status"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
	sendBuffer     = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Client is one websocket connection and the list filter it is watching.
type Client struct {
	ID   string
	conn *websocket.Conn
	hub  *Hub
	send chan []byte

	mu     sync.Mutex
	search string
	filter status.Display
}

// incoming is a message from the browser. A "filter" message replaces the
// client's search and status filter.
type incoming struct {
	Type   string `json:"type"`
	Search string `json:"q"`
	Status string `json:"status"`
}

func (c *Client) Filter() (string, status.Display) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.search, c.filter
}

func (c *Client) setFilter(search string, filter status.Display) {
	c.mu.Lock()
	c.search, c.filter = search, filter
	c.mu.Unlock()
}

// Handler upgrades the request and registers a client. The initial filter
// comes from the q and status query parameters.
func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter, err := status.ParseFilter(r.URL.Query().Get("status"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("websocket upgrade failed: %v", err)
			return
		}
		c := &Client{
			ID:     uuid.NewString(),
			conn:   conn,
			hub:    h,
			send:   make(chan []byte, sendBuffer),
			search: r.URL.Query().Get("q"),
			filter: filter,
		}
		if !h.enqueue(h.register, c) {
			conn.Close()
			return
		}

		go c.writePump()
		go c.readPump()
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.enqueue(c.hub.unregister, c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("websocket read error: %v", err)
			}
			return
		}
		var msg incoming
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("websocket invalid message from %s: %v", c.ID, err)
			continue
		}
		if msg.Type != "filter" {
			continue
		}
		filter, err := status.ParseFilter(msg.Status)
		if err != nil {
			log.Printf("websocket client %s: %v", c.ID, err)
			continue
		}
		c.setFilter(msg.Search, filter)
		if !c.hub.enqueue(c.hub.refresh, c) {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
