package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/your-org/eventfaces/internal/faceindex"
	"github.com/your-org/eventfaces/internal/models"
	"github.com/your-org/eventfaces/internal/observability"
	"github.com/your-org/eventfaces/pkg/dto"
)

const (
	writeWait  = 10 * time.Second
	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS is open on the whole API
	},
}

// Client is one connected WebSocket subscriber.
type Client struct {
	conn    *websocket.Conn
	send    chan []byte
	eventID string // empty means every event
}

type message struct {
	eventID string
	data    []byte
}

// Hub fans index changes out to WebSocket clients. All client bookkeeping
// happens on the Run goroutine.
type Hub struct {
	clients    map[*Client]struct{}
	broadcast  chan message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run serves the hub until ctx is cancelled. Call it in a goroutine.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			close(h.done)
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			observability.WSConnections.Inc()
			slog.Debug("ws client connected", "event_id", c.eventID)

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
				slog.Debug("ws client disconnected", "event_id", c.eventID)
			}

		case msg := <-h.broadcast:
			for c := range h.clients {
				if c.eventID != "" && c.eventID != msg.eventID {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					slog.Warn("ws client too slow, disconnecting", "event_id", c.eventID)
					h.drop(c)
				}
			}
		}
	}
}

func (h *Hub) drop(c *Client) {
	delete(h.clients, c)
	close(c.send)
	observability.WSConnections.Dec()
}

// PublishChange queues change for every interested client. It lets the hub
// act as the index notifier when no message bus is configured.
func (h *Hub) PublishChange(ctx context.Context, change models.IndexChange) error {
	data, err := json.Marshal(dto.WSEvent{Type: change.Type, EventID: change.EventID, Data: change})
	if err != nil {
		return fmt.Errorf("marshal ws event: %w", err)
	}

	select {
	case h.broadcast <- message{eventID: change.EventID, data: data}:
		return nil
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandleWS upgrades the request. The optional event_id query parameter limits
// the feed to one event.
func (h *Hub) HandleWS(c *gin.Context) {
	eventID := c.Query("event_id")
	if eventID != "" {
		if err := faceindex.ValidateEventID(eventID); err != nil {
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error(), Code: "invalid_event_id"})
			return
		}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "error", err)
		return
	}

	client := &Client{conn: conn, send: make(chan []byte, sendBuffer), eventID: eventID}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump(h)
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
}

// readPump only exists to notice the client going away.
func (c *Client) readPump(h *Hub) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
