package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 64 << 20 // inline datasets can be large
	sendBuffer     = 64
)

// Hub tracks connected command clients so they can be closed on shutdown.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*client]struct{})}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// CloseAll disconnects every client.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.conn.Close()
	}
}

// client is one WebSocket peer. Each request runs in its own goroutine;
// responses may arrive out of order and are matched by id.
type client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{} // closed when writePump exits
	d    *Dispatcher
	hub  *Hub
	log  *slog.Logger

	inflight sync.WaitGroup
}

func (d *Dispatcher) serveWS(hub *Hub, origins originPolicy) gin.HandlerFunc {
	upgrader := websocket.Upgrader{
		CheckOrigin:       origins.allows,
		EnableCompression: true,
	}
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			d.log.Warn("ws upgrade failed", "error", err)
			return
		}
		cl := &client{
			conn: conn,
			send: make(chan []byte, sendBuffer),
			done: make(chan struct{}),
			d:    d,
			hub:  hub,
			log:  d.log.With("remote", conn.RemoteAddr().String()),
		}
		hub.add(cl)
		d.metrics.WSClients.Inc()
		cl.log.Info("ws client connected")

		ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request.Context()))
		go cl.writePump()
		go cl.readPump(ctx, cancel)
	}
}

func (c *client) readPump(ctx context.Context, cancel context.CancelFunc) {
	defer func() {
		cancel()
		c.inflight.Wait()
		close(c.send)
		c.d.metrics.WSClients.Dec()
		c.hub.remove(c)
		c.conn.Close()
		c.log.Info("ws client disconnected")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("ws read error", "error", err)
			}
			return
		}
		c.inflight.Add(1)
		go func() {
			defer c.inflight.Done()
			c.reply(c.d.Dispatch(ctx, msg))
		}()
	}
}

func (c *client) reply(resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		c.log.Error("ws encode response", "id", resp.ID, "error", err)
		data, _ = json.Marshal(errorResponse(resp.ID, err))
	}
	select {
	case c.send <- data:
	case <-c.done:
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		close(c.done)
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
