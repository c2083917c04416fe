package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/omnibrain/omnibrain/internal/events"
)

const (
	feedWriteWait  = 10 * time.Second
	feedPingPeriod = 30 * time.Second
	feedSendBuffer = 32
)

var feedUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The daemon binds to localhost by default; the dashboard is the
	// same origin, so cross-origin checks add nothing here.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// feedHub fans bus events out to connected WebSocket clients. Slow
// clients are dropped rather than allowed to stall the broadcast.
type feedHub struct {
	bus    *events.Bus
	logger *slog.Logger

	mu      sync.Mutex
	clients map[*feedClient]struct{}
}

type feedClient struct {
	conn *websocket.Conn
	send chan events.Event
	// pong requests from the read loop; only the write loop touches
	// the connection's write side.
	pong chan struct{}
}

func newFeedHub(bus *events.Bus, logger *slog.Logger) *feedHub {
	return &feedHub{
		bus:     bus,
		logger:  logger,
		clients: make(map[*feedClient]struct{}),
	}
}

// run broadcasts every bus event until ctx is cancelled.
func (h *feedHub) run(ctx context.Context) {
	all := h.bus.Subscribe(events.TopicAll, 64)
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case ev, ok := <-all:
			if !ok {
				h.closeAll()
				return
			}
			h.broadcast(ev)
		}
	}
}

func (h *feedHub) broadcast(ev events.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			delete(h.clients, c)
			close(c.send)
		}
	}
}

func (h *feedHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

func (h *feedHub) remove(c *feedClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// handleWS upgrades the connection and streams bus events as JSON
// text frames. "ping" text frames are answered with "pong".
func (h *feedHub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := feedUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("feed upgrade failed", "error", err)
		return
	}
	client := &feedClient{
		conn: conn,
		send: make(chan events.Event, feedSendBuffer),
		pong: make(chan struct{}, 1),
	}
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(client)
	h.readLoop(client)
}

// readLoop answers keep-alive pings and detects the client going away.
func (h *feedHub) readLoop(c *feedClient) {
	defer func() {
		h.remove(c)
		c.conn.Close()
	}()
	for {
		msgType, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType == websocket.TextMessage && string(msg) == "ping" {
			select {
			case c.pong <- struct{}{}:
			default:
			}
		}
	}
}

func (h *feedHub) writeLoop(c *feedClient) {
	ticker := time.NewTicker(feedPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case ev, ok := <-c.send:
			if !ok {
				c.conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := c.conn.WriteJSON(feedFrame(ev)); err != nil {
				return
			}
		case <-c.pong:
			c.conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, []byte("pong")); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// feedFrame is the wire shape: a type field plus the event payload.
func feedFrame(ev events.Event) map[string]any {
	frame := map[string]any{
		"type":   ev.Topic,
		"source": ev.Source,
		"ts":     ev.Timestamp.UTC().Format(time.RFC3339),
	}
	for k, v := range ev.Data {
		frame[k] = v
	}
	return frame
}
