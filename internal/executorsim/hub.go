package executorsim

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"macroctl/internal/protocol"
)

const (
	readLimit    = 1 << 20
	pongWait     = 60 * time.Second
	pingPeriod   = pongWait * 9 / 10
	writeWait    = 10 * time.Second
	clientBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Local tool; any origin may connect.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// hub tracks connected clients and fans events out to them.
type hub struct {
	logger *slog.Logger

	clients   map[*client]bool
	clientsMu sync.Mutex

	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	shutdown   chan struct{}
	closeOnce  sync.Once

	// onCommand is called from a client's read pump for every decoded
	// command.
	onCommand func(c *client, cmd protocol.Command)
}

// client is one connected controller.
type client struct {
	hub  *hub
	conn *websocket.Conn
	send chan []byte
	addr string
}

func newHub(logger *slog.Logger) *hub {
	return &hub{
		logger:     logger,
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte),
		shutdown:   make(chan struct{}),
	}
}

func (h *hub) run() {
	for {
		select {
		case c := <-h.register:
			h.clientsMu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.clientsMu.Unlock()
			h.logger.Info("client connected", "addr", c.addr, "clients", n)

		case c := <-h.unregister:
			h.clientsMu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				h.logger.Info("client disconnected", "addr", c.addr, "clients", len(h.clients))
			}
			h.clientsMu.Unlock()

		case msg := <-h.broadcast:
			h.clientsMu.Lock()
			for c := range h.clients {
				h.deliverLocked(c, msg)
			}
			h.clientsMu.Unlock()

		case <-h.shutdown:
			h.clientsMu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.clientsMu.Unlock()
			return
		}
	}
}

// deliverLocked queues msg for c, dropping clients that cannot keep up.
func (h *hub) deliverLocked(c *client, msg []byte) {
	select {
	case c.send <- msg:
	default:
		h.logger.Warn("client too slow, dropping", "addr", c.addr)
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *hub) close() {
	h.closeOnce.Do(func() { close(h.shutdown) })
}

// publish sends ev to every client.
func (h *hub) publish(ev protocol.Event) {
	raw, err := protocol.EncodeEvent(ev)
	if err != nil {
		h.logger.Error("encode event", "type", ev.Type(), "error", err)
		return
	}
	select {
	case h.broadcast <- raw:
	case <-h.shutdown:
	}
}

// reply sends ev to one client.
func (h *hub) reply(c *client, ev protocol.Event) {
	raw, err := protocol.EncodeEvent(ev)
	if err != nil {
		h.logger.Error("encode event", "type", ev.Type(), "error", err)
		return
	}
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	if h.clients[c] {
		h.deliverLocked(c, raw)
	}
}

func (h *hub) count() int {
	h.clientsMu.Lock()
	defer h.clientsMu.Unlock()
	return len(h.clients)
}

func (h *hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", "error", err)
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, clientBuffer),
		addr: r.RemoteAddr,
	}
	select {
	case h.register <- c:
	case <-h.shutdown:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// readPump decodes commands until the connection fails.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.shutdown:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(readLimit)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("read error", "addr", c.addr, "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		cmd, err := protocol.DecodeCommand(data)
		if err != nil {
			c.hub.logger.Warn("dropping message", "addr", c.addr, "error", err)
			continue
		}
		if c.hub.onCommand != nil {
			c.hub.onCommand(c, cmd)
		}
	}
}

// writePump drains the send queue and keeps the connection alive.
func (c *client) writePump() {
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
