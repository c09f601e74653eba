// Package network maintains the websocket channel to the executor.
package network

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"macroctl/internal/log"
	"macroctl/internal/protocol"
)

var (
	// ErrNotConnected is returned by Send while the channel is not open.
	ErrNotConnected = errors.New("not connected to executor")

	// ErrSendQueueFull is returned when the outgoing queue is saturated.
	ErrSendQueueFull = errors.New("send queue full")
)

// State of the executor channel.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Options configures a Manager. Zero durations take the defaults.
type Options struct {
	URL            string
	ReconnectDelay time.Duration
	SettleDelay    time.Duration
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	Header         http.Header
	Dialer         *websocket.Dialer
	Logger         *slog.Logger
}

const (
	defaultReconnectDelay = 3 * time.Second
	defaultSettleDelay    = 500 * time.Millisecond
	defaultWriteTimeout   = 10 * time.Second
	defaultPingInterval   = 30 * time.Second
	readLimit             = 4 << 20
	sendQueueSize         = 100
)

// session is one live socket. Messages from a session that is no longer
// current are dropped.
type session struct {
	id   uint64
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

// Manager owns the single live connection to the executor and reconnects
// after a fixed delay for as long as it runs.
type Manager struct {
	opts   Options
	logger *slog.Logger

	mu       sync.Mutex
	state    State
	current  *session
	sessions uint64
	handler  protocol.EventHandler
	onState  []func(State)

	done      chan struct{}
	closeOnce sync.Once
}

// NewManager creates a Manager. Call Start to begin connecting.
func NewManager(opts Options) *Manager {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = defaultSettleDelay
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.WithModule("network")
	}
	return &Manager{
		opts:   opts,
		logger: logger.With("url", opts.URL),
		done:   make(chan struct{}),
	}
}

// SetHandler sets the receiver of decoded executor events.
func (m *Manager) SetHandler(h protocol.EventHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
}

// OnStateChange registers fn to be called after every state transition.
func (m *Manager) OnStateChange(fn func(State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onState = append(m.onState, fn)
}

// State returns the current channel state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports whether commands can be sent.
func (m *Manager) IsConnected() bool {
	return m.State() == Connected
}

// Start begins the connect loop. It returns immediately. Cancelling ctx
// closes the live socket and stops reconnecting.
func (m *Manager) Start(ctx context.Context) {
	go m.loop(ctx)
}

// Close stops reconnecting and closes the live socket.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.done)
		m.mu.Lock()
		sess := m.current
		m.mu.Unlock()
		if sess != nil {
			sess.conn.Close()
		}
	})
}

func (m *Manager) loop(ctx context.Context) {
	for {
		m.connect(ctx)

		select {
		case <-ctx.Done():
			m.Close()
			return
		case <-m.done:
			return
		case <-time.After(m.opts.ReconnectDelay):
			m.logger.Debug("attempting reconnection")
		}
	}
}

func (m *Manager) connect(ctx context.Context) {
	m.setState(Connecting)
	m.logger.Info("connecting to executor")

	conn, _, err := m.opts.Dialer.DialContext(ctx, m.opts.URL, m.opts.Header)
	if err != nil {
		m.logger.Warn("connection failed", "error", err)
		m.setState(Disconnected)
		return
	}

	m.mu.Lock()
	select {
	case <-m.done:
		m.mu.Unlock()
		conn.Close()
		m.setState(Disconnected)
		return
	default:
	}
	m.sessions++
	sess := &session{
		id:   m.sessions,
		conn: conn,
		send: make(chan []byte, sendQueueSize),
		done: make(chan struct{}),
	}
	if old := m.current; old != nil {
		old.conn.Close()
	}
	m.current = sess
	m.mu.Unlock()

	m.logger.Info("connected to executor", "session", sess.id)
	m.setState(Connected)

	go m.settle(sess)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-sess.done:
		}
	}()

	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		m.writePump(sess)
	}()

	m.readPump(sess)

	close(sess.done)
	conn.Close()
	<-writeDone

	m.mu.Lock()
	stillCurrent := m.current == sess
	if stillCurrent {
		m.current = nil
	}
	m.mu.Unlock()

	if stillCurrent {
		m.logger.Info("disconnected from executor", "session", sess.id)
		m.setState(Disconnected)
	}
}

// settle pulls authoritative state once the channel has been open for
// the settle delay.
func (m *Manager) settle(sess *session) {
	select {
	case <-time.After(m.opts.SettleDelay):
	case <-sess.done:
		return
	}
	for _, cmd := range []protocol.Command{protocol.GetSteps{}, protocol.GetRandomTiming{}} {
		if err := m.sendOn(sess, cmd); err != nil {
			m.logger.Warn("initial sync failed", "type", cmd.Name(), "error", err)
			return
		}
	}
}

// Send queues cmd on the live socket. It never blocks and returns
// ErrNotConnected when no socket is open.
func (m *Manager) Send(cmd protocol.Command) error {
	m.mu.Lock()
	sess := m.current
	connected := m.state == Connected
	m.mu.Unlock()

	if sess == nil || !connected {
		return ErrNotConnected
	}
	return m.sendOn(sess, cmd)
}

func (m *Manager) sendOn(sess *session, cmd protocol.Command) error {
	data, err := protocol.Encode(cmd)
	if err != nil {
		return err
	}
	select {
	case <-sess.done:
		return ErrNotConnected
	default:
	}
	select {
	case sess.send <- data:
		return nil
	case <-sess.done:
		return ErrNotConnected
	default:
		return ErrSendQueueFull
	}
}

func (m *Manager) readPump(sess *session) {
	conn := sess.conn
	conn.SetReadLimit(readLimit)
	deadline := 2 * m.opts.PingInterval
	conn.SetReadDeadline(time.Now().Add(deadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(deadline))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				m.logger.Warn("read error", "error", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(deadline))

		ev, err := protocol.DecodeEvent(data)
		if err != nil {
			m.logger.Warn("dropping message", "error", err)
			continue
		}

		if !m.deliver(sess, ev) {
			return
		}
	}
}

// deliver hands ev to the handler if sess is still the live session. It
// reports false for a replaced session, whose reader must stop.
func (m *Manager) deliver(sess *session, ev protocol.Event) bool {
	m.mu.Lock()
	stale := m.current != sess
	h := m.handler
	m.mu.Unlock()
	if stale {
		m.logger.Debug("dropping message from stale session", "session", sess.id, "type", ev.Type())
		return false
	}
	if h != nil {
		protocol.Dispatch(ev, h)
	}
	return true
}

func (m *Manager) writePump(sess *session) {
	ticker := time.NewTicker(m.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-sess.send:
			sess.conn.SetWriteDeadline(time.Now().Add(m.opts.WriteTimeout))
			if err := sess.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				m.logger.Warn("write error", "error", err)
				sess.conn.Close()
				return
			}

		case <-ticker.C:
			sess.conn.SetWriteDeadline(time.Now().Add(m.opts.WriteTimeout))
			if err := sess.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				sess.conn.Close()
				return
			}

		case <-sess.done:
			return
		}
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	if m.state == s {
		m.mu.Unlock()
		return
	}
	m.state = s
	callbacks := make([]func(State), len(m.onState))
	copy(callbacks, m.onState)
	m.mu.Unlock()

	m.logger.Debug("state changed", "state", s)
	for _, fn := range callbacks {
		fn(s)
	}
}
