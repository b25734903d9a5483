// Package transport owns the duplex socket to the conversation relay: the
// connection state machine, bounded reconnection with growing delay, and the
// JSON message framing. Everything above it observes the connection only
// through the callbacks registered at Connect.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/amora-labs/amora/client/internal/model/chat"
)

var (
	ErrReconnectFailed = errors.New("reconnect attempts exhausted")
	ErrURLRequired     = errors.New("transport url is required")
)

// EventReceiveMessage is the inbound event carrying conversation payloads.
const EventReceiveMessage = "receive_message"

// Options tunes a Manager. Zero values fall back to the defaults below.
type Options struct {
	URL               string
	DialTimeout       time.Duration
	PingInterval      time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	MaxRetries        int
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
}

// DefaultOptions returns the settings used for unset Options fields.
func DefaultOptions() Options {
	return Options{
		DialTimeout:       10 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		MaxRetries:        5,
		ReconnectDelay:    time.Second,
		MaxReconnectDelay: 30 * time.Second,
	}
}

// Callbacks observe the connection. All of them may be nil. They are invoked
// from the manager's goroutines without any lock held.
type Callbacks struct {
	OnMessage func(chat.InboundPayload)
	OnStatus  func(connected bool)
	OnError   func(err error)
}

type outgoingFrame struct {
	Event     string `json:"event"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

type inboundFrame struct {
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// Manager owns at most one live websocket connection.
type Manager struct {
	opts Options

	// writeMu serializes writes to the active connection; gorilla/websocket
	// allows only one concurrent writer per conn.
	writeMu sync.Mutex

	mu        sync.Mutex
	state     State
	conn      *websocket.Conn
	cb        Callbacks
	cancel    context.CancelFunc
	gen       int // connection generation; stale loops compare and bail
	listeners map[int]func(State)
	nextSub   int
	closed    bool

	// notifyCh serializes state-change callbacks so observers see
	// transitions in the order they happened.
	notifyCh chan stateChange
}

type stateChange struct {
	prev, next State
}

// NewManager builds a Manager for the given options. No connection is opened
// until Connect.
func NewManager(opts Options) *Manager {
	defaults := DefaultOptions()
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = defaults.DialTimeout
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaults.PingInterval
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = defaults.ReadTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaults.WriteTimeout
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaults.MaxRetries
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaults.ReconnectDelay
	}
	if opts.MaxReconnectDelay <= 0 {
		opts.MaxReconnectDelay = defaults.MaxReconnectDelay
	}
	m := &Manager{
		opts:      opts,
		state:     StateDisconnected,
		listeners: make(map[int]func(State)),
		notifyCh:  make(chan stateChange, 32),
	}
	go m.notifyLoop()
	return m
}

// State reports the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe registers a state-change listener and returns its unsubscribe
// function, making teardown explicit for auxiliary observers (status
// indicators and the like).
func (m *Manager) Subscribe(listener func(State)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.listeners[id] = listener
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

// Connect opens the connection and registers the callbacks. Idempotent when
// already connected or connecting. A dial failure lands in StateFailed and
// is both reported through OnError and returned.
func (m *Manager) Connect(ctx context.Context, cb Callbacks) error {
	if m.opts.URL == "" {
		return ErrURLRequired
	}

	m.mu.Lock()
	if m.state == StateConnected || m.state == StateConnecting {
		m.mu.Unlock()
		log.Printf("[transport] connect ignored, already %s", m.state)
		return nil
	}
	m.cb = cb
	m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	conn, err := m.dial(ctx)
	if err != nil {
		m.mu.Lock()
		m.setStateLocked(StateFailed)
		cb = m.cb
		m.mu.Unlock()
		m.report(cb, fmt.Errorf("transport connect: %w", err))
		return err
	}

	m.adopt(conn)
	return nil
}

// Reconnect forces a fresh connection attempt without losing the registered
// callbacks.
func (m *Manager) Reconnect() {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.gen++
	m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	conn, err := m.dial(context.Background())
	if err != nil {
		m.mu.Lock()
		m.setStateLocked(StateFailed)
		cb := m.cb
		m.mu.Unlock()
		m.report(cb, fmt.Errorf("transport reconnect: %w", err))
		return
	}
	m.adopt(conn)
}

// Send frames and enqueues a message. When the manager is not connected the
// call is a logged no-op: transport failures surface via OnError, never as
// return values from Send.
func (m *Manager) Send(event string, payload any) {
	m.mu.Lock()
	if m.state != StateConnected || m.conn == nil {
		m.mu.Unlock()
		log.Printf("[transport] dropping %s frame, connection is %s", event, m.state)
		return
	}
	conn := m.conn
	cb := m.cb
	m.mu.Unlock()

	frame := outgoingFrame{Event: event, Data: payload, Timestamp: time.Now().Unix()}
	m.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(m.opts.WriteTimeout))
	err := conn.WriteJSON(frame)
	m.writeMu.Unlock()
	if err != nil {
		log.Printf("[transport] write %s failed: %v", event, err)
		m.report(cb, fmt.Errorf("transport send %s: %w", event, err))
	}
}

// Disconnect tears the connection down and always leaves the manager in
// StateDisconnected.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.conn != nil {
		m.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		m.conn.Close()
		m.conn = nil
	}
	m.gen++
	m.setStateLocked(StateDisconnected)
	m.mu.Unlock()
}

// Close disconnects and stops the notification dispatcher goroutine. The
// manager must not be reused afterwards. Safe to call more than once.
func (m *Manager) Close() {
	m.Disconnect()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	close(m.notifyCh)
}

func (m *Manager) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := &websocket.Dialer{HandshakeTimeout: m.opts.DialTimeout}
	conn, _, err := dialer.DialContext(ctx, m.opts.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial %s: %w", m.opts.URL, err)
	}
	return conn, nil
}

// adopt installs a freshly dialed connection and starts its loops.
func (m *Manager) adopt(conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(context.Background())

	conn.SetReadDeadline(time.Now().Add(m.opts.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(m.opts.ReadTimeout))
		return nil
	})

	m.mu.Lock()
	m.conn = conn
	m.cancel = cancel
	m.gen++
	gen := m.gen
	m.setStateLocked(StateConnected)
	m.mu.Unlock()

	go m.readLoop(ctx, conn, gen)
	go m.pingLoop(ctx, conn)
}

func (m *Manager) readLoop(ctx context.Context, conn *websocket.Conn, gen int) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return // intentional teardown
			}
			m.handleDrop(gen, err)
			return
		}
		conn.SetReadDeadline(time.Now().Add(m.opts.ReadTimeout))
		m.dispatch(raw)
	}
}

// dispatch decodes one inbound frame. Malformed frames degrade to a plain
// payload carrying the raw text instead of being dropped.
func (m *Manager) dispatch(raw []byte) {
	m.mu.Lock()
	cb := m.cb
	m.mu.Unlock()
	if cb.OnMessage == nil {
		return
	}

	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		log.Printf("[transport] malformed frame, passing through raw text: %v", err)
		cb.OnMessage(chat.PlainPayload{Message: string(raw)})
		return
	}
	switch frame.Event {
	case EventReceiveMessage:
		cb.OnMessage(chat.DecodeInbound(frame.Data))
	default:
		log.Printf("[transport] ignoring %s frame", frame.Event)
	}
}

// handleDrop runs the bounded reconnection loop after a transport-level
// drop. Delay grows linearly per attempt and is capped; exhausting the
// attempt budget transitions to StateFailed with a terminal error.
func (m *Manager) handleDrop(gen int, cause error) {
	m.mu.Lock()
	if gen != m.gen || m.state != StateConnected {
		m.mu.Unlock()
		return // a newer connection or an explicit teardown won the race
	}
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.setStateLocked(StateReconnecting)
	cb := m.cb
	m.mu.Unlock()

	log.Printf("[transport] connection dropped: %v", cause)

	for attempt := 1; attempt <= m.opts.MaxRetries; attempt++ {
		delay := time.Duration(attempt) * m.opts.ReconnectDelay
		if delay > m.opts.MaxReconnectDelay {
			delay = m.opts.MaxReconnectDelay
		}
		time.Sleep(delay)

		m.mu.Lock()
		if m.state != StateReconnecting {
			m.mu.Unlock()
			return // Disconnect or Reconnect intervened
		}
		m.mu.Unlock()

		conn, err := m.dial(context.Background())
		if err != nil {
			log.Printf("[transport] reconnect attempt %d/%d failed: %v", attempt, m.opts.MaxRetries, err)
			continue
		}
		log.Printf("[transport] reconnected on attempt %d", attempt)
		m.adopt(conn)
		return
	}

	m.mu.Lock()
	m.setStateLocked(StateFailed)
	m.mu.Unlock()
	m.report(cb, fmt.Errorf("%w after %d attempts: %v", ErrReconnectFailed, m.opts.MaxRetries, cause))
}

func (m *Manager) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(m.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(m.opts.WriteTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			m.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// setStateLocked applies a state transition. Any transition to or from
// StateConnected fires OnStatus, delivered in order by notifyLoop. Caller
// holds m.mu.
func (m *Manager) setStateLocked(next State) {
	prev := m.state
	if prev == next {
		return
	}
	m.state = next
	if m.closed {
		return
	}
	select {
	case m.notifyCh <- stateChange{prev: prev, next: next}:
	default:
		// Observer backlog; drop rather than block the state machine.
		log.Printf("[transport] status notification dropped (%s -> %s)", prev, next)
	}
}

func (m *Manager) notifyLoop() {
	for change := range m.notifyCh {
		m.mu.Lock()
		cb := m.cb
		listeners := make([]func(State), 0, len(m.listeners))
		for _, l := range m.listeners {
			listeners = append(listeners, l)
		}
		m.mu.Unlock()

		if cb.OnStatus != nil {
			if change.next == StateConnected {
				cb.OnStatus(true)
			} else if change.prev == StateConnected {
				cb.OnStatus(false)
			}
		}
		for _, l := range listeners {
			l(change.next)
		}
	}
}

func (m *Manager) report(cb Callbacks, err error) {
	if cb.OnError != nil {
		cb.OnError(err)
	}
}
