// Package transport wraps a WebSocket client connection behind a small
// interface: binary sends, inbound messages on a channel, and a single close
// event that is resolved exactly once.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	closeGrace     = time.Second
	maxMessageSize = 1 << 20

	// CloseNormal is the close code for an orderly shutdown
	CloseNormal = websocket.CloseNormalClosure
	// CloseAbnormal is reported when the socket drops without a close frame
	CloseAbnormal = websocket.CloseAbnormalClosure
)

// ErrNotOpen is returned when sending on a connection that is closing or closed
var ErrNotOpen = errors.New("transport is not open")

type MessageType int

const (
	TextMessage   MessageType = websocket.TextMessage
	BinaryMessage MessageType = websocket.BinaryMessage
)

func (t MessageType) String() string {
	if t == TextMessage {
		return "text"
	}
	return "binary"
}

// Message is one inbound payload. Its content is never interpreted.
type Message struct {
	Type MessageType
	Data []byte
}

type State int

const (
	StateOpen State = iota
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	}
	return "closed"
}

// CloseEvent records how a connection ended
type CloseEvent struct {
	Code   int
	Reason string
}

// Normal reports an orderly closure
func (e CloseEvent) Normal() bool {
	return e.Code == CloseNormal
}

// Conn is an open transport connection
type Conn interface {
	// Send writes data as one binary frame
	Send(data []byte) error
	// SendText writes data as one text frame
	SendText(data []byte) error
	// Messages is closed when the connection ends
	Messages() <-chan Message
	State() State
	// Closed is closed once the connection has fully ended
	Closed() <-chan struct{}
	// CloseEvent is valid after Closed fires
	CloseEvent() CloseEvent
	Close(code int, reason string) error
}

// Dialer opens connections. Dial must give up when ctx is done.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Conn, error)
}

// ParseEndpoint checks that endpoint is a ws:// or wss:// URL
func ParseEndpoint(endpoint string) (*url.URL, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint %q: %w", endpoint, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("invalid endpoint %q: scheme must be ws or wss", endpoint)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid endpoint %q: missing host", endpoint)
	}
	return u, nil
}

// WebSocketDialer dials with gorilla/websocket
type WebSocketDialer struct {
	Dialer *websocket.Dialer
	Header http.Header
}

// NewDialer returns a dialer using the default proxy settings
func NewDialer() *WebSocketDialer {
	return &WebSocketDialer{
		Dialer: &websocket.Dialer{
			Proxy:           http.ProxyFromEnvironment,
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

func (d *WebSocketDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	c, resp, err := dialer.DialContext(ctx, endpoint, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect to %s: %w (HTTP %s)", endpoint, err, resp.Status)
		}
		return nil, fmt.Errorf("failed to connect to %s: %w", endpoint, err)
	}

	return newConn(c), nil
}

type wsConn struct {
	conn     *websocket.Conn
	writeMu  sync.Mutex
	messages chan Message
	closed   chan struct{}

	mu       sync.Mutex
	state    State
	event    CloseEvent
	eventSet bool
}

func newConn(c *websocket.Conn) *wsConn {
	c.SetReadLimit(maxMessageSize)

	w := &wsConn{
		conn:     c,
		messages: make(chan Message, 64),
		closed:   make(chan struct{}),
	}
	go w.readLoop()
	return w
}

func (w *wsConn) readLoop() {
	defer close(w.messages)

	for {
		mt, data, err := w.conn.ReadMessage()
		if err != nil {
			w.finish(closeEventFrom(err))
			return
		}

		select {
		case w.messages <- Message{Type: MessageType(mt), Data: data}:
		case <-w.closed:
			return
		}
	}
}

func closeEventFrom(err error) CloseEvent {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return CloseEvent{Code: ce.Code, Reason: ce.Text}
	}
	return CloseEvent{Code: CloseAbnormal, Reason: err.Error()}
}

// finish moves the connection to closed exactly once. The first recorded
// close event wins.
func (w *wsConn) finish(ev CloseEvent) {
	w.mu.Lock()
	if w.state == StateClosed {
		w.mu.Unlock()
		return
	}
	w.state = StateClosed
	if !w.eventSet {
		w.event = ev
		w.eventSet = true
	}
	w.mu.Unlock()

	w.conn.Close()
	close(w.closed)
}

func (w *wsConn) Send(data []byte) error {
	return w.write(websocket.BinaryMessage, data)
}

func (w *wsConn) SendText(data []byte) error {
	return w.write(websocket.TextMessage, data)
}

func (w *wsConn) write(mt int, data []byte) error {
	if w.State() != StateOpen {
		return ErrNotOpen
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := w.conn.WriteMessage(mt, data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

func (w *wsConn) Messages() <-chan Message {
	return w.messages
}

func (w *wsConn) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *wsConn) Closed() <-chan struct{} {
	return w.closed
}

func (w *wsConn) CloseEvent() CloseEvent {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.event
}

// Close sends a close frame, waits briefly for the peer to answer, then
// drops the socket. Calling Close on a closing or closed connection waits
// for it to finish and returns nil.
func (w *wsConn) Close(code int, reason string) error {
	w.mu.Lock()
	if w.state != StateOpen {
		w.mu.Unlock()
		<-w.closed
		return nil
	}
	w.state = StateClosing
	w.event = CloseEvent{Code: code, Reason: reason}
	w.eventSet = true
	w.mu.Unlock()

	err := w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
	if errors.Is(err, websocket.ErrCloseSent) {
		err = nil
	}

	select {
	case <-w.closed:
	case <-time.After(closeGrace):
		w.finish(w.event)
	}
	return err
}
