// ABOUTME: gorilla/websocket implementation of the hub Transport contract.
// ABOUTME: Serializes writes, supports a ping liveness probe, fires close/error once.

package transport

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// ErrClosed indicates a send or probe on a closed transport.
var ErrClosed = errors.New("transport is closed")

const controlWriteWait = 5 * time.Second

// WebSocket adapts a gorilla connection to the hub's Transport interface.
// gorilla permits one concurrent writer, so all writes go through writeMu.
type WebSocket struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	closed atomic.Bool

	// cbMu guards the callbacks, the fired flag, and closeErr. fired is set
	// by whichever of notify or Subscribe delivers the callbacks, so they
	// run at most once even when close races subscription.
	cbMu     sync.Mutex
	fired    bool
	closeErr error
	onClose  func()
	onError  func(err error)
}

// NewWebSocket wraps an upgraded connection.
func NewWebSocket(conn *websocket.Conn) *WebSocket {
	return &WebSocket{conn: conn}
}

// Open reports whether the transport still accepts sends.
func (t *WebSocket) Open() bool {
	return !t.closed.Load()
}

// Send writes one text message to the peer.
func (t *WebSocket) Send(data []byte) error {
	if t.closed.Load() {
		return ErrClosed
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// Ping sends a control-frame liveness probe.
func (t *WebSocket) Ping() error {
	if t.closed.Load() {
		return ErrClosed
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(controlWriteWait))
}

// Close sends a close frame, tears the connection down, and fires the close
// callback. Safe to call more than once.
func (t *WebSocket) Close() error {
	t.writeMu.Lock()
	// best effort; the peer may already be gone
	t.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(controlWriteWait))
	t.writeMu.Unlock()

	err := t.conn.Close()
	t.notify(nil)
	return err
}

// Subscribe registers the close and error callbacks. If the transport already
// closed, the matching callback fires immediately.
func (t *WebSocket) Subscribe(onClose func(), onError func(err error)) {
	t.cbMu.Lock()
	t.onClose = onClose
	t.onError = onError
	if !t.closed.Load() || t.fired {
		t.cbMu.Unlock()
		return
	}
	t.fired = true
	err := t.closeErr
	t.cbMu.Unlock()

	fireCallbacks(err, onClose, onError)
}

// OnPong registers a handler fired whenever the peer answers a ping.
// The handler runs on the read-loop goroutine.
func (t *WebSocket) OnPong(fn func()) {
	t.conn.SetPongHandler(func(string) error {
		fn()
		return nil
	})
}

// ReadMessage blocks for the next message from the peer. A read error closes
// the transport and fires the subscribed callbacks.
func (t *WebSocket) ReadMessage() ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	if err != nil {
		t.notify(err)
		return nil, err
	}
	return data, nil
}

// notify marks the transport closed and fires the callbacks exactly once.
// Without a subscriber yet, the close is remembered and delivered when
// Subscribe registers one.
func (t *WebSocket) notify(err error) {
	t.closed.Store(true)

	t.cbMu.Lock()
	if t.fired {
		t.cbMu.Unlock()
		return
	}
	onClose, onError := t.onClose, t.onError
	if onClose == nil && onError == nil {
		t.closeErr = err
		t.cbMu.Unlock()
		return
	}
	t.fired = true
	t.cbMu.Unlock()

	fireCallbacks(err, onClose, onError)
}

// fireCallbacks routes an unexpected error to onError and everything else,
// including clean peer closes, to onClose.
func fireCallbacks(err error, onClose func(), onError func(error)) {
	if err != nil && onError != nil &&
		!websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		onError(err)
		return
	}
	if onClose != nil {
		onClose()
	}
}
