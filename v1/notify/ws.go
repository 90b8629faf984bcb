package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mirkobrombin/go-tasklock/v1/auth"
	tlerrors "github.com/mirkobrombin/go-tasklock/v1/errors"
)

const (
	writeWait         = 10 * time.Second
	maxMessageSize    = 4096
	defaultSendBuffer = 64
)

// wsConn adapts a gorilla websocket to Conn. Data frames are written by a
// single pump goroutine draining send; probes go through WriteControl,
// which gorilla allows concurrently with the pump.
type wsConn struct {
	ws        *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newWSConn(ws *websocket.Conn, buffer int) *wsConn {
	if buffer <= 0 {
		buffer = defaultSendBuffer
	}
	return &wsConn{ws: ws, send: make(chan []byte, buffer), done: make(chan struct{})}
}

func (c *wsConn) Send(data []byte) error {
	select {
	case <-c.done:
		return tlerrors.ErrTransport
	default:
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrSlow
	}
}

func (c *wsConn) Ping() error {
	select {
	case <-c.done:
		return tlerrors.ErrTransport
	default:
	}
	if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
		return fmt.Errorf("%w: %v", tlerrors.ErrTransport, err)
	}
	return nil
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.ws.Close()
	})
	return err
}

// closeWith sends a close frame before closing the socket.
func (c *wsConn) closeWith(code int, text string) {
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(writeWait))
	_ = c.Close()
}

// writePump drains the send queue until the connection is closed. A
// failed write closes the socket, which ends the read loop and with it the
// registration.
func (c *wsConn) writePump() {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				_ = c.Close()
				return
			}
		}
	}
}

// Handler upgrades HTTP requests to push connections. The credential is
// verified after the upgrade so a rejected client receives an error event
// before the socket is closed.
type Handler struct {
	notifier   *Notifier
	verifier   auth.Verifier
	upgrader   websocket.Upgrader
	sendBuffer int
	onConnect  func(auth.Identity)
	logger     *slog.Logger
	now        func() time.Time
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithSendBuffer sets the per-connection send queue length.
func WithSendBuffer(n int) HandlerOption {
	return func(h *Handler) {
		h.sendBuffer = n
	}
}

// WithUpgrader replaces the default upgrader, for instance to restrict
// origins.
func WithUpgrader(u websocket.Upgrader) HandlerOption {
	return func(h *Handler) {
		h.upgrader = u
	}
}

// OnConnect registers a callback run for every authenticated identity
// before it is registered.
func OnConnect(fn func(auth.Identity)) HandlerOption {
	return func(h *Handler) {
		h.onConnect = fn
	}
}

// WithHandlerLogger sets the handler logger.
func WithHandlerLogger(l *slog.Logger) HandlerOption {
	return func(h *Handler) {
		h.logger = l
	}
}

// NewHandler returns a Handler registering connections with n and
// verifying credentials with v.
func NewHandler(n *Notifier, v auth.Verifier, opts ...HandlerOption) *Handler {
	h := &Handler{
		notifier:   n,
		verifier:   v,
		sendBuffer: defaultSendBuffer,
		logger:     slog.Default(),
		now:        time.Now,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("notify: upgrade failed", "error", err)
		return
	}
	c := newWSConn(ws, h.sendBuffer)

	id, err := auth.Authenticate(r.Context(), h.verifier, r)
	if err != nil {
		h.reject(c, err)
		return
	}
	if h.onConnect != nil {
		h.onConnect(id)
	}

	reg := h.notifier.Registry()
	connID, err := reg.Register(id, c)
	if err != nil {
		h.logger.Error("notify: register failed", "user", id.ID, "error", err)
		c.closeWith(websocket.CloseInternalServerErr, "")
		return
	}
	go c.writePump()

	ws.SetReadLimit(maxMessageSize)
	ws.SetPongHandler(func(string) error {
		reg.MarkAlive(connID)
		return nil
	})
	if err := h.notifier.SendTo(connID, NewConnected(id.ID, h.now())); err != nil {
		return
	}

	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				reg.Evict(connID, ReasonProtocol, err)
				return
			}
			reg.Unregister(connID)
			return
		}
		h.logger.Debug("notify: ignoring client message", "conn", connID, "size", len(msg))
	}
}

func (h *Handler) reject(c *wsConn, err error) {
	var ae *auth.Error
	if !errors.As(err, &ae) {
		ae = auth.Invalid(err)
	}
	h.logger.Warn("notify: handshake rejected", "code", ae.Code, "cause", ae.Cause)
	ev := NewError(ae.Error(), ae.Code, h.now())
	if data, merr := json.Marshal(ev); merr == nil {
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		_ = c.ws.WriteMessage(websocket.TextMessage, data)
	}
	c.closeWith(websocket.ClosePolicyViolation, "authentication failed")
}
