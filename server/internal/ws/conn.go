package ws

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/roomcast/roomcast/server/internal/broadcast"
	"github.com/roomcast/roomcast/server/internal/protocol"
)

const (
	// pongWait is how long to wait for a pong response before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod controls how often the server sends WebSocket ping frames.
	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// CloseKicked is the close code sent to a connection removed by kick.
const CloseKicked = 4001

var (
	// ErrClosed is returned by Send once the connection is closed.
	ErrClosed = errors.New("connection closed")
	// ErrQueueFull is returned by Send when the outbound queue is full. The
	// connection is closed as a slow consumer.
	ErrQueueFull = errors.New("send queue full")
)

// State is the lifecycle state of a Conn.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Conn is one accepted socket. It implements broadcast.Target.
type Conn struct {
	id     string
	roomID string
	ws     *websocket.Conn
	log    *slog.Logger

	send         chan []byte
	done         chan struct{}
	writeTimeout time.Duration

	state     atomic.Int32
	closeOnce sync.Once
	closeCode int
	closeText string
}

func newConn(ws *websocket.Conn, roomID string, opts Options, log *slog.Logger) *Conn {
	id := uuid.NewString()
	return &Conn{
		id:           id,
		roomID:       roomID,
		ws:           ws,
		log:          log.With("room", roomID, "conn", id),
		send:         make(chan []byte, opts.SendBuffer),
		done:         make(chan struct{}),
		writeTimeout: opts.WriteTimeout,
	}
}

// ID returns the connection's unique id.
func (c *Conn) ID() string { return c.id }

// State returns the current lifecycle state.
func (c *Conn) State() State { return State(c.state.Load()) }

// Send enqueues payload without blocking. A full queue means the peer is not
// keeping up: the connection is closed with 1013 instead of waiting for it.
func (c *Conn) Send(payload []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.send <- payload:
		return nil
	default:
		c.closeWith(websocket.CloseTryAgainLater, "slow consumer")
		return ErrQueueFull
	}
}

// Disconnect closes the connection for reason. It never blocks.
func (c *Conn) Disconnect(reason string) {
	switch reason {
	case broadcast.ReasonKicked:
		c.closeWith(CloseKicked, "kicked")
	case broadcast.ReasonSendFailed:
		c.closeWith(websocket.CloseTryAgainLater, "slow consumer")
	default:
		c.closeWith(websocket.ClosePolicyViolation, reason)
	}
}

// closeWith records the close frame and wakes the writer. Only the first call
// has any effect.
func (c *Conn) closeWith(code int, text string) {
	c.closeOnce.Do(func() {
		c.closeCode, c.closeText = code, text
		prev := State(c.state.Swap(int32(StateClosed)))
		close(c.done)
		c.log.Debug("ws: state change", "from", prev.String(), "to", StateClosed.String(), "code", code, "reason", text)
	})
}

func (c *Conn) markOpen() {
	if c.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen)) {
		c.log.Debug("ws: state change", "from", StateConnecting.String(), "to", StateOpen.String())
	}
}

// writePump drains the send queue to the socket and pings periodically. When
// the connection is closed it flushes what is already queued, writes the
// close frame and closes the socket.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				c.closeWith(websocket.CloseAbnormalClosure, "write failed")
				return
			}

		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.closeWith(websocket.CloseAbnormalClosure, "ping failed")
				return
			}

		case <-c.done:
			c.flush()
			c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)) //nolint:errcheck
			c.ws.WriteMessage(websocket.CloseMessage, //nolint:errcheck
				websocket.FormatCloseMessage(c.closeCode, c.closeText))
			return
		}
	}
}

func (c *Conn) flush() {
	for {
		select {
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Conn) write(kind int, msg []byte) error {
	c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)) //nolint:errcheck
	return c.ws.WriteMessage(kind, msg)
}

// readPump feeds frames to router until the socket fails or the connection
// is closed, then leaves the room. Blocks until then.
func (c *Conn) readPump(router *protocol.Router, maxMessage int64, initTimeout time.Duration) {
	sess := protocol.NewSession(c.roomID, c)
	defer router.Leave(sess)

	if initTimeout > 0 {
		timer := time.AfterFunc(initTimeout, func() {
			if c.State() == StateConnecting {
				c.log.Info("ws: init timeout")
				c.closeWith(websocket.ClosePolicyViolation, "init timeout")
			}
		})
		defer timer.Stop()
	}

	c.ws.SetReadLimit(maxMessage)
	c.ws.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("ws: read failed", "err", err)
			}
			if errors.Is(err, websocket.ErrReadLimit) {
				c.closeWith(websocket.CloseMessageTooBig, "message too big")
			}
			c.closeWith(websocket.CloseNormalClosure, "")
			return
		}

		err = router.Handle(sess, raw)
		if sess.Joined() {
			c.markOpen()
		}
		if err == nil {
			continue
		}

		var pe *protocol.ProtocolError
		var ae *protocol.AuthorizationError
		switch {
		case errors.As(err, &ae):
			c.log.Info("ws: unauthorized", "err", err)
			c.Send(protocol.EncodeError(err)) //nolint:errcheck
		case errors.As(err, &pe):
			c.log.Info("ws: protocol error", "err", err)
			c.Send(protocol.EncodeError(err)) //nolint:errcheck
			c.closeWith(websocket.ClosePolicyViolation, "protocol error")
			return
		default:
			c.log.Warn("ws: handle frame", "err", err)
			c.closeWith(websocket.CloseInternalServerErr, "internal error")
			return
		}
	}
}
