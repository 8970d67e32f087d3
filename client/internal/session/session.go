package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roomcast/roomcast/pkg/types"
)

const (
	writeTimeout = 10 * time.Second
	outboxSize   = 64

	// closeKicked mirrors the server's close code for kicked connections.
	closeKicked = 4001
)

var (
	// ErrKicked is returned by Run when the server kicked this session.
	ErrKicked = errors.New("session: kicked from room")
	// ErrRejected is returned by Run when the server closed the session for a
	// protocol error.
	ErrRejected = errors.New("session: rejected by server")
	// ErrQueueFull is returned by senders when the outbox is full.
	ErrQueueFull = errors.New("session: outbox full")
)

// State is the client-side connection state.
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

// Config identifies the room and the identity a Session joins with.
type Config struct {
	// ServerURL is the ws:// or wss:// base URL, e.g. ws://localhost:8001.
	ServerURL string
	Room      string
	Role      types.Role
	Token     string
	// Key is the admin credential sent with init. Optional for observers.
	Key string
}

// dialFunc opens a WebSocket connection. Abstracted so tests can inject a
// failing or counting dialer.
type dialFunc func(ctx context.Context, url string) (*websocket.Conn, error)

// Session is one client's membership in one room.
type Session struct {
	cfg    Config
	url    string
	dialFn dialFunc // injectable for tests

	onSnapshot func(types.Snapshot)
	onError    func(types.ErrorData)

	outbox chan []byte
	state  atomic.Int32

	mu   sync.RWMutex
	last *types.Snapshot
}

// Option configures a Session.
type Option func(*Session)

// OnSnapshot registers fn to receive every snapshot, in server order.
func OnSnapshot(fn func(types.Snapshot)) Option {
	return func(s *Session) { s.onSnapshot = fn }
}

// OnError registers fn to receive error notices from the server.
func OnError(fn func(types.ErrorData)) Option {
	return func(s *Session) { s.onError = fn }
}

// New validates cfg and returns a Session. It does not connect.
func New(cfg Config, opts ...Option) (*Session, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("session: token is required")
	}
	if cfg.Room == "" {
		return nil, fmt.Errorf("session: room is required")
	}
	if cfg.Role == "" {
		cfg.Role = types.RoleObserver
	}
	u, err := url.Parse(cfg.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("session: parse server url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("session: server url scheme %q: want ws or wss", u.Scheme)
	}

	s := &Session{
		cfg:    cfg,
		url:    strings.TrimSuffix(cfg.ServerURL, "/") + "/ws/room/" + url.PathEscape(cfg.Room),
		dialFn: defaultDial,
		outbox: make(chan []byte, outboxSize),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// URL returns the room endpoint the session dials.
func (s *Session) URL() string { return s.url }

// Token returns the session's identity token.
func (s *Session) Token() string { return s.cfg.Token }

// State returns the current connection state.
func (s *Session) State() State { return State(s.state.Load()) }

// Snapshot returns the latest snapshot received, if any.
func (s *Session) Snapshot() (types.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return types.Snapshot{}, false
	}
	return *s.last, true
}

// Vote casts value as this session's vote.
func (s *Session) Vote(value string) error {
	return s.enqueue(types.TypeVote, value)
}

// UpdateMeta replaces the room title and description. Requires admin.
func (s *Session) UpdateMeta(title, description string) error {
	return s.enqueue(types.TypeUpdateMeta, types.MetaData{Title: title, Description: description})
}

// ClearVotes empties the room's votes. Requires admin.
func (s *Session) ClearVotes() error {
	return s.enqueue(types.TypeClearVote, nil)
}

// Kick removes every member holding token. Requires admin.
func (s *Session) Kick(token string) error {
	return s.enqueue(types.TypeKick, token)
}

func (s *Session) enqueue(typ string, data any) error {
	raw, err := types.Encode(typ, data)
	if err != nil {
		return err
	}
	select {
	case s.outbox <- raw:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run connects and serves the session, reconnecting with backoff when the
// connection is lost. Run blocks until ctx is cancelled (returning nil) or the
// server ends the session for good (ErrKicked, ErrRejected).
func (s *Session) Run(ctx context.Context) error {
	defer s.setState(StateClosed)
	bo := newBackoff()

	for {
		if ctx.Err() != nil {
			return nil
		}
		s.setState(StateConnecting)

		conn, err := s.dialFn(ctx, s.url)
		if err != nil {
			wait := bo.next()
			slog.Error("session: dial failed, will retry",
				"url", s.url, "err", err, "retry_in", wait)
			if !sleep(ctx, wait) {
				return nil
			}
			continue
		}

		slog.Info("session: connected", "url", s.url)
		bo.reset()

		err = s.serve(ctx, conn)
		conn.Close()

		switch {
		case ctx.Err() != nil:
			return nil
		case websocket.IsCloseError(err, closeKicked):
			return ErrKicked
		case websocket.IsCloseError(err, websocket.ClosePolicyViolation):
			return fmt.Errorf("%w: %v", ErrRejected, err)
		}

		wait := bo.next()
		slog.Warn("session: connection lost, will reconnect",
			"url", s.url, "err", err, "retry_in", wait)
		if !sleep(ctx, wait) {
			return nil
		}
	}
}

// serve sends init, then pumps the outbox until the connection fails or ctx
// is cancelled.
func (s *Session) serve(ctx context.Context, conn *websocket.Conn) error {
	hello, err := types.Encode(types.TypeInit, types.InitData{Role: string(s.cfg.Role), Token: s.cfg.Token, Key: s.cfg.Key})
	if err != nil {
		return err
	}
	if err := write(conn, hello); err != nil {
		return fmt.Errorf("send init: %w", err)
	}

	readErr := make(chan error, 1)
	go func() { readErr <- s.readLoop(conn) }()

	for {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage, //nolint:errcheck
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			conn.SetReadDeadline(time.Now().Add(time.Second)) //nolint:errcheck
			<-readErr
			return nil

		case err := <-readErr:
			return err

		case msg := <-s.outbox:
			if err := write(conn, msg); err != nil {
				// Keep the frame for the next connection if there is room.
				select {
				case s.outbox <- msg:
				default:
				}
				return fmt.Errorf("send: %w", err)
			}
		}
	}
}

func (s *Session) readLoop(conn *websocket.Conn) error {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var env types.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			slog.Warn("session: undecodable frame", "err", err)
			continue
		}
		switch env.Type {
		case types.TypeSnapshot:
			var snap types.Snapshot
			if err := json.Unmarshal(env.Data, &snap); err != nil {
				slog.Warn("session: undecodable snapshot", "err", err)
				continue
			}
			s.mu.Lock()
			s.last = &snap
			s.mu.Unlock()
			s.setState(StateOpen)
			if s.onSnapshot != nil {
				s.onSnapshot(snap)
			}
		case types.TypeError:
			var e types.ErrorData
			if err := json.Unmarshal(env.Data, &e); err != nil {
				slog.Warn("session: undecodable error notice", "err", err)
				continue
			}
			slog.Warn("session: server error", "code", e.Code, "message", e.Message)
			if s.onError != nil {
				s.onError(e)
			}
		default:
			slog.Debug("session: ignoring frame", "type", env.Type)
		}
	}
}

func (s *Session) setState(st State) {
	if prev := State(s.state.Swap(int32(st))); prev != st {
		slog.Debug("session: state change", "from", prev.String(), "to", st.String())
	}
}

func write(conn *websocket.Conn, msg []byte) error {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
	return conn.WriteMessage(websocket.TextMessage, msg)
}

// sleep waits for d or ctx; it reports false when ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func defaultDial(ctx context.Context, url string) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	return conn, err
}
