package protocol

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/roomcast/roomcast/pkg/types"
	"github.com/roomcast/roomcast/server/internal/auth"
	"github.com/roomcast/roomcast/server/internal/broadcast"
	"github.com/roomcast/roomcast/server/internal/metrics"
	"github.com/roomcast/roomcast/server/internal/room"
)

// maxJoinAttempts bounds retries when a join races room reaping.
const maxJoinAttempts = 3

// Rooms resolves a room id to a live room.
type Rooms interface {
	GetOrCreate(id string) *room.Room
}

// Session is the per-connection routing state. It is owned by the
// connection's read goroutine and must not be shared.
type Session struct {
	roomID string
	target broadcast.Target
	room   *room.Room
	role   types.Role
	token  string
}

// NewSession returns a session for target on the room named roomID.
func NewSession(roomID string, target broadcast.Target) *Session {
	return &Session{roomID: roomID, target: target}
}

// Joined reports whether init has succeeded.
func (s *Session) Joined() bool { return s.room != nil }

// Role returns the granted role, or "" before init.
func (s *Session) Role() types.Role { return s.role }

// Token returns the identity token, or "" before init.
func (s *Session) Token() string { return s.token }

// RoomID returns the room the session targets.
func (s *Session) RoomID() string { return s.roomID }

// Router applies decoded commands to rooms.
type Router struct {
	rooms   Rooms
	auth    room.Authorizer
	log     *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the router logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.log = l }
}

// WithMetrics records message and error counts on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// NewRouter returns a Router resolving rooms through rooms and roles through a.
func NewRouter(rooms Rooms, a room.Authorizer, opts ...Option) *Router {
	r := &Router{rooms: rooms, auth: a, log: slog.Default()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Handle decodes raw and applies it for s. A *ProtocolError means the
// connection must be closed; an *AuthorizationError leaves it open.
func (r *Router) Handle(s *Session, raw []byte) error {
	cmd, err := Decode(raw)
	if err != nil {
		r.metrics.Message("")
		r.metrics.Error(metrics.KindProtocol)
		return err
	}
	r.metrics.Message(cmd.Type())

	err = r.apply(s, cmd)
	var pe *ProtocolError
	var ae *AuthorizationError
	switch {
	case errors.As(err, &pe):
		r.metrics.Error(metrics.KindProtocol)
	case errors.As(err, &ae):
		r.metrics.Error(metrics.KindAuthorization)
	}
	return err
}

func (r *Router) apply(s *Session, cmd Command) error {
	if c, ok := cmd.(Init); ok {
		if s.Joined() {
			return protoErr(types.TypeInit, ErrAlreadyInitialized)
		}
		return r.join(s, c)
	}
	if !s.Joined() {
		return protoErr(cmd.Type(), ErrNotInitialized)
	}

	id := s.target.ID()
	switch c := cmd.(type) {
	case Vote:
		return s.room.Vote(id, c.Value)
	case UpdateMeta:
		if err := authorize(s, cmd); err != nil {
			return err
		}
		return s.room.UpdateMeta(id, c.Title, c.Description)
	case ClearVote:
		if err := authorize(s, cmd); err != nil {
			return err
		}
		return s.room.ClearVotes(id)
	case Kick:
		if err := authorize(s, cmd); err != nil {
			return err
		}
		n, err := s.room.Kick(id, c.Target)
		if err != nil {
			return err
		}
		r.log.Info("protocol: kick", "room", s.roomID, "conn", id, "kicked", n)
		return nil
	}
	return protoErr(cmd.Type(), ErrUnknownType)
}

func (r *Router) join(s *Session, c Init) error {
	for attempt := 0; attempt < maxJoinAttempts; attempt++ {
		rm := r.rooms.GetOrCreate(s.roomID)
		role, err := rm.Join(s.target, c.Token, c.Key, c.Role, r.auth)
		switch {
		case err == nil:
			s.room, s.role, s.token = rm, role, c.Token
			r.log.Info("protocol: joined", "room", s.roomID, "conn", s.target.ID(), "role", role)
			return nil
		case errors.Is(err, room.ErrClosed):
			continue
		case errors.Is(err, auth.ErrPrivilegeDenied):
			return &AuthorizationError{Action: types.TypeInit, Role: c.Role, Err: err}
		default:
			return fmt.Errorf("join room %s: %w", s.roomID, err)
		}
	}
	return fmt.Errorf("join room %s: %w", s.roomID, room.ErrClosed)
}

// Leave removes s from its room. It is safe to call more than once and
// before init.
func (r *Router) Leave(s *Session) {
	if s.room == nil {
		return
	}
	s.room.Leave(s.target.ID())
	s.room = nil
}

func authorize(s *Session, cmd Command) error {
	if s.role.Privileged() {
		return nil
	}
	return &AuthorizationError{Action: cmd.Type(), Role: s.role}
}
