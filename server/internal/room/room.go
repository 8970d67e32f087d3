// Package room holds the authoritative state of a single room and serializes
// every mutation against it.
//
// Each accepted mutation bumps the room version and fans a full snapshot out
// to all members while the room lock is still held. Because member queues are
// FIFO, every member observes a room's snapshots in mutation order.
package room

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/roomcast/roomcast/pkg/types"
	"github.com/roomcast/roomcast/server/internal/broadcast"
)

var (
	// ErrClosed is returned by Join once the registry has retired the room.
	ErrClosed = errors.New("room closed")
	// ErrNotMember is returned when a mutation names a target that is not joined.
	ErrNotMember = errors.New("not a member")
	// ErrAlreadyJoined is returned when a target joins the same room twice.
	ErrAlreadyJoined = errors.New("already joined")
)

// Authorizer decides the role granted to a joiner presenting key. owner is the
// room owner's key, or the joiner's own key when the room has no owner yet.
// Keys never appear in snapshots.
type Authorizer interface {
	Resolve(owner, key string, requested types.Role) (types.Role, error)
}

type member struct {
	target   broadcast.Target
	identity string
	role     types.Role
	seq      uint64
}

// Room is safe for concurrent use.
type Room struct {
	id         string
	dispatcher *broadcast.Dispatcher
	log        *slog.Logger
	now        func() time.Time

	mu          sync.Mutex
	title       string
	description string
	votes       map[string]string
	members     map[string]*member
	seq         uint64
	version     uint64
	owner       string
	closed      bool
	createdAt   time.Time
	idleSince   time.Time
}

// Option configures a Room.
type Option func(*Room)

// WithLogger sets the room logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Room) { r.log = l }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Room) { r.now = now }
}

// New returns an empty room. A new room counts as idle from its creation time.
func New(id string, d *broadcast.Dispatcher, opts ...Option) *Room {
	r := &Room{
		id:         id,
		dispatcher: d,
		log:        slog.Default(),
		now:        time.Now,
		votes:      make(map[string]string),
		members:    make(map[string]*member),
	}
	for _, o := range opts {
		o(r)
	}
	r.log = r.log.With("room", id)
	r.createdAt = r.now()
	r.idleSince = r.createdAt
	return r
}

// ID returns the room id.
func (r *Room) ID() string { return r.id }

// Join adds t as a member identified by token. auth resolves the granted role
// from key; a refusal leaves the room unchanged and is returned as is. The
// first successful joiner presenting a non-empty key becomes the owner.
func (r *Room) Join(t broadcast.Target, token, key string, requested types.Role, auth Authorizer) (types.Role, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return "", ErrClosed
	}
	if _, ok := r.members[t.ID()]; ok {
		return "", ErrAlreadyJoined
	}

	owner := r.owner
	if owner == "" {
		owner = key
	}
	role, err := auth.Resolve(owner, key, requested)
	if err != nil {
		return "", err
	}
	if r.owner == "" {
		r.owner = key
	}

	r.seq++
	r.members[t.ID()] = &member{target: t, identity: token, role: role, seq: r.seq}
	r.log.Debug("room: member joined", "conn", t.ID(), "role", role)
	r.publish()
	return role, nil
}

// Leave removes the member with connection id. It reports whether a member was
// removed; remaining members receive a snapshot.
func (r *Room) Leave(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[id]; !ok {
		return false
	}
	delete(r.members, id)
	if len(r.members) == 0 {
		r.idleSince = r.now()
	}
	r.log.Debug("room: member left", "conn", id)
	r.publish()
	return true
}

// Vote upserts the calling member's vote, keyed by its identity token.
func (r *Room) Vote(id, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[id]
	if !ok {
		return fmt.Errorf("vote: %w", ErrNotMember)
	}
	r.votes[m.identity] = value
	r.publish()
	return nil
}

// UpdateMeta replaces title and description together.
func (r *Room) UpdateMeta(id, title, description string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[id]; !ok {
		return fmt.Errorf("update_meta: %w", ErrNotMember)
	}
	r.title = title
	r.description = description
	r.publish()
	return nil
}

// ClearVotes empties the vote map.
func (r *Room) ClearVotes(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[id]; !ok {
		return fmt.Errorf("clear_vote: %w", ErrNotMember)
	}
	r.votes = make(map[string]string)
	r.publish()
	return nil
}

// Kick removes every member whose identity equals token and disconnects it.
// It returns the number of members removed; zero is not an error and produces
// no snapshot.
func (r *Room) Kick(id, token string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[id]; !ok {
		return 0, fmt.Errorf("kick: %w", ErrNotMember)
	}

	var kicked []broadcast.Target
	for mid, m := range r.members {
		if m.identity == token {
			kicked = append(kicked, m.target)
			delete(r.members, mid)
		}
	}
	if len(kicked) == 0 {
		return 0, nil
	}
	if len(r.members) == 0 {
		r.idleSince = r.now()
	}
	r.log.Info("room: members kicked", "by", id, "count", len(kicked))
	r.publish()
	for _, t := range kicked {
		t.Disconnect(broadcast.ReasonKicked)
	}
	return len(kicked), nil
}

// Snapshot returns a copy of the current room state.
func (r *Room) Snapshot() types.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Len returns the number of members.
func (r *Room) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// Owned reports whether a joiner has claimed the room with a key.
func (r *Room) Owned() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.owner != ""
}

// CreatedAt returns the creation time.
func (r *Room) CreatedAt() time.Time { return r.createdAt }

// IdleSince returns when membership last became empty. The value is only
// meaningful while Len() == 0.
func (r *Room) IdleSince() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.idleSince
}

// CloseIfIdle marks the room closed when it has no members and has been idle
// since at or before cutoff. A closed room rejects further joins with ErrClosed.
func (r *Room) CloseIfIdle(cutoff time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return true
	}
	if len(r.members) > 0 || r.idleSince.After(cutoff) {
		return false
	}
	r.closed = true
	return true
}

// CloseIfEmpty marks the room closed when it has no members.
func (r *Room) CloseIfEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.members) > 0 {
		return false
	}
	r.closed = true
	return true
}

// --- internal ---

func (r *Room) snapshotLocked() types.Snapshot {
	votes := make(map[string]string, len(r.votes))
	for k, v := range r.votes {
		votes[k] = v
	}
	ordered := r.orderedLocked()
	members := make([]types.Member, 0, len(ordered))
	for _, m := range ordered {
		members = append(members, types.Member{ID: m.target.ID(), Identity: m.identity, Role: m.role})
	}
	return types.Snapshot{
		Room:        r.id,
		Version:     r.version,
		Title:       r.title,
		Description: r.description,
		Votes:       votes,
		Members:     members,
	}
}

// orderedLocked returns members in join order.
func (r *Room) orderedLocked() []*member {
	out := make([]*member, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// publish must be called with mu held.
func (r *Room) publish() {
	r.version++
	payload, err := types.Encode(types.TypeSnapshot, r.snapshotLocked())
	if err != nil {
		r.log.Error("room: encode snapshot", "err", err)
		return
	}
	ordered := r.orderedLocked()
	if len(ordered) == 0 {
		return
	}
	targets := make([]broadcast.Target, 0, len(ordered))
	for _, m := range ordered {
		targets = append(targets, m.target)
	}
	r.dispatcher.Broadcast(r.id, targets, payload)
}
