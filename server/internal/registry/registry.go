package registry

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/roomcast/roomcast/server/internal/metrics"
	"github.com/roomcast/roomcast/server/internal/room"
)

// Registry is a thread-safe room map. Lock order is registry then room.
type Registry struct {
	mu      sync.RWMutex
	rooms   map[string]*room.Room
	ttl     time.Duration
	newRoom func(id string) *room.Room
	metrics *metrics.Metrics
	now     func() time.Time // injectable for deterministic tests
}

// Option configures a Registry.
type Option func(*Registry)

// WithMetrics reports the room count on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// New creates a Registry that builds rooms with newRoom and reaps rooms that
// have been empty for ttl.
func New(ttl time.Duration, newRoom func(id string) *room.Room, opts ...Option) *Registry {
	r := &Registry{
		rooms:   make(map[string]*room.Room),
		ttl:     ttl,
		newRoom: newRoom,
		now:     time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// GetOrCreate returns the room for id, creating it if needed. Concurrent
// callers for the same unknown id all receive the same instance.
func (r *Registry) GetOrCreate(id string) *room.Room {
	r.mu.RLock()
	rm, ok := r.rooms[id]
	r.mu.RUnlock()
	if ok {
		return rm
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if rm, ok := r.rooms[id]; ok {
		return rm
	}
	rm = r.newRoom(id)
	r.rooms[id] = rm
	r.metrics.SetRooms(len(r.rooms))
	slog.Debug("registry: room created", "room", id)
	return rm
}

// Get returns the room for id and whether it exists.
func (r *Registry) Get(id string) (*room.Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rm, ok := r.rooms[id]
	return rm, ok
}

// Remove drops the room for id if it has no members. A removed room is closed
// so a join racing the removal fails with room.ErrClosed and can retry.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[id]
	if !ok || !rm.CloseIfEmpty() {
		return false
	}
	delete(r.rooms, id)
	r.metrics.SetRooms(len(r.rooms))
	return true
}

// List returns all rooms ordered by id.
func (r *Registry) List() []*room.Room {
	r.mu.RLock()
	out := make([]*room.Room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		out = append(out, rm)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Count returns the number of rooms held, including empty ones awaiting reaping.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// Evict removes rooms that have been empty since before now minus TTL.
// It returns the number of rooms removed. With a zero TTL nothing is evicted.
func (r *Registry) Evict(now time.Time) int {
	if r.ttl <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := now.Add(-r.ttl)
	removed := 0
	for id, rm := range r.rooms {
		if rm.CloseIfIdle(cutoff) {
			delete(r.rooms, id)
			removed++
		}
	}
	if removed > 0 {
		r.metrics.SetRooms(len(r.rooms))
	}
	return removed
}

// Run starts the background eviction loop. It ticks at half the TTL interval
// (minimum 1 second) and blocks until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) {
	if r.ttl <= 0 {
		<-ctx.Done()
		return
	}
	interval := r.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := r.Evict(r.now()); n > 0 {
				slog.Debug("registry: reaped idle rooms", "count", n)
			}
		}
	}
}
