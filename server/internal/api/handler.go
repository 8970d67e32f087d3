package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roomcast/roomcast/server/internal/metrics"
	"github.com/roomcast/roomcast/server/internal/registry"
	"github.com/roomcast/roomcast/server/internal/room"
)

// Counter reports a live count, such as open connections.
type Counter interface {
	Count() int
}

// Handler is the HTTP handler for all /api/v1/* endpoints.
type Handler struct {
	rooms    *registry.Registry
	conns    Counter
	gatherer prometheus.Gatherer
	mux      *http.ServeMux
}

// New creates a Handler reading from reg and conns and registers all routes.
// g may be nil, in which case stats carry no metrics summary.
func New(reg *registry.Registry, conns Counter, g prometheus.Gatherer) http.Handler {
	h := &Handler{rooms: reg, conns: conns, gatherer: g, mux: http.NewServeMux()}

	h.mux.HandleFunc("/api/v1/stats", h.stats)
	h.mux.HandleFunc("/api/v1/rooms", h.listRooms)
	h.mux.HandleFunc("/api/v1/rooms/{id}", h.getRoom)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// stats returns GET /api/v1/stats.
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	resp := StatsResponse{
		Rooms:       h.rooms.Count(),
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if h.conns != nil {
		resp.Connections = h.conns.Count()
	}
	if h.gatherer != nil {
		sum, err := metrics.Summarize(h.gatherer)
		if err != nil {
			slog.Warn("api: gather metrics", "err", err)
		} else {
			resp.Metrics = sum
		}
	}
	jsonResp(w, http.StatusOK, resp)
}

// listRooms returns GET /api/v1/rooms, ordered by id.
func (h *Handler) listRooms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	rooms := h.rooms.List()
	out := make([]RoomResponse, 0, len(rooms))
	for _, rm := range rooms {
		out = append(out, toRoomResponse(rm))
	}
	jsonResp(w, http.StatusOK, out)
}

// getRoom returns GET /api/v1/rooms/{id}, the room's current snapshot.
func (h *Handler) getRoom(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	rm, ok := h.rooms.Get(r.PathValue("id"))
	if !ok {
		jsonErr(w, http.StatusNotFound, "room not found")
		return
	}
	jsonResp(w, http.StatusOK, rm.Snapshot())
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

// toRoomResponse maps a room to its list entry.
func toRoomResponse(rm *room.Room) RoomResponse {
	snap := rm.Snapshot()
	out := RoomResponse{
		ID:        snap.Room,
		Members:   len(snap.Members),
		Version:   snap.Version,
		Title:     snap.Title,
		Votes:     len(snap.Votes),
		CreatedAt: rm.CreatedAt().UTC().Format(time.RFC3339),
	}
	if out.Members == 0 {
		out.IdleSince = rm.IdleSince().UTC().Format(time.RFC3339)
	}
	return out
}
