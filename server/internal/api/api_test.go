package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roomcast/roomcast/pkg/types"
	"github.com/roomcast/roomcast/server/internal/api"
	"github.com/roomcast/roomcast/server/internal/broadcast"
	"github.com/roomcast/roomcast/server/internal/metrics"
	"github.com/roomcast/roomcast/server/internal/registry"
	"github.com/roomcast/roomcast/server/internal/room"
)

// --- test helpers -----------------------------------------------------------

type nopTarget struct{ id string }

func (n nopTarget) ID() string      { return n.id }
func (nopTarget) Send([]byte) error { return nil }
func (nopTarget) Disconnect(string) {}

type grantAll struct{}

func (grantAll) Resolve(_, _ string, requested types.Role) (types.Role, error) {
	return requested, nil
}

type fixedCount int

func (c fixedCount) Count() int { return int(c) }

func newRegistry() *registry.Registry {
	d := broadcast.New()
	return registry.New(5*time.Minute, func(id string) *room.Room { return room.New(id, d) })
}

// seed creates room id with one member per token.
func seed(t *testing.T, reg *registry.Registry, id string, tokens ...string) *room.Room {
	t.Helper()
	rm := reg.GetOrCreate(id)
	for i, tok := range tokens {
		if _, err := rm.Join(nopTarget{id: id + "-" + string(rune('a'+i))}, tok, "", types.RoleObserver, grantAll{}); err != nil {
			t.Fatalf("join %s: %v", tok, err)
		}
	}
	return rm
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON: %v (body: %s)", err, rr.Body.String())
	}
}

// --- /api/v1/stats ----------------------------------------------------------

func TestStats(t *testing.T) {
	reg := newRegistry()
	seed(t, reg, "1", "a")
	seed(t, reg, "2")

	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)
	m.SetRooms(2)

	h := api.New(reg, fixedCount(3), promReg)
	rr := get(t, h, "/api/v1/stats")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q, want application/json", ct)
	}

	var resp api.StatsResponse
	decode(t, rr, &resp)
	if resp.Rooms != 2 {
		t.Errorf("rooms: got %d, want 2", resp.Rooms)
	}
	if resp.Connections != 3 {
		t.Errorf("connections: got %d, want 3", resp.Connections)
	}
	if resp.Metrics["roomcast_rooms"] != 2 {
		t.Errorf("metrics roomcast_rooms: got %v, want 2", resp.Metrics["roomcast_rooms"])
	}
	if resp.GeneratedAt == "" {
		t.Error("generated_at: missing")
	}
}

func TestStats_NoGatherer(t *testing.T) {
	h := api.New(newRegistry(), nil, nil)
	rr := get(t, h, "/api/v1/stats")
	var resp map[string]interface{}
	decode(t, rr, &resp)
	if _, ok := resp["metrics"]; ok {
		t.Error("metrics: want omitted without a gatherer")
	}
}

// --- /api/v1/rooms ----------------------------------------------------------

func TestListRooms_Empty(t *testing.T) {
	h := api.New(newRegistry(), nil, nil)
	rr := get(t, h, "/api/v1/rooms")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	var out []api.RoomResponse
	decode(t, rr, &out)
	if len(out) != 0 {
		t.Errorf("rooms: got %d, want 0", len(out))
	}
}

func TestListRooms(t *testing.T) {
	reg := newRegistry()
	seed(t, reg, "b", "x", "y")
	seed(t, reg, "a")

	rr := get(t, api.New(reg, nil, nil), "/api/v1/rooms")
	var out []api.RoomResponse
	decode(t, rr, &out)

	if len(out) != 2 {
		t.Fatalf("rooms: got %d, want 2", len(out))
	}
	if out[0].ID != "a" || out[1].ID != "b" {
		t.Errorf("order: got %s,%s want a,b", out[0].ID, out[1].ID)
	}
	if out[0].Members != 0 || out[0].IdleSince == "" {
		t.Errorf("room a: got %+v, want empty with idle_since", out[0])
	}
	if out[1].Members != 2 || out[1].Version != 2 || out[1].IdleSince != "" {
		t.Errorf("room b: got %+v, want 2 members at version 2", out[1])
	}
}

// --- /api/v1/rooms/{id} -----------------------------------------------------

func TestGetRoom(t *testing.T) {
	reg := newRegistry()
	rm := seed(t, reg, "1", "bob")
	if err := rm.Vote("1-a", "yes"); err != nil {
		t.Fatalf("vote: %v", err)
	}

	rr := get(t, api.New(reg, nil, nil), "/api/v1/rooms/1")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rr.Code)
	}
	var snap types.Snapshot
	decode(t, rr, &snap)
	if snap.Room != "1" {
		t.Errorf("room: got %q, want 1", snap.Room)
	}
	if snap.Votes["bob"] != "yes" {
		t.Errorf("votes: got %v, want bob=yes", snap.Votes)
	}
	if len(snap.Members) != 1 || snap.Members[0].Identity != "bob" {
		t.Errorf("members: got %+v", snap.Members)
	}
}

func TestGetRoom_NotFound(t *testing.T) {
	reg := newRegistry()
	rr := get(t, api.New(reg, nil, nil), "/api/v1/rooms/missing")
	if rr.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", rr.Code)
	}
	if reg.Count() != 0 {
		t.Error("lookup must not create rooms")
	}
}

// --- method checks ----------------------------------------------------------

func TestNonGet_Returns405(t *testing.T) {
	reg := newRegistry()
	seed(t, reg, "1")
	h := api.New(reg, nil, nil)
	for _, path := range []string{"/api/v1/stats", "/api/v1/rooms", "/api/v1/rooms/1"} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, path, nil))
		if rr.Code != http.StatusMethodNotAllowed {
			t.Errorf("POST %s: got %d, want 405", path, rr.Code)
		}
	}
}
