package protocol

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roomcast/roomcast/pkg/types"
	"github.com/roomcast/roomcast/server/internal/auth"
	"github.com/roomcast/roomcast/server/internal/broadcast"
	"github.com/roomcast/roomcast/server/internal/registry"
	"github.com/roomcast/roomcast/server/internal/room"
)

type fakeConn struct {
	id string

	mu     sync.Mutex
	got    [][]byte
	reason string
}

func (f *fakeConn) ID() string { return f.id }

func (f *fakeConn) Send(p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, p)
	return nil
}

func (f *fakeConn) Disconnect(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reason = reason
}

func (f *fakeConn) last(t *testing.T) types.Snapshot {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.got, "conn %s received nothing", f.id)
	var env types.Envelope
	require.NoError(t, json.Unmarshal(f.got[len(f.got)-1], &env))
	var s types.Snapshot
	require.NoError(t, json.Unmarshal(env.Data, &s))
	return s
}

func decodeError(t *testing.T, raw []byte) (types.Envelope, types.ErrorData) {
	t.Helper()
	var env types.Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	var d types.ErrorData
	require.NoError(t, json.Unmarshal(env.Data, &d))
	return env, d
}

type fixture struct {
	router *Router
	reg    *registry.Registry
}

func newFixture(t *testing.T, mode string, adminKeys ...string) *fixture {
	t.Helper()
	policy, err := auth.NewPolicy(mode, adminKeys)
	require.NoError(t, err)
	d := broadcast.New()
	reg := registry.New(time.Minute, func(id string) *room.Room { return room.New(id, d) })
	return &fixture{router: NewRouter(reg, policy), reg: reg}
}

func (f *fixture) session(roomID, connID string) (*Session, *fakeConn) {
	c := &fakeConn{id: connID}
	return NewSession(roomID, c), c
}

func send(t *testing.T, r *Router, s *Session, typ string, data any) error {
	t.Helper()
	raw, err := types.Encode(typ, data)
	require.NoError(t, err)
	return r.Handle(s, raw)
}

func initAs(t *testing.T, r *Router, s *Session, role, token string, key ...string) {
	t.Helper()
	data := map[string]string{"role": role, "token": token}
	if len(key) > 0 {
		data["key"] = key[0]
	}
	require.NoError(t, send(t, r, s, types.TypeInit, data))
	require.True(t, s.Joined())
}

func isProtocol(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

func isAuthorization(err error) bool {
	var ae *AuthorizationError
	return errors.As(err, &ae)
}

func TestHandle_MessageBeforeInit(t *testing.T) {
	f := newFixture(t, auth.PolicyStatic)
	s, _ := f.session("1", "c1")

	err := send(t, f.router, s, types.TypeVote, "yes")
	assert.True(t, isProtocol(err))
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.Zero(t, f.reg.Count(), "no room should be created before init")
}

func TestHandle_SecondInit(t *testing.T) {
	f := newFixture(t, auth.PolicyStatic)
	s, _ := f.session("1", "c1")
	initAs(t, f.router, s, "observer", "bob")

	err := send(t, f.router, s, types.TypeInit, map[string]string{"role": "observer", "token": "bob"})
	assert.True(t, isProtocol(err))
	assert.ErrorIs(t, err, ErrAlreadyInitialized)
}

func TestHandle_InitDeniedKeepsConnecting(t *testing.T) {
	f := newFixture(t, auth.PolicyStatic, "admin")
	s, _ := f.session("1", "c1")

	err := send(t, f.router, s, types.TypeInit, map[string]string{"role": "admin", "token": "mallory"})
	assert.True(t, isAuthorization(err))
	assert.ErrorIs(t, err, auth.ErrPrivilegeDenied)
	assert.False(t, s.Joined())

	initAs(t, f.router, s, "observer", "mallory")
	assert.Equal(t, types.RoleObserver, s.Role())
}

func TestHandle_ObserverCannotMutate(t *testing.T) {
	f := newFixture(t, auth.PolicyStatic, "admin")
	a, ac := f.session("1", "c1")
	b, bc := f.session("1", "c2")
	initAs(t, f.router, a, "admin", "admin", "admin")
	initAs(t, f.router, b, "observer", "bob")
	require.NoError(t, send(t, f.router, a, types.TypeUpdateMeta, types.MetaData{Title: "old", Description: "d"}))
	require.NoError(t, send(t, f.router, b, types.TypeVote, "yes"))

	cases := []struct {
		typ  string
		data any
	}{
		{types.TypeUpdateMeta, types.MetaData{Title: "new", Description: "x"}},
		{types.TypeClearVote, nil},
		{types.TypeKick, "admin"},
	}
	for _, tc := range cases {
		err := send(t, f.router, b, tc.typ, tc.data)
		assert.True(t, isAuthorization(err), "%s: got %v", tc.typ, err)
	}

	snap := f.reg.GetOrCreate("1").Snapshot()
	assert.Equal(t, "old", snap.Title)
	assert.Equal(t, map[string]string{"bob": "yes"}, snap.Votes)
	assert.Len(t, snap.Members, 2)
	assert.Empty(t, ac.reason)

	require.NoError(t, send(t, f.router, b, types.TypeVote, "no"))
	next := bc.last(t)
	assert.Equal(t, "old", next.Title)
	assert.Equal(t, "d", next.Description)
}

func TestHandle_Scenario(t *testing.T) {
	f := newFixture(t, auth.PolicyStatic, "admin")
	a, ac := f.session("1", "A")
	b, bc := f.session("1", "B")
	initAs(t, f.router, a, "admin", "admin", "admin")
	initAs(t, f.router, b, "observer", "bob")

	require.NoError(t, send(t, f.router, a, types.TypeUpdateMeta, types.MetaData{Title: "T", Description: "D"}))
	for _, c := range []*fakeConn{ac, bc} {
		s := c.last(t)
		assert.Equal(t, "T", s.Title)
		assert.Equal(t, "D", s.Description)
	}

	require.NoError(t, send(t, f.router, b, types.TypeVote, "yes"))
	for _, c := range []*fakeConn{ac, bc} {
		assert.Equal(t, map[string]string{"bob": "yes"}, c.last(t).Votes)
	}

	require.NoError(t, send(t, f.router, a, types.TypeKick, "bob"))
	assert.Equal(t, broadcast.ReasonKicked, bc.reason)
	snap := ac.last(t)
	require.Len(t, snap.Members, 1)
	assert.Equal(t, "A", snap.Members[0].ID)

	// The kicked connection's read loop ends and leaves; that must be a no-op.
	f.router.Leave(b)
	f.router.Leave(b)
	assert.Equal(t, 1, f.reg.GetOrCreate("1").Len())
}

func TestHandle_KickUnknownIsNoop(t *testing.T) {
	f := newFixture(t, auth.PolicyStatic, "admin")
	a, _ := f.session("1", "A")
	initAs(t, f.router, a, "admin", "admin", "admin")
	before := f.reg.GetOrCreate("1").Snapshot()

	assert.NoError(t, send(t, f.router, a, types.TypeKick, "tokenX"))
	after := f.reg.GetOrCreate("1").Snapshot()
	assert.Equal(t, before.Version, after.Version)
	assert.Equal(t, before.Members, after.Members)
}

func TestHandle_RepeatedVotesAndClear(t *testing.T) {
	f := newFixture(t, auth.PolicyStatic, "admin")
	a, ac := f.session("1", "A")
	initAs(t, f.router, a, "admin", "admin", "admin")

	for _, v := range []string{"1", "2", "3"} {
		require.NoError(t, send(t, f.router, a, types.TypeVote, v))
	}
	assert.Equal(t, map[string]string{"admin": "3"}, ac.last(t).Votes)

	require.NoError(t, send(t, f.router, a, types.TypeClearVote, nil))
	assert.Empty(t, ac.last(t).Votes)
}

func TestHandle_ConcurrentInitSameRoom(t *testing.T) {
	f := newFixture(t, auth.PolicyStatic)
	s1, _ := f.session("new", "c1")
	s2, _ := f.session("new", "c2")

	var wg sync.WaitGroup
	for i, s := range []*Session{s1, s2} {
		wg.Add(1)
		go func(i int, s *Session) {
			defer wg.Done()
			raw, _ := types.Encode(types.TypeInit, map[string]string{"role": "observer", "token": string(rune('a' + i))})
			assert.NoError(t, f.router.Handle(s, raw))
		}(i, s)
	}
	wg.Wait()

	assert.Equal(t, 1, f.reg.Count())
	rm, ok := f.reg.Get("new")
	require.True(t, ok)
	assert.Equal(t, 2, rm.Len())
}

func TestHandle_JoinRetriesAfterReap(t *testing.T) {
	f := newFixture(t, auth.PolicyStatic)
	stale := f.reg.GetOrCreate("1")
	require.True(t, f.reg.Remove("1"))

	s, _ := f.session("1", "c1")
	initAs(t, f.router, s, "observer", "bob")

	fresh, ok := f.reg.Get("1")
	require.True(t, ok)
	assert.NotSame(t, stale, fresh)
	assert.Equal(t, 1, fresh.Len())
}

func TestHandle_FirstJoinerOwnsRoom(t *testing.T) {
	f := newFixture(t, auth.PolicyFirstJoiner)
	owner, _ := f.session("1", "c1")
	guest, _ := f.session("1", "c2")

	initAs(t, f.router, owner, "observer", "alice", "alice-key")
	assert.Equal(t, types.RoleAdmin, owner.Role())

	err := send(t, f.router, guest, types.TypeInit, map[string]string{"role": "host", "token": "bob"})
	assert.True(t, isAuthorization(err))
	err = send(t, f.router, guest, types.TypeInit, map[string]string{"role": "host", "token": "alice"})
	assert.True(t, isAuthorization(err), "owner identity alone must not grant admin")
	initAs(t, f.router, guest, "observer", "bob")
	assert.Equal(t, types.RoleObserver, guest.Role())

	require.NoError(t, send(t, f.router, owner, types.TypeClearVote, nil))
}

func TestHandle_MalformedFrame(t *testing.T) {
	f := newFixture(t, auth.PolicyStatic)
	s, _ := f.session("1", "c1")
	err := f.router.Handle(s, []byte("{not json"))
	assert.True(t, isProtocol(err))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestHandle_IdentityTokenIsNotAdminKey(t *testing.T) {
	f := newFixture(t, auth.PolicyStatic, "k-ops")
	a, ac := f.session("1", "c1")
	b, _ := f.session("1", "c2")

	initAs(t, f.router, a, "admin", "alice", "k-ops")
	assert.Equal(t, types.RoleAdmin, a.Role())

	err := send(t, f.router, b, types.TypeInit, map[string]string{"role": "admin", "token": "alice"})
	assert.True(t, isAuthorization(err))
	assert.ErrorIs(t, err, auth.ErrPrivilegeDenied)
	assert.False(t, b.Joined())

	for _, m := range ac.last(t).Members {
		assert.NotEqual(t, "k-ops", m.Identity)
	}
}
