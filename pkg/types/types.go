package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Message types sent by clients.
const (
	TypeInit       = "init"
	TypeVote       = "vote"
	TypeUpdateMeta = "update_meta"
	TypeClearVote  = "clear_vote"
	TypeKick       = "kick"
)

// Message types sent by the server.
const (
	TypeSnapshot = "snapshot"
	TypeError    = "error"
)

// Error codes carried in ErrorData.Code.
const (
	CodeProtocol     = "protocol_error"
	CodeUnauthorized = "unauthorized"
	CodeInternal     = "internal_error"
)

// Envelope is the unit exchanged in both directions. Data is kept raw so the
// receiver can decode it according to Type.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// HasData reports whether the envelope carries a non-null payload.
func (e Envelope) HasData() bool {
	d := strings.TrimSpace(string(e.Data))
	return d != "" && d != "null"
}

// Encode marshals data and wraps it in an Envelope of the given type.
// A nil data produces an envelope without a data field.
func Encode(typ string, data any) ([]byte, error) {
	env := Envelope{Type: typ}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", typ, err)
		}
		env.Data = raw
	}
	return json.Marshal(env)
}

// Role is the permission level a connection holds for its lifetime.
type Role string

const (
	RoleObserver Role = "observer"
	RoleAdmin    Role = "admin"

	// roleHost is the wire alias for RoleAdmin.
	roleHost = "host"
)

// ParseRole converts a wire role string to a Role. "host" maps to RoleAdmin.
func ParseRole(s string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(RoleObserver):
		return RoleObserver, true
	case string(RoleAdmin), roleHost:
		return RoleAdmin, true
	}
	return "", false
}

// Privileged reports whether r may update metadata, clear votes and kick.
func (r Role) Privileged() bool { return r == RoleAdmin }

// InitData is the payload of an init message. Token is the public identity
// shown in snapshots and used to key votes. Key is the optional privilege
// credential; it is never echoed back.
type InitData struct {
	Role  string `json:"role"`
	Token string `json:"token"`
	Key   string `json:"key,omitempty"`
}

// MetaData is the payload of an update_meta message. Both fields are
// required on the wire; empty strings are valid values.
type MetaData struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Member is one joined connection as listed in a Snapshot.
type Member struct {
	ID       string `json:"id"`
	Identity string `json:"identity"`
	Role     Role   `json:"role"`
}

// Snapshot is the complete state of a room, broadcast after every accepted
// mutation. Version increases by one with each broadcast of the room.
type Snapshot struct {
	Room        string            `json:"room"`
	Version     uint64            `json:"version"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Votes       map[string]string `json:"votes"`
	Members     []Member          `json:"members"`
}

// ErrorData is the payload of an error message.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
