// Package types defines the wire types shared by roomcast-server and the Go
// client. Every frame on a room socket is one JSON Envelope:
//
//	{"type": "<message type>", "data": <type-specific payload>}
//
// Client → server types: init, vote, update_meta, clear_vote, kick.
// Server → client types: snapshot (a full Snapshot of the room) and error
// (an ErrorData describing a rejected frame).
//
// Roles travel as strings. "observer" is the unprivileged role; "admin" is the
// privileged role and "host" is accepted as an alias for it. ParseRole
// normalizes both to RoleAdmin.
package types
