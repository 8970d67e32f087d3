// Package protocol decodes client frames and routes them to rooms.
//
// Decode turns a raw frame into a typed Command or a *ProtocolError. Router
// applies commands on behalf of a Session: init joins the room named by the
// connection's path, every other command requires a prior init, and
// update_meta, clear_vote and kick require the privileged role. A privileged
// command from an observer, or an init asking for a role the policy refuses,
// yields an *AuthorizationError and leaves the connection usable.
//
// Errors map to wire notices with EncodeError:
//
//	*ProtocolError      → {"type":"error","data":{"code":"protocol_error",...}}
//	*AuthorizationError → {"type":"error","data":{"code":"unauthorized",...}}
package protocol
