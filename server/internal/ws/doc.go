// Package ws implements the WebSocket transport for roomcast-server.
//
// Hub.ServeHTTP upgrades requests on /ws/room/{id} and runs one Conn per
// socket: a read goroutine that feeds frames to the protocol Router and a
// write goroutine that drains the connection's bounded send queue and sends
// keepalive pings.
//
// A Conn moves through three states:
//
//	connecting → open → closed
//
// It starts connecting, becomes open once init succeeds and is closed by a
// read error, a protocol error, an init timeout, a kick, a full send queue or
// server shutdown. Closing is idempotent; the read goroutine removes the
// connection from its room exactly once on the way out.
//
// Close codes:
//
//	1001 server shutting down
//	1008 protocol error or init timeout
//	1011 internal error
//	1013 send queue overflow
//	4001 kicked
package ws
