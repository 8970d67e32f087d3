// Package session is a Go client for roomcast-server.
//
// A Session is built explicitly with its server URL, room, role and identity
// token; nothing is kept in package globals. Session.Run dials
// /ws/room/{id}, sends init as the first frame, delivers snapshots and error
// notices to the configured callbacks and reconnects with truncated
// exponential backoff (1s→30s, ±25% jitter) until ctx is cancelled.
//
// Vote, UpdateMeta, ClearVotes and Kick are non-blocking: frames are queued
// and written by Run, so calls made while disconnected are delivered after
// the next successful init.
//
// Run stops reconnecting when the server closes the socket with 4001 (kicked)
// or 1008 (protocol error); neither is fixed by retrying.
//
// LoadOrCreateToken persists a generated uuid token so a client keeps its
// identity across restarts.
//
// The dialFn field is injectable for testing.
package session
