// Package api implements the HTTP ops API for roomcast-server.
//
// New(registry, conns, gatherer) returns an http.Handler that serves:
//
//	GET /api/v1/stats       room and connection counts plus a metrics summary
//	GET /api/v1/rooms       every room held by the registry ([]RoomResponse)
//	GET /api/v1/rooms/{id}  the room's current snapshot; 404 if unknown
//
// All endpoints:
//   - Respond with Content-Type: application/json
//   - Return 405 for non-GET methods
//   - Only read state; rooms are never created or mutated here
//
// The server wraps this handler with the ops API key check and CORS.
// JSON types are defined in types.go.
package api
