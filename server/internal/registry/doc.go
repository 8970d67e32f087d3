// Package registry maps room ids to rooms. Rooms are created lazily on first
// access and reaped once they have been empty for longer than the configured
// idle TTL. A TTL of zero keeps every room for the process lifetime.
package registry
