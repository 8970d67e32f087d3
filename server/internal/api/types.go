package api

// StatsResponse is the payload for GET /api/v1/stats.
type StatsResponse struct {
	Rooms       int                `json:"rooms"`
	Connections int                `json:"connections"`
	Metrics     map[string]float64 `json:"metrics,omitempty"`
	GeneratedAt string             `json:"generated_at"` // RFC3339
}

// RoomResponse is one entry in GET /api/v1/rooms.
type RoomResponse struct {
	ID        string `json:"id"`
	Members   int    `json:"members"`
	Version   uint64 `json:"version"`
	Title     string `json:"title"`
	Votes     int    `json:"votes"`
	CreatedAt string `json:"created_at"`           // RFC3339
	IdleSince string `json:"idle_since,omitempty"` // RFC3339, set while empty
}

// errorResponse is the generic error body.
type errorResponse struct {
	Error string `json:"error"`
}
