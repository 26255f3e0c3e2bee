package mapfeed

import "time"

type ChangeKind string

const (
	LocationChanged ChangeKind = "location_changed"
	CorridorChanged ChangeKind = "corridor_changed"
	TravelStarted   ChangeKind = "travel_started"
	TravelCompleted ChangeKind = "travel_completed"
)

// Change is one notification pushed to map viewers.
type Change struct {
	Kind ChangeKind `json:"kind"`
	ID   int64      `json:"id"`
}

type LocationView struct {
	ID       int64   `json:"id"`
	Name     string  `json:"name"`
	Type     string  `json:"type"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	System   string  `json:"system"`
	Faction  string  `json:"faction"`
	Derelict bool    `json:"derelict"`
	Online   int     `json:"online"`
}

type CorridorView struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Origin      int64  `json:"origin"`
	Destination int64  `json:"destination"`
	Type        string `json:"type"`
	Danger      int    `json:"danger"`
	TravelTime  int    `json:"travel_time"`
}

type Snapshot struct {
	GeneratedAt time.Time      `json:"generated_at"`
	Locations   []LocationView `json:"locations"`
	Corridors   []CorridorView `json:"corridors"`
	InTransit   int            `json:"in_transit"`
}
