package gametime

import "time"

type Shift string

const (
	ShiftMorning Shift = "morning"
	ShiftDay     Shift = "day"
	ShiftEvening Shift = "evening"
	ShiftNight   Shift = "night"
)

// State is the persisted clock configuration.
type State struct {
	GalaxyName     string
	Epoch          time.Time
	Scale          float64
	StartedAt      time.Time
	Paused         bool
	PausedAt       *time.Time
	PausedTotal    time.Duration
	ManuallyPaused bool
	NewsChannel    string
}

// InGameAt maps a wall instant to in-game time. While paused the clock is
// frozen at the pause instant.
func (s State) InGameAt(wall time.Time) time.Time {
	if s.Paused && s.PausedAt != nil {
		wall = *s.PausedAt
	}
	running := wall.Sub(s.StartedAt) - s.PausedTotal
	if running < 0 {
		running = 0
	}
	return s.Epoch.Add(time.Duration(float64(running) * s.Scale))
}

// ShiftAt names the in-game shift for an hour of the day.
func ShiftAt(t time.Time) Shift {
	switch h := t.Hour(); {
	case h >= 6 && h < 12:
		return ShiftMorning
	case h >= 12 && h < 18:
		return ShiftDay
	case h >= 18:
		return ShiftEvening
	default:
		return ShiftNight
	}
}
