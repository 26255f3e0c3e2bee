package travel

import (
	"fmt"
	"math"
	"strings"
	"time"

	"starlane-server/internal/world"
)

type Status string

const (
	StatusTraveling     Status = "traveling"
	StatusArrived       Status = "arrived"
	StatusEmergencyExit Status = "emergency_exit"
	StatusCancelled     Status = "cancelled"
)

type Session struct {
	ID             int64
	UserID         int64
	CorridorID     int64
	Origin         int64
	Destination    int64
	StartTime      time.Time
	EndTime        time.Time
	TransitChannel string
	Status         Status
}

// Progress is the completed fraction in [0, 1].
func (s *Session) Progress(now time.Time) float64 {
	total := s.EndTime.Sub(s.StartTime)
	if total <= 0 {
		return 1
	}
	p := float64(now.Sub(s.StartTime)) / float64(total)
	return math.Max(0, math.Min(1, p))
}

func (s *Session) Remaining(now time.Time) time.Duration {
	return max(0, s.EndTime.Sub(now))
}

// Route is one outbound corridor as the player sees it.
type Route struct {
	Corridor    world.Corridor
	Destination world.Location
	Time        time.Duration
	FuelCost    int
	Affordable  bool
}

type Departure struct {
	Session  Session
	Corridor world.Corridor
	FuelLeft int
	Channel  string
}

type Outcome string

const (
	OutcomeGranted   Outcome = "granted"
	OutcomeFee       Outcome = "fee"
	OutcomeRetreat   Outcome = "retreat"
	OutcomePending   Outcome = "pending"
	OutcomeAbandoned Outcome = "abandoned"
)

// Decision is the result of arrival gating before any fee is paid.
type Decision struct {
	Outcome   Outcome
	Fee       int
	FactionID *int64
	Hostile   bool
	Message   string
}

type Arrival struct {
	SessionID  int64
	Outcome    Outcome
	LocationID int64
	Fee        int
	Message    string
}

type Plot struct {
	Hops      []world.Corridor
	Stops     []world.Location
	TotalTime time.Duration
	TotalFuel int
}

type ExitResult struct {
	Survived   bool
	Chance     int
	Roll       int
	HPLost     int
	HullLost   int
	LocationID *int64
	Location   string
}

// JobConflictError is returned when stationary jobs at the location would
// be forfeited by leaving.
type JobConflictError struct {
	Jobs []world.Job
}

func (e *JobConflictError) Error() string {
	titles := make([]string, len(e.Jobs))
	for i, j := range e.Jobs {
		titles[i] = j.Title
	}
	return fmt.Sprintf("leaving would abandon %d active job(s): %s", len(e.Jobs), strings.Join(titles, ", "))
}
