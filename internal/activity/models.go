package activity

import "time"

type Warning struct {
	ID          int64
	UserID      int64
	WarningTime time.Time
	ExpiresAt   time.Time
}

type LogoutReason string

const (
	LogoutManual LogoutReason = "manual"
	LogoutAFK    LogoutReason = "afk"
)

// Idle is a logged-in character past the inactivity threshold.
type Idle struct {
	UserID     int64
	Name       string
	LocationID *int64
}
