package ambient

import (
	"strings"
	"time"

	"starlane-server/internal/shared/config"
	"starlane-server/internal/world"
)

// characterName is replaced with a player present at the location.
const characterName = "{character_name}"

// Period is the part of the day used to pick time-flavored lines. It follows
// the wall clock in UTC, not the in-game clock.
type Period string

const (
	PeriodMorning Period = "morning"
	PeriodDay     Period = "day"
	PeriodEvening Period = "evening"
	PeriodNight   Period = "night"
)

func PeriodAt(t time.Time) Period {
	switch h := t.UTC().Hour(); {
	case h >= 6 && h < 12:
		return PeriodMorning
	case h >= 12 && h < 18:
		return PeriodDay
	case h >= 18 && h < 22:
		return PeriodEvening
	default:
		return PeriodNight
	}
}

// ActiveLocation is a location with at least one logged-in character.
type ActiveLocation struct {
	ID         int64
	Name       string
	Type       world.LocationType
	Wealth     int
	Population int
	Players    int
	LastEvent  *time.Time
}

// Chance is the probability of a flavor event at a location this tick.
func Chance(cfg config.AmbientBalance, loc ActiveLocation) float64 {
	base, ok := cfg.BaseChances[string(loc.Type)]
	if !ok {
		base = cfg.DefaultBaseChance
	}
	mult, ok := cfg.Multipliers[string(loc.Type)]
	if !ok {
		mult = 1
	}
	c := base * mult *
		(1 + 0.03*float64(loc.Players)) *
		(1 + 0.02*float64(loc.Wealth)) *
		(1 + float64(loc.Population)/1e7*0.05)
	return min(max(c, 0), cfg.MaxChance)
}

// Spaced reports whether enough time passed since the location's last
// flavor event.
func Spaced(last *time.Time, now time.Time, spacing time.Duration) bool {
	return last == nil || now.Sub(*last) >= spacing
}

// Render fills the character placeholder. ok is false when the line needs a
// name and there is none.
func Render(line, name string) (string, bool) {
	if !strings.Contains(line, characterName) {
		return line, true
	}
	if name == "" {
		return "", false
	}
	return strings.ReplaceAll(line, characterName, name), true
}

// Event is one posted flavor line.
type Event struct {
	LocationID int64
	Location   string
	Message    string
	Period     Period
	At         time.Time
}

// News is a queued bulletin for the galaxy news channel.
type News struct {
	ID         int64
	Type       string
	Title      string
	Body       string
	LocationID *int64
	DeliverAt  time.Time
}

var newsColors = map[string]int{
	"corridor_shift": 0x4b0082,
	"obituary":       0x2c2c2c,
	"shift_change":   0x1e90ff,
	"general":        0x708090,
}

// OwnedLocation is a location earning passive income for its owner.
type OwnedLocation struct {
	ID         int64
	Wealth     int
	Population int
	Multiplier float64
}

// LocationIncome is what an owned location adds to its pool each interval.
func LocationIncome(l OwnedLocation) int {
	return int(float64(l.Wealth*10+l.Population/100) * l.Multiplier)
}

// HomeLedger is the income state of one home with paying upgrades.
type HomeLedger struct {
	HomeID         int64
	Daily          int
	Accumulated    int
	LastCalculated *time.Time
}

// Accrue returns the new accumulated income for elapsed time, capped at
// capDays of income.
func (h HomeLedger) Accrue(elapsed time.Duration, capDays int) int {
	if elapsed < 0 {
		elapsed = 0
	}
	earned := int(float64(h.Daily) * elapsed.Hours() / 24)
	return min(h.Accumulated+earned, h.Daily*capDays)
}
