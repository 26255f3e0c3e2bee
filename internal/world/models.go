package world

import "time"

type Alignment string

const (
	AlignmentLoyal   Alignment = "loyal"
	AlignmentNeutral Alignment = "neutral"
	AlignmentBandit  Alignment = "bandit"
)

// Opposes reports whether two alignments are natural enemies.
func (a Alignment) Opposes(b Alignment) bool {
	return (a == AlignmentLoyal && b == AlignmentBandit) || (a == AlignmentBandit && b == AlignmentLoyal)
}

type LocationStatus string

const (
	StatusDocked    LocationStatus = "docked"
	StatusInSpace   LocationStatus = "in_space"
	StatusCombat    LocationStatus = "combat"
	StatusTraveling LocationStatus = "traveling"
)

type LocationType string

const (
	LocationColony  LocationType = "colony"
	LocationStation LocationType = "space_station"
	LocationOutpost LocationType = "outpost"
	LocationGate    LocationType = "gate"
)

type CorridorType string

const (
	CorridorLocal   CorridorType = "local_space"
	CorridorGated   CorridorType = "gated"
	CorridorUngated CorridorType = "ungated"
)

const (
	FactionIndependent = "Independent"
	FactionGovernment  = "government"
	FactionBandit      = "bandit"
)

type Skill string

const (
	SkillEngineering Skill = "engineering"
	SkillNavigation  Skill = "navigation"
	SkillCombat      Skill = "combat"
	SkillMedical     Skill = "medical"
)

var Skills = []Skill{SkillEngineering, SkillNavigation, SkillCombat, SkillMedical}

type Character struct {
	UserID          int64
	Name            string
	Callsign        string
	HP              int
	MaxHP           int
	Money           int
	Engineering     int
	Navigation      int
	Combat          int
	Medical         int
	Experience      int
	Alignment       Alignment
	CurrentLocation *int64
	ActiveShipID    *int64
	CurrentShipID   *int64
	CurrentHomeID   *int64
	LoggedIn        bool
	Alive           bool
	LastActivity    *time.Time
	Status          LocationStatus
}

func (c *Character) Skill(skill Skill) int {
	switch skill {
	case SkillEngineering:
		return c.Engineering
	case SkillNavigation:
		return c.Navigation
	case SkillCombat:
		return c.Combat
	case SkillMedical:
		return c.Medical
	}
	return 0
}

// Docked reports whether the character is on the ground at a location.
func (c *Character) Docked() bool {
	return c.CurrentLocation != nil && c.Status == StatusDocked
}

type Ship struct {
	ID              int64
	OwnerID         int64
	Name            string
	ShipType        string
	Tier            int
	FuelCapacity    int
	CurrentFuel     int
	HullIntegrity   int
	MaxHull         int
	CargoCapacity   int
	CargoUsed       int
	FuelEfficiency  int
	CombatRating    int
	DockedAt        *int64
	InteriorChannel string
	Active          bool
}

type Services struct {
	Jobs            bool
	Shops           bool
	Medical         bool
	Repairs         bool
	Fuel            bool
	Upgrades        bool
	Shipyard        bool
	BlackMarket     bool
	FederalSupplies bool
}

type Location struct {
	ID              int64
	Name            string
	Type            LocationType
	X               float64
	Y               float64
	System          string
	Wealth          int
	Population      int
	Services        Services
	Faction         string
	Derelict        bool
	GateStatus      string
	GeneratedIncome int
	ChannelRef      string
}

// IsMajor is true for every location that is not a gate.
func (l *Location) IsMajor() bool {
	return l.Type != LocationGate
}

type Corridor struct {
	ID          int64
	Name        string
	Origin      int64
	Destination int64
	TravelTime  int
	FuelCost    int
	Danger      int
	Type        CorridorType
	Active      bool
}

type Ownership struct {
	LocationID       int64
	FactionID        *int64
	OwnerID          *int64
	DockingFee       int
	IncomeMultiplier float64
}

type Faction struct {
	ID       int64
	Name     string
	LeaderID *int64
	Bank     int
}

type InventoryItem struct {
	ID       int64
	OwnerID  int64
	Name     string
	Type     string
	Quantity int
	Value    int
}

type Effect struct {
	ID        int64
	Type      string
	Value     int
	ExpiresAt *time.Time
}

type NPCKind string

const (
	NPCStatic  NPCKind = "static"
	NPCDynamic NPCKind = "dynamic"
)

type NPC struct {
	ID         int64
	Kind       NPCKind
	Name       string
	Occupation string // callsign for dynamic npcs
	LocationID *int64
	Alignment  Alignment
	HP         int
	MaxHP      int
	Hull       int
	Combat     int
	Credits    int
	Alive      bool
}

type Job struct {
	ID          int64
	LocationID  int64
	Title       string
	Reward      int
	Destination *int64
	TakenBy     *int64
	Status      string
}

// Stationary jobs are worked on site and block departure.
func (j *Job) Stationary() bool {
	return j.Destination == nil
}

type ReputationTier string

const (
	TierEvil    ReputationTier = "Evil"
	TierBad     ReputationTier = "Bad"
	TierNeutral ReputationTier = "Neutral"
	TierGood    ReputationTier = "Good"
	TierHeroic  ReputationTier = "Heroic"
)

const (
	MinReputation = -100
	MaxReputation = 100
)

func TierFor(reputation int) ReputationTier {
	switch {
	case reputation >= 70:
		return TierHeroic
	case reputation >= 35:
		return TierGood
	case reputation <= -70:
		return TierEvil
	case reputation <= -35:
		return TierBad
	default:
		return TierNeutral
	}
}

// Character item effects.
const (
	EffectSecurityBypass = "security_bypass"
	EffectFederalID      = "federal_id"
	EffectCombatStims    = "combat_stims"
)

// Location effects.
const (
	EffectTravelBan      = "travel_ban"
	EffectTravelDelay    = "travel_delay"
	EffectTravelBonus    = "travel_bonus"
	EffectFuelEfficiency = "fuel_efficiency"
)
